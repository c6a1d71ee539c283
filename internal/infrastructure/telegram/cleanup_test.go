package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hwoarang91/afrodita-sub000/config"
	"github.com/Hwoarang91/afrodita-sub000/internal/domain"
)

func testSweeper(f *managerFixture) *CleanupSweeper {
	cfg := &config.SessionConfig{
		Retention:       time.Hour,
		InitializingTTL: 10 * time.Minute,
		CleanupInterval: time.Minute,
	}
	return NewCleanupSweeper(f.repo, f.manager, cfg, zerolog.Nop())
}

func (f *managerFixture) ageSession(t *testing.T, id string, age time.Duration) {
	t.Helper()
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	s, ok := f.repo.sessions[id]
	if !ok {
		t.Fatalf("No such session %s", id)
	}
	s.CreatedAt = time.Now().Add(-age)
	s.UpdatedAt = s.CreatedAt
}

func TestSweepDeletesRetiredSessions(t *testing.T) {
	f := newManagerFixture(t)
	sweeper := testSweeper(f)
	ctx := context.Background()

	f.seedSession(t, "old-invalid", "owner-1", domain.StatusInvalid)
	f.ageSession(t, "old-invalid", 2*time.Hour)
	f.seedSession(t, "fresh-invalid", "owner-1", domain.StatusInvalid)
	f.seedSession(t, "old-active", "owner-2", domain.StatusActive)
	f.ageSession(t, "old-active", 2*time.Hour)

	retired := sweeper.Sweep(ctx)
	if retired != 1 {
		t.Errorf("Expected 1 retired session, got %d", retired)
	}

	if _, err := f.repo.GetByID(ctx, "old-invalid"); err != domain.ErrSessionNotFound {
		t.Error("Expected old invalid session to be deleted")
	}
	if _, err := f.repo.GetByID(ctx, "fresh-invalid"); err != nil {
		t.Error("Fresh terminal session must survive retention")
	}
	if _, err := f.repo.GetByID(ctx, "old-active"); err != nil {
		t.Error("Active session must never be swept")
	}
}

func TestSweepInvalidatesStaleHandshakes(t *testing.T) {
	f := newManagerFixture(t)
	sweeper := testSweeper(f)
	ctx := context.Background()

	f.seedSession(t, "stale", "owner-1", domain.StatusInitializing)
	f.ageSession(t, "stale", 20*time.Minute)
	f.seedSession(t, "in-progress", "owner-2", domain.StatusInitializing)

	retired := sweeper.Sweep(ctx)
	if retired != 1 {
		t.Errorf("Expected 1 retired session, got %d", retired)
	}

	got, err := f.repo.GetByID(ctx, "stale")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != domain.StatusInvalid {
		t.Errorf("Expected stale handshake to go invalid, got %s", got.Status)
	}
	if got.InvalidReason == nil || *got.InvalidReason != "abandoned handshake" {
		t.Error("Expected the abandoned-handshake reason")
	}

	fresh, _ := f.repo.GetByID(ctx, "in-progress")
	if fresh.Status != domain.StatusInitializing {
		t.Errorf("Fresh handshake must survive, got %s", fresh.Status)
	}
}

func TestSweepEmpty(t *testing.T) {
	f := newManagerFixture(t)
	sweeper := testSweeper(f)

	if retired := sweeper.Sweep(context.Background()); retired != 0 {
		t.Errorf("Expected nothing to retire, got %d", retired)
	}
}
