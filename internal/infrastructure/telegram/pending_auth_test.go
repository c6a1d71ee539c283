package telegram

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hwoarang91/afrodita-sub000/internal/domain"
)

func newTestFlow(id string, ttl time.Duration) *PendingAuth {
	now := time.Now()
	return &PendingAuth{
		AuthFlowState: domain.AuthFlowState{
			ID:        id,
			SessionID: "session-" + id,
			OwnerID:   "owner-1",
			Status:    domain.AuthPending,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
			UpdatedAt: now,
		},
	}
}

func newTestStore(t *testing.T, maxFlows int) *PendingAuthStore {
	t.Helper()
	store := NewPendingAuthStore(time.Minute, time.Minute, maxFlows, zerolog.Nop())
	t.Cleanup(store.Stop)
	return store
}

func TestPendingAuthStoreLoad(t *testing.T) {
	store := newTestStore(t, 10)

	flow := newTestFlow("f1", time.Minute)
	if err := store.Store(flow); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	loaded, err := store.Load("f1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.ID != "f1" {
		t.Errorf("Expected flow f1, got %s", loaded.ID)
	}
	if store.Count() != 1 {
		t.Errorf("Expected count 1, got %d", store.Count())
	}
}

func TestPendingAuthStoreNotFound(t *testing.T) {
	store := newTestStore(t, 10)

	_, err := store.Load("missing")
	if !errors.Is(err, domain.ErrAuthFlowNotFound) {
		t.Errorf("Expected ErrAuthFlowNotFound, got %v", err)
	}
}

func TestPendingAuthStoreExpiresOnLoad(t *testing.T) {
	store := newTestStore(t, 10)

	flow := newTestFlow("f1", -time.Second)
	if err := store.Store(flow); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	_, err := store.Load("f1")
	if !errors.Is(err, domain.ErrAuthFlowExpired) {
		t.Errorf("Expected ErrAuthFlowExpired, got %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("Expected expired flow to be dropped, count %d", store.Count())
	}
}

func TestPendingAuthStoreCeiling(t *testing.T) {
	store := newTestStore(t, 2)

	for i, id := range []string{"f1", "f2"} {
		if err := store.Store(newTestFlow(id, time.Minute)); err != nil {
			t.Fatalf("Store %d failed: %v", i, err)
		}
	}

	err := store.Store(newTestFlow("f3", time.Minute))
	if !errors.Is(err, domain.ErrTooManyAuthFlows) {
		t.Fatalf("Expected ErrTooManyAuthFlows, got %v", err)
	}

	// Deleting frees a slot
	store.Delete("f1")
	if err := store.Store(newTestFlow("f3", time.Minute)); err != nil {
		t.Errorf("Expected a free slot after delete, got %v", err)
	}
}

func TestPendingAuthStoreCleanup(t *testing.T) {
	store := newTestStore(t, 10)

	expired := newTestFlow("expired", -time.Second)
	cancelled := false
	expired.CancelFunc = func() { cancelled = true }

	done := newTestFlow("done", time.Minute)
	done.SetSuccess("+79990001122")

	live := newTestFlow("live", time.Minute)

	for _, flow := range []*PendingAuth{expired, done, live} {
		if err := store.Store(flow); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	removed := store.Cleanup()
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}
	if !cancelled {
		t.Error("Expected expired flow context to be cancelled")
	}
	if store.Count() != 1 {
		t.Errorf("Expected 1 remaining flow, got %d", store.Count())
	}
	if _, err := store.Load("live"); err != nil {
		t.Errorf("Live flow must survive cleanup: %v", err)
	}
}

func TestPendingAuthStoreCleanupRetiresAbandonedFlows(t *testing.T) {
	store := newTestStore(t, 10)

	retired := make(map[string]bool)
	store.OnRetire(func(sessionID string, conn Conn) {
		retired[sessionID] = true
	})

	expired := newTestFlow("expired", -time.Second)
	failed := newTestFlow("failed", time.Minute)
	failed.SetError(errors.New("code rejected"))
	done := newTestFlow("done", time.Minute)
	done.SetSuccess("+79990001122")

	for _, flow := range []*PendingAuth{expired, failed, done} {
		if err := store.Store(flow); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	if removed := store.Cleanup(); removed != 3 {
		t.Errorf("Expected 3 removed, got %d", removed)
	}
	if !retired["session-expired"] {
		t.Error("Expected expired flow to be retired")
	}
	if !retired["session-failed"] {
		t.Error("Expected failed flow to be retired")
	}
	if retired["session-done"] {
		t.Error("Successful flow handed its connection over, must not be retired")
	}
}

func TestPendingAuthStoreCleanupWithoutRetireHook(t *testing.T) {
	store := newTestStore(t, 10)

	if err := store.Store(newTestFlow("expired", -time.Second)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if removed := store.Cleanup(); removed != 1 {
		t.Errorf("Expected 1 removed, got %d", removed)
	}
}

func TestPendingAuthStatusTransitions(t *testing.T) {
	flow := newTestFlow("f1", time.Minute)

	if flow.IsTerminal() {
		t.Error("Pending flow must not be terminal")
	}

	flow.UpdateStatus(domain.AuthWaitingPassword)
	if got := flow.Snapshot().Status; got != domain.AuthWaitingPassword {
		t.Errorf("Expected waiting_password, got %s", got)
	}

	flow.SetError(errors.New("code rejected"))
	if !flow.IsTerminal() {
		t.Error("Failed flow must be terminal")
	}
	snap := flow.Snapshot()
	if snap.Status != domain.AuthFailed {
		t.Errorf("Expected failed, got %s", snap.Status)
	}
	if snap.Error != "code rejected" {
		t.Errorf("Expected error message, got %q", snap.Error)
	}
}

func TestPendingAuthSetSuccess(t *testing.T) {
	flow := newTestFlow("f1", time.Minute)
	flow.SetSuccess("+79990001122")

	snap := flow.Snapshot()
	if snap.Status != domain.AuthSuccess {
		t.Errorf("Expected success, got %s", snap.Status)
	}
	if snap.PhoneNumber != "+79990001122" {
		t.Errorf("Expected phone number, got %q", snap.PhoneNumber)
	}
}
