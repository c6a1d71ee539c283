package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/Hwoarang91/afrodita-sub000/config"
	"github.com/Hwoarang91/afrodita-sub000/internal/domain"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/events"
	pkgerrors "github.com/Hwoarang91/afrodita-sub000/pkg/errors"
)

// fakeRepo implements domain.SessionRepository in memory. Row creation and
// deletion are mirrored into the blob store, matching the production schema
// where both live in one table.
type fakeRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	store    *memRowStore
}

func newFakeRepo(store *memRowStore) *fakeRepo {
	return &fakeRepo{sessions: make(map[string]*domain.Session), store: store}
}

func (r *fakeRepo) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *s
	copied.CreatedAt = time.Now()
	copied.UpdatedAt = copied.CreatedAt
	r.sessions[s.ID] = &copied
	r.store.create(s.ID)
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (r *fakeRepo) FindInitializing(ctx context.Context, ownerID string, apiID int, apiHash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.OwnerID == ownerID && s.APIID == apiID && s.APIHash == apiHash && s.Status == domain.StatusInitializing {
			copied := *s
			return &copied, nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

func (r *fakeRepo) FindActiveByOwner(ctx context.Context, ownerID string) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.OwnerID == ownerID && s.Status == domain.StatusActive && s.IsActive {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.OwnerID == ownerID {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListAll(ctx context.Context) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		copied := *s
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) Update(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	copied := *s
	copied.UpdatedAt = time.Now()
	r.sessions[s.ID] = &copied
	return nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, id string, status domain.SessionStatus, isActive bool, invalidReason *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.Status = status
	s.IsActive = isActive
	if status == domain.StatusInvalid {
		s.InvalidReason = invalidReason
	}
	s.UpdatedAt = time.Now()
	return nil
}

func (r *fakeRepo) Touch(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	now := time.Now()
	s.LastUsedAt = &now
	return nil
}

func (r *fakeRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	r.store.mu.Lock()
	delete(r.store.rows, id)
	r.store.mu.Unlock()
	return nil
}

func (r *fakeRepo) FindCleanupCandidates(ctx context.Context, retention time.Duration) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-retention)
	var out []*domain.Session
	for _, s := range r.sessions {
		if domain.IsTerminal(s.Status) && s.UpdatedAt.Before(cutoff) {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindStaleInitializing(ctx context.Context, staleness time.Duration) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-staleness)
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.Status == domain.StatusInitializing && s.CreatedAt.Before(cutoff) {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

var _ domain.SessionRepository = (*fakeRepo)(nil)

// fakeConn implements Conn without a network
type fakeConn struct {
	mu          sync.Mutex
	sessionID   string
	connected   bool
	connectErr  error
	selfErr     error
	self        *tg.User
	storage     *SessionBlobStorage
	disconnects int
}

func (c *fakeConn) Connect(ctx context.Context) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.connected = false
	c.disconnects++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) Self(ctx context.Context) (*tg.User, error) {
	if c.selfErr != nil {
		return nil, c.selfErr
	}
	if c.self != nil {
		return c.self, nil
	}
	return &tg.User{ID: 1, Phone: "79990001122"}, nil
}

func (c *fakeConn) Invoke(ctx context.Context, input bin.Encoder, output bin.Decoder) error {
	return nil
}

func (c *fakeConn) SessionID() string {
	return c.sessionID
}

func (c *fakeConn) Storage() *SessionBlobStorage {
	return c.storage
}

var _ Conn = (*fakeConn)(nil)

type managerFixture struct {
	manager *SessionManager
	repo    *fakeRepo
	store   *memRowStore
	conns   []*fakeConn
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	store := newMemRowStore()
	repo := newFakeRepo(store)
	bus := events.NewBus(zerolog.Nop())
	t.Cleanup(bus.Close)

	manager := NewSessionManager(
		repo,
		store,
		testCipher(t),
		bus,
		&config.TelegramConfig{APIID: 12345, APIHash: "hash"},
		&config.SessionConfig{MaxConcurrent: 4},
		zerolog.Nop(),
	)

	f := &managerFixture{manager: manager, repo: repo, store: store}
	manager.connFactory = func(cfg ClientConnConfig) (Conn, error) {
		conn := &fakeConn{sessionID: cfg.SessionID, storage: cfg.Storage}
		f.conns = append(f.conns, conn)
		return conn, nil
	}
	return f
}

// seedSession creates a record plus, when active, a structurally valid blob
func (f *managerFixture) seedSession(t *testing.T, id, ownerID string, status domain.SessionStatus) {
	t.Helper()
	isActive := status == domain.StatusActive
	record := &domain.Session{
		ID:       id,
		OwnerID:  ownerID,
		APIID:    12345,
		APIHash:  "hash",
		Status:   status,
		IsActive: isActive,
	}
	if err := f.repo.Create(context.Background(), record); err != nil {
		t.Fatalf("Failed to seed session: %v", err)
	}
	if isActive {
		f.seedValidBlob(t, id)
	}
}

func (f *managerFixture) seedValidBlob(t *testing.T, id string) {
	t.Helper()
	var snap sessionSnapshot
	snap.Data.DC = 2
	snap.Data.AuthKey = make([]byte, 256)
	snap.Data.AuthKeyID = []byte{1, 2, 3, 4, 5, 6, 7, 8}
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Failed to marshal snapshot: %v", err)
	}
	storage := NewSessionBlobStorage(f.manager.KVFor(id))
	if err := storage.StoreSession(context.Background(), raw); err != nil {
		t.Fatalf("Failed to seed blob: %v", err)
	}
}

func TestGetBySessionNotFound(t *testing.T) {
	f := newManagerFixture(t)

	conn, err := f.manager.GetBySession(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Expected nil error for missing session, got %v", err)
	}
	if conn != nil {
		t.Error("Expected nil connection for missing session")
	}
}

func TestGetBySessionNonActive(t *testing.T) {
	f := newManagerFixture(t)
	f.seedSession(t, "s1", "owner-1", domain.StatusInitializing)

	conn, err := f.manager.GetBySession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Expected nil error, got %v", err)
	}
	if conn != nil {
		t.Error("Expected nil connection for initializing session")
	}
}

func TestGetBySessionInvalidBlob(t *testing.T) {
	f := newManagerFixture(t)
	// Active record with an empty blob
	record := &domain.Session{ID: "s1", OwnerID: "owner-1", APIID: 12345, APIHash: "hash", Status: domain.StatusActive, IsActive: true}
	if err := f.repo.Create(context.Background(), record); err != nil {
		t.Fatalf("Failed to create record: %v", err)
	}

	conn, err := f.manager.GetBySession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Expected nil error, got %v", err)
	}
	if conn != nil {
		t.Error("Expected nil connection for invalid blob")
	}

	got, err := f.repo.GetByID(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != domain.StatusInvalid {
		t.Errorf("Expected status invalid, got %s", got.Status)
	}
	if got.IsActive {
		t.Error("Expected is_active false after invalidation")
	}
	if got.InvalidReason == nil {
		t.Error("Expected invalid reason to be recorded")
	}
}

func TestGetBySessionBuildsAndCaches(t *testing.T) {
	f := newManagerFixture(t)
	f.seedSession(t, "s1", "owner-1", domain.StatusActive)
	ctx := context.Background()

	conn, err := f.manager.GetBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetBySession failed: %v", err)
	}
	if conn == nil {
		t.Fatal("Expected a connection")
	}
	if len(f.conns) != 1 {
		t.Fatalf("Expected 1 connection built, got %d", len(f.conns))
	}

	// Second call must reuse the cached connection
	again, err := f.manager.GetBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetBySession failed: %v", err)
	}
	if again != conn {
		t.Error("Expected the cached connection to be reused")
	}
	if len(f.conns) != 1 {
		t.Errorf("Expected no new connection, got %d total", len(f.conns))
	}

	got, _ := f.repo.GetByID(ctx, "s1")
	if got.LastUsedAt == nil {
		t.Error("Expected last_used_at to be touched")
	}
}

func TestGetBySessionFatalSelfInvalidates(t *testing.T) {
	f := newManagerFixture(t)
	f.seedSession(t, "s1", "owner-1", domain.StatusActive)
	f.manager.connFactory = func(cfg ClientConnConfig) (Conn, error) {
		conn := &fakeConn{sessionID: cfg.SessionID, storage: cfg.Storage, selfErr: errors.New("AUTH_KEY_UNREGISTERED")}
		f.conns = append(f.conns, conn)
		return conn, nil
	}

	conn, err := f.manager.GetBySession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Expected nil error for fatal validation, got %v", err)
	}
	if conn != nil {
		t.Error("Expected nil connection after invalidation")
	}

	got, _ := f.repo.GetByID(context.Background(), "s1")
	if got.Status != domain.StatusInvalid {
		t.Errorf("Expected status invalid, got %s", got.Status)
	}
	if len(f.conns) != 1 || f.conns[0].disconnects != 1 {
		t.Error("Expected the failed connection to be disconnected")
	}
}

func TestGetBySessionTransientSelfPropagates(t *testing.T) {
	f := newManagerFixture(t)
	f.seedSession(t, "s1", "owner-1", domain.StatusActive)
	f.manager.connFactory = func(cfg ClientConnConfig) (Conn, error) {
		return &fakeConn{sessionID: cfg.SessionID, storage: cfg.Storage, selfErr: errors.New("some network hiccup")}, nil
	}

	conn, err := f.manager.GetBySession(context.Background(), "s1")
	if err == nil {
		t.Fatal("Expected transient validation error to propagate")
	}
	if conn != nil {
		t.Error("Expected nil connection on validation failure")
	}

	got, _ := f.repo.GetByID(context.Background(), "s1")
	if got.Status != domain.StatusActive {
		t.Errorf("Transient failure must not invalidate, got status %s", got.Status)
	}
}

func TestCreateForAuthReusesInitializingRecord(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, firstID, err := f.manager.CreateForAuth(ctx, "owner-1", 0, "")
	if err != nil {
		t.Fatalf("CreateForAuth failed: %v", err)
	}
	_, secondID, err := f.manager.CreateForAuth(ctx, "owner-1", 0, "")
	if err != nil {
		t.Fatalf("CreateForAuth failed: %v", err)
	}
	if firstID != secondID {
		t.Errorf("Expected the initializing record to be reused, got %s and %s", firstID, secondID)
	}

	records, _ := f.repo.ListAll(ctx)
	if len(records) != 1 {
		t.Errorf("Expected 1 record, got %d", len(records))
	}
}

func TestCreateForAuthMissingCredentials(t *testing.T) {
	f := newManagerFixture(t)
	f.manager.telegramCfg = &config.TelegramConfig{}

	_, _, err := f.manager.CreateForAuth(context.Background(), "owner-1", 0, "")
	var validation *pkgerrors.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestSaveSessionActivates(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	conn, sessionID, err := f.manager.CreateForAuth(ctx, "owner-1", 0, "")
	if err != nil {
		t.Fatalf("CreateForAuth failed: %v", err)
	}
	f.seedValidBlob(t, sessionID)

	if err := f.manager.SaveSession(ctx, "owner-1", conn, sessionID, "+79990001122"); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := f.repo.GetByID(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != domain.StatusActive {
		t.Errorf("Expected status active, got %s", got.Status)
	}
	if !got.IsActive {
		t.Error("Expected is_active true")
	}
	if got.PhoneNumber == nil || *got.PhoneNumber != "+79990001122" {
		t.Error("Expected phone number to be persisted")
	}
	if got.DatacenterID == nil || *got.DatacenterID != 2 {
		t.Error("Expected datacenter id from storage")
	}
	if f.manager.cachedConn(sessionID) != conn {
		t.Error("Expected handshake connection to stay cached")
	}
}

func TestSaveSessionIdempotent(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	conn, sessionID, err := f.manager.CreateForAuth(ctx, "owner-1", 0, "")
	if err != nil {
		t.Fatalf("CreateForAuth failed: %v", err)
	}
	f.seedValidBlob(t, sessionID)

	if err := f.manager.SaveSession(ctx, "owner-1", conn, sessionID, "+79990001122"); err != nil {
		t.Fatalf("First SaveSession failed: %v", err)
	}
	if err := f.manager.SaveSession(ctx, "owner-1", conn, sessionID, "+79990001122"); err != nil {
		t.Fatalf("Repeated SaveSession must be a no-op, got %v", err)
	}
}

func TestSaveSessionOwnerMismatch(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	conn, sessionID, err := f.manager.CreateForAuth(ctx, "owner-1", 0, "")
	if err != nil {
		t.Fatalf("CreateForAuth failed: %v", err)
	}

	err = f.manager.SaveSession(ctx, "owner-2", conn, sessionID, "")
	var conflict *pkgerrors.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Expected ConflictError, got %v", err)
	}

	got, _ := f.repo.GetByID(ctx, sessionID)
	if got.OwnerID != "owner-1" {
		t.Error("Owner must not change on mismatch")
	}
}

func TestSaveSessionTerminalStatus(t *testing.T) {
	f := newManagerFixture(t)
	f.seedSession(t, "s1", "owner-1", domain.StatusRevoked)

	conn := &fakeConn{sessionID: "s1", storage: NewSessionBlobStorage(f.manager.KVFor("s1"))}
	err := f.manager.SaveSession(context.Background(), "owner-1", conn, "s1", "")
	var invalid *pkgerrors.SessionInvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("Expected SessionInvalidError, got %v", err)
	}
}

func TestSaveSessionPhoneFallsBackToSelf(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	conn, sessionID, err := f.manager.CreateForAuth(ctx, "owner-1", 0, "")
	if err != nil {
		t.Fatalf("CreateForAuth failed: %v", err)
	}
	f.seedValidBlob(t, sessionID)

	if err := f.manager.SaveSession(ctx, "owner-1", conn, sessionID, ""); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, _ := f.repo.GetByID(ctx, sessionID)
	if got.PhoneNumber == nil || *got.PhoneNumber != "79990001122" {
		t.Error("Expected phone number from the authorized user")
	}
}

func TestRemoveSessionActive(t *testing.T) {
	f := newManagerFixture(t)
	f.seedSession(t, "s1", "owner-1", domain.StatusActive)

	if err := f.manager.RemoveSession(context.Background(), "s1"); err != nil {
		t.Fatalf("RemoveSession failed: %v", err)
	}

	got, _ := f.repo.GetByID(context.Background(), "s1")
	if got.Status != domain.StatusRevoked {
		t.Errorf("Expected status revoked, got %s", got.Status)
	}
	if got.IsActive {
		t.Error("Expected is_active false after revoke")
	}
}

func TestRemoveSessionInitializing(t *testing.T) {
	f := newManagerFixture(t)
	f.seedSession(t, "s1", "owner-1", domain.StatusInitializing)

	if err := f.manager.RemoveSession(context.Background(), "s1"); err != nil {
		t.Fatalf("RemoveSession failed: %v", err)
	}

	if _, err := f.repo.GetByID(context.Background(), "s1"); err != domain.ErrSessionNotFound {
		t.Errorf("Expected initializing session to be deleted, got %v", err)
	}
}

func TestRemoveSessionTerminal(t *testing.T) {
	f := newManagerFixture(t)
	f.seedSession(t, "s1", "owner-1", domain.StatusInvalid)

	if err := f.manager.RemoveSession(context.Background(), "s1"); err != nil {
		t.Fatalf("RemoveSession on terminal session failed: %v", err)
	}

	got, _ := f.repo.GetByID(context.Background(), "s1")
	if got.Status != domain.StatusInvalid {
		t.Errorf("Terminal status must not change, got %s", got.Status)
	}
}

func TestRemoveSessionMissing(t *testing.T) {
	f := newManagerFixture(t)
	if err := f.manager.RemoveSession(context.Background(), "ghost"); err != nil {
		t.Errorf("RemoveSession on missing session should succeed, got %v", err)
	}
}

func TestInvalidateAll(t *testing.T) {
	f := newManagerFixture(t)
	f.seedSession(t, "s1", "owner-1", domain.StatusActive)
	f.seedSession(t, "s2", "owner-2", domain.StatusInitializing)
	f.seedSession(t, "s3", "owner-3", domain.StatusRevoked)

	if err := f.manager.InvalidateAll(context.Background(), "master key rotated"); err != nil {
		t.Fatalf("InvalidateAll failed: %v", err)
	}

	for _, id := range []string{"s1", "s2"} {
		got, _ := f.repo.GetByID(context.Background(), id)
		if got.Status != domain.StatusInvalid {
			t.Errorf("%s: expected invalid, got %s", id, got.Status)
		}
	}
	got, _ := f.repo.GetByID(context.Background(), "s3")
	if got.Status != domain.StatusRevoked {
		t.Errorf("Terminal session must stay revoked, got %s", got.Status)
	}
}

func TestReconnectActive(t *testing.T) {
	f := newManagerFixture(t)
	f.seedSession(t, "s1", "owner-1", domain.StatusActive)
	f.seedSession(t, "s2", "owner-2", domain.StatusActive)
	// Active record without a usable blob counts as failed
	record := &domain.Session{ID: "s3", OwnerID: "owner-3", APIID: 12345, APIHash: "hash", Status: domain.StatusActive, IsActive: true}
	if err := f.repo.Create(context.Background(), record); err != nil {
		t.Fatalf("Failed to create record: %v", err)
	}
	f.seedSession(t, "s4", "owner-4", domain.StatusInvalid)

	report := f.manager.ReconnectActive(context.Background())
	if report.Total != 3 {
		t.Errorf("Expected 3 active sessions, got %d", report.Total)
	}
	if report.Successful != 2 {
		t.Errorf("Expected 2 successful, got %d", report.Successful)
	}
	if report.Failed != 1 {
		t.Errorf("Expected 1 failed, got %d", report.Failed)
	}
	if _, ok := report.Errors["s3"]; !ok {
		t.Error("Expected s3 in the error map")
	}
}

func TestShutdownDisconnectsAll(t *testing.T) {
	f := newManagerFixture(t)
	f.seedSession(t, "s1", "owner-1", domain.StatusActive)

	conn, err := f.manager.GetBySession(context.Background(), "s1")
	if err != nil || conn == nil {
		t.Fatalf("GetBySession failed: conn=%v err=%v", conn, err)
	}

	f.manager.Shutdown(context.Background())
	if conn.Connected() {
		t.Error("Expected connection to be disconnected after shutdown")
	}
	if len(f.manager.Conns()) != 0 {
		t.Error("Expected connection map to be empty after shutdown")
	}
}
