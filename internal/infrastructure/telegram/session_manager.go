package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Hwoarang91/afrodita-sub000/config"
	"github.com/Hwoarang91/afrodita-sub000/internal/domain"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/crypto"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/events"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/metrics"
	"github.com/Hwoarang91/afrodita-sub000/internal/utils"
	pkgerrors "github.com/Hwoarang91/afrodita-sub000/pkg/errors"
)

// ConnFactory creates connections (can be overridden for testing)
type ConnFactory func(cfg ClientConnConfig) (Conn, error)

const authKeyVisibilityPause = 500 * time.Millisecond

// SessionManager owns the map from session id to live connection. One live
// connection per session id, never per owner: an owner may hold several
// concurrent sessions, so every operation here is addressed by session id.
type SessionManager struct {
	repo   domain.SessionRepository
	rows   rowStore
	cipher *crypto.BlobCipher
	bus    *events.Bus

	telegramCfg *config.TelegramConfig
	sessionCfg  *config.SessionConfig

	conns map[string]Conn
	mu    sync.RWMutex

	// locks serializes the evict/rebuild/finalize sequences per session id;
	// without it two near-simultaneous callers can each build a connection
	// and leak one
	locks keyedMutex

	connFactory ConnFactory
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

// NewSessionManager creates the lifecycle manager
func NewSessionManager(
	repo domain.SessionRepository,
	rows rowStore,
	cipher *crypto.BlobCipher,
	bus *events.Bus,
	telegramCfg *config.TelegramConfig,
	sessionCfg *config.SessionConfig,
	logger zerolog.Logger,
) *SessionManager {
	m := &SessionManager{
		repo:        repo,
		rows:        rows,
		cipher:      cipher,
		bus:         bus,
		telegramCfg: telegramCfg,
		sessionCfg:  sessionCfg,
		conns:       make(map[string]Conn),
		logger:      logger.With().Str("component", "session_manager").Logger(),
		metrics:     metrics.GetDefaultMetrics(),
	}
	m.connFactory = func(cfg ClientConnConfig) (Conn, error) {
		return NewClientConn(cfg)
	}
	return m
}

// KVFor builds a storage adapter bound to one session row
func (m *SessionManager) KVFor(sessionID string) *EncryptedKV {
	return NewEncryptedKV(sessionID, m.rows, m.cipher, m.logger)
}

// CreateForAuth finds or creates an initializing record for this owner and
// app credentials, connects a fresh client against it, caches it and returns
// both. Repeated auth starts for the same owner+credentials reuse one row so
// resent phone codes do not leak records.
func (m *SessionManager) CreateForAuth(ctx context.Context, ownerID string, apiID int, apiHash string) (Conn, string, error) {
	if apiID == 0 {
		apiID = m.telegramCfg.APIID
	}
	if apiHash == "" {
		apiHash = m.telegramCfg.APIHash
	}
	if apiID == 0 || apiHash == "" {
		return nil, "", pkgerrors.NewValidationError("app credentials are required to open a session")
	}

	record, err := m.repo.FindInitializing(ctx, ownerID, apiID, apiHash)
	if err == domain.ErrSessionNotFound {
		record = &domain.Session{
			ID:      uuid.New().String(),
			OwnerID: ownerID,
			APIID:   apiID,
			APIHash: apiHash,
			Status:  domain.StatusInitializing,
		}
		if err := m.repo.Create(ctx, record); err != nil {
			return nil, "", err
		}
		m.logger.Info().Str("session_id", record.ID).Str("owner_id", ownerID).Msg("Created initializing session")
	} else if err != nil {
		return nil, "", err
	}

	unlock := m.locks.Lock(record.ID)
	defer unlock()

	if conn := m.cachedConn(record.ID); conn != nil && conn.Connected() {
		return conn, record.ID, nil
	}

	conn, err := m.buildConn(ctx, record.ID, ownerID, apiID, apiHash)
	if err != nil {
		return nil, "", err
	}

	m.cacheConn(record.ID, conn)
	return conn, record.ID, nil
}

// GetBySession is the single sanctioned read path for a live connection.
// It returns (nil, nil) when the session is not usable; an error only for
// transient failures the caller may retry.
func (m *SessionManager) GetBySession(ctx context.Context, sessionID string) (Conn, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	record, err := m.repo.GetByID(ctx, sessionID)
	if err == domain.ErrSessionNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if record.Status != domain.StatusActive || !record.IsActive {
		m.logger.Debug().
			Str("session_id", sessionID).
			Str("status", string(record.Status)).
			Msg("Refusing connection for non-active session")
		return nil, nil
	}

	if !ValidateBlob(ctx, m.KVFor(sessionID)) {
		m.logger.Warn().Str("session_id", sessionID).Msg("Session blob failed structural validation")
		m.markInvalid(ctx, record, "session blob is structurally invalid")
		return nil, nil
	}

	// Cached and still connected: validation already happened when the
	// connection entered the cache, skip the round-trip.
	if conn := m.cachedConn(sessionID); conn != nil {
		if conn.Connected() {
			_ = m.repo.Touch(ctx, sessionID)
			return conn, nil
		}
		m.evictConn(sessionID)
	}

	conn, err := m.buildConn(ctx, sessionID, record.OwnerID, record.APIID, record.APIHash)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Self(ctx); err != nil {
		cls := Classify(err)
		if cls.Fatal() {
			m.markInvalid(ctx, record, cls.Message)
			m.disconnectQuietly(conn)
			return nil, nil
		}
		m.disconnectQuietly(conn)
		return nil, cls.ToError(err)
	}

	m.cacheConn(sessionID, conn)
	_ = m.repo.Touch(ctx, sessionID)
	m.metrics.Reconnections.Inc()
	return conn, nil
}

// SaveSession finalizes a completed auth handshake. The connection must be
// the same instance used throughout the handshake; the auth key material
// only exists on that exact client.
func (m *SessionManager) SaveSession(ctx context.Context, ownerID string, conn Conn, sessionID, phoneNumber string) error {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	record, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}

	if record.OwnerID != ownerID {
		m.publishWarning(sessionID, ownerID, fmt.Sprintf("owner mismatch: record owned by %s, caller is %s", record.OwnerID, ownerID))
		return pkgerrors.NewConflictErrorf("session %s belongs to another owner", sessionID)
	}

	if record.Status == domain.StatusActive && record.IsActive {
		m.logger.Debug().Str("session_id", sessionID).Msg("Session already active, save is a no-op")
		if m.cachedConn(sessionID) == nil {
			m.cacheConn(sessionID, conn)
		}
		return nil
	}
	if record.Status != domain.StatusInitializing {
		return pkgerrors.NewSessionInvalidErrorf("cannot finalize session in status %s", record.Status)
	}

	// Live validation on the handshake connection
	user, err := conn.Self(ctx)
	if err != nil {
		cls := Classify(err)
		m.markInvalid(ctx, record, "post-auth validation failed: "+cls.Message)
		return cls.ToError(err)
	}
	if phoneNumber == "" && user.Phone != "" {
		phoneNumber = user.Phone
	}

	// The storage write trails the handshake by one async round-trip;
	// check, pause once, check again.
	hasKey, err := conn.Storage().HasAuthKey(ctx)
	if err == nil && !hasKey {
		time.Sleep(authKeyVisibilityPause)
		hasKey, err = conn.Storage().HasAuthKey(ctx)
	}
	if err != nil || !hasKey {
		m.markInvalid(ctx, record, "auth key was not persisted after handshake")
		if err != nil {
			return fmt.Errorf("failed to confirm auth key persistence: %w", err)
		}
		return pkgerrors.NewSessionInvalidError("auth key was not persisted after handshake")
	}

	blob, found, err := m.rows.Load(ctx, sessionID)
	if err != nil {
		m.markInvalid(ctx, record, "failed to re-read session row")
		return err
	}
	if !found || blob == "" {
		m.markInvalid(ctx, record, "session blob is empty after handshake")
		return pkgerrors.NewSessionInvalidError("session blob is empty after handshake")
	}

	if err := domain.AssertTransition(record.Status, domain.StatusActive, sessionID); err != nil {
		m.markInvalid(ctx, record, "illegal transition while finalizing")
		return err
	}

	now := time.Now()
	record.PhoneNumber = &phoneNumber
	record.IsActive = true
	record.Status = domain.StatusActive
	record.LastUsedAt = &now
	if dc := conn.Storage().DatacenterID(ctx); dc > 0 {
		record.DatacenterID = &dc
	}
	if err := m.repo.Update(ctx, record); err != nil {
		return err
	}

	// Re-read and verify nothing mutated the row concurrently
	verify, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if verify.OwnerID != ownerID || verify.Status != domain.StatusActive || !verify.IsActive {
		return pkgerrors.NewInternalErrorf("session %s was concurrently modified during finalization", sessionID)
	}

	m.cacheConn(sessionID, conn)
	m.logger.Info().
		Str("session_id", sessionID).
		Str("owner_id", ownerID).
		Str("phone", utils.MaskPhoneNumber(phoneNumber)).
		Msg("Session activated")
	return nil
}

// RemoveSession disconnects and retires one session. Active sessions move to
// revoked; initializing ones are deleted as abandoned; terminal ones only
// lose their cached connection.
func (m *SessionManager) RemoveSession(ctx context.Context, sessionID string) error {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	m.evictConn(sessionID)

	record, err := m.repo.GetByID(ctx, sessionID)
	if err == domain.ErrSessionNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	switch record.Status {
	case domain.StatusActive:
		if err := domain.AssertTransition(record.Status, domain.StatusRevoked, sessionID); err != nil {
			return err
		}
		return m.repo.UpdateStatus(ctx, sessionID, domain.StatusRevoked, false, nil)
	case domain.StatusInitializing:
		return m.repo.Delete(ctx, sessionID)
	default:
		return nil
	}
}

// InvalidateAll force-invalidates every non-terminal session with one reason
func (m *SessionManager) InvalidateAll(ctx context.Context, reason string) error {
	records, err := m.repo.ListAll(ctx)
	if err != nil {
		return err
	}

	for _, record := range records {
		if domain.IsTerminal(record.Status) {
			continue
		}
		unlock := m.locks.Lock(record.ID)
		m.evictConn(record.ID)
		m.markInvalid(ctx, record, reason)
		unlock()
	}
	return nil
}

// ReconnectActive rebuilds connections for every active session, bounded by
// a worker pool. Used at startup.
func (m *SessionManager) ReconnectActive(ctx context.Context) *domain.ReconnectReport {
	report := &domain.ReconnectReport{Errors: make(map[string]error)}

	records, err := m.repo.ListAll(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to list sessions for reconnect")
		return report
	}

	var active []*domain.Session
	for _, record := range records {
		if record.Status == domain.StatusActive && record.IsActive {
			active = append(active, record)
		}
	}
	report.Total = len(active)
	if report.Total == 0 {
		m.logger.Info().Msg("No active sessions to reconnect")
		return report
	}

	maxConcurrent := m.sessionCfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}

	m.logger.Info().
		Int("count", report.Total).
		Int("max_concurrent", maxConcurrent).
		Msg("Reconnecting active sessions")

	var wg sync.WaitGroup
	var reportMu sync.Mutex
	semaphore := make(chan struct{}, maxConcurrent)

	for _, record := range active {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				reportMu.Lock()
				report.Errors[sessionID] = ctx.Err()
				report.Failed++
				reportMu.Unlock()
				return
			}

			conn, err := m.GetBySession(ctx, sessionID)
			reportMu.Lock()
			defer reportMu.Unlock()
			switch {
			case err != nil:
				report.Errors[sessionID] = err
				report.Failed++
			case conn == nil:
				report.Errors[sessionID] = pkgerrors.NewSessionInvalidError("session no longer usable")
				report.Failed++
			default:
				report.Successful++
			}
		}(record.ID)
	}
	wg.Wait()

	m.logger.Info().
		Int("successful", report.Successful).
		Int("failed", report.Failed).
		Msg("Reconnect finished")
	return report
}

// Conns returns a snapshot of the cached connections for monitoring
func (m *SessionManager) Conns() map[string]Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make(map[string]Conn, len(m.conns))
	for id, conn := range m.conns {
		snapshot[id] = conn
	}
	return snapshot
}

// Shutdown disconnects every cached connection
func (m *SessionManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]Conn)
	m.mu.Unlock()

	for id, conn := range conns {
		if err := conn.Disconnect(ctx); err != nil {
			m.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to disconnect during shutdown")
		}
	}
	m.metrics.ConnectedSessions.Set(0)
}

func (m *SessionManager) buildConn(ctx context.Context, sessionID, ownerID string, apiID int, apiHash string) (Conn, error) {
	conn, err := m.connFactory(ClientConnConfig{
		SessionID: sessionID,
		OwnerID:   ownerID,
		APIID:     apiID,
		APIHash:   apiHash,
		Storage:   NewSessionBlobStorage(m.KVFor(sessionID)),
		Bus:       m.bus,
		Logger:    m.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect session %s: %w", sessionID, err)
	}
	return conn, nil
}

func (m *SessionManager) cachedConn(sessionID string) Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[sessionID]
}

func (m *SessionManager) cacheConn(sessionID string, conn Conn) {
	m.mu.Lock()
	m.conns[sessionID] = conn
	count := len(m.conns)
	m.mu.Unlock()
	m.metrics.ConnectedSessions.Set(float64(count))
}

func (m *SessionManager) evictConn(sessionID string) {
	m.mu.Lock()
	conn, ok := m.conns[sessionID]
	delete(m.conns, sessionID)
	count := len(m.conns)
	m.mu.Unlock()
	m.metrics.ConnectedSessions.Set(float64(count))

	if ok {
		m.disconnectQuietly(conn)
	}
}

func (m *SessionManager) disconnectQuietly(conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Disconnect(ctx); err != nil {
		m.logger.Warn().Err(err).Str("session_id", conn.SessionID()).Msg("Best-effort disconnect failed")
	}
}

// markInvalid persists the invalid status with a reason. Transitions from a
// terminal status are skipped; anything else is forced through even when the
// state machine disagrees, an unusable session must never stay marked usable.
func (m *SessionManager) markInvalid(ctx context.Context, record *domain.Session, reason string) {
	if domain.IsTerminal(record.Status) {
		return
	}
	if err := domain.AssertTransition(record.Status, domain.StatusInvalid, record.ID); err != nil {
		m.logger.Error().Err(err).Str("session_id", record.ID).Msg("Forcing invalid despite illegal transition")
	}
	if err := m.repo.UpdateStatus(ctx, record.ID, domain.StatusInvalid, false, &reason); err != nil {
		m.logger.Error().Err(err).Str("session_id", record.ID).Msg("Failed to persist invalid status")
		return
	}
	record.Status = domain.StatusInvalid
	record.IsActive = false
	m.metrics.RecordInvalidation(reason)
	m.publishWarning(record.ID, record.OwnerID, reason)
	m.logger.Warn().Str("session_id", record.ID).Str("reason", reason).Msg("Session invalidated")
}

func (m *SessionManager) publishWarning(sessionID, ownerID, message string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Kind:      events.KindError,
		SessionID: sessionID,
		OwnerID:   ownerID,
		Error:     message,
		At:        time.Now(),
	})
}

// keyedMutex hands out one mutex per key
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
