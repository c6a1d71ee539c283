package telegram

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hwoarang91/afrodita-sub000/internal/domain"
)

// PendingAuth holds the runtime state of one in-flight authentication flow.
// The connection and channels live only here; the externally visible snapshot
// is domain.AuthFlowState.
type PendingAuth struct {
	domain.AuthFlowState
	Conn         *ClientConn
	CodeHash     string
	PasswordChan chan string
	CancelFunc   context.CancelFunc
	mu           sync.RWMutex
}

// UpdateStatus safely updates the flow status
func (p *PendingAuth) UpdateStatus(status domain.AuthFlowStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = status
	p.UpdatedAt = time.Now()
}

// SetCodeHash safely stores the phone-code hash returned by SendCode
func (p *PendingAuth) SetCodeHash(hash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CodeHash = hash
	p.UpdatedAt = time.Now()
}

// GetCodeHash safely reads the phone-code hash
func (p *PendingAuth) GetCodeHash() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.CodeHash
}

// SetQRCode safely sets the QR code data
func (p *PendingAuth) SetQRCode(url, base64 string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.QRURL = url
	p.QRCodeBase64 = base64
	p.UpdatedAt = time.Now()
}

// SetError safely marks the flow failed
func (p *PendingAuth) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = domain.AuthFailed
	if err != nil {
		p.Error = err.Error()
	}
	p.UpdatedAt = time.Now()
}

// SetSuccess safely marks the flow successful
func (p *PendingAuth) SetSuccess(phoneNumber string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = domain.AuthSuccess
	p.PhoneNumber = phoneNumber
	p.UpdatedAt = time.Now()
}

// IsExpired reports whether the flow outlived its TTL
func (p *PendingAuth) IsExpired() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Now().After(p.ExpiresAt)
}

// IsTerminal reports whether the flow reached a final status
func (p *PendingAuth) IsTerminal() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Status == domain.AuthSuccess || p.Status == domain.AuthFailed || p.Status == domain.AuthCancelled
}

// Snapshot returns a thread-safe copy of the visible flow state
func (p *PendingAuth) Snapshot() domain.AuthFlowState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return domain.AuthFlowState{
		ID:           p.ID,
		SessionID:    p.SessionID,
		OwnerID:      p.OwnerID,
		PhoneNumber:  p.PhoneNumber,
		Status:       p.Status,
		QRURL:        p.QRURL,
		QRCodeBase64: p.QRCodeBase64,
		Error:        p.Error,
		CreatedAt:    p.CreatedAt,
		ExpiresAt:    p.ExpiresAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// RetireFunc tears down whatever an abandoned flow still holds: its live
// handshake connection and its initializing session record.
type RetireFunc func(sessionID string, conn Conn)

// PendingAuthStore keeps in-flight auth flows in memory with a TTL sweep
type PendingAuthStore struct {
	flows           sync.Map // map[string]*PendingAuth
	flowTTL         time.Duration
	cleanupInterval time.Duration
	maxFlows        int
	flowCount       int
	countMu         sync.Mutex
	retireMu        sync.RWMutex
	retire          RetireFunc
	stopCleanup     chan struct{}
	logger          zerolog.Logger
}

// NewPendingAuthStore creates a flow store and starts its cleanup loop
func NewPendingAuthStore(flowTTL, cleanupInterval time.Duration, maxFlows int, logger zerolog.Logger) *PendingAuthStore {
	store := &PendingAuthStore{
		flowTTL:         flowTTL,
		cleanupInterval: cleanupInterval,
		maxFlows:        maxFlows,
		stopCleanup:     make(chan struct{}),
		logger:          logger.With().Str("component", "pending_auth_store").Logger(),
	}

	go store.runCleanup()

	return store
}

// OnRetire installs the teardown hook the cleanup loop calls for flows that
// expire or fail before finalizing
func (s *PendingAuthStore) OnRetire(fn RetireFunc) {
	s.retireMu.Lock()
	s.retire = fn
	s.retireMu.Unlock()
}

// TTL returns the configured flow lifetime
func (s *PendingAuthStore) TTL() time.Duration {
	return s.flowTTL
}

// Store saves a flow, enforcing the concurrent-flow ceiling
func (s *PendingAuthStore) Store(flow *PendingAuth) error {
	s.countMu.Lock()
	if s.flowCount >= s.maxFlows {
		s.countMu.Unlock()
		return domain.ErrTooManyAuthFlows
	}
	s.flowCount++
	s.countMu.Unlock()

	s.flows.Store(flow.ID, flow)
	s.logger.Debug().Str("flow_id", flow.ID).Msg("auth flow stored")
	return nil
}

// Load retrieves a flow by id, expiring it on read when stale
func (s *PendingAuthStore) Load(flowID string) (*PendingAuth, error) {
	value, ok := s.flows.Load(flowID)
	if !ok {
		return nil, domain.ErrAuthFlowNotFound
	}

	flow := value.(*PendingAuth)

	if flow.IsExpired() {
		s.Delete(flowID)
		return nil, domain.ErrAuthFlowExpired
	}

	return flow, nil
}

// Delete removes a flow from the store
func (s *PendingAuthStore) Delete(flowID string) {
	if _, loaded := s.flows.LoadAndDelete(flowID); loaded {
		s.countMu.Lock()
		s.flowCount--
		s.countMu.Unlock()
		s.logger.Debug().Str("flow_id", flowID).Msg("auth flow deleted")
	}
}

// Cleanup removes expired and terminal flows, cancelling their contexts and
// retiring any connection and session record a flow abandoned in flight
func (s *PendingAuthStore) Cleanup() int {
	var toDelete []string

	s.flows.Range(func(key, value any) bool {
		flowID := key.(string)
		flow := value.(*PendingAuth)

		if flow.IsExpired() || flow.IsTerminal() {
			toDelete = append(toDelete, flowID)
		}
		return true
	})

	var removed int
	for _, flowID := range toDelete {
		if value, ok := s.flows.Load(flowID); ok {
			flow := value.(*PendingAuth)
			if flow.CancelFunc != nil {
				flow.CancelFunc()
			}
			// A successful flow handed its connection to the lifecycle
			// manager; anything else still holds it and must be torn down.
			if flow.Snapshot().Status != domain.AuthSuccess {
				s.retireFlow(flow)
			}
		}
		s.Delete(flowID)
		removed++
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("cleaned up expired auth flows")
	}

	return removed
}

func (s *PendingAuthStore) retireFlow(flow *PendingAuth) {
	s.retireMu.RLock()
	retire := s.retire
	s.retireMu.RUnlock()
	if retire == nil {
		return
	}

	snap := flow.Snapshot()
	var conn Conn
	if flow.Conn != nil {
		conn = flow.Conn
	}
	retire(snap.SessionID, conn)
}

// Count returns the current number of in-flight flows
func (s *PendingAuthStore) Count() int {
	s.countMu.Lock()
	defer s.countMu.Unlock()
	return s.flowCount
}

// Stop stops the cleanup goroutine
func (s *PendingAuthStore) Stop() {
	close(s.stopCleanup)
}

func (s *PendingAuthStore) runCleanup() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.cleanupInterval).
		Dur("ttl", s.flowTTL).
		Msg("auth flow cleanup started")

	for {
		select {
		case <-s.stopCleanup:
			s.logger.Info().Msg("auth flow cleanup stopped")
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}
