package telegram

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hwoarang91/afrodita-sub000/config"
	"github.com/Hwoarang91/afrodita-sub000/internal/domain"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/metrics"
	"github.com/Hwoarang91/afrodita-sub000/pkg/breaker"
)

const probeFailureThreshold = 3

// connSource yields the connections to probe; SessionManager in production
type connSource interface {
	Conns() map[string]Conn
}

// HealthMonitor probes every cached connection on a fixed timer and keeps a
// queryable status map. Probes run behind a per-session circuit breaker and
// an overall timeout. Three consecutive failures mark a session disconnected
// for monitoring purposes; invalidation stays the lifecycle manager's job.
type HealthMonitor struct {
	source   connSource
	cfg      *config.HeartbeatConfig
	breakers *breaker.Registry

	states   map[string]domain.ProbeState
	failures map[string]int
	mu       sync.RWMutex

	stopCh  chan struct{}
	stopped sync.Once

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewHealthMonitor creates the monitor; Start launches its loop
func NewHealthMonitor(source connSource, cfg *config.HeartbeatConfig, logger zerolog.Logger) *HealthMonitor {
	return &HealthMonitor{
		source:   source,
		cfg:      cfg,
		breakers: breaker.NewRegistry(0, 0), // registry defaults
		states:   make(map[string]domain.ProbeState),
		failures: make(map[string]int),
		stopCh:   make(chan struct{}),
		logger:   logger.With().Str("component", "health_monitor").Logger(),
		metrics:  metrics.GetDefaultMetrics(),
	}
}

// Start launches the probe loop. No-op when disabled by configuration.
func (h *HealthMonitor) Start() {
	if !h.cfg.Enabled {
		h.logger.Info().Msg("Health monitor disabled")
		return
	}

	h.logger.Info().
		Dur("interval", h.cfg.Interval).
		Dur("timeout", h.cfg.Timeout).
		Msg("Health monitor started")

	go h.run()
}

// Stop terminates the probe loop
func (h *HealthMonitor) Stop() {
	h.stopped.Do(func() {
		close(h.stopCh)
	})
}

func (h *HealthMonitor) run() {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			h.logger.Info().Msg("Health monitor stopped")
			return
		case <-ticker.C:
			h.probeAll()
		}
	}
}

func (h *HealthMonitor) probeAll() {
	conns := h.source.Conns()

	h.pruneGone(conns)

	for sessionID, conn := range conns {
		h.probe(sessionID, conn)
	}
}

func (h *HealthMonitor) probe(sessionID string, conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.Timeout)
	defer cancel()

	err := h.breakers.Do(sessionID, func() error {
		if !conn.Connected() {
			return domain.ErrNotConnected
		}
		_, err := conn.Self(ctx)
		return err
	})

	if err == breaker.ErrOpen {
		h.metrics.ProbesRejected.Inc()
		h.setState(sessionID, domain.ProbeError)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err != nil {
		h.failures[sessionID]++
		h.metrics.ProbeFailures.Inc()
		h.logger.Warn().
			Err(err).
			Str("session_id", sessionID).
			Int("consecutive_failures", h.failures[sessionID]).
			Msg("Probe failed")

		if h.failures[sessionID] >= probeFailureThreshold {
			h.states[sessionID] = domain.ProbeDisconnected
		} else {
			h.states[sessionID] = domain.ProbeError
		}
		return
	}

	h.failures[sessionID] = 0
	h.states[sessionID] = domain.ProbeConnected
}

func (h *HealthMonitor) setState(sessionID string, state domain.ProbeState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states[sessionID] = state
}

// pruneGone drops tracking for sessions no longer cached
func (h *HealthMonitor) pruneGone(conns map[string]Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID := range h.states {
		if _, ok := conns[sessionID]; !ok {
			delete(h.states, sessionID)
			delete(h.failures, sessionID)
			h.breakers.Forget(sessionID)
		}
	}
}

// State returns the monitor's view of one session
func (h *HealthMonitor) State(sessionID string) domain.ProbeState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if state, ok := h.states[sessionID]; ok {
		return state
	}
	return domain.ProbeUnknown
}

// Stats summarizes the status map for the operational surface
func (h *HealthMonitor) Stats() domain.ConnectionStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := domain.ConnectionStats{Total: len(h.states)}
	for _, state := range h.states {
		switch state {
		case domain.ProbeConnected:
			stats.Connected++
		case domain.ProbeDisconnected:
			stats.Disconnected++
		case domain.ProbeError:
			stats.Errored++
		default:
			stats.Unknown++
		}
	}
	return stats
}
