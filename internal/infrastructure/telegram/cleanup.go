package telegram

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hwoarang91/afrodita-sub000/config"
	"github.com/Hwoarang91/afrodita-sub000/internal/domain"
)

// CleanupSweeper periodically hard-deletes terminal sessions past retention
// and force-invalidates abandoned initializing handshakes.
type CleanupSweeper struct {
	repo    domain.SessionRepository
	manager *SessionManager
	cfg     *config.SessionConfig

	stopCh  chan struct{}
	stopped sync.Once
	logger  zerolog.Logger
}

// NewCleanupSweeper creates the sweeper; Start launches its loop
func NewCleanupSweeper(repo domain.SessionRepository, manager *SessionManager, cfg *config.SessionConfig, logger zerolog.Logger) *CleanupSweeper {
	return &CleanupSweeper{
		repo:    repo,
		manager: manager,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		logger:  logger.With().Str("component", "cleanup_sweeper").Logger(),
	}
}

// Start launches the periodic sweep
func (s *CleanupSweeper) Start() {
	s.logger.Info().
		Dur("interval", s.cfg.CleanupInterval).
		Dur("retention", s.cfg.Retention).
		Dur("initializing_ttl", s.cfg.InitializingTTL).
		Msg("Cleanup sweeper started")

	go s.run()
}

// Stop terminates the sweep loop
func (s *CleanupSweeper) Stop() {
	s.stopped.Do(func() {
		close(s.stopCh)
	})
}

func (s *CleanupSweeper) run() {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.logger.Info().Msg("Cleanup sweeper stopped")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			s.Sweep(ctx)
			cancel()
		}
	}
}

// Sweep runs one cleanup pass and returns how many rows it retired
func (s *CleanupSweeper) Sweep(ctx context.Context) int {
	var retired int

	candidates, err := s.repo.FindCleanupCandidates(ctx, s.cfg.Retention)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to find cleanup candidates")
	} else {
		for _, record := range candidates {
			if err := s.repo.Delete(ctx, record.ID); err != nil {
				s.logger.Warn().Err(err).Str("session_id", record.ID).Msg("Failed to delete retired session")
				continue
			}
			retired++
		}
	}

	stale, err := s.repo.FindStaleInitializing(ctx, s.cfg.InitializingTTL)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to find stale initializing sessions")
	} else {
		for _, record := range stale {
			reason := "abandoned handshake"
			if err := s.repo.UpdateStatus(ctx, record.ID, domain.StatusInvalid, false, &reason); err != nil {
				s.logger.Warn().Err(err).Str("session_id", record.ID).Msg("Failed to invalidate stale session")
				continue
			}
			s.manager.evictConn(record.ID)
			retired++
		}
	}

	if retired > 0 {
		s.logger.Info().Int("retired", retired).Msg("Cleanup sweep finished")
	}
	return retired
}
