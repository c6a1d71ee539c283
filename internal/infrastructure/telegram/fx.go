package telegram

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/Hwoarang91/afrodita-sub000/config"
	"github.com/Hwoarang91/afrodita-sub000/internal/domain"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/crypto"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/events"
)

// retireTimeout bounds the teardown of one abandoned auth flow
const retireTimeout = 10 * time.Second

// Module provides the session lifecycle components for fx DI
var Module = fx.Module("telegram",
	fx.Provide(
		NewSessionRepositoryFx,
		NewSessionManagerFx,
		NewPendingAuthStoreFx,
		NewPhoneAuthManager,
		NewQRAuthManager,
		NewHealthMonitorFx,
		NewCleanupSweeperFx,
	),
	// The sweeper has no consumers; force its construction
	fx.Invoke(func(*CleanupSweeper) {}),
	fx.Invoke(wireFlowRetirement),
)

// wireFlowRetirement points the flow store's teardown hook at the lifecycle
// manager, so an auth flow that expires or fails releases its handshake
// connection and session record instead of waiting for the stale sweep.
func wireFlowRetirement(store *PendingAuthStore, manager *SessionManager, logger zerolog.Logger) {
	log := logger.With().Str("component", "pending_auth_store").Logger()
	store.OnRetire(func(sessionID string, conn Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), retireTimeout)
		defer cancel()

		if conn != nil {
			if err := conn.Disconnect(ctx); err != nil {
				log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to disconnect abandoned auth connection")
			}
		}
		if sessionID == "" {
			return
		}
		if err := manager.RemoveSession(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to retire abandoned auth session")
		}
	})
}

// NewSessionRepositoryFx binds the gorm repository to its domain interface
func NewSessionRepositoryFx(db *gorm.DB) domain.SessionRepository {
	return NewSessionRepository(db)
}

// NewSessionManagerFx creates the lifecycle manager, reconnects persisted
// sessions on startup when configured, and disconnects everything on stop
func NewSessionManagerFx(
	lc fx.Lifecycle,
	db *gorm.DB,
	repo domain.SessionRepository,
	cipher *crypto.BlobCipher,
	bus *events.Bus,
	telegramCfg *config.TelegramConfig,
	sessionCfg *config.SessionConfig,
	logger zerolog.Logger,
) *SessionManager {
	manager := NewSessionManager(repo, newGormRowStore(db), cipher, bus, telegramCfg, sessionCfg, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if sessionCfg.ReconnectOnBoot {
				go manager.ReconnectActive(context.Background())
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.Shutdown(ctx)
			return nil
		},
	})

	return manager
}

// NewPendingAuthStoreFx creates the in-flight auth flow store
func NewPendingAuthStoreFx(lc fx.Lifecycle, cfg *config.SessionConfig, logger zerolog.Logger) *PendingAuthStore {
	store := NewPendingAuthStore(cfg.AuthFlowTTL, cfg.AuthFlowTTL/2, cfg.MaxPendingAuth, logger)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			store.Stop()
			return nil
		},
	})

	return store
}

// NewHealthMonitorFx creates the health monitor tied to the app lifecycle
func NewHealthMonitorFx(lc fx.Lifecycle, manager *SessionManager, cfg *config.HeartbeatConfig, logger zerolog.Logger) *HealthMonitor {
	monitor := NewHealthMonitor(manager, cfg, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			monitor.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			monitor.Stop()
			return nil
		},
	})

	return monitor
}

// NewCleanupSweeperFx creates the cleanup sweeper tied to the app lifecycle
func NewCleanupSweeperFx(lc fx.Lifecycle, repo domain.SessionRepository, manager *SessionManager, cfg *config.SessionConfig, logger zerolog.Logger) *CleanupSweeper {
	sweeper := NewCleanupSweeper(repo, manager, cfg, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sweeper.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sweeper.Stop()
			return nil
		},
	})

	return sweeper
}
