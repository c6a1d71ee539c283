package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/Hwoarang91/afrodita-sub000/config"
)

// Module provides database components for fx dependency injection
var Module = fx.Module("database",
	fx.Provide(NewPostgresDBFx),
)

// NewPostgresDBFx creates a PostgreSQL database connection with fx lifecycle management
func NewPostgresDBFx(
	lc fx.Lifecycle,
	cfg *config.DatabaseConfig,
	logger zerolog.Logger,
) (*gorm.DB, error) {
	log := logger.With().Str("component", "database").Logger()

	db, err := NewPostgresDB(cfg)
	if err != nil {
		return nil, err
	}

	// The sessions table is the source of truth for every operation in this
	// service, so a failed migration is fatal.
	version, err := RunMigrations(db, cfg)
	if err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	log.Info().Uint("schema_version", version).Msg("database migrations applied")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("closing database connection")
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	log.Info().
		Str("host", cfg.Host).
		Str("port", cfg.Port).
		Str("database", cfg.DBName).
		Msg("database connected")

	return db, nil
}
