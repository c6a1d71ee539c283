package infrastructure

import (
	"go.uber.org/fx"

	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/crypto"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/database"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/events"
	httpfx "github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/http"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/kafka"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/logger"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/metrics"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/telegram"
)

// Module aggregates all infrastructure modules
var Module = fx.Module("infrastructure",
	logger.Module,
	database.Module, // Must be before telegram (telegram depends on *gorm.DB)
	metrics.Module,
	crypto.Module,
	events.Module,
	telegram.Module,
	kafka.Module,
	httpfx.Module,
)
