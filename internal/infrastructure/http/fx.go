package http

import (
	"context"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/Hwoarang91/afrodita-sub000/config"
	deliveryhttp "github.com/Hwoarang91/afrodita-sub000/internal/delivery/http"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/http/server"
)

// Module provides HTTP server for fx DI
var Module = fx.Module("http",
	fx.Provide(NewServerFx),
	fx.Invoke(RegisterRoutes),
)

// NewServerFx creates HTTP server with lifecycle hooks for fx DI
func NewServerFx(
	lc fx.Lifecycle,
	serviceCfg *config.ServiceConfig,
	logger zerolog.Logger,
) *server.Server {
	srv := server.NewServer(serviceCfg.Port, logger)

	// Register Prometheus metrics endpoint
	srv.RegisterMetrics()

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})

	return srv
}

// RegisterRoutes attaches the API and health handlers to the server
func RegisterRoutes(srv *server.Server, handler *deliveryhttp.Handler, health *deliveryhttp.HealthHandler) {
	srv.Router.GET("/health", health.Handle)
	handler.Register(srv.Router)
}
