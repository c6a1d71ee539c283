package app

import (
	"go.uber.org/fx"

	"github.com/Hwoarang91/afrodita-sub000/config"
	deliveryhttp "github.com/Hwoarang91/afrodita-sub000/internal/delivery/http"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure"
)

// CreateApp creates the fx application options
func CreateApp() fx.Option {
	return fx.Options(
		fx.Provide(
			config.Provide,
		),
		infrastructure.Module,
		fx.Provide(
			deliveryhttp.NewHandler,
			deliveryhttp.NewHealthHandler,
		),
	)
}
