package events

import (
	"context"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// Module provides the event bus for fx DI
var Module = fx.Module("events",
	fx.Provide(NewBusFx),
)

// NewBusFx creates the event bus and closes it on app shutdown
func NewBusFx(lc fx.Lifecycle, logger zerolog.Logger) *Bus {
	bus := NewBus(logger)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			bus.Close()
			return nil
		},
	})

	return bus
}
