package kafka

import (
	"context"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/Hwoarang91/afrodita-sub000/config"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/events"
)

// Module provides the optional Kafka event sink for fx DI
var Module = fx.Module("kafka",
	fx.Provide(NewEventSinkFx),
	fx.Invoke(func(*EventSink) {}),
)

// NewEventSinkFx creates the sink when enabled; disabled configuration yields
// a nil sink so the rest of the app is unaffected
func NewEventSinkFx(lc fx.Lifecycle, cfg *config.KafkaConfig, bus *events.Bus, logger zerolog.Logger) (*EventSink, error) {
	if !cfg.Enabled {
		logger.Info().Msg("Kafka event sink disabled")
		return nil, nil
	}

	sink, err := NewEventSink(SinkConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		Logger:  logger,
	}, bus)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return sink.Close()
		},
	})

	return sink, nil
}
