// Package kafka forwards session lifecycle events from the in-process bus to
// a Kafka topic for external consumers.
package kafka

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/events"
)

// SinkConfig holds configuration for the event sink
type SinkConfig struct {
	Brokers         []string
	Topic           string
	Logger          zerolog.Logger
	MaxMessageBytes int // default 1MB
	MaxRetries      int // default 5
}

// EventSink subscribes to the lifecycle bus and publishes every event to
// Kafka. Messages are keyed by session id so one session's events stay
// ordered within a partition.
type EventSink struct {
	producer sarama.AsyncProducer
	topic    string
	logger   zerolog.Logger

	unsubscribe func()
	forwardWg   sync.WaitGroup
	drainWg     sync.WaitGroup
	closeOnce   sync.Once
	closeErr    error
}

// NewEventSink creates the sink and starts forwarding
func NewEventSink(cfg SinkConfig, bus *events.Bus) (*EventSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers specified")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1000000
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Compression = sarama.CompressionSnappy

	// Idempotent mode: at-least-once delivery with deduplication
	config.Producer.Idempotent = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Net.MaxOpenRequests = 1
	config.Producer.MaxMessageBytes = cfg.MaxMessageBytes
	config.Producer.Retry.Max = cfg.MaxRetries

	// Hash by session id for per-session ordering
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	sink := &EventSink{
		producer: producer,
		topic:    cfg.Topic,
		logger:   cfg.Logger.With().Str("component", "kafka_event_sink").Logger(),
	}

	ch, unsubscribe := bus.Subscribe()
	sink.unsubscribe = unsubscribe

	sink.forwardWg.Add(1)
	go sink.forward(ch)
	sink.drainWg.Add(1)
	go sink.drain()

	sink.logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Kafka event sink started")
	return sink, nil
}

func (s *EventSink) forward(ch <-chan events.Event) {
	defer s.forwardWg.Done()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to encode event")
			continue
		}

		s.producer.Input() <- &sarama.ProducerMessage{
			Topic: s.topic,
			Key:   sarama.StringEncoder(event.SessionID),
			Value: sarama.ByteEncoder(payload),
		}
	}
}

// drain consumes the producer's success and error channels; leaving them
// unread deadlocks the producer
func (s *EventSink) drain() {
	defer s.drainWg.Done()

	successes := s.producer.Successes()
	errors := s.producer.Errors()
	for successes != nil || errors != nil {
		select {
		case _, ok := <-successes:
			if !ok {
				successes = nil
			}
		case err, ok := <-errors:
			if !ok {
				errors = nil
				continue
			}
			s.logger.Error().Err(err.Err).Msg("Failed to deliver event to kafka")
		}
	}
}

// Close unsubscribes from the bus and flushes the producer
func (s *EventSink) Close() error {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		s.forwardWg.Wait()
		s.closeErr = s.producer.Close()
		s.drainWg.Wait()
		s.logger.Info().Msg("Kafka event sink closed")
	})
	return s.closeErr
}
