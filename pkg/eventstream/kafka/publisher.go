// Package kafka publishes fragment lifecycle events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/papercomputeco/strata/pkg/eventstream"
)

const (
	// DefaultTopic is the topic fragment events are written to when none is
	// configured.
	DefaultTopic = "strata.fragments"
)

// Config holds configuration for the Kafka publisher.
type Config struct {
	// Brokers is the list of broker addresses (e.g. "localhost:9092").
	Brokers []string

	// Topic is the destination topic. Defaults to DefaultTopic if empty.
	Topic string
}

// Publisher writes fragment events to Kafka as JSON messages keyed by
// fragment ID, so all events for one fragment land on the same partition
// in order.
type Publisher struct {
	writer *kafkago.Writer
	logger *zap.Logger
}

// NewPublisher creates a Kafka-backed eventstream publisher.
func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}

	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
	}

	logger.Info("connected kafka event publisher",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", topic),
	)

	return &Publisher{writer: writer, logger: logger}, nil
}

// PublishFragment writes a single fragment event.
func (p *Publisher) PublishFragment(ctx context.Context, event *eventstream.FragmentEvent) error {
	if event == nil {
		return eventstream.ErrNilFragmentEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling fragment event %s: %w", event.EventID, err)
	}

	msg := kafkago.Message{
		Key:   []byte(event.FragmentID),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing fragment event %s: %w", event.EventID, err)
	}

	p.logger.Debug("published fragment event",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("fragment_id", event.FragmentID),
	)

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ eventstream.Publisher = (*Publisher)(nil)
