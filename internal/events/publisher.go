// Package events emits an audit trail of ride lifecycle transitions.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aditya/campus-rides/internal/models"
	"github.com/segmentio/kafka-go"
)

// RideEvent records one committed change of a ride's status.
type RideEvent struct {
	RideID     string            `json:"ride_id"`
	From       models.RideStatus `json:"from,omitempty"`
	To         models.RideStatus `json:"to"`
	ActorID    string            `json:"actor_id,omitempty"`
	ActorSide  models.Side       `json:"actor_side,omitempty"`
	ProviderID string            `json:"provider_id,omitempty"`
	Version    int64             `json:"version"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type Publisher interface {
	PublishRideEvent(ctx context.Context, ev RideEvent) error
	Close() error
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer  MessageWriter
	timeout time.Duration
}

// batchTimeout bounds how long a synchronous write waits for a batch to fill.
const batchTimeout = 10 * time.Millisecond

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return NewPublisherWithWriter(w)
}

func NewPublisherWithWriter(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, timeout: 2 * time.Second}
}

// PublishRideEvent keys messages by ride id so one ride's events stay on one
// partition and in order.
func (k *KafkaPublisher) PublishRideEvent(ctx context.Context, ev RideEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.RideID), Value: b})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishRideEvent(context.Context, RideEvent) error {
	return nil
}

func (NopPublisher) Close() error {
	return nil
}
