package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aditya/campus-rides/internal/models"
	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "rides:changes"

// RedisFeed publishes snapshots on a Redis channel and relays whatever
// arrives on it into a local hub, so every server instance sees every write.
type RedisFeed struct {
	client  *redis.Client
	channel string
	hub     *Hub
	pubsub  *redis.PubSub
	done    chan struct{}
	logger  *slog.Logger
}

func NewRedisFeed(ctx context.Context, client *redis.Client, channel string, logger *slog.Logger) (*RedisFeed, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}

	pubsub := client.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so our own first publish is not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	f := &RedisFeed{
		client:  client,
		channel: channel,
		hub:     NewHub(logger),
		pubsub:  pubsub,
		done:    make(chan struct{}),
		logger:  logger,
	}
	go f.relay()
	return f, nil
}

func (f *RedisFeed) Publish(ctx context.Context, ride *models.Ride) error {
	if ride == nil {
		return nil
	}
	data, err := json.Marshal(ride)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel, data).Err()
}

func (f *RedisFeed) Subscribe(rideID string, fn func(*models.Ride)) *Subscription {
	return f.hub.Subscribe(rideID, fn)
}

func (f *RedisFeed) Close() error {
	err := f.pubsub.Close()
	<-f.done
	f.hub.Close()
	return err
}

func (f *RedisFeed) relay() {
	defer close(f.done)

	ctx := context.Background()
	for msg := range f.pubsub.Channel() {
		var ride models.Ride
		if err := json.Unmarshal([]byte(msg.Payload), &ride); err != nil {
			f.logger.Warn("dropping malformed ride change", "channel", msg.Channel, "error", err)
			continue
		}
		f.hub.Publish(ctx, &ride)
	}
}
