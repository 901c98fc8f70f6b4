package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"talkmix/internal/core/domain"
	"talkmix/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is where session events are published.
const DefaultChannel = "talkmix:events"

// EventBus publishes session events on Redis pub/sub so a control plane can
// follow one or more mixers.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewEventBus(client *redis.Client, instanceID, channel string, logger *zap.SugaredLogger) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *domain.Event) error {
	if event.InstanceID == "" {
		event.InstanceID = eb.instanceID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"stream_id", event.StreamID,
		"sink", event.Sink,
	)
	return nil
}

// Subscribe calls handler for every event published by other instances until
// ctx ends.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*domain.Event) error) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	eb.pubsub = pubsub
	eb.mu.Unlock()

	defer func() {
		eb.mu.Lock()
		eb.pubsub = nil
		eb.mu.Unlock()
		_ = pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				eb.logger.Warnw("failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}
			if event.InstanceID == eb.instanceID {
				continue
			}
			if err := handler(event); err != nil {
				eb.logger.Warnw("error handling event", "type", event.Type, "error", err)
			}
		}
	}
}

// DecodeEvent parses one published message.
func DecodeEvent(data []byte) (*domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	if event.Type == "" {
		return nil, fmt.Errorf("event without type")
	}
	return &event, nil
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}

var _ ports.EventPublisher = (*EventBus)(nil)
