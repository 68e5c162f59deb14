package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/logger"
	"dispatch/internal/realtime"
)

const eventChannelPrefix = "dispatch:events:"

// EventChannel is the Pub/Sub channel carrying a tenant's realtime events.
func EventChannel(tenantID string) string {
	return eventChannelPrefix + tenantID
}

// EventBus relays realtime events between service instances over Redis Pub/Sub.
type EventBus struct {
	client redis.UniversalClient
	logger *logger.Logger
}

// NewEventBus creates a new EventBus.
func NewEventBus(client redis.UniversalClient, log *logger.Logger) *EventBus {
	if log == nil {
		log = logger.Nop()
	}
	return &EventBus{client: client, logger: log}
}

var _ realtime.Publisher = (*EventBus)(nil)

// Publish sends ev to every instance. Offsets are local to a hub and are not sent.
func (b *EventBus) Publish(ctx context.Context, ev realtime.Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, EventChannel(ev.TenantID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish realtime event: %w", err)
	}
	return nil
}

// Relay feeds events published by any instance into sink until ctx is done.
func (b *EventBus) Relay(ctx context.Context, sink realtime.Publisher) error {
	pubsub := b.client.PSubscribe(ctx, eventChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to realtime events: %w", err)
	}
	b.logger.Info(ctx, "realtime relay subscribed")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			ev, err := decodeEvent(msg.Channel, []byte(msg.Payload))
			if err != nil {
				b.logger.Error(b.logger.WithField(ctx, "channel", msg.Channel), "dropping malformed realtime event", err)
				continue
			}
			if err := sink.Publish(ctx, ev); err != nil {
				b.logger.Error(b.logger.WithTenantID(ctx, ev.TenantID), "failed to deliver relayed event", err)
			}
		}
	}
}

func encodeEvent(ev realtime.Event) ([]byte, error) {
	ev.Offset = 0
	return json.Marshal(ev)
}

func decodeEvent(channel string, data []byte) (realtime.Event, error) {
	var ev realtime.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return realtime.Event{}, err
	}
	tenantID := strings.TrimPrefix(channel, eventChannelPrefix)
	if ev.TenantID != tenantID {
		return realtime.Event{}, fmt.Errorf("event tenant %q does not match channel %q", ev.TenantID, channel)
	}
	ev.Offset = 0
	return ev, nil
}
