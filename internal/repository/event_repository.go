package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/civicfix/civicfix-api/internal/models"
)

// EventRepository fans report change events out over a Redis channel so
// every API instance can feed its connected dashboards.
type EventRepository struct {
	client  *redis.Client
	channel string
}

// NewEventRepository constructs an event repository bound to a channel.
func NewEventRepository(client *redis.Client, channel string) *EventRepository {
	return &EventRepository{client: client, channel: channel}
}

// Publish sends a report event to all subscribers.
func (r *EventRepository) Publish(ctx context.Context, event models.ReportEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal report event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

// Subscribe opens a subscription on the event channel. Callers own the
// returned PubSub and must Close it.
func (r *EventRepository) Subscribe(ctx context.Context) *redis.PubSub {
	return r.client.Subscribe(ctx, r.channel)
}
