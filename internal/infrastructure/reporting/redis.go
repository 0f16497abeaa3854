package reporting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/studyup-loadgen/internal/domain/metric"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS PUB/SUB
// ══════════════════════════════════════════════════════════════════════════════

// DefaultRedisChannel is the channel events are published on.
const DefaultRedisChannel = "studyup:loadgen:events"

// RedisPubSub publishes every event as one JSON message on a channel.
// The client is shared with the caller and is not closed here.
type RedisPubSub struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPubSub creates the reporter.
func NewRedisPubSub(client redis.UniversalClient, channel string) *RedisPubSub {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisPubSub{client: client, channel: channel}
}

// Name implements messaging.Reporter.
func (r *RedisPubSub) Name() string { return "redis" }

// Report pipelines one PUBLISH per event.
func (r *RedisPubSub) Report(ctx context.Context, events []metric.Event) error {
	if len(events) == 0 {
		return nil
	}

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range events {
			body, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode %s event: %w", e.Name, err)
			}
			pipe.Publish(ctx, r.channel, body)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}
