package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix prefixes Redis channel names.
const DefaultChannelPrefix = "orm"

// RedisPublisher publishes events on the Redis channel <prefix>:<resource>.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher connects to url (redis://host:port/db) and verifies the
// connection.
func NewRedisPublisher(ctx context.Context, url, prefix string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisPublisherWithClient(client, prefix), nil
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the channel name used for resource.
func (p *RedisPublisher) Channel(resource string) string {
	return p.prefix + ":" + resource
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.Name, err)
	}
	if err := p.client.Publish(ctx, p.Channel(e.Resource), payload).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", e.Name, err)
	}
	return nil
}

// Close releases the underlying client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
