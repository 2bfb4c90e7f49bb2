package sideeffect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wesleyorama2/ldload/internal/loadtest"
)

// RedisPublish publishes a message on a Redis channel.
type RedisPublish struct {
	client  *redis.Client
	channel string
	message string
}

// NewRedisPublish creates a publish hook. addr is either a redis:// or
// rediss:// URL or a plain host:port.
func NewRedisPublish(addr, channel, message string) (*RedisPublish, error) {
	if channel == "" {
		return nil, errors.New("redis publish: channel is required")
	}

	opts, err := redisOptions(addr)
	if err != nil {
		return nil, err
	}

	return &RedisPublish{
		client:  redis.NewClient(opts),
		channel: channel,
		message: message,
	}, nil
}

func redisOptions(addr string) (*redis.Options, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("redis publish: invalid address: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: addr}, nil
}

// Execute publishes the message. The subscriber count is not checked.
func (r *RedisPublish) Execute(ctx context.Context) error {
	if err := r.client.Publish(ctx, r.channel, r.message).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", r.channel, err)
	}
	return nil
}

// Close releases the connection pool.
func (r *RedisPublish) Close() error {
	return r.client.Close()
}

var _ loadtest.SideEffect = (*RedisPublish)(nil)
