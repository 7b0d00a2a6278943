package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alejandrodnm/blitzrace/internal/domain"
)

// DefaultRedisChannel is the pub/sub channel events are broadcast on.
const DefaultRedisChannel = "blitz_events"

// redisPublisher is the part of *redis.Client the sink uses.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisSink broadcasts events as JSON on a Redis pub/sub channel.
type RedisSink struct {
	r       redisPublisher
	channel string
}

// NewRedisSink connects to addr.
func NewRedisSink(addr, channel string) *RedisSink {
	return newRedisSink(redis.NewClient(&redis.Options{Addr: addr}), channel)
}

func newRedisSink(r redisPublisher, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{r: r, channel: channel}
}

func (s *RedisSink) Name() string { return "redis:" + s.channel }

func (s *RedisSink) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events.RedisSink: marshal: %w", err)
	}
	return s.r.Publish(ctx, s.channel, payload).Err()
}

func (s *RedisSink) Close() error { return s.r.Close() }
