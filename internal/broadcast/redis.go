package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/jensholdgaard/draft-auction/internal/config"
	"github.com/jensholdgaard/draft-auction/internal/event"
)

// RedisSink mirrors events to Redis pub/sub on "<prefix>:<scope>" and keeps
// the latest active-player event under "<prefix>:<scope>:active" so readers
// outside the process can render state without subscribing first.
type RedisSink struct {
	client *redis.Client
	prefix string
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, cfg config.RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisSinkFromClient(client, cfg.ChannelPrefix), nil
}

// NewRedisSinkFromClient wraps an existing client.
func NewRedisSinkFromClient(client *redis.Client, prefix string) *RedisSink {
	return &RedisSink{client: client, prefix: prefix}
}

func (s *RedisSink) Name() string { return "redis" }

// Channel returns the pub/sub channel for scope.
func (s *RedisSink) Channel(scope string) string {
	return s.prefix + ":" + scope
}

// ActiveKey returns the key holding scope's active-player event.
func (s *RedisSink) ActiveKey(scope string) string {
	return s.prefix + ":" + scope + ":active"
}

// Send publishes e and updates the active key in one MULTI/EXEC.
func (s *RedisSink) Send(ctx context.Context, e event.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Publish(ctx, s.Channel(e.Scope), payload)
	switch {
	case e.Terminal():
		pipe.Del(ctx, s.ActiveKey(e.Scope))
	case e.Type == event.AuctionOpened, e.Type == event.AuctionBidAccepted, e.Type == event.AuctionPriceSet:
		pipe.Set(ctx, s.ActiveKey(e.Scope), payload, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publishing to redis: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
