package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Stat tracks queue depth in Redis as a side channel to RabbitMQ itself:
// AMQP's own queue-depth reporting comes from the management API, which
// this pipeline's daemons don't otherwise talk to, so a pending counter is
// kept alongside every publish/ack instead. Adapted from the teacher's
// queue/redis package (GetQueueDepth/MarkProcessing counters), generalized
// from its workflow-job keys to a single named counter per analysis queue.
type Stat struct {
	client *redis.Client
	key    string
}

// StatConfig names the Redis connection and counter key.
type StatConfig struct {
	RedisURL  string
	QueueName string
}

// NewStat connects to Redis and returns a Stat for QueueName.
func NewStat(ctx context.Context, cfg StatConfig) (*Stat, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("queue: parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queue: connecting to redis: %w", err)
	}

	return &Stat{
		client: client,
		key:    "analyzer:queue:" + cfg.QueueName + ":pending",
	}, nil
}

// Close closes the Redis connection.
func (s *Stat) Close() error {
	return s.client.Close()
}

// Pushed increments the pending counter; call on every successful publish.
func (s *Stat) Pushed(ctx context.Context) error {
	return s.client.Incr(ctx, s.key).Err()
}

// Settled decrements the pending counter; call when a message reaches a
// terminal state (ack'd success, or dropped after exhausting retries).
func (s *Stat) Settled(ctx context.Context) error {
	return s.client.Decr(ctx, s.key).Err()
}

// Pending reports the current approximate queue depth.
func (s *Stat) Pending(ctx context.Context) (int64, error) {
	n, err := s.client.Get(ctx, s.key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("queue: reading pending count: %w", err)
	}
	return n, nil
}
