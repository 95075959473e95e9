package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStream is the stream pipeline events are appended to.
const DefaultStream = "eqho:pipeline:events"

// streamMaxLen caps the stream so it cannot grow without bound.
const streamMaxLen = 10000

// RedisSink appends events to a Redis stream.
type RedisSink struct {
	rdb    *redis.Client
	stream string
	logger *zap.Logger
}

// NewRedisSink connects to redisURL and verifies the connection.
func NewRedisSink(ctx context.Context, redisURL, stream string, logger *zap.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{rdb: rdb, stream: stream, logger: logger}, nil
}

func (r *RedisSink) Name() string { return "redis" }

func (r *RedisSink) Deliver(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	id, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event": string(ev.Event),
			"story": ev.StoryID,
			"data":  string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", r.stream, err)
	}
	r.logger.Debug("published event", zap.String("stream", r.stream), zap.String("id", id))
	return nil
}

// Close closes the Redis connection.
func (r *RedisSink) Close() error {
	return r.rdb.Close()
}
