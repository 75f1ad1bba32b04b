package sink

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/telemetry-generator/protocol"
)

// RedisConfig configures a RedisSink.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Key is the pub/sub channel, or the stream key when Stream is set.
	Key string
	// Stream appends to a Redis stream with XADD instead of PUBLISH.
	Stream bool
	// MaxLen approximately caps the stream length; 0 leaves it unbounded.
	MaxLen int64
}

// RedisSink publishes payloads to a channel or appends them to a stream.
type RedisSink struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &RedisSink{cfg: cfg, client: client}, nil
}

func (s *RedisSink) Write(ctx context.Context, msg protocol.EncodedMessage) error {
	if !s.cfg.Stream {
		return s.client.Publish(ctx, s.cfg.Key, msg.Payload).Err()
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.cfg.Key,
		MaxLen: s.cfg.MaxLen,
		Approx: s.cfg.MaxLen > 0,
		Values: map[string]any{
			"entity":       string(msg.EntityID),
			"schema":       msg.Schema,
			"content_type": msg.ContentType,
			"time":         msg.Timestamp.UnixMilli(),
			"payload":      msg.Payload,
		},
	}).Err()
}

func (s *RedisSink) Close() error { return s.client.Close() }
