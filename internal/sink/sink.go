// Package sink delivers encoded telemetry to its destination: a stream or
// file, a UDP or TCP peer, a Kafka topic, a Redis channel or stream, or a
// STOMP destination.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signalsfoundry/telemetry-generator/protocol"
)

// Sink is the delivery capability the orchestrator writes to.
type Sink interface {
	Write(ctx context.Context, msg protocol.EncodedMessage) error
	Close() error
}

// Kind names a sink implementation.
type Kind string

const (
	KindStdout Kind = "stdout"
	KindFile   Kind = "file"
	KindUDP    Kind = "udp"
	KindTCP    Kind = "tcp"
	KindKafka  Kind = "kafka"
	KindRedis  Kind = "redis"
	KindStomp  Kind = "stomp"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("sink closed")

// Config selects and parameterises a sink.
type Config struct {
	Kind Kind `yaml:"kind"`
	// Addr is host:port for network sinks, a comma-separated broker list for
	// kafka, or a path for file.
	Addr string `yaml:"addr"`
	// Topic is the Kafka topic, Redis channel/stream key or STOMP destination.
	Topic string `yaml:"topic"`
	// Delimiter is appended after each payload by stdout and file sinks.
	Delimiter string `yaml:"delimiter"`
	// RedisMode is "publish" (default) or "stream".
	RedisMode   string `yaml:"redis_mode"`
	RedisMaxLen int64  `yaml:"redis_max_len"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// MaxRetries bounds reconnect attempts of the tcp sink.
	MaxRetries uint64 `yaml:"max_retries"`
}

// Validate checks that the fields the selected kind needs are present.
func (c Config) Validate() error {
	switch c.Kind {
	case KindStdout:
		return nil
	case KindFile, KindUDP, KindTCP:
		if c.Addr == "" {
			return fmt.Errorf("sink %s: addr is required", c.Kind)
		}
	case KindKafka, KindStomp:
		if c.Addr == "" || c.Topic == "" {
			return fmt.Errorf("sink %s: addr and topic are required", c.Kind)
		}
	case KindRedis:
		if c.Addr == "" || c.Topic == "" {
			return fmt.Errorf("sink %s: addr and topic are required", c.Kind)
		}
		switch strings.ToLower(c.RedisMode) {
		case "", "publish", "stream":
		default:
			return fmt.Errorf("sink redis: unknown redis_mode %q", c.RedisMode)
		}
	default:
		return fmt.Errorf("unknown sink kind %q", c.Kind)
	}
	return nil
}

// Open builds the sink described by cfg. Network sinks connect eagerly so
// misconfiguration surfaces before the run starts.
func Open(ctx context.Context, cfg Config) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindStdout:
		return NewStdout(cfg.Delimiter), nil
	case KindFile:
		return OpenFile(cfg.Addr, cfg.Delimiter)
	case KindUDP:
		return DialUDP(ctx, cfg.Addr, cfg.WriteTimeout)
	case KindTCP:
		return DialTCP(ctx, TCPConfig{
			Addr:         cfg.Addr,
			DialTimeout:  cfg.DialTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxRetries:   cfg.MaxRetries,
		})
	case KindKafka:
		return NewKafka(strings.Split(cfg.Addr, ","), cfg.Topic), nil
	case KindRedis:
		return NewRedis(ctx, RedisConfig{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			Key:      cfg.Topic,
			Stream:   strings.EqualFold(cfg.RedisMode, "stream"),
			MaxLen:   cfg.RedisMaxLen,
		})
	case KindStomp:
		return DialStomp(cfg.Addr, cfg.Topic, cfg.Username, cfg.Password)
	}
	return nil, fmt.Errorf("unknown sink kind %q", cfg.Kind)
}
