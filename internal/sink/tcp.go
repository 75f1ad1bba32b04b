package sink

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/signalsfoundry/telemetry-generator/protocol"
)

// TCPConfig configures a TCPSink.
type TCPConfig struct {
	Addr         string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxRetries bounds reconnect attempts per dial; 0 means 5.
	MaxRetries uint64
	// InitialBackoff is the first reconnect delay; 0 means 100ms.
	InitialBackoff time.Duration
}

// TCPSink streams payloads back to back over one connection. A failed write
// triggers one reconnect, with exponential backoff, and a single retry.
type TCPSink struct {
	cfg TCPConfig

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// DialTCP connects to cfg.Addr, retrying with backoff.
func DialTCP(ctx context.Context, cfg TCPConfig) (*TCPSink, error) {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	s := &TCPSink{cfg: cfg}
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return s, nil
}

func (s *TCPSink) dial(ctx context.Context) (net.Conn, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.InitialBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, s.cfg.MaxRetries), ctx)

	var conn net.Conn
	err := backoff.Retry(func() error {
		d := net.Dialer{Timeout: s.cfg.DialTimeout}
		c, err := d.DialContext(ctx, "tcp", s.cfg.Addr)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", s.cfg.Addr, err)
	}
	return conn, nil
}

func (s *TCPSink) Write(ctx context.Context, msg protocol.EncodedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	err := s.writeLocked(ctx, msg.Payload)
	if err == nil || ctx.Err() != nil {
		return err
	}

	_ = s.conn.Close()
	conn, dialErr := s.dial(ctx)
	if dialErr != nil {
		return fmt.Errorf("write failed (%v), reconnect failed: %w", err, dialErr)
	}
	s.conn = conn
	return s.writeLocked(ctx, msg.Payload)
}

func (s *TCPSink) writeLocked(ctx context.Context, payload []byte) error {
	if err := setWriteDeadline(ctx, s.conn, s.cfg.WriteTimeout); err != nil {
		return err
	}
	_, err := s.conn.Write(payload)
	return err
}

func (s *TCPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
