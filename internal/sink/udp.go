package sink

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/signalsfoundry/telemetry-generator/protocol"
)

// UDPSink sends one datagram per message, the usual CoT transport.
type UDPSink struct {
	conn         net.Conn
	writeTimeout time.Duration
}

// DialUDP connects a datagram socket to addr.
func DialUDP(ctx context.Context, addr string, writeTimeout time.Duration) (*UDPSink, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", addr, err)
	}
	return &UDPSink{conn: conn, writeTimeout: writeTimeout}, nil
}

func (s *UDPSink) Write(ctx context.Context, msg protocol.EncodedMessage) error {
	if err := setWriteDeadline(ctx, s.conn, s.writeTimeout); err != nil {
		return err
	}
	_, err := s.conn.Write(msg.Payload)
	return err
}

func (s *UDPSink) Close() error { return s.conn.Close() }

// LocalAddr reports the bound local address.
func (s *UDPSink) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// setWriteDeadline applies the earlier of ctx's deadline and now+timeout.
func setWriteDeadline(ctx context.Context, conn net.Conn, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return conn.SetWriteDeadline(deadline)
}
