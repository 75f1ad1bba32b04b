package sink

import (
	"context"
	"fmt"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"

	"github.com/signalsfoundry/telemetry-generator/protocol"
)

type stompConn interface {
	Send(destination, contentType string, body []byte, opts ...func(*frame.Frame) error) error
	Disconnect() error
}

// StompSink sends each message as a SEND frame to one destination.
type StompSink struct {
	conn        stompConn
	destination string
}

// DialStomp connects to a STOMP broker at addr.
func DialStomp(addr, destination, username, password string) (*StompSink, error) {
	var opts []func(*stomp.Conn) error
	if username != "" {
		opts = append(opts, stomp.ConnOpt.Login(username, password))
	}
	conn, err := stomp.Dial("tcp", addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial stomp %s: %w", addr, err)
	}
	return &StompSink{conn: conn, destination: destination}, nil
}

func (s *StompSink) Write(ctx context.Context, msg protocol.EncodedMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.conn.Send(s.destination, msg.ContentType, msg.Payload,
		stomp.SendOpt.Header("schema", msg.Schema),
		stomp.SendOpt.Header("entity-id", string(msg.EntityID)),
	)
}

func (s *StompSink) Close() error { return s.conn.Disconnect() }
