package sink

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/signalsfoundry/telemetry-generator/protocol"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink produces one record per message, keyed by EntityID so each
// entity's track stays ordered within its partition. Schema and content type
// travel as record headers.
type KafkaSink struct {
	w messageWriter
}

// NewKafka builds a synchronous writer for topic.
func NewKafka(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

func (s *KafkaSink) Write(ctx context.Context, msg protocol.EncodedMessage) error {
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.EntityID),
		Value: msg.Payload,
		Time:  msg.Timestamp,
		Headers: []kafka.Header{
			{Key: "schema", Value: []byte(msg.Schema)},
			{Key: "content-type", Value: []byte(msg.ContentType)},
		},
	})
}

// Close flushes pending messages and closes the connection.
func (s *KafkaSink) Close() error { return s.w.Close() }
