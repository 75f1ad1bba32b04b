package sink

import (
	"context"
	"time"

	"github.com/signalsfoundry/telemetry-generator/internal/logging"
	"github.com/signalsfoundry/telemetry-generator/internal/observability"
	"github.com/signalsfoundry/telemetry-generator/protocol"
)

// Instrumented records latency, bytes and failures of every write.
type Instrumented struct {
	next    Sink
	kind    string
	metrics *observability.SinkCollector
	log     logging.Logger
}

// Instrument wraps next. A nil collector or logger disables that concern.
func Instrument(next Sink, kind Kind, metrics *observability.SinkCollector, log logging.Logger) *Instrumented {
	if log == nil {
		log = logging.Noop()
	}
	return &Instrumented{next: next, kind: string(kind), metrics: metrics, log: log}
}

func (s *Instrumented) Write(ctx context.Context, msg protocol.EncodedMessage) error {
	start := time.Now()
	err := s.next.Write(ctx, msg)
	s.metrics.ObserveWrite(s.kind, len(msg.Payload), time.Since(start), err)
	if err != nil {
		s.log.Error(ctx, "sink write failed",
			logging.String("sink", s.kind),
			logging.String("entity", string(msg.EntityID)),
			logging.Err(err),
		)
	}
	return err
}

func (s *Instrumented) Close() error { return s.next.Close() }
