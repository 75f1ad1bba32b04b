package core

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/telemetry-generator/internal/logging"
	"github.com/signalsfoundry/telemetry-generator/internal/observability"
	"github.com/signalsfoundry/telemetry-generator/kb"
	"github.com/signalsfoundry/telemetry-generator/model"
	"github.com/signalsfoundry/telemetry-generator/protocol"
	"github.com/signalsfoundry/telemetry-generator/timectrl"
)

// Sink receives encoded messages. It owns delivery and retries; any error it
// returns aborts the run.
type Sink interface {
	Write(ctx context.Context, msg protocol.EncodedMessage) error
	Close() error
}

// MetricsRecorder receives emission events. *observability.Collector
// satisfies it.
type MetricsRecorder interface {
	MessageEmitted(schema string, size int)
	EncodingFailed(schema string)
	SetActiveStreams(n int)
}

// ErrorPolicy decides what happens when an encoder rejects a sample.
type ErrorPolicy int

const (
	// SkipInvalid logs and counts the failure, drops the sample and continues.
	SkipInvalid ErrorPolicy = iota
	// AbortOnInvalid ends the run with the encoding error.
	AbortOnInvalid
)

// Entity binds an identity to its stream and encoder.
type Entity struct {
	Identity model.EntityIdentity
	Stream   *TelemetryStream
	Encoder  protocol.Encoder
}

type Option func(*Orchestrator)

// WithWorkers refills streams on a pool of at most n goroutines; n <= 1 keeps
// refills on the run goroutine.
func WithWorkers(n int) Option { return func(o *Orchestrator) { o.workers = n } }

func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

func WithMetrics(m MetricsRecorder) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithClock paces emission with tc. Without it the run is accelerated.
func WithClock(tc *timectrl.TimeController) Option { return func(o *Orchestrator) { o.clock = tc } }

func WithErrorPolicy(p ErrorPolicy) Option { return func(o *Orchestrator) { o.policy = p } }

// Orchestrator merges many entity streams into one timestamp-ordered sequence
// of encoded messages delivered to a single sink. Samples sharing a timestamp
// are emitted in registration order.
type Orchestrator struct {
	sink     Sink
	registry *kb.Registry
	log      logging.Logger
	metrics  MetricsRecorder
	clock    *timectrl.TimeController
	workers  int
	policy   ErrorPolicy

	mu       sync.Mutex
	started  bool
	entries  []*entry
	stopOnce sync.Once
	stop     chan struct{}

	emitted uint64
	dropped uint64
}

// NewOrchestrator constructs an orchestrator writing to sink.
func NewOrchestrator(sink Sink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sink:     sink,
		registry: kb.NewRegistry(),
		log:      logging.Noop(),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry exposes the orchestrator's entity registry for inspection and
// subscriptions.
func (o *Orchestrator) Registry() *kb.Registry { return o.registry }

// Add registers an entity. Its EntityID must not already be bound to an
// active stream of this orchestrator.
func (o *Orchestrator) Add(e Entity) error {
	if e.Stream == nil || e.Encoder == nil {
		return constructionErr("entity", "stream and encoder are required", nil)
	}
	if e.Identity.ID == "" {
		e.Identity.ID = e.Stream.EntityID()
	}
	if e.Identity.ID != e.Stream.EntityID() {
		return constructionErr("entity", fmt.Sprintf("identity %q does not match stream %q", e.Identity.ID, e.Stream.EntityID()), nil)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return ErrAlreadyStarted
	}
	rec, err := o.registry.Register(e.Identity, e.Encoder.Schema())
	if err != nil {
		return err
	}
	o.entries = append(o.entries, &entry{Entity: e, order: rec.Order})
	return nil
}

// Stop ends the run at the next emission boundary. It is safe to call from
// any goroutine and more than once.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
}

// Emitted returns how many messages reached the sink.
func (o *Orchestrator) Emitted() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.emitted
}

// Dropped returns how many samples were skipped because encoding failed.
func (o *Orchestrator) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Run emits until every stream is exhausted (nil), Stop is called (nil), ctx
// ends (ctx.Err()), the sink fails, or an encoding error occurs under
// AbortOnInvalid. It may be called once. A ctx without a run_id gets one and
// the run's logger is annotated with it; a caller that supplies the run_id also
// owns annotating the logger it passed to WithLogger.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	entries := o.entries
	o.mu.Unlock()

	log := o.log
	if logging.RunIDFromContext(ctx) == "" {
		ctx, log = logging.WithRunLogger(ctx, log)
	}
	ctx, span := observability.Tracer().Start(ctx, "orchestrator.run")
	span.SetAttributes(
		attribute.String("telemgen.run_id", logging.RunIDFromContext(ctx)),
		attribute.Int("telemgen.entities", len(entries)),
		attribute.Int("telemgen.workers", o.workers),
	)
	defer func() {
		span.SetAttributes(attribute.Int64("telemgen.emitted", int64(o.Emitted())))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log.Info(ctx, "run started", logging.Int("entities", len(entries)), logging.Int("workers", o.workers))

	q := make(sampleQueue, 0, len(entries))
	o.refill(entries)
	for _, e := range entries {
		if o.settle(e) {
			q = append(q, e)
		}
	}
	heap.Init(&q)
	o.reportActive()

	clock := o.clock
	if clock == nil && len(q) > 0 {
		clock = timectrl.NewTimeController(q[0].next.Timestamp, timectrl.Accelerated)
	}

	batch := make([]*entry, 0, len(entries))
	for q.Len() > 0 {
		if done, err := o.interrupted(ctx); done {
			o.halt(q)
			log.Info(ctx, "run stopped", logging.Any("emitted", o.Emitted()), logging.Err(err))
			return err
		}

		ts := q[0].next.Timestamp
		batch = batch[:0]
		for q.Len() > 0 && q[0].next.Timestamp.Equal(ts) {
			batch = append(batch, heap.Pop(&q).(*entry))
		}

		if err := clock.Advance(ctx, ts); err != nil {
			o.halt(append(q, batch...))
			return err
		}

		for i, e := range batch {
			if i > 0 {
				if done, err := o.interrupted(ctx); done {
					o.halt(append(q, batch[i:]...))
					return err
				}
			}
			if err := o.emit(ctx, log, e); err != nil {
				o.halt(append(q, batch[i:]...))
				log.Error(ctx, "run aborted", logging.String("entity", string(e.Identity.ID)), logging.Err(err))
				return err
			}
		}

		o.refill(batch)
		for _, e := range batch {
			if o.settle(e) {
				heap.Push(&q, e)
			}
		}
		o.reportActive()
	}

	log.Info(ctx, "run finished", logging.Any("emitted", o.Emitted()), logging.Any("dropped", o.Dropped()))
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, log logging.Logger, e *entry) error {
	schema := e.Encoder.Schema()
	msg, err := e.Encoder.Encode(e.Identity, e.next)
	if err != nil {
		if o.policy == SkipInvalid && errors.Is(err, protocol.ErrInvalidSample) {
			o.mu.Lock()
			o.dropped++
			o.mu.Unlock()
			if o.metrics != nil {
				o.metrics.EncodingFailed(schema)
			}
			log.Warn(ctx, "sample dropped",
				logging.String("entity", string(e.Identity.ID)),
				logging.String("schema", schema),
				logging.String("time", e.next.Timestamp.Format(time.RFC3339Nano)),
				logging.Err(err),
			)
			return nil
		}
		return fmt.Errorf("encode %s for %q: %w", schema, e.Identity.ID, err)
	}

	if err := o.sink.Write(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkFailed, err)
	}

	o.mu.Lock()
	o.emitted++
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.MessageEmitted(msg.Schema, len(msg.Payload))
	}
	_ = o.registry.RecordSample(e.next)
	return nil
}

// refill advances each entry's stream by one sample. Every stream is touched
// by exactly one goroutine.
func (o *Orchestrator) refill(batch []*entry) {
	if o.workers <= 1 || len(batch) < 2 {
		for _, e := range batch {
			e.next, e.ok = e.Stream.Next()
		}
		return
	}
	p := pool.New().WithMaxGoroutines(o.workers)
	for _, e := range batch {
		p.Go(func() {
			e.next, e.ok = e.Stream.Next()
		})
	}
	p.Wait()
}

// settle deactivates exhausted entries and reports whether e holds a sample.
func (o *Orchestrator) settle(e *entry) bool {
	if e.ok {
		return true
	}
	_ = o.registry.Deactivate(e.Identity.ID)
	return false
}

// halt stops and deactivates the streams still pending.
func (o *Orchestrator) halt(pending []*entry) {
	for _, e := range pending {
		e.Stream.Stop()
		_ = o.registry.Deactivate(e.Identity.ID)
	}
	o.reportActive()
}

func (o *Orchestrator) interrupted(ctx context.Context) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-o.stop:
		return true, nil
	default:
		return false, nil
	}
}

func (o *Orchestrator) reportActive() {
	if o.metrics != nil {
		o.metrics.SetActiveStreams(o.registry.ActiveCount())
	}
}

type entry struct {
	Entity
	order int
	next  model.TelemetrySample
	ok    bool
	index int
}

// sampleQueue is a min-heap on (next.Timestamp, order).
type sampleQueue []*entry

func (q sampleQueue) Len() int { return len(q) }

func (q sampleQueue) Less(i, j int) bool {
	if !q[i].next.Timestamp.Equal(q[j].next.Timestamp) {
		return q[i].next.Timestamp.Before(q[j].next.Timestamp)
	}
	return q[i].order < q[j].order
}

func (q sampleQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *sampleQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *sampleQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}
