package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/telemetry-generator/internal/logging"
)

// TracerName scopes every span telemgen emits.
const TracerName = "github.com/signalsfoundry/telemetry-generator"

// Tracer returns the telemgen tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// Span exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// TracingConfig selects where run spans go. The zero value disables tracing.
type TracingConfig struct {
	Exporter string
	// Endpoint is the OTLP gRPC collector; localhost:4317 when empty.
	Endpoint string
	// SampleRatio is the fraction of runs traced, within [0, 1].
	SampleRatio float64
	// Output receives stdout exporter spans; os.Stderr when nil so traces
	// never mix with telemetry written to a stdout sink.
	Output io.Writer
}

// RunInfo describes one scenario run. It becomes the trace resource so every
// span of the run carries it.
type RunInfo struct {
	RunID    string
	Scenario string
	Mode     string
	Sink     string
	Entities int
}

func (r RunInfo) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", "telemgen"),
		attribute.String("telemgen.run_id", r.RunID),
		attribute.String("telemgen.scenario", r.Scenario),
		attribute.String("telemgen.mode", r.Mode),
		attribute.String("telemgen.sink", r.Sink),
		attribute.Int("telemgen.entities", r.Entities),
	}
}

// TracingConfigFromEnv reads TELEMGEN_TRACE_EXPORTER, TELEMGEN_TRACE_ENDPOINT
// (falling back to OTEL_EXPORTER_OTLP_ENDPOINT) and TELEMGEN_TRACE_SAMPLE_RATIO.
func TracingConfigFromEnv() (TracingConfig, error) {
	cfg := TracingConfig{
		Exporter:    strings.ToLower(os.Getenv("TELEMGEN_TRACE_EXPORTER")),
		Endpoint:    os.Getenv("TELEMGEN_TRACE_ENDPOINT"),
		SampleRatio: 1,
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if raw := os.Getenv("TELEMGEN_TRACE_SAMPLE_RATIO"); raw != "" {
		ratio, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("TELEMGEN_TRACE_SAMPLE_RATIO: %w", err)
		}
		cfg.SampleRatio = ratio
	}
	return cfg, cfg.Validate()
}

func (c TracingConfig) Validate() error {
	switch c.Exporter {
	case "", ExporterNone, ExporterStdout, ExporterOTLP:
	default:
		return fmt.Errorf("unsupported trace exporter %q", c.Exporter)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("trace sample ratio must be within [0, 1], got %v", c.SampleRatio)
	}
	return nil
}

func (c TracingConfig) enabled() bool {
	return c.Exporter != "" && c.Exporter != ExporterNone
}

// InitTracing installs the global tracer provider for one run and returns the
// function that flushes it.
func InitTracing(ctx context.Context, cfg TracingConfig, run RunInfo, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.enabled() {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s span exporter: %w", cfg.Exporter, err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(run.attributes()...)),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.Any("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.Exporter == ExporterStdout {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	return otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	))
}

// ShutdownWithTimeout flushes spans for at most five seconds. Failures are
// logged, not returned.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
