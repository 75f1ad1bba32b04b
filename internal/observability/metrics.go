package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles Prometheus metrics for the emission loop and exposes them
// over HTTP. It satisfies core.MetricsRecorder.
type Collector struct {
	gatherer prometheus.Gatherer

	MessagesTotal  *prometheus.CounterVec
	EncodingErrors *prometheus.CounterVec
	PayloadBytes   *prometheus.HistogramVec
	ActiveStreams  prometheus.Gauge
}

// NewCollector registers emission metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	messages, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemgen_messages_total",
		Help: "Messages handed to the sink, labeled by schema.",
	}, []string{"schema"}), "telemgen_messages_total")
	if err != nil {
		return nil, err
	}

	encodingErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemgen_encoding_errors_total",
		Help: "Samples dropped because the encoder rejected them, labeled by schema.",
	}, []string{"schema"}), "telemgen_encoding_errors_total")
	if err != nil {
		return nil, err
	}

	payload, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "telemgen_payload_bytes",
		Help:    "Encoded payload size in bytes.",
		Buckets: prometheus.ExponentialBuckets(32, 2, 8),
	}, []string{"schema"}), "telemgen_payload_bytes")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telemgen_active_streams",
		Help: "Streams that have not yet been exhausted.",
	}), "telemgen_active_streams")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:       gatherer,
		MessagesTotal:  messages,
		EncodingErrors: encodingErrors,
		PayloadBytes:   payload,
		ActiveStreams:  active,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// MessageEmitted counts one message and observes its payload size.
func (c *Collector) MessageEmitted(schema string, size int) {
	if c == nil {
		return
	}
	if c.MessagesTotal != nil {
		c.MessagesTotal.WithLabelValues(schema).Inc()
	}
	if c.PayloadBytes != nil {
		c.PayloadBytes.WithLabelValues(schema).Observe(float64(size))
	}
}

// EncodingFailed counts one dropped sample.
func (c *Collector) EncodingFailed(schema string) {
	if c == nil || c.EncodingErrors == nil {
		return
	}
	c.EncodingErrors.WithLabelValues(schema).Inc()
}

// SetActiveStreams updates the active stream gauge.
func (c *Collector) SetActiveStreams(n int) {
	if c == nil || c.ActiveStreams == nil {
		return
	}
	c.ActiveStreams.Set(float64(n))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
