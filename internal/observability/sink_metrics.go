package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SinkCollector exposes per-sink write metrics.
type SinkCollector struct {
	WriteDuration *prometheus.HistogramVec
	WriteErrors   *prometheus.CounterVec
	BytesWritten  *prometheus.CounterVec
}

// NewSinkCollector registers sink metrics against the provided registerer.
func NewSinkCollector(reg prometheus.Registerer) (*SinkCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	duration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "telemgen_sink_write_duration_seconds",
		Help:    "Latency of sink writes in seconds.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"sink"}), "telemgen_sink_write_duration_seconds")
	if err != nil {
		return nil, err
	}

	writeErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemgen_sink_errors_total",
		Help: "Failed sink writes, labeled by sink kind.",
	}, []string{"sink"}), "telemgen_sink_errors_total")
	if err != nil {
		return nil, err
	}

	written, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemgen_sink_bytes_total",
		Help: "Payload bytes accepted by the sink.",
	}, []string{"sink"}), "telemgen_sink_bytes_total")
	if err != nil {
		return nil, err
	}

	return &SinkCollector{
		WriteDuration: duration,
		WriteErrors:   writeErrors,
		BytesWritten:  written,
	}, nil
}

// ObserveWrite records one write attempt.
func (c *SinkCollector) ObserveWrite(sink string, size int, d time.Duration, err error) {
	if c == nil {
		return
	}
	if c.WriteDuration != nil {
		c.WriteDuration.WithLabelValues(sink).Observe(d.Seconds())
	}
	if err != nil {
		if c.WriteErrors != nil {
			c.WriteErrors.WithLabelValues(sink).Inc()
		}
		return
	}
	if c.BytesWritten != nil {
		c.BytesWritten.WithLabelValues(sink).Add(float64(size))
	}
}
