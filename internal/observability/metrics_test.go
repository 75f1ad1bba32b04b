package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestCollectorRecordsEmission(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	collector.MessageEmitted("cot/2.0", 300)
	collector.MessageEmitted("cot/2.0", 310)
	collector.EncodingFailed("stanag4586/2.5")
	collector.SetActiveStreams(4)

	if got := testutil.ToFloat64(collector.MessagesTotal.WithLabelValues("cot/2.0")); got != 2 {
		t.Fatalf("telemgen_messages_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.EncodingErrors.WithLabelValues("stanag4586/2.5")); got != 1 {
		t.Fatalf("telemgen_encoding_errors_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.ActiveStreams); got != 4 {
		t.Fatalf("telemgen_active_streams = %v, want 4", got)
	}
	if count := histogramSampleCount(t, reg, "telemgen_payload_bytes", map[string]string{"schema": "cot/2.0"}); count != 2 {
		t.Fatalf("telemgen_payload_bytes sample_count = %d, want 2", count)
	}
}

func TestCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	second.MessageEmitted("cot/2.0", 1)
	if got := testutil.ToFloat64(first.MessagesTotal.WithLabelValues("cot/2.0")); got != 1 {
		t.Fatalf("collectors do not share counters: %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.MessageEmitted("x", 1)
	c.EncodingFailed("x")
	c.SetActiveStreams(1)
	var s *SinkCollector
	s.ObserveWrite("udp", 1, time.Millisecond, nil)
}

func TestSinkCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSinkCollector(reg)
	if err != nil {
		t.Fatalf("NewSinkCollector: %v", err)
	}
	c.ObserveWrite("udp", 120, time.Millisecond, nil)
	c.ObserveWrite("udp", 120, time.Millisecond, errors.New("refused"))

	if got := testutil.ToFloat64(c.WriteErrors.WithLabelValues("udp")); got != 1 {
		t.Fatalf("telemgen_sink_errors_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.BytesWritten.WithLabelValues("udp")); got != 120 {
		t.Fatalf("telemgen_sink_bytes_total = %v, want 120", got)
	}
	if count := histogramSampleCount(t, reg, "telemgen_sink_write_duration_seconds", map[string]string{"sink": "udp"}); count != 2 {
		t.Fatalf("write duration sample_count = %d, want 2", count)
	}
}

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	sinks, err := NewSinkCollector(reg)
	if err != nil {
		t.Fatalf("NewSinkCollector: %v", err)
	}
	collector.MessageEmitted("cot/2.0", 256)
	collector.EncodingFailed("cot/2.0")
	collector.SetActiveStreams(3)
	sinks.ObserveWrite("kafka", 256, time.Millisecond, errors.New("x"))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"telemgen_messages_total",
		"telemgen_encoding_errors_total",
		"telemgen_payload_bytes",
		"telemgen_active_streams 3",
		"telemgen_sink_errors_total",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
