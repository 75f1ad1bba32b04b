package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/telemetry-generator/core"
	"github.com/signalsfoundry/telemetry-generator/internal/sink"
	"github.com/signalsfoundry/telemetry-generator/protocol/cot"
	"github.com/signalsfoundry/telemetry-generator/protocol/stanag4586"
	"github.com/signalsfoundry/telemetry-generator/timectrl"
)

const twoEntities = `
mode: accelerated
start: 2024-05-01T12:00:00Z
workers: 2
on_invalid: abort
sink:
  kind: udp
  addr: 127.0.0.1:6969
cot:
  stale_after: 1m
defaults:
  step: 2s
entities:
  - id: unit-1
    callsign: ALPHA
    position: {lat: 34.05, lon: -118.45, alt: 100}
    course: 90
    speed: 10
    max_samples: 3
    max_speed: 20
    seed: 42
    bounds:
      min: {lat: 34.0, lon: -118.5}
      max: {lat: 34.1, lon: -118.4}
  - id: uav-7
    encoder: stanag4586
    model: static
    position: {lat: 1, lon: 2, alt: 300}
    step: 500ms
    max_samples: 4
`

func TestParseScenario(t *testing.T) {
	s, err := Parse(strings.NewReader(twoEntities))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.ClockMode() != timectrl.Accelerated {
		t.Fatalf("mode = %v", s.ClockMode())
	}
	if s.Workers != 2 {
		t.Fatalf("workers = %d", s.Workers)
	}
	if p, _ := s.ErrorPolicy(); p != core.AbortOnInvalid {
		t.Fatalf("policy = %v, want abort", p)
	}
	if s.Sink.Kind != sink.KindUDP || s.Sink.Addr != "127.0.0.1:6969" {
		t.Fatalf("sink = %+v", s.Sink)
	}
	if s.Sink.Delimiter != "\n" {
		t.Fatalf("default delimiter lost: %q", s.Sink.Delimiter)
	}
	if s.CoT.StaleAfter != time.Minute || s.CoT.Precision != 4 {
		t.Fatalf("cot config = %+v", s.CoT)
	}
	if len(s.Entities) != 2 || s.Entities[1].Step != 500*time.Millisecond {
		t.Fatalf("entities = %+v", s.Entities)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("entites: []\n"))
	if err == nil || !strings.Contains(err.Error(), "entites") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	doc := `
mode: warp
on_invalid: ignore
sink: {kind: kafka}
entities:
  - id: a
    encoder: json
  - id: a
    model: orbital
`
	_, err := Parse(strings.NewReader(doc))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"warp", "on_invalid", "kafka", "unknown encoder", "duplicate id", "two-line tle"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateRequiresEntities(t *testing.T) {
	if _, err := Parse(strings.NewReader("mode: realtime\n")); err == nil {
		t.Fatalf("expected error for empty entity list")
	}
}

func TestApplyEnv(t *testing.T) {
	s := Default()
	env := map[string]string{
		"TELEMGEN_SINK":      "TCP",
		"TELEMGEN_SINK_ADDR": "10.0.0.1:8087",
		"TELEMGEN_MODE":      "realtime",
		"TELEMGEN_WORKERS":   "8",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	if err := s.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if s.Sink.Kind != sink.KindTCP || s.Sink.Addr != "10.0.0.1:8087" {
		t.Fatalf("sink = %+v", s.Sink)
	}
	if s.Mode != "realtime" || s.Workers != 8 {
		t.Fatalf("mode=%q workers=%d", s.Mode, s.Workers)
	}

	env["TELEMGEN_WORKERS"] = "many"
	if err := s.ApplyEnv(lookup); err == nil {
		t.Fatalf("expected error for non-numeric workers")
	}
}

func TestLoadAppliesProcessEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(twoEntities), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TELEMGEN_SINK", "stdout")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Sink.Kind != sink.KindStdout {
		t.Fatalf("env override not applied: %+v", s.Sink)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestBuildEntities(t *testing.T) {
	s, err := Parse(strings.NewReader(twoEntities))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ents, start, err := s.BuildEntities(time.Now())
	if err != nil {
		t.Fatalf("BuildEntities: %v", err)
	}
	wantStart := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", start, wantStart)
	}
	if len(ents) != 2 {
		t.Fatalf("got %d entities", len(ents))
	}

	unit := ents[0]
	if unit.Identity.ID != "unit-1" || unit.Identity.Callsign != "ALPHA" {
		t.Fatalf("identity = %+v", unit.Identity)
	}
	if unit.Encoder.Schema() != cot.Schema {
		t.Fatalf("encoder schema = %s", unit.Encoder.Schema())
	}
	first, ok := unit.Stream.Next()
	if !ok || !first.Timestamp.Equal(wantStart) || first.Position.Lat != 34.05 {
		t.Fatalf("first sample = %+v ok=%v", first, ok)
	}
	if unit.Stream.StepSize() != 2*time.Second {
		t.Fatalf("default step not applied: %s", unit.Stream.StepSize())
	}

	uav := ents[1]
	if uav.Encoder.Schema() != stanag4586.Schema {
		t.Fatalf("encoder schema = %s", uav.Encoder.Schema())
	}
	n := 0
	for {
		if _, ok := uav.Stream.Next(); !ok {
			break
		}
		n++
	}
	if n != 4 {
		t.Fatalf("uav produced %d samples, want 4", n)
	}
}

func TestBuildEntitiesSharesEncoders(t *testing.T) {
	doc := `
start: 2024-05-01T12:00:00Z
defaults: {encoder: stanag4586}
entities:
  - {id: a, model: static}
  - {id: b, model: static}
`
	s, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ents, _, err := s.BuildEntities(time.Now())
	if err != nil {
		t.Fatalf("BuildEntities: %v", err)
	}
	if ents[0].Encoder != ents[1].Encoder {
		t.Fatalf("entities of one encoder kind should share an encoder")
	}
}

func TestBuildEntitiesDurationAndGeneratedID(t *testing.T) {
	doc := `
duration: 3s
entities:
  - model: static
    position: {lat: 10, lon: 10}
`
	s, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	ents, start, err := s.BuildEntities(now)
	if err != nil {
		t.Fatalf("BuildEntities: %v", err)
	}
	if !start.Equal(now) {
		t.Fatalf("start = %v, want now", start)
	}
	if ents[0].Identity.ID == "" {
		t.Fatalf("expected a generated entity id")
	}
	n := 0
	for {
		if _, ok := ents[0].Stream.Next(); !ok {
			break
		}
		n++
	}
	// samples at +0s, +1s, +2s and +3s
	if n != 4 {
		t.Fatalf("produced %d samples, want 4", n)
	}
}

func TestBuildEntitiesReportsModelErrors(t *testing.T) {
	doc := `
entities:
  - id: lost
    position: {lat: 50, lon: 50}
    max_speed: 10
    bounds:
      min: {lat: 0, lon: 0}
      max: {lat: 1, lon: 1}
`
	s, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, _, err = s.BuildEntities(time.Now())
	var ce *core.ConstructionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConstructionError, got %v", err)
	}
	if !strings.Contains(err.Error(), "lost") {
		t.Fatalf("error should name the entity: %v", err)
	}
}

func TestExampleScenariosBuild(t *testing.T) {
	paths, err := filepath.Glob("../../examples/scenarios/*.yaml")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(paths) == 0 {
		t.Skip("no example scenarios found")
	}
	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if _, _, err := s.BuildEntities(time.Now()); err != nil {
				t.Fatalf("BuildEntities: %v", err)
			}
		})
	}
}
