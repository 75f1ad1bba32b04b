// Package config loads telemetry scenarios from YAML and turns them into
// orchestrator entities.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/telemetry-generator/core"
	"github.com/signalsfoundry/telemetry-generator/internal/sink"
	"github.com/signalsfoundry/telemetry-generator/model"
	"github.com/signalsfoundry/telemetry-generator/protocol"
	"github.com/signalsfoundry/telemetry-generator/protocol/cot"
	"github.com/signalsfoundry/telemetry-generator/protocol/stanag4586"
	"github.com/signalsfoundry/telemetry-generator/timectrl"
)

// Encoder names accepted in entity definitions.
const (
	EncoderCoT    = "cot"
	EncoderSTANAG = "stanag4586"
)

// Scenario is the top-level YAML document.
type Scenario struct {
	// Mode is "accelerated" (default) or "realtime".
	Mode string `yaml:"mode"`
	// Scale is simulated seconds per wall second in realtime mode.
	Scale float64 `yaml:"scale"`
	// Start is the first sample time shared by all entities; zero means now.
	Start   time.Time `yaml:"start"`
	Workers int       `yaml:"workers"`
	// OnInvalid is "skip" (default) or "abort".
	OnInvalid string `yaml:"on_invalid"`
	// Duration bounds every stream to Start+Duration; zero means unbounded.
	Duration time.Duration `yaml:"duration"`

	Sink     sink.Config    `yaml:"sink"`
	CoT      cot.Config     `yaml:"cot"`
	Defaults EntityDefaults `yaml:"defaults"`
	Entities []EntityConfig `yaml:"entities"`
}

// EntityDefaults fill in fields an entity leaves unset.
type EntityDefaults struct {
	Step       time.Duration `yaml:"step"`
	MaxSamples int           `yaml:"max_samples"`
	Encoder    string        `yaml:"encoder"`
	Type       string        `yaml:"type"`
}

// EntityConfig describes one simulated entity.
type EntityConfig struct {
	ID       string `yaml:"id"`
	Callsign string `yaml:"callsign"`
	Type     string `yaml:"type"`
	Encoder  string `yaml:"encoder"`
	// Model is random_walk (default), static or orbital.
	Model string `yaml:"model"`
	Seed  uint64 `yaml:"seed"`

	Position   model.GeoPosition `yaml:"position"`
	Course     float64           `yaml:"course"`
	Speed      float64           `yaml:"speed"`
	Step       time.Duration     `yaml:"step"`
	MaxSamples int               `yaml:"max_samples"`

	Bounds   *model.BoundingBox `yaml:"bounds"`
	MaxSpeed float64            `yaml:"max_speed"`
	// Optional; nil takes the random walk defaults.
	MaxHeadingDelta *float64 `yaml:"max_heading_delta"`
	MaxSpeedDelta   *float64 `yaml:"max_speed_delta"`
	MaxVerticalRate float64  `yaml:"max_vertical_rate"`

	TLE []string `yaml:"tle"`
}

// Default returns a scenario with every optional field at its default.
func Default() *Scenario {
	return &Scenario{
		Mode:      timectrl.Accelerated.String(),
		Scale:     1,
		Workers:   1,
		OnInvalid: "skip",
		Sink:      sink.Config{Kind: sink.KindStdout, Delimiter: "\n"},
		CoT:       cot.DefaultConfig(),
		Defaults: EntityDefaults{
			Step:    time.Second,
			Encoder: EncoderCoT,
		},
	}
}

// Load reads and validates the scenario at path, then applies environment
// overrides.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a scenario from r. Unknown keys are rejected. Environment
// overrides are applied before validation.
func Parse(r io.Reader) (*Scenario, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ApplyEnv overrides scenario fields from TELEMGEN_SINK, TELEMGEN_SINK_ADDR,
// TELEMGEN_SINK_TOPIC, TELEMGEN_MODE and TELEMGEN_WORKERS.
func (s *Scenario) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("TELEMGEN_SINK"); ok && v != "" {
		s.Sink.Kind = sink.Kind(strings.ToLower(v))
	}
	if v, ok := lookup("TELEMGEN_SINK_ADDR"); ok && v != "" {
		s.Sink.Addr = v
	}
	if v, ok := lookup("TELEMGEN_SINK_TOPIC"); ok && v != "" {
		s.Sink.Topic = v
	}
	if v, ok := lookup("TELEMGEN_MODE"); ok && v != "" {
		s.Mode = v
	}
	if v, ok := lookup("TELEMGEN_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TELEMGEN_WORKERS: %w", err)
		}
		s.Workers = n
	}
	return nil
}

// Validate reports every structural problem at once. Model-level checks
// (bounds, speeds, TLEs) happen in BuildEntities.
func (s *Scenario) Validate() error {
	var errs []error
	if _, err := timectrl.ParseMode(s.Mode); err != nil {
		errs = append(errs, err)
	}
	if s.Scale <= 0 {
		errs = append(errs, fmt.Errorf("scale must be positive, got %v", s.Scale))
	}
	if s.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", s.Workers))
	}
	if _, err := s.ErrorPolicy(); err != nil {
		errs = append(errs, err)
	}
	if s.Duration < 0 {
		errs = append(errs, fmt.Errorf("duration must not be negative, got %s", s.Duration))
	}
	if err := s.Sink.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cot.NewEncoder(s.CoT); err != nil {
		errs = append(errs, err)
	}
	if len(s.Entities) == 0 {
		errs = append(errs, errors.New("at least one entity is required"))
	}

	seen := map[string]int{}
	for i, e := range s.Entities {
		name := e.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		if e.ID != "" {
			if j, dup := seen[e.ID]; dup {
				errs = append(errs, fmt.Errorf("entity %s: duplicate id (also entity #%d)", name, j))
			}
			seen[e.ID] = i
		}
		switch s.encoderName(e) {
		case EncoderCoT, EncoderSTANAG:
		default:
			errs = append(errs, fmt.Errorf("entity %s: unknown encoder %q", name, s.encoderName(e)))
		}
		if e.Step < 0 || e.MaxSamples < 0 {
			errs = append(errs, fmt.Errorf("entity %s: step and max_samples must not be negative", name))
		}
		switch core.ModelKind(e.Model) {
		case core.ModelRandomWalk, "":
			if e.Bounds == nil {
				errs = append(errs, fmt.Errorf("entity %s: random_walk needs bounds", name))
			}
		case core.ModelStatic:
		case core.ModelOrbital:
			if len(e.TLE) != 2 {
				errs = append(errs, fmt.Errorf("entity %s: orbital needs a two-line tle", name))
			}
		default:
			errs = append(errs, fmt.Errorf("entity %s: unknown model %q", name, e.Model))
		}
	}
	return errors.Join(errs...)
}

// ClockMode returns the parsed pacing mode.
func (s *Scenario) ClockMode() timectrl.Mode {
	m, _ := timectrl.ParseMode(s.Mode)
	return m
}

// ErrorPolicy maps OnInvalid to the orchestrator policy.
func (s *Scenario) ErrorPolicy() (core.ErrorPolicy, error) {
	switch strings.ToLower(s.OnInvalid) {
	case "", "skip":
		return core.SkipInvalid, nil
	case "abort":
		return core.AbortOnInvalid, nil
	default:
		return 0, fmt.Errorf("on_invalid must be skip or abort, got %q", s.OnInvalid)
	}
}

// BuildEntities constructs a stream and encoder for every entity. All streams
// start at the same instant so equal steps interleave round-robin. Encoders
// are shared per kind. now supplies the start time when none is configured.
func (s *Scenario) BuildEntities(now time.Time) ([]core.Entity, time.Time, error) {
	start := s.Start
	if start.IsZero() {
		start = now
	}
	start = start.UTC()

	cotEnc, err := cot.NewEncoder(s.CoT)
	if err != nil {
		return nil, start, err
	}
	encoders := map[string]protocol.Encoder{
		EncoderCoT:    cotEnc,
		EncoderSTANAG: stanag4586.NewEncoder(),
	}

	var endTime time.Time
	if s.Duration > 0 {
		endTime = start.Add(s.Duration)
	}

	entities := make([]core.Entity, 0, len(s.Entities))
	for i, e := range s.Entities {
		id := model.EntityID(e.ID)
		if id == "" {
			id = model.NewEntityID()
		}
		m, err := core.NewMovementModel(s.modelSpec(e))
		if err != nil {
			return nil, start, fmt.Errorf("entity %s (#%d): %w", id, i, err)
		}

		step := e.Step
		if step == 0 {
			step = s.Defaults.Step
		}
		maxSamples := e.MaxSamples
		if maxSamples == 0 {
			maxSamples = s.Defaults.MaxSamples
		}
		stream, err := core.NewTelemetryStream(core.StreamConfig{
			EntityID:   id,
			Start:      start,
			Position:   e.Position,
			Course:     e.Course,
			Speed:      e.Speed,
			Step:       step,
			MaxSamples: maxSamples,
			EndTime:    endTime,
		}, m)
		if err != nil {
			return nil, start, fmt.Errorf("entity %s (#%d): %w", id, i, err)
		}

		cotType := e.Type
		if cotType == "" {
			cotType = s.Defaults.Type
		}
		entities = append(entities, core.Entity{
			Identity: model.EntityIdentity{ID: id, Callsign: e.Callsign, Type: cotType},
			Stream:   stream,
			Encoder:  encoders[s.encoderName(e)],
		})
	}
	return entities, start, nil
}

func (s *Scenario) encoderName(e EntityConfig) string {
	name := e.Encoder
	if name == "" {
		name = s.Defaults.Encoder
	}
	return strings.ToLower(name)
}

func (s *Scenario) modelSpec(e EntityConfig) core.ModelSpec {
	spec := core.ModelSpec{Kind: core.ModelKind(e.Model)}
	switch spec.Kind {
	case core.ModelOrbital:
		if len(e.TLE) == 2 {
			spec.TLE1, spec.TLE2 = e.TLE[0], e.TLE[1]
		}
	case core.ModelRandomWalk, "":
		var bounds model.BoundingBox
		if e.Bounds != nil {
			bounds = *e.Bounds
		}
		p := core.DefaultRandomWalkParams(bounds, e.MaxSpeed, e.Seed)
		if e.MaxHeadingDelta != nil {
			p.MaxHeadingDelta = *e.MaxHeadingDelta
		}
		if e.MaxSpeedDelta != nil {
			p.MaxSpeedDelta = *e.MaxSpeedDelta
		}
		p.MaxVerticalRate = e.MaxVerticalRate
		spec.RandomWalk = p
	}
	return spec
}
