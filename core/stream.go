package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/telemetry-generator/model"
)

// StreamConfig describes one entity's telemetry stream.
type StreamConfig struct {
	EntityID model.EntityID
	// Start is the timestamp of the first sample.
	Start    time.Time
	Position model.GeoPosition
	Course   float64
	Speed    float64
	// Step is the simulated time between consecutive samples.
	Step time.Duration
	// MaxSamples ends the stream after that many samples; 0 means unbounded.
	MaxSamples int
	// EndTime ends the stream before the first sample later than it; zero means unbounded.
	EndTime time.Time
}

// TelemetryStream is a lazy, time-ordered sequence of samples for one entity.
// It owns its model (and therefore the model's RNG) exclusively and is not
// safe for concurrent use. Once exhausted or stopped it cannot be restarted.
type TelemetryStream struct {
	model    MovementModel
	step     time.Duration
	max      int
	end      time.Time
	first    model.TelemetrySample
	last     model.TelemetrySample
	produced int
	done     bool
}

// NewTelemetryStream validates cfg against m and returns a stream positioned
// before its first sample.
func NewTelemetryStream(cfg StreamConfig, m MovementModel) (*TelemetryStream, error) {
	if m == nil {
		return nil, constructionErr("model", "movement model is required", nil)
	}
	if cfg.EntityID == "" {
		return nil, constructionErr("entity_id", "must not be empty", nil)
	}
	if cfg.Step <= 0 {
		return nil, constructionErr("step", fmt.Sprintf("must be positive, got %s", cfg.Step), nil)
	}
	if cfg.MaxSamples < 0 {
		return nil, constructionErr("max_samples", fmt.Sprintf("must not be negative, got %d", cfg.MaxSamples), nil)
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}
	start := cfg.Start.UTC()
	if !cfg.EndTime.IsZero() && cfg.EndTime.Before(start) {
		return nil, constructionErr("end_time", fmt.Sprintf("%s precedes start %s", cfg.EndTime, start), nil)
	}

	first, err := m.Start(model.TelemetrySample{
		EntityID:  cfg.EntityID,
		Timestamp: start,
		Position:  cfg.Position,
		Course:    cfg.Course,
		Speed:     cfg.Speed,
	})
	if err != nil {
		return nil, err
	}

	return &TelemetryStream{
		model: m,
		step:  cfg.Step,
		max:   cfg.MaxSamples,
		end:   cfg.EndTime,
		first: first,
	}, nil
}

// Next returns the next sample, or false once the stream is exhausted or
// stopped. The first call returns the initial state at the start time; each
// later call advances the model by exactly one step.
func (s *TelemetryStream) Next() (model.TelemetrySample, bool) {
	if s.done {
		return model.TelemetrySample{}, false
	}
	if s.max > 0 && s.produced >= s.max {
		s.done = true
		return model.TelemetrySample{}, false
	}

	var next model.TelemetrySample
	if s.produced == 0 {
		next = s.first
	} else {
		next = s.model.Step(s.last, s.step)
	}
	if !s.end.IsZero() && next.Timestamp.After(s.end) {
		s.done = true
		return model.TelemetrySample{}, false
	}

	s.last = next
	s.produced++
	return next, true
}

// Stop ends the stream; later calls to Next return false.
func (s *TelemetryStream) Stop() { s.done = true }

// Done reports whether the stream has ended.
func (s *TelemetryStream) Done() bool { return s.done }

// Produced returns how many samples the stream has emitted.
func (s *TelemetryStream) Produced() int { return s.produced }

// EntityID returns the entity the stream produces samples for.
func (s *TelemetryStream) EntityID() model.EntityID { return s.first.EntityID }

// StepSize returns the stream's fixed time step.
func (s *TelemetryStream) StepSize() time.Duration { return s.step }
