package core

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/telemetry-generator/model"
)

var laBox = model.BoundingBox{
	Min: model.GeoPosition{Lat: 34.000, Lon: -118.500},
	Max: model.GeoPosition{Lat: 34.100, Lon: -118.400},
}

func startSample(pos model.GeoPosition, course, speed float64) model.TelemetrySample {
	return model.TelemetrySample{
		EntityID:  "unit-1",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Position:  pos,
		Course:    course,
		Speed:     speed,
	}
}

func TestBoundedRandomWalk_ContainmentAcrossSeeds(t *testing.T) {
	// A tiny box and high speed force many multi-edge reflections per run.
	box := model.BoundingBox{
		Min: model.GeoPosition{Lat: 38.0, Lon: -110.0},
		Max: model.GeoPosition{Lat: 38.01, Lon: -109.99},
	}
	for seed := uint64(0); seed < 50; seed++ {
		p := RandomWalkParams{
			Bounds:          box,
			MaxSpeed:        300,
			MaxHeadingDelta: 45,
			MaxSpeedDelta:   50,
			Seed:            seed,
		}
		m, err := NewBoundedRandomWalkModel(p)
		if err != nil {
			t.Fatalf("seed %d: NewBoundedRandomWalkModel: %v", seed, err)
		}
		s, err := m.Start(startSample(box.Midpoint(), float64(seed*7%360), 150))
		if err != nil {
			t.Fatalf("seed %d: Start: %v", seed, err)
		}
		dt := time.Duration(1+seed%60) * time.Second
		for i := 0; i < 500; i++ {
			next := m.Step(s, dt)
			if !box.Contains(next.Position) {
				t.Fatalf("seed %d step %d: %v left the box", seed, i, next.Position)
			}
			if next.Speed < 0 || next.Speed > p.MaxSpeed {
				t.Fatalf("seed %d step %d: speed %v outside [0, %v]", seed, i, next.Speed, p.MaxSpeed)
			}
			if next.Course < 0 || next.Course >= 360 {
				t.Fatalf("seed %d step %d: course %v outside [0, 360)", seed, i, next.Course)
			}
			if !next.Timestamp.Equal(s.Timestamp.Add(dt)) {
				t.Fatalf("seed %d step %d: timestamp %v, want %v", seed, i, next.Timestamp, s.Timestamp.Add(dt))
			}
			s = next
		}
	}
}

func TestBoundedRandomWalk_ReflectsOffEastEdge(t *testing.T) {
	m, err := NewBoundedRandomWalkModel(RandomWalkParams{Bounds: laBox, MaxSpeed: 100})
	if err != nil {
		t.Fatalf("NewBoundedRandomWalkModel: %v", err)
	}
	// ~920 m from the east edge heading due east at 100 m/s for 20 s: 2 km of travel.
	start := startSample(model.GeoPosition{Lat: 34.05, Lon: -118.41}, 90, 100)
	next := m.Step(start, 20*time.Second)

	if !laBox.Contains(next.Position) {
		t.Fatalf("position %v outside box", next.Position)
	}
	if math.Abs(next.Course-270) > 1e-9 {
		t.Fatalf("course after east-edge reflection = %v, want 270", next.Course)
	}
	if next.Position.Lon >= -118.41 {
		t.Fatalf("expected entity to bounce back west of its start, got lon %v", next.Position.Lon)
	}
	if math.Abs(next.Position.Lat-34.05) > 1e-9 {
		t.Fatalf("latitude changed on an east-west leg: %v", next.Position.Lat)
	}
}

func TestBoundedRandomWalk_ReflectsOffNorthEdge(t *testing.T) {
	m, err := NewBoundedRandomWalkModel(RandomWalkParams{Bounds: laBox, MaxSpeed: 100})
	if err != nil {
		t.Fatalf("NewBoundedRandomWalkModel: %v", err)
	}
	start := startSample(model.GeoPosition{Lat: 34.099, Lon: -118.45}, 30, 50)
	next := m.Step(start, 60*time.Second)
	if !laBox.Contains(next.Position) {
		t.Fatalf("position %v outside box", next.Position)
	}
	if math.Abs(next.Course-150) > 1e-9 {
		t.Fatalf("course after north-edge reflection = %v, want 150", next.Course)
	}
}

func TestBoundedRandomWalk_Deterministic(t *testing.T) {
	run := func() []model.TelemetrySample {
		m, err := NewBoundedRandomWalkModel(DefaultRandomWalkParams(laBox, 20, 42))
		if err != nil {
			t.Fatalf("NewBoundedRandomWalkModel: %v", err)
		}
		s, err := m.Start(startSample(laBox.Midpoint(), 90, 10))
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		out := []model.TelemetrySample{s}
		for i := 0; i < 200; i++ {
			s = m.Step(s, 5*time.Second)
			out = append(out, s)
		}
		return out
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestBoundedRandomWalk_SeedsDiverge(t *testing.T) {
	step := func(seed uint64) model.TelemetrySample {
		m, err := NewBoundedRandomWalkModel(DefaultRandomWalkParams(laBox, 20, seed))
		if err != nil {
			t.Fatalf("NewBoundedRandomWalkModel: %v", err)
		}
		return m.Step(startSample(laBox.Midpoint(), 90, 10), 5*time.Second)
	}
	if step(1) == step(2) {
		t.Fatalf("different seeds produced identical steps")
	}
}

func TestBoundedRandomWalk_VerticalMotionStaysInBand(t *testing.T) {
	box := laBox
	box.Min.Alt, box.Max.Alt = 100, 200
	p := DefaultRandomWalkParams(box, 60, 7)
	p.MaxVerticalRate = 15
	m, err := NewBoundedRandomWalkModel(p)
	if err != nil {
		t.Fatalf("NewBoundedRandomWalkModel: %v", err)
	}
	pos := box.Midpoint()
	s, err := m.Start(startSample(pos, 0, 30))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	moved := false
	for i := 0; i < 300; i++ {
		s = m.Step(s, 10*time.Second)
		if s.Position.Alt < 100 || s.Position.Alt > 200 {
			t.Fatalf("step %d: altitude %v outside [100, 200]", i, s.Position.Alt)
		}
		if s.Position.Alt != pos.Alt {
			moved = true
		}
	}
	if !moved {
		t.Fatalf("altitude never changed with vertical motion enabled")
	}
}

func TestBoundedRandomWalk_ConstructionErrors(t *testing.T) {
	cases := []struct {
		name string
		p    RandomWalkParams
	}{
		{"zero area box", RandomWalkParams{Bounds: model.BoundingBox{Min: laBox.Min, Max: laBox.Min}, MaxSpeed: 10}},
		{"zero max speed", RandomWalkParams{Bounds: laBox}},
		{"negative heading delta", RandomWalkParams{Bounds: laBox, MaxSpeed: 10, MaxHeadingDelta: -1}},
		{"negative speed delta", RandomWalkParams{Bounds: laBox, MaxSpeed: 10, MaxSpeedDelta: -1}},
		{"vertical without band", RandomWalkParams{Bounds: laBox, MaxSpeed: 10, MaxVerticalRate: 1}},
	}
	for _, tc := range cases {
		_, err := NewBoundedRandomWalkModel(tc.p)
		var ce *ConstructionError
		if !errors.As(err, &ce) {
			t.Fatalf("%s: expected *ConstructionError, got %v", tc.name, err)
		}
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig in chain", tc.name)
		}
	}
}

func TestBoundedRandomWalk_StartRejectsOutsideBox(t *testing.T) {
	m, err := NewBoundedRandomWalkModel(DefaultRandomWalkParams(laBox, 20, 1))
	if err != nil {
		t.Fatalf("NewBoundedRandomWalkModel: %v", err)
	}
	cases := []model.TelemetrySample{
		startSample(model.GeoPosition{Lat: 34.2, Lon: -118.45}, 0, 5),
		startSample(laBox.Midpoint(), 360, 5),
		startSample(laBox.Midpoint(), 0, 25),
		startSample(laBox.Midpoint(), 0, -1),
	}
	for i, s := range cases {
		if _, err := m.Start(s); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("case %d: expected construction error, got %v", i, err)
		}
	}
}

func TestStaticModel_NoChange(t *testing.T) {
	m := &StaticModel{}
	s, err := m.Start(startSample(model.GeoPosition{Lat: 1, Lon: 2, Alt: 3}, 45, 12))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Speed != 0 {
		t.Fatalf("static model should force speed 0, got %v", s.Speed)
	}
	next := m.Step(s, time.Hour)
	if next.Position != s.Position {
		t.Fatalf("static motion should not change position, got %#v", next.Position)
	}
	if !next.Timestamp.Equal(s.Timestamp.Add(time.Hour)) {
		t.Fatalf("timestamp = %v, want %v", next.Timestamp, s.Timestamp.Add(time.Hour))
	}
}

// ISS sample TLE.
const (
	issTLE1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	issTLE2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"
)

// We don't assert exact orbital values (those belong to go-satellite); we
// check the ground track is plausible for the ISS and moves over time.
func TestOrbitalSGP4Model_GroundTrack(t *testing.T) {
	m, err := NewOrbitalModelFromTLE(issTLE1, issTLE2)
	if err != nil {
		t.Fatalf("NewOrbitalModelFromTLE: %v", err)
	}
	s, err := m.Start(model.TelemetrySample{
		EntityID:  "iss",
		Timestamp: time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 20; i++ {
		next := m.Step(s, time.Minute)
		if next.Position == s.Position {
			t.Fatalf("step %d: expected orbital position to change, got %+v twice", i, next.Position)
		}
		if err := next.Position.Validate(); err != nil {
			t.Fatalf("step %d: invalid position: %v", i, err)
		}
		if math.Abs(next.Position.Lat) > 52.5 {
			t.Fatalf("step %d: latitude %v beyond ISS inclination", i, next.Position.Lat)
		}
		if next.Position.Alt < 350e3 || next.Position.Alt > 480e3 {
			t.Fatalf("step %d: altitude %v m not in low earth orbit", i, next.Position.Alt)
		}
		if next.Speed < 7000 || next.Speed > 8000 {
			t.Fatalf("step %d: speed %v m/s not orbital", i, next.Speed)
		}
		if next.Course < 0 || next.Course >= 360 {
			t.Fatalf("step %d: course %v outside [0, 360)", i, next.Course)
		}
		s = next
	}
}

func TestOrbitalSGP4Model_SubSecondSteps(t *testing.T) {
	m, err := NewOrbitalModelFromTLE(issTLE1, issTLE2)
	if err != nil {
		t.Fatalf("NewOrbitalModelFromTLE: %v", err)
	}
	t0 := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	s, err := m.Start(model.TelemetrySample{EntityID: "iss", Timestamp: t0})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	whole := m.Step(s, time.Second)

	prev := s
	for i := 1; i <= 4; i++ {
		next := m.Step(prev, 250*time.Millisecond)
		if next.Position == prev.Position {
			t.Fatalf("step %d: position repeated at %v", i, next.Timestamp)
		}
		prev = next
	}
	// Four quarter-second steps land on the same whole second as one 1s step.
	if math.Abs(prev.Position.Lat-whole.Position.Lat) > 1e-9 || math.Abs(prev.Position.Lon-whole.Position.Lon) > 1e-9 {
		t.Fatalf("t0+1s via quarter steps = %+v, via one step = %+v", prev.Position, whole.Position)
	}

	// A half-second sample sits between its neighbours.
	half := m.Step(s, 500*time.Millisecond)
	lo, hi := math.Min(s.Position.Lat, whole.Position.Lat), math.Max(s.Position.Lat, whole.Position.Lat)
	if half.Position.Lat < lo-1e-4 || half.Position.Lat > hi+1e-4 {
		t.Fatalf("half-second latitude %v outside [%v, %v]", half.Position.Lat, lo, hi)
	}
}

func TestNewOrbitalModelFromTLE_RejectsMalformedLines(t *testing.T) {
	if _, err := NewOrbitalModelFromTLE("garbage", issTLE2); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected construction error for bad line 1, got %v", err)
	}
	if _, err := NewOrbitalModelFromTLE(issTLE1, issTLE1); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected construction error for bad line 2, got %v", err)
	}
}

func TestNewMovementModel_SelectsByKind(t *testing.T) {
	if m, err := NewMovementModel(ModelSpec{Kind: ModelStatic}); err != nil {
		t.Fatalf("static: %v", err)
	} else if _, ok := m.(*StaticModel); !ok {
		t.Fatalf("static kind built %T", m)
	}
	if m, err := NewMovementModel(ModelSpec{Kind: ModelRandomWalk, RandomWalk: DefaultRandomWalkParams(laBox, 10, 1)}); err != nil {
		t.Fatalf("random walk: %v", err)
	} else if _, ok := m.(*BoundedRandomWalkModel); !ok {
		t.Fatalf("random_walk kind built %T", m)
	}
	if _, err := NewMovementModel(ModelSpec{Kind: "teleport"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected construction error for unknown kind, got %v", err)
	}
}
