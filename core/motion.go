package core

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/telemetry-generator/model"
)

// MovementModel advances an entity's kinematic state.
type MovementModel interface {
	// Start validates an initial state for this model and returns the first
	// sample. Failures are *ConstructionError values.
	Start(initial model.TelemetrySample) (model.TelemetrySample, error)
	// Step returns the sample dt after prior. dt is positive.
	Step(prior model.TelemetrySample, dt time.Duration) model.TelemetrySample
}

// ModelKind selects a MovementModel implementation.
type ModelKind string

const (
	ModelRandomWalk ModelKind = "random_walk"
	ModelStatic     ModelKind = "static"
	ModelOrbital    ModelKind = "orbital"
)

// ModelSpec is the explicit configuration a MovementModel is built from.
type ModelSpec struct {
	Kind       ModelKind
	RandomWalk RandomWalkParams
	TLE1, TLE2 string
}

// NewMovementModel builds the model named by spec.Kind.
func NewMovementModel(spec ModelSpec) (MovementModel, error) {
	switch spec.Kind {
	case ModelRandomWalk, "":
		return NewBoundedRandomWalkModel(spec.RandomWalk)
	case ModelStatic:
		return &StaticModel{}, nil
	case ModelOrbital:
		return NewOrbitalModelFromTLE(spec.TLE1, spec.TLE2)
	default:
		return nil, constructionErr("model.kind", fmt.Sprintf("unknown model %q", spec.Kind), nil)
	}
}

// RandomWalkParams configures a BoundedRandomWalkModel. Zero deltas disable
// the corresponding perturbation.
type RandomWalkParams struct {
	Bounds model.BoundingBox
	// MaxSpeed caps the speed in m/s.
	MaxSpeed float64
	// MaxHeadingDelta bounds the per-step course change in degrees.
	MaxHeadingDelta float64
	// MaxSpeedDelta bounds the per-step speed change in m/s.
	MaxSpeedDelta float64
	// MaxVerticalRate bounds the climb/descent rate in m/s. When positive the
	// altitude walks inside [Bounds.Min.Alt, Bounds.Max.Alt].
	MaxVerticalRate float64
	Seed            uint64
}

// DefaultRandomWalkParams returns params with a ±5° turn per step and speed
// jitter of a tenth of maxSpeed.
func DefaultRandomWalkParams(bounds model.BoundingBox, maxSpeed float64, seed uint64) RandomWalkParams {
	return RandomWalkParams{
		Bounds:          bounds,
		MaxSpeed:        maxSpeed,
		MaxHeadingDelta: 5,
		MaxSpeedDelta:   maxSpeed / 10,
		Seed:            seed,
	}
}

// BoundedRandomWalkModel perturbs course and speed by bounded uniform draws
// each step and keeps the entity inside its bounding box.
//
// Boundary policy is reflection: an axis that leaves the box is folded back
// across the violated edge and the course is mirrored about that edge, so the
// entity bounces off the walls with angle of incidence equal to angle of
// reflection.
type BoundedRandomWalkModel struct {
	p   RandomWalkParams
	rng *rand.Rand
}

// NewBoundedRandomWalkModel validates p and seeds the model's private RNG.
func NewBoundedRandomWalkModel(p RandomWalkParams) (*BoundedRandomWalkModel, error) {
	if err := p.Bounds.Validate(); err != nil {
		return nil, constructionErr("bounds", "bounding box rejected", err)
	}
	if !(p.MaxSpeed > 0) || math.IsInf(p.MaxSpeed, 0) {
		return nil, constructionErr("max_speed", fmt.Sprintf("must be positive and finite, got %v", p.MaxSpeed), nil)
	}
	if p.MaxHeadingDelta < 0 || p.MaxHeadingDelta > 180 {
		return nil, constructionErr("max_heading_delta", fmt.Sprintf("must be within [0, 180], got %v", p.MaxHeadingDelta), nil)
	}
	if p.MaxSpeedDelta < 0 || math.IsInf(p.MaxSpeedDelta, 0) || math.IsNaN(p.MaxSpeedDelta) {
		return nil, constructionErr("max_speed_delta", fmt.Sprintf("must be non-negative, got %v", p.MaxSpeedDelta), nil)
	}
	if p.MaxVerticalRate < 0 || math.IsInf(p.MaxVerticalRate, 0) || math.IsNaN(p.MaxVerticalRate) {
		return nil, constructionErr("max_vertical_rate", fmt.Sprintf("must be non-negative, got %v", p.MaxVerticalRate), nil)
	}
	if p.MaxVerticalRate > 0 && !(p.Bounds.Min.Alt < p.Bounds.Max.Alt) {
		return nil, constructionErr("bounds", "vertical motion needs min altitude below max altitude", nil)
	}
	return &BoundedRandomWalkModel{
		p:   p,
		rng: rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Bounds returns the operating area.
func (m *BoundedRandomWalkModel) Bounds() model.BoundingBox { return m.p.Bounds }

// Start checks that initial lies in the box with a legal course and speed.
func (m *BoundedRandomWalkModel) Start(initial model.TelemetrySample) (model.TelemetrySample, error) {
	if err := initial.Position.Validate(); err != nil {
		return model.TelemetrySample{}, constructionErr("initial.position", "invalid position", err)
	}
	if !m.p.Bounds.Contains(initial.Position) {
		return model.TelemetrySample{}, constructionErr("initial.position",
			fmt.Sprintf("%v outside bounding box", initial.Position), nil)
	}
	if m.p.MaxVerticalRate > 0 && !m.p.Bounds.ContainsAlt(initial.Position.Alt) {
		return model.TelemetrySample{}, constructionErr("initial.position",
			fmt.Sprintf("altitude %v outside [%v, %v]", initial.Position.Alt, m.p.Bounds.Min.Alt, m.p.Bounds.Max.Alt), nil)
	}
	if !(initial.Course >= 0 && initial.Course < 360) {
		return model.TelemetrySample{}, constructionErr("initial.course", fmt.Sprintf("must be within [0, 360), got %v", initial.Course), nil)
	}
	if !(initial.Speed >= 0 && initial.Speed <= m.p.MaxSpeed) {
		return model.TelemetrySample{}, constructionErr("initial.speed",
			fmt.Sprintf("must be within [0, %v], got %v", m.p.MaxSpeed, initial.Speed), nil)
	}
	return initial, nil
}

// Step draws the course perturbation, then the speed perturbation, then (when
// enabled) the vertical rate. The draw order is fixed so a seed always
// reproduces the same trajectory.
func (m *BoundedRandomWalkModel) Step(prior model.TelemetrySample, dt time.Duration) model.TelemetrySample {
	secs := dt.Seconds()
	box := m.p.Bounds

	course := NormalizeCourse(prior.Course + m.perturb(m.p.MaxHeadingDelta))
	speed := math.Min(math.Max(prior.Speed+m.perturb(m.p.MaxSpeedDelta), 0), m.p.MaxSpeed)

	candidate := Offset(prior.Position, course, speed*secs)
	lat, flipNS := fold(candidate.Lat, box.Min.Lat, box.Max.Lat)
	lon, flipEW := fold(candidate.Lon, box.Min.Lon, box.Max.Lon)
	if flipNS {
		course = ReflectNorthSouth(course)
	}
	if flipEW {
		course = ReflectEastWest(course)
	}

	alt := prior.Position.Alt
	if m.p.MaxVerticalRate > 0 {
		alt, _ = fold(alt+m.perturb(m.p.MaxVerticalRate)*secs, box.Min.Alt, box.Max.Alt)
	}

	return model.TelemetrySample{
		EntityID:  prior.EntityID,
		Timestamp: prior.Timestamp.Add(dt),
		Position:  model.GeoPosition{Lat: lat, Lon: lon, Alt: alt},
		Course:    course,
		Speed:     speed,
	}
}

// perturb returns a uniform draw in [-bound, +bound).
func (m *BoundedRandomWalkModel) perturb(bound float64) float64 {
	return (m.rng.Float64()*2 - 1) * bound
}

// StaticModel leaves the entity where it starts, e.g. a personnel marker.
type StaticModel struct{}

// Start accepts any valid position and forces the speed to zero.
func (m *StaticModel) Start(initial model.TelemetrySample) (model.TelemetrySample, error) {
	if err := initial.Position.Validate(); err != nil {
		return model.TelemetrySample{}, constructionErr("initial.position", "invalid position", err)
	}
	initial.Course = NormalizeCourse(initial.Course)
	initial.Speed = 0
	return initial, nil
}

// Step only advances the timestamp.
func (m *StaticModel) Step(prior model.TelemetrySample, dt time.Duration) model.TelemetrySample {
	next := prior
	next.Timestamp = prior.Timestamp.Add(dt)
	return next
}

// OrbitalSGP4Model follows the sub-satellite point of a TLE propagated with SGP4.
type OrbitalSGP4Model struct {
	sat satellite.Satellite
}

// NewOrbitalModelFromTLE constructs an orbital model from TLE lines.
func NewOrbitalModelFromTLE(line1, line2 string) (m *OrbitalSGP4Model, err error) {
	line1, line2 = strings.TrimSpace(line1), strings.TrimSpace(line2)
	if len(line1) < 69 || !strings.HasPrefix(line1, "1 ") {
		return nil, constructionErr("tle1", "expected a 69 column line starting with \"1 \"", nil)
	}
	if len(line2) < 69 || !strings.HasPrefix(line2, "2 ") {
		return nil, constructionErr("tle2", "expected a 69 column line starting with \"2 \"", nil)
	}
	// go-satellite panics on unparsable fields.
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, constructionErr("tle", fmt.Sprintf("parse failed: %v", r), nil)
		}
	}()
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return &OrbitalSGP4Model{sat: sat}, nil
}

// Start replaces the initial position with the propagated one at the initial timestamp.
func (m *OrbitalSGP4Model) Start(initial model.TelemetrySample) (model.TelemetrySample, error) {
	if initial.Timestamp.IsZero() {
		return model.TelemetrySample{}, constructionErr("start", "orbital propagation needs a start time", nil)
	}
	pos, speed := m.positionAt(initial.Timestamp)
	ahead, _ := m.positionAt(initial.Timestamp.Add(time.Second))
	initial.Position = pos
	initial.Speed = speed
	initial.Course = InitialBearing(pos, ahead)
	return initial, nil
}

// Step propagates to prior.Timestamp + dt. Course is the bearing from the
// prior position and speed is the orbital velocity.
func (m *OrbitalSGP4Model) Step(prior model.TelemetrySample, dt time.Duration) model.TelemetrySample {
	ts := prior.Timestamp.Add(dt)
	pos, speed := m.positionAt(ts)
	course := prior.Course
	if pos.Lat != prior.Position.Lat || pos.Lon != prior.Position.Lon {
		course = InitialBearing(prior.Position, pos)
	}
	return model.TelemetrySample{
		EntityID:  prior.EntityID,
		Timestamp: ts,
		Position:  pos,
		Course:    course,
		Speed:     speed,
	}
}

// positionAt returns the geodetic sub-satellite point and the orbital speed in m/s.
// go-satellite works in kilometres; samples carry metres. Its propagator takes
// whole seconds, so sub-second instants interpolate linearly between the
// bracketing seconds and advance GMST by the Earth's rotation rate.
func (m *OrbitalSGP4Model) positionAt(ts time.Time) (model.GeoPosition, float64) {
	ts = ts.UTC()
	whole := ts.Truncate(time.Second)
	frac := ts.Sub(whole).Seconds()

	posECI, velECI := m.propagate(whole)
	gmst := gmstAt(whole)
	if frac > 0 {
		nextPos, nextVel := m.propagate(whole.Add(time.Second))
		posECI = lerpVector(posECI, nextPos, frac)
		velECI = lerpVector(velECI, nextVel, frac)
		gmst = math.Mod(gmst+frac*earthRotationRate, 2*math.Pi)
	}
	altKm, _, ll := satellite.ECIToLLA(posECI, gmst)

	const kmToM = 1000.0
	lat := ll.Latitude * 180 / math.Pi
	lon := NormalizeCourse(ll.Longitude*180/math.Pi+180) - 180
	speed := math.Sqrt(velECI.X*velECI.X+velECI.Y*velECI.Y+velECI.Z*velECI.Z) * kmToM

	return model.GeoPosition{
		Lat: math.Min(math.Max(lat, -90), 90),
		Lon: lon,
		Alt: altKm * kmToM,
	}, speed
}

// earthRotationRate is the sidereal rotation rate in rad/s.
const earthRotationRate = 7.292115146706979e-5

func (m *OrbitalSGP4Model) propagate(ts time.Time) (satellite.Vector3, satellite.Vector3) {
	year, month, day := ts.Date()
	hour, min, sec := ts.Clock()
	return satellite.Propagate(m.sat, year, int(month), day, hour, min, sec)
}

func gmstAt(ts time.Time) float64 {
	year, month, day := ts.Date()
	hour, min, sec := ts.Clock()
	return satellite.GSTimeFromDate(year, int(month), day, hour, min, sec)
}

func lerpVector(a, b satellite.Vector3, f float64) satellite.Vector3 {
	return satellite.Vector3{
		X: a.X + (b.X-a.X)*f,
		Y: a.Y + (b.Y-a.Y)*f,
		Z: a.Z + (b.Z-a.Z)*f,
	}
}
