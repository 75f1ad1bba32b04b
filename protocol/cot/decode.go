package cot

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/signalsfoundry/telemetry-generator/model"
)

// ErrSchema is wrapped by every validation failure.
var ErrSchema = errors.New("cot schema violation")

var (
	typePattern = regexp.MustCompile(`^[a-zA-Z](-[a-zA-Z0-9_.]+)*$`)
	howPattern  = regexp.MustCompile(`^[a-z](-[a-z]+)*$`)
)

// Decode parses a CoT event document.
func Decode(data []byte) (*Event, error) {
	var ev Event
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return &ev, nil
}

// Validate decodes data and checks it against the CoT event schema: required
// attributes present and well typed, coordinates in range, and the validity
// window ordered start <= time < stale. All violations are reported together.
func Validate(data []byte) error {
	ev, err := Decode(data)
	if err != nil {
		return err
	}
	return ev.Validate()
}

// Validate checks an already decoded event.
func (ev *Event) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrSchema, fmt.Sprintf(format, args...)))
	}

	if ev.Version != Version {
		fail("version %q, want %q", ev.Version, Version)
	}
	if ev.UID == "" {
		fail("uid is required")
	}
	if !typePattern.MatchString(ev.Type) {
		fail("type %q is not a CoT type", ev.Type)
	}
	if !howPattern.MatchString(ev.How) {
		fail("how %q is not a CoT how", ev.How)
	}

	times := map[string]time.Time{}
	for _, attr := range []struct{ name, value string }{
		{"time", ev.Time}, {"start", ev.Start}, {"stale", ev.Stale},
	} {
		ts, err := time.Parse(time.RFC3339Nano, attr.value)
		if err != nil {
			fail("%s %q is not an ISO-8601 timestamp", attr.name, attr.value)
			continue
		}
		times[attr.name] = ts
	}
	if len(times) == 3 {
		if times["start"].After(times["time"]) {
			fail("start %s is after time %s", ev.Start, ev.Time)
		}
		if !times["stale"].After(times["time"]) {
			fail("stale %s must be after time %s", ev.Stale, ev.Time)
		}
	}

	if ev.Point == nil {
		fail("point element is required")
	} else {
		checkRange := func(name, value string, lo, hi float64) {
			v, err := strconv.ParseFloat(value, 64)
			if err != nil || math.IsNaN(v) || v < lo || v > hi {
				fail("point %s %q outside [%v, %v]", name, value, lo, hi)
			}
		}
		checkRange("lat", ev.Point.Lat, -90, 90)
		checkRange("lon", ev.Point.Lon, -180, 180)
		checkRange("hae", ev.Point.HAE, -math.MaxFloat64, math.MaxFloat64)
		checkRange("ce", ev.Point.CE, 0, math.MaxFloat64)
		checkRange("le", ev.Point.LE, 0, math.MaxFloat64)
	}

	if ev.Detail != nil && ev.Detail.Track != nil {
		if v, err := strconv.ParseFloat(ev.Detail.Track.Course, 64); err != nil || v < 0 || v > 360 {
			fail("track course %q outside [0, 360]", ev.Detail.Track.Course)
		}
		if v, err := strconv.ParseFloat(ev.Detail.Track.Speed, 64); err != nil || v < 0 || math.IsInf(v, 0) {
			fail("track speed %q must be a non-negative number", ev.Detail.Track.Speed)
		}
	}

	return errors.Join(errs...)
}

// DecodeSample validates data and recovers the identity and sample it was
// encoded from, to the schema's precision. Course and speed are zero when the
// event carries no track detail.
func DecodeSample(data []byte) (model.EntityIdentity, model.TelemetrySample, error) {
	ev, err := Decode(data)
	if err != nil {
		return model.EntityIdentity{}, model.TelemetrySample{}, err
	}
	if err := ev.Validate(); err != nil {
		return model.EntityIdentity{}, model.TelemetrySample{}, err
	}

	// Validate guarantees these parse.
	ts, _ := time.Parse(time.RFC3339Nano, ev.Time)
	lat, _ := strconv.ParseFloat(ev.Point.Lat, 64)
	lon, _ := strconv.ParseFloat(ev.Point.Lon, 64)
	hae, _ := strconv.ParseFloat(ev.Point.HAE, 64)

	identity := model.EntityIdentity{ID: model.EntityID(ev.UID), Type: ev.Type}
	sample := model.TelemetrySample{
		EntityID:  identity.ID,
		Timestamp: ts.UTC(),
		Position:  model.GeoPosition{Lat: lat, Lon: lon, Alt: hae},
	}
	if ev.Detail != nil {
		if ev.Detail.Contact != nil {
			identity.Callsign = ev.Detail.Contact.Callsign
		}
		if ev.Detail.Track != nil {
			course, _ := strconv.ParseFloat(ev.Detail.Track.Course, 64)
			speed, _ := strconv.ParseFloat(ev.Detail.Track.Speed, 64)
			sample.Course = math.Mod(course, 360)
			sample.Speed = speed
		}
	}
	return identity, sample, nil
}
