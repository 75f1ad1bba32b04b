package protocol

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/telemetry-generator/model"
)

func TestCheckSample(t *testing.T) {
	id := model.EntityIdentity{ID: "alpha"}
	good := model.TelemetrySample{
		EntityID:  "alpha",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Position:  model.GeoPosition{Lat: 10, Lon: 20},
		Course:    359.9,
		Speed:     3,
	}
	if err := CheckSample("test", id, good); err != nil {
		t.Fatalf("CheckSample(good) = %v", err)
	}

	cases := map[string]struct {
		id     model.EntityIdentity
		mutate func(*model.TelemetrySample)
		field  string
	}{
		"empty uid":      {model.EntityIdentity{}, func(*model.TelemetrySample) {}, "uid"},
		"zero time":      {id, func(s *model.TelemetrySample) { s.Timestamp = time.Time{} }, "time"},
		"year 10000":     {id, func(s *model.TelemetrySample) { s.Timestamp = time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC) }, "time"},
		"negative year":  {id, func(s *model.TelemetrySample) { s.Timestamp = time.Date(-1, 12, 31, 0, 0, 0, 0, time.UTC) }, "time"},
		"control in uid": {model.EntityIdentity{ID: "unit\x01a"}, func(*model.TelemetrySample) {}, "uid"},
		"invalid utf8":   {model.EntityIdentity{ID: "unit\xff"}, func(*model.TelemetrySample) {}, "uid"},
		"latitude":       {id, func(s *model.TelemetrySample) { s.Position.Lat = 91 }, "point"},
		"longitude":      {id, func(s *model.TelemetrySample) { s.Position.Lon = -181 }, "point"},
		"course 360":     {id, func(s *model.TelemetrySample) { s.Course = 360 }, "course"},
		"negative speed": {id, func(s *model.TelemetrySample) { s.Speed = -0.1 }, "speed"},
		"nan speed":      {id, func(s *model.TelemetrySample) { s.Speed = math.NaN() }, "speed"},
	}
	for name, tc := range cases {
		s := good
		tc.mutate(&s)
		err := CheckSample("test", tc.id, s)
		var ee *EncodingError
		if !errors.As(err, &ee) {
			t.Fatalf("%s: expected *EncodingError, got %v", name, err)
		}
		if ee.Field != tc.field {
			t.Fatalf("%s: Field = %q, want %q", name, ee.Field, tc.field)
		}
		if !errors.Is(err, ErrInvalidSample) {
			t.Fatalf("%s: expected ErrInvalidSample in chain", name)
		}
	}
}

func TestXMLText(t *testing.T) {
	for _, ok := range []string{"", "alpha-1", "tab\there", "ünït", "\U0001F680"} {
		if !XMLText(ok) {
			t.Fatalf("XMLText(%q) = false", ok)
		}
	}
	for _, bad := range []string{"\x00", "a\x1fb", "\xff", "\uFFFE"} {
		if XMLText(bad) {
			t.Fatalf("XMLText(%q) = true", bad)
		}
	}
}

func TestInYearRange(t *testing.T) {
	if !InYearRange(time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)) || !InYearRange(time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("boundary years rejected")
	}
	if InYearRange(time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("year 10000 accepted")
	}
}
