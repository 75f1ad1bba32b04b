// Package protocol defines the encoder capability shared by every wire format
// and the defensive sample checks each encoder applies before serialising.
package protocol

import (
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/signalsfoundry/telemetry-generator/model"
)

// Encoder serialises one entity sample into a wire message. Implementations
// reject out-of-range samples with an *EncodingError and never emit a partial
// message.
type Encoder interface {
	Encode(identity model.EntityIdentity, sample model.TelemetrySample) (EncodedMessage, error)
	// Schema is the tag carried by every message the encoder produces.
	Schema() string
}

// EncodedMessage is an opaque payload tagged with its schema. The core hands it
// to a sink immediately and keeps no reference.
type EncodedMessage struct {
	EntityID    model.EntityID
	Timestamp   time.Time
	Schema      string
	ContentType string
	Payload     []byte
}

// ErrInvalidSample is wrapped by every EncodingError.
var ErrInvalidSample = errors.New("invalid sample")

// EncodingError reports a sample that cannot be represented in the target schema.
type EncodingError struct {
	Schema   string
	EntityID model.EntityID
	Field    string
	Reason   string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s for %q: %s %s", e.Schema, e.EntityID, e.Field, e.Reason)
}

func (e *EncodingError) Unwrap() error { return ErrInvalidSample }

// CheckSample applies the range checks shared by all encoders.
func CheckSample(schema string, identity model.EntityIdentity, s model.TelemetrySample) error {
	fail := func(field, reason string) error {
		return &EncodingError{Schema: schema, EntityID: identity.ID, Field: field, Reason: reason}
	}
	if identity.ID == "" {
		return fail("uid", "is empty")
	}
	if !XMLText(string(identity.ID)) {
		return fail("uid", fmt.Sprintf("%q holds characters XML cannot carry", identity.ID))
	}
	if s.Timestamp.IsZero() {
		return fail("time", "is zero")
	}
	if !InYearRange(s.Timestamp) {
		return fail("time", fmt.Sprintf("%s outside years 0000-9999", s.Timestamp.UTC()))
	}
	if err := s.Position.Validate(); err != nil {
		return fail("point", err.Error())
	}
	if math.IsNaN(s.Course) || s.Course < 0 || s.Course >= 360 {
		return fail("course", fmt.Sprintf("%v outside [0, 360)", s.Course))
	}
	if math.IsNaN(s.Speed) || math.IsInf(s.Speed, 0) || s.Speed < 0 {
		return fail("speed", fmt.Sprintf("%v is not a non-negative finite value", s.Speed))
	}
	return nil
}

// InYearRange reports whether ts falls within years 0000-9999 UTC, the range a
// four-digit ISO-8601 year can represent.
func InYearRange(ts time.Time) bool {
	y := ts.UTC().Year()
	return y >= 0 && y <= 9999
}

// XMLText reports whether s is valid UTF-8 made only of XML 1.0 Char runes.
func XMLText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
		case r >= 0x20 && r <= 0xD7FF:
		case r >= 0xE000 && r <= 0xFFFD:
		case r >= 0x10000 && r <= 0x10FFFF:
		default:
			return false
		}
	}
	return true
}
