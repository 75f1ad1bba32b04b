// Package cot encodes telemetry samples as Cursor-on-Target 2.0 event XML and
// decodes/validates such events on the consuming side.
package cot

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/signalsfoundry/telemetry-generator/model"
	"github.com/signalsfoundry/telemetry-generator/protocol"
)

const (
	// Schema tags every message produced by Encoder.
	Schema      = "cot/2.0"
	ContentType = "application/xml"

	// Version is the CoT event schema version.
	Version = "2.0"
	// TimeLayout is ISO-8601 UTC with millisecond precision.
	TimeLayout = "2006-01-02T15:04:05.000Z"
	// UnknownError is the CoT sentinel for an unknown circular/linear error.
	UnknownError = 9999999.0
)

// Event is the wire form of a CoT event. Numeric attributes stay strings so the
// encoder controls their exact formatting.
type Event struct {
	XMLName xml.Name `xml:"event"`
	Version string   `xml:"version,attr"`
	UID     string   `xml:"uid,attr"`
	Type    string   `xml:"type,attr"`
	How     string   `xml:"how,attr"`
	Time    string   `xml:"time,attr"`
	Start   string   `xml:"start,attr"`
	Stale   string   `xml:"stale,attr"`
	Point   *Point   `xml:"point"`
	Detail  *Detail  `xml:"detail,omitempty"`
}

// Point carries the position and its error estimates.
type Point struct {
	Lat string `xml:"lat,attr"`
	Lon string `xml:"lon,attr"`
	HAE string `xml:"hae,attr"`
	CE  string `xml:"ce,attr"`
	LE  string `xml:"le,attr"`
}

type Detail struct {
	Track   *Track   `xml:"track,omitempty"`
	Contact *Contact `xml:"contact,omitempty"`
}

// Track carries course (degrees true) and speed (m/s).
type Track struct {
	Course string `xml:"course,attr"`
	Speed  string `xml:"speed,attr"`
}

type Contact struct {
	Callsign string `xml:"callsign,attr"`
}

// Config controls the encoder's fixed fields and number formatting.
type Config struct {
	// StaleAfter is the validity window; stale = time + StaleAfter.
	StaleAfter time.Duration `yaml:"stale_after"`
	// How describes the data source; "m-g" is machine generated.
	How string `yaml:"how"`
	// DefaultType is used for identities without a CoT type.
	DefaultType string  `yaml:"default_type"`
	CE          float64 `yaml:"ce"`
	LE          float64 `yaml:"le"`
	// Precision is the number of decimals for lat/lon.
	Precision  int  `yaml:"precision"`
	OmitDetail bool `yaml:"omit_detail"`
}

// DefaultConfig returns a 30s stale window, machine-generated how, unknown
// error estimates and four-decimal coordinates.
func DefaultConfig() Config {
	return Config{
		StaleAfter:  30 * time.Second,
		How:         "m-g",
		DefaultType: "a-f-G-U-C",
		CE:          UnknownError,
		LE:          UnknownError,
		Precision:   4,
	}
}

// Encoder produces CoT event documents.
type Encoder struct {
	cfg Config
}

var _ protocol.Encoder = (*Encoder)(nil)

// NewEncoder validates cfg.
func NewEncoder(cfg Config) (*Encoder, error) {
	if cfg.StaleAfter < time.Millisecond {
		return nil, fmt.Errorf("cot: stale_after must be at least 1ms, got %s", cfg.StaleAfter)
	}
	if !howPattern.MatchString(cfg.How) {
		return nil, fmt.Errorf("cot: invalid how %q", cfg.How)
	}
	if !typePattern.MatchString(cfg.DefaultType) {
		return nil, fmt.Errorf("cot: invalid default type %q", cfg.DefaultType)
	}
	if cfg.Precision < 0 || cfg.Precision > 9 {
		return nil, fmt.Errorf("cot: precision must be within [0, 9], got %d", cfg.Precision)
	}
	if cfg.CE < 0 || cfg.LE < 0 {
		return nil, fmt.Errorf("cot: ce/le must not be negative")
	}
	return &Encoder{cfg: cfg}, nil
}

func (e *Encoder) Schema() string { return Schema }

// Encode renders one event. Out-of-range samples yield a *protocol.EncodingError
// and no message.
func (e *Encoder) Encode(identity model.EntityIdentity, sample model.TelemetrySample) (protocol.EncodedMessage, error) {
	if err := protocol.CheckSample(Schema, identity, sample); err != nil {
		return protocol.EncodedMessage{}, err
	}
	cotType := identity.Type
	if cotType == "" {
		cotType = e.cfg.DefaultType
	}
	if !typePattern.MatchString(cotType) {
		return protocol.EncodedMessage{}, &protocol.EncodingError{
			Schema: Schema, EntityID: identity.ID, Field: "type", Reason: fmt.Sprintf("%q is not a CoT type", cotType),
		}
	}

	ts := sample.Timestamp.UTC()
	stale := ts.Add(e.cfg.StaleAfter)
	if !protocol.InYearRange(stale) {
		return protocol.EncodedMessage{}, &protocol.EncodingError{
			Schema: Schema, EntityID: identity.ID, Field: "stale", Reason: fmt.Sprintf("%s outside years 0000-9999", stale),
		}
	}
	if !protocol.XMLText(identity.Callsign) {
		return protocol.EncodedMessage{}, &protocol.EncodingError{
			Schema: Schema, EntityID: identity.ID, Field: "callsign", Reason: fmt.Sprintf("%q holds characters XML cannot carry", identity.Callsign),
		}
	}
	ev := Event{
		Version: Version,
		UID:     string(identity.ID),
		Type:    cotType,
		How:     e.cfg.How,
		Time:    ts.Format(TimeLayout),
		Start:   ts.Format(TimeLayout),
		Stale:   stale.Format(TimeLayout),
		Point: &Point{
			Lat: strconv.FormatFloat(sample.Position.Lat, 'f', e.cfg.Precision, 64),
			Lon: strconv.FormatFloat(sample.Position.Lon, 'f', e.cfg.Precision, 64),
			HAE: strconv.FormatFloat(sample.Position.Alt, 'f', 1, 64),
			CE:  strconv.FormatFloat(e.cfg.CE, 'f', 1, 64),
			LE:  strconv.FormatFloat(e.cfg.LE, 'f', 1, 64),
		},
	}
	if !e.cfg.OmitDetail {
		callsign := identity.Callsign
		if callsign == "" {
			callsign = string(identity.ID)
		}
		ev.Detail = &Detail{
			Track: &Track{
				Course: strconv.FormatFloat(sample.Course, 'f', 1, 64),
				Speed:  strconv.FormatFloat(sample.Speed, 'f', 2, 64),
			},
			Contact: &Contact{Callsign: callsign},
		}
	}

	body, err := xml.Marshal(ev)
	if err != nil {
		return protocol.EncodedMessage{}, fmt.Errorf("cot: marshal event: %w", err)
	}
	payload := make([]byte, 0, len(xml.Header)+len(body))
	payload = append(payload, xml.Header...)
	payload = append(payload, body...)

	return protocol.EncodedMessage{
		EntityID:    identity.ID,
		Timestamp:   ts,
		Schema:      Schema,
		ContentType: ContentType,
		Payload:     payload,
	}, nil
}
