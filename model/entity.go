package model

import (
	"time"

	"github.com/google/uuid"
)

// EntityID identifies a simulated entity for its whole lifetime.
type EntityID string

// NewEntityID mints a random identifier for entities configured without one.
func NewEntityID() EntityID {
	return EntityID(uuid.New().String())
}

// EntityIdentity is the metadata an encoder needs besides the kinematic state.
type EntityIdentity struct {
	ID       EntityID
	Callsign string
	// Type is the CoT type code, e.g. "a-f-G-U-C" for a friendly ground unit.
	Type string
}

// TelemetrySample is a timestamped kinematic snapshot of one entity.
// Course is degrees clockwise from true north in [0, 360); Speed is m/s.
type TelemetrySample struct {
	EntityID  EntityID
	Timestamp time.Time
	Position  GeoPosition
	Course    float64
	Speed     float64
}
