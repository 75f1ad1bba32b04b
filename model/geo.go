package model

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidPosition indicates a latitude, longitude or altitude outside its range.
	ErrInvalidPosition = errors.New("invalid position")
	// ErrInvalidBoundingBox indicates an inverted or zero-area bounding box.
	ErrInvalidBoundingBox = errors.New("invalid bounding box")
)

// GeoPosition is a WGS 84 position. Lat and Lon are decimal degrees, Alt is
// metres above the ellipsoid.
type GeoPosition struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
	Alt float64 `yaml:"alt"`
}

// Validate checks the latitude/longitude ranges and that all components are finite.
func (p GeoPosition) Validate() error {
	if !finite(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v outside [-90, 90]", ErrInvalidPosition, p.Lat)
	}
	if !finite(p.Lon) || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude %v outside [-180, 180]", ErrInvalidPosition, p.Lon)
	}
	if !finite(p.Alt) {
		return fmt.Errorf("%w: altitude %v is not finite", ErrInvalidPosition, p.Alt)
	}
	return nil
}

// String renders the position for log output.
func (p GeoPosition) String() string {
	return fmt.Sprintf("(%.6f, %.6f, %.1fm)", p.Lat, p.Lon, p.Alt)
}

// BoundingBox is the operating area of a bounded model. Min holds the
// south-west corner and Max the north-east corner.
type BoundingBox struct {
	Min GeoPosition `yaml:"min"`
	Max GeoPosition `yaml:"max"`
}

// Validate checks both corners and rejects inverted or zero-area boxes.
// Boxes crossing the antimeridian are not supported.
func (b BoundingBox) Validate() error {
	if err := b.Min.Validate(); err != nil {
		return fmt.Errorf("%w: min corner: %v", ErrInvalidBoundingBox, err)
	}
	if err := b.Max.Validate(); err != nil {
		return fmt.Errorf("%w: max corner: %v", ErrInvalidBoundingBox, err)
	}
	if b.Min.Lat >= b.Max.Lat {
		return fmt.Errorf("%w: min latitude %v must be below max latitude %v", ErrInvalidBoundingBox, b.Min.Lat, b.Max.Lat)
	}
	if b.Min.Lon >= b.Max.Lon {
		return fmt.Errorf("%w: min longitude %v must be below max longitude %v", ErrInvalidBoundingBox, b.Min.Lon, b.Max.Lon)
	}
	return nil
}

// Contains reports whether p lies inside the box, edges included. Altitude is
// not considered.
func (b BoundingBox) Contains(p GeoPosition) bool {
	return p.Lat >= b.Min.Lat && p.Lat <= b.Max.Lat &&
		p.Lon >= b.Min.Lon && p.Lon <= b.Max.Lon
}

// ContainsAlt reports whether alt lies within the box's altitude band.
func (b BoundingBox) ContainsAlt(alt float64) bool {
	return alt >= b.Min.Alt && alt <= b.Max.Alt
}

// Midpoint returns the centre of the box.
func (b BoundingBox) Midpoint() GeoPosition {
	return GeoPosition{
		Lat: (b.Min.Lat + b.Max.Lat) / 2,
		Lon: (b.Min.Lon + b.Max.Lon) / 2,
		Alt: (b.Min.Alt + b.Max.Alt) / 2,
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
