package core

import (
	"math"

	"github.com/signalsfoundry/telemetry-generator/model"
)

// Every model converts between metres and degrees with the same local
// flat-earth projection: displacement is split into north/east components and
// scaled by the metres-per-degree series evaluated at the current latitude.

// MetersPerDegLat returns the length of one degree of latitude at lat (degrees).
//
//	111132.92 - 559.82 cos 2φ + 1.175 cos 4φ - 0.0023 cos 6φ
func MetersPerDegLat(lat float64) float64 {
	phi := lat * math.Pi / 180
	return 111132.92 - 559.82*math.Cos(2*phi) + 1.175*math.Cos(4*phi) - 0.0023*math.Cos(6*phi)
}

// MetersPerDegLon returns the length of one degree of longitude at lat (degrees).
//
//	111412.84 cos φ - 93.5 cos 3φ + 0.118 cos 5φ
func MetersPerDegLon(lat float64) float64 {
	phi := lat * math.Pi / 180
	return 111412.84*math.Cos(phi) - 93.5*math.Cos(3*phi) + 0.118*math.Cos(5*phi)
}

// minMetersPerDegLon keeps the longitude conversion finite near the poles.
const minMetersPerDegLon = 1.0

// Offset moves p by dist metres along course (degrees clockwise from north).
// Altitude is carried over unchanged. The result is not range-checked.
func Offset(p model.GeoPosition, course, dist float64) model.GeoPosition {
	rad := course * math.Pi / 180
	north := dist * math.Cos(rad)
	east := dist * math.Sin(rad)
	return model.GeoPosition{
		Lat: p.Lat + north/MetersPerDegLat(p.Lat),
		Lon: p.Lon + east/math.Max(MetersPerDegLon(p.Lat), minMetersPerDegLon),
		Alt: p.Alt,
	}
}

// ApproxDimensions returns the approximate east-west width and north-south
// height of the box in metres, using the midpoint latitude for both series.
func ApproxDimensions(b model.BoundingBox) (width, height float64) {
	mid := b.Midpoint()
	width = math.Abs(MetersPerDegLon(mid.Lat) * (b.Max.Lon - b.Min.Lon))
	height = math.Abs(MetersPerDegLat(mid.Lat) * (b.Max.Lat - b.Min.Lat))
	return width, height
}

// NormalizeCourse maps any angle in degrees onto [0, 360).
func NormalizeCourse(deg float64) float64 {
	c := math.Mod(deg, 360)
	if c < 0 {
		c += 360
	}
	if c >= 360 {
		// -tiny + 360 rounds up to 360.
		c = 0
	}
	return c
}

// ReflectNorthSouth mirrors a course about an east-west edge.
func ReflectNorthSouth(course float64) float64 {
	return NormalizeCourse(180 - course)
}

// ReflectEastWest mirrors a course about a north-south edge.
func ReflectEastWest(course float64) float64 {
	return NormalizeCourse(360 - course)
}

// fold reflects x back into [lo, hi] as if the interval edges were mirrors,
// handling overshoots of any size. flipped reports whether an odd number of
// reflections occurred, i.e. whether the direction of travel along this axis
// is reversed. The result is clamped to absorb floating-point residue.
func fold(x, lo, hi float64) (folded float64, flipped bool) {
	if x >= lo && x <= hi {
		return x, false
	}
	w := hi - lo
	t := (x - lo) / w
	n := math.Floor(t)
	frac := t - n
	if math.Mod(math.Abs(n), 2) == 0 {
		folded = lo + frac*w
	} else {
		folded = hi - frac*w
		flipped = true
	}
	return math.Min(math.Max(folded, lo), hi), flipped
}

// InitialBearing returns the great-circle initial bearing from a to b in
// degrees clockwise from north.
func InitialBearing(a, b model.GeoPosition) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	dLambda := (b.Lon - a.Lon) * math.Pi / 180
	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	return NormalizeCourse(math.Atan2(y, x) * 180 / math.Pi)
}
