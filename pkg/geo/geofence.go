// Package geo classifies hits against a circular geofence around the base
// station.
package geo

import (
	"math"

	"github.com/heitortanoue/irhit/pkg/gps"
)

// EarthRadiusMeters matches the radius used by common GPS libraries for
// great-circle distances.
const EarthRadiusMeters = 6372795.0

// Default reference point and radius.
const (
	DefaultReferenceLat    = -7.966667
	DefaultReferenceLon    = 112.633333
	DefaultThresholdMeters = 50.0
)

// Point is a WGS-84 position in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether p is a finite coordinate on the globe.
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Status is the outcome of a geofence check. The zero value is
// Unverifiable.
type Status uint8

const (
	Unverifiable Status = iota
	InRange
	OutOfRange
)

func (s Status) String() string {
	switch s {
	case InRange:
		return "IN_RANGE"
	case OutOfRange:
		return "OUT_OF_RANGE"
	default:
		return "UNVERIFIABLE"
	}
}

// Verdict carries the distance only when Status is not Unverifiable.
type Verdict struct {
	Status         Status  `json:"status"`
	DistanceMeters float64 `json:"distance_meters"`
}

// Known reports whether a distance was computed.
func (v Verdict) Known() bool {
	return v.Status != Unverifiable
}

// Validator checks fixes against a reference point.
type Validator struct {
	Reference       Point
	ThresholdMeters float64
}

func NewValidator(reference Point, thresholdMeters float64) Validator {
	return Validator{Reference: reference, ThresholdMeters: thresholdMeters}
}

// Validate classifies fix. An invalid fix is Unverifiable, never out of
// range.
func (v Validator) Validate(fix gps.Fix) Verdict {
	pos := Point{Lat: fix.Latitude, Lon: fix.Longitude}
	if !fix.Valid || !pos.Valid() {
		return Verdict{Status: Unverifiable}
	}

	distance := Distance(pos, v.Reference)
	if distance <= v.ThresholdMeters {
		return Verdict{Status: InRange, DistanceMeters: distance}
	}
	return Verdict{Status: OutOfRange, DistanceMeters: distance}
}
