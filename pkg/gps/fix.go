// Package gps provides position fixes from a satellite receiver.
package gps

import (
	"sync"
	"time"
)

// Fix is the latest position and time reported by the receiver. Fixes with
// Valid unset must not be used for hit validation.
type Fix struct {
	Valid          bool      `json:"valid"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AltitudeMeters float64   `json:"altitude_meters"`
	Satellites     int       `json:"satellites"`
	Hour           int       `json:"hour"`
	Minute         int       `json:"minute"`
	Second         int       `json:"second"`
	UTC            time.Time `json:"utc"`
}

// Source is anything that can report the current fix.
type Source interface {
	Read() Fix
}

// StaticSource reports a fixed position, stamped with the wall clock. It
// stands in for a receiver when the node runs on a host.
type StaticSource struct {
	mu  sync.RWMutex
	fix Fix
	now func() time.Time
}

// NewStaticSource returns a source that is valid from the start.
func NewStaticSource(lat, lon, alt float64, satellites int) *StaticSource {
	return &StaticSource{
		fix: Fix{
			Valid:          true,
			Latitude:       lat,
			Longitude:      lon,
			AltitudeMeters: alt,
			Satellites:     satellites,
		},
		now: time.Now,
	}
}

// Set replaces the reported fix. Time fields are ignored.
func (s *StaticSource) Set(fix Fix) {
	s.mu.Lock()
	s.fix = fix
	s.mu.Unlock()
}

// SetPosition moves the source and marks it valid.
func (s *StaticSource) SetPosition(lat, lon float64) {
	s.mu.Lock()
	s.fix.Latitude = lat
	s.fix.Longitude = lon
	s.fix.Valid = true
	s.mu.Unlock()
}

func (s *StaticSource) Read() Fix {
	s.mu.RLock()
	fix := s.fix
	s.mu.RUnlock()

	utc := s.now().UTC()
	fix.UTC = utc
	fix.Hour, fix.Minute, fix.Second = utc.Clock()
	return fix
}
