package anticheat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSensor is covered during [coverFrom, coverUntil) of virtual time.
type scriptedSensor struct {
	now        *time.Time
	coverFrom  time.Time
	coverUntil time.Time
}

func (s *scriptedSensor) Read() Level {
	if !s.now.Before(s.coverFrom) && s.now.Before(s.coverUntil) {
		return Low
	}
	return High
}

type fixedSensor struct{ level Level }

func (s *fixedSensor) Read() Level { return s.level }

func TestGateStartsActive(t *testing.T) {
	gate := NewGate(&fixedSensor{level: High}, 0)
	assert.True(t, gate.Active())

	_, changed := gate.Sample(time.Now())
	assert.False(t, changed, "uncovered sensor on an active gate is not a transition")
}

func TestGateEmitsOnlyOnEdges(t *testing.T) {
	sensor := &fixedSensor{level: High}
	gate := NewGate(sensor, 100*time.Millisecond)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	levels := []Level{High, Low, Low, Low, High, High, Low, High}
	want := []Transition{0, CheatDetected, 0, 0, Normal, 0, CheatDetected, Normal}

	for i, level := range levels {
		sensor.level = level
		change, ok := gate.Sample(start.Add(time.Duration(i) * 100 * time.Millisecond))
		if want[i] == 0 {
			assert.False(t, ok, "sample %d: unexpected %v", i, change.Transition)
			continue
		}
		require.True(t, ok, "sample %d: expected %v", i, want[i])
		assert.Equal(t, want[i], change.Transition, "sample %d", i)
		assert.Equal(t, level == High, gate.Active(), "sample %d", i)
	}
}

func TestGateRespectsInterval(t *testing.T) {
	sensor := &fixedSensor{level: High}
	gate := NewGate(sensor, 100*time.Millisecond)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	gate.Sample(start)
	sensor.level = Low

	_, ok := gate.Sample(start.Add(50 * time.Millisecond))
	assert.False(t, ok, "sample before interval must be a no-op")
	assert.True(t, gate.Active())

	change, ok := gate.Sample(start.Add(100 * time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, CheatDetected, change.Transition)
	assert.False(t, gate.Active())
}

func TestCoveredForOneAndAHalfIntervals(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	start := now
	sensor := &scriptedSensor{
		now:        &now,
		coverFrom:  start.Add(50 * time.Millisecond),
		coverUntil: start.Add(200 * time.Millisecond),
	}
	gate := NewGate(sensor, 100*time.Millisecond)

	var cheats, normals int
	for step := 0; step <= 60; step++ {
		now = start.Add(time.Duration(step) * 10 * time.Millisecond)
		change, ok := gate.Sample(now)
		if !ok {
			continue
		}
		switch change.Transition {
		case CheatDetected:
			cheats++
		case Normal:
			normals++
		}
	}

	assert.Equal(t, 1, cheats)
	assert.Equal(t, 1, normals)
	assert.True(t, gate.Active())
}

func TestGateStats(t *testing.T) {
	sensor := &fixedSensor{level: Low}
	gate := NewGate(sensor, time.Millisecond)
	gate.Sample(time.Now())

	stats := gate.GetStats()
	assert.Equal(t, false, stats["active"])
	assert.Equal(t, uint64(1), stats["cheats_detected"])
}
