// Package anticheat gates hit reporting on the state of the coverage sensor.
//
// A player covering the receiver window with a hand pulls the sensor line
// low. While covered, the gate is inactive and decoded shots are discarded.
package anticheat

import (
	"sync/atomic"
	"time"

	"github.com/heitortanoue/irhit/pkg/schedule"
)

// DefaultSampleInterval is the sensor sampling cadence.
const DefaultSampleInterval = 100 * time.Millisecond

// Level is the digital level read from the coverage sensor.
type Level uint8

const (
	Low Level = iota
	High
)

// Sensor is the coverage sensor peripheral. Read always returns a defined
// level; ambiguous readings must be folded into Low.
type Sensor interface {
	Read() Level
}

// Transition is the edge reported by Sample.
type Transition uint8

const (
	CheatDetected Transition = iota + 1
	Normal
)

func (t Transition) String() string {
	switch t {
	case CheatDetected:
		return "CHEAT_DETECTED"
	case Normal:
		return "NORMAL"
	default:
		return "NONE"
	}
}

// StateChange is emitted once per transition.
type StateChange struct {
	Transition Transition
	At         time.Time
}

// Gate tracks whether hit reporting is currently allowed.
//
// Sample must only be called from one goroutine. Active may be read from
// anywhere.
type Gate struct {
	sensor   Sensor
	interval time.Duration

	active      atomic.Bool
	lastSample  time.Time
	transitions atomic.Uint64
	cheats      atomic.Uint64
}

// NewGate returns an active gate sampling sensor every interval.
func NewGate(sensor Sensor, interval time.Duration) *Gate {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	g := &Gate{sensor: sensor, interval: interval}
	g.active.Store(true)
	return g
}

// Sample reads the sensor if the sample interval has elapsed and reports a
// state change when the covered/uncovered state flips.
func (g *Gate) Sample(now time.Time) (StateChange, bool) {
	if !schedule.Due(now, g.lastSample, g.interval) {
		return StateChange{}, false
	}
	g.lastSample = now

	covered := g.sensor.Read() == Low
	active := g.active.Load()

	switch {
	case covered && active:
		g.active.Store(false)
		g.transitions.Add(1)
		g.cheats.Add(1)
		return StateChange{Transition: CheatDetected, At: now}, true
	case !covered && !active:
		g.active.Store(true)
		g.transitions.Add(1)
		return StateChange{Transition: Normal, At: now}, true
	}
	return StateChange{}, false
}

// Active reports whether decoded hits may be forwarded.
func (g *Gate) Active() bool {
	return g.active.Load()
}

// GetStats returns gate counters.
func (g *Gate) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"active":          g.active.Load(),
		"transitions":     g.transitions.Load(),
		"cheats_detected": g.cheats.Load(),
		"sample_interval": g.interval.String(),
	}
}
