// Package timebase keeps a wall clock disciplined by satellite time and the
// receiver's pulse-per-second output.
package timebase

import (
	"fmt"
	"sync"
	"time"
)

// coarseTolerance is the drift below which satellite sentences are not
// allowed to move an anchor that PPS has already refined.
const coarseTolerance = time.Second

// TimeBase maps local monotonic instants to corrected UTC.
type TimeBase struct {
	mu        sync.RWMutex
	anchorUTC time.Time
	anchorAt  time.Time
	synced    bool
	ppsLocked bool

	offsetHours int
	fixedOffset bool

	syncs    uint64
	ppsEdges uint64
}

// New returns an unsynchronised time base. An offsetHours of zero means
// the offset is derived from longitude.
func New(offsetHours int) *TimeBase {
	return &TimeBase{
		offsetHours: offsetHours,
		fixedOffset: offsetHours != 0,
	}
}

// SyncFromSatellite anchors the clock at utc, observed at the local instant
// receivedAt. Once PPS has locked, only corrections of a second or more
// are applied.
func (tb *TimeBase) SyncFromSatellite(utc, receivedAt time.Time) {
	if utc.IsZero() {
		return
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.synced && tb.ppsLocked {
		drift := tb.estimate(receivedAt).Sub(utc)
		if drift < coarseTolerance && drift > -coarseTolerance {
			return
		}
		tb.ppsLocked = false
	}

	tb.anchorUTC = utc.UTC()
	tb.anchorAt = receivedAt
	tb.synced = true
	tb.syncs++
}

// OnPPS re-anchors on the whole second nearest to the estimated time of the
// pulse edge. It returns false while no coarse sync exists.
func (tb *TimeBase) OnPPS(edgeAt time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if !tb.synced {
		return false
	}
	tb.anchorUTC = tb.estimate(edgeAt).Round(time.Second)
	tb.anchorAt = edgeAt
	tb.ppsLocked = true
	tb.ppsEdges++
	return true
}

func (tb *TimeBase) estimate(at time.Time) time.Time {
	return tb.anchorUTC.Add(at.Sub(tb.anchorAt))
}

// Now returns corrected UTC at the local instant at.
func (tb *TimeBase) Now(at time.Time) (time.Time, bool) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	if !tb.synced {
		return time.Time{}, false
	}
	return tb.estimate(at), true
}

// Local returns corrected local time at at.
func (tb *TimeBase) Local(at time.Time) (time.Time, bool) {
	utc, ok := tb.Now(at)
	if !ok {
		return time.Time{}, false
	}
	return utc.In(tb.Zone()), true
}

// SetLongitude updates the derived offset unless one was configured.
func (tb *TimeBase) SetLongitude(lon float64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if !tb.fixedOffset {
		tb.offsetHours = OffsetForLongitude(lon)
	}
}

// Zone returns the current local zone.
func (tb *TimeBase) Zone() *time.Location {
	tb.mu.RLock()
	hours := tb.offsetHours
	tb.mu.RUnlock()
	return time.FixedZone(fmt.Sprintf("UTC%+d", hours), hours*3600)
}

// OffsetForLongitude maps a longitude to the Indonesian zones WIB, WITA and
// WIT.
func OffsetForLongitude(lon float64) int {
	switch {
	case lon < 115:
		return 7
	case lon < 134:
		return 8
	default:
		return 9
	}
}

func (tb *TimeBase) GetStats() map[string]interface{} {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return map[string]interface{}{
		"synced":       tb.synced,
		"pps_locked":   tb.ppsLocked,
		"offset_hours": tb.offsetHours,
		"syncs":        tb.syncs,
		"pps_edges":    tb.ppsEdges,
	}
}
