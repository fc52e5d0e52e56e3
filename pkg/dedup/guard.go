// Package dedup drops link retransmissions on the receiving side.
package dedup

import "time"

// DefaultWindow is how long a repeated sequence number is treated as a
// retransmission.
const DefaultWindow = 2 * time.Second

// SequenceGuard remembers the last accepted sequence number of one sender.
// It is not safe for concurrent use.
type SequenceGuard struct {
	window   time.Duration
	last     uint8
	lastTime time.Time
	seen     bool
}

func NewSequenceGuard(window time.Duration) *SequenceGuard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &SequenceGuard{window: window}
}

// Accept rejects seq only when it equals the last accepted sequence and
// arrived within the window. Rejections do not extend the window. After
// the 8-bit counter wraps, an old value is simply a different value.
func (g *SequenceGuard) Accept(seq uint8, now time.Time) bool {
	if g.seen && seq == g.last && now.Sub(g.lastTime) < g.window {
		return false
	}
	g.last = seq
	g.lastTime = now
	g.seen = true
	return true
}
