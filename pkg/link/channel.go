package link

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/heitortanoue/irhit/pkg/protocol"
)

// ackValid marks the acked word as holding a real tag.
const ackValid = 1 << 8

// Channel keeps at most one hit packet in flight toward the peer.
//
// A new Send always replaces the pending packet; the replaced packet is
// never retried. Send and RetryIfNeeded belong to the owning task. The
// radio's completion handler only stores the acknowledged tag.
type Channel struct {
	radio     Radio
	peer      PeerLink
	immediate int

	mu      sync.Mutex
	packet  protocol.HitPacket
	pending bool

	// current is the sequence of the packet in flight, acked the last
	// acknowledged sequence tagged with ackValid.
	current atomic.Uint32
	acked   atomic.Uint32

	sent        atomic.Uint64
	retries     atomic.Uint64
	delivered   atomic.Uint64
	overwritten atomic.Uint64
	txErrors    atomic.Uint64
}

// NewChannel registers itself as the radio's completion handler.
// immediate is the number of attempts issued by Send (at least one).
func NewChannel(radio Radio, peer PeerLink, immediate int) *Channel {
	if immediate < 1 {
		immediate = 1
	}
	c := &Channel{radio: radio, peer: peer, immediate: immediate}
	radio.SetCompletionHandler(c.onComplete)
	return c
}

// Send replaces any pending packet with packet and transmits it.
func (c *Channel) Send(packet protocol.HitPacket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending && !c.acknowledged() {
		c.overwritten.Add(1)
		log.WithFields(log.Fields{
			"dropped_seq": c.packet.Sequence,
			"new_seq":     packet.Sequence,
		}).Debug("[LINK] pending packet superseded")
	}

	c.packet = packet
	c.current.Store(uint32(packet.Sequence))
	c.acked.Store(0)
	c.pending = true

	frame := packet.Encode()
	for i := 0; i < c.immediate; i++ {
		c.transmit(frame)
	}
	c.sent.Add(1)
}

// RetryIfNeeded transmits the pending packet once more if it has not been
// acknowledged, or clears it if it has.
func (c *Channel) RetryIfNeeded(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.pending {
		return
	}
	if c.acknowledged() {
		c.pending = false
		c.delivered.Add(1)
		return
	}

	c.retries.Add(1)
	c.transmit(c.packet.Encode())
}

// Pending reports whether a packet is waiting for its acknowledgment.
func (c *Channel) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending && !c.acknowledged()
}

// Peer returns the configured peer.
func (c *Channel) Peer() PeerLink {
	return c.peer
}

func (c *Channel) acknowledged() bool {
	word := c.acked.Load()
	return word&ackValid != 0 && uint8(word) == c.packet.Sequence
}

// transmit ignores enqueue failures; the next retry covers them.
func (c *Channel) transmit(frame []byte) {
	if err := c.radio.Transmit(c.peer.Address, frame); err != nil {
		c.txErrors.Add(1)
		log.WithError(err).Debug("[LINK] transmit failed")
	}
}

// onComplete runs on the radio's goroutine.
func (c *Channel) onComplete(done Completion) {
	if !done.OK || done.Kind != protocol.KindHit || done.Peer != c.peer.Address {
		return
	}
	if uint32(done.Tag) != c.current.Load() {
		return
	}
	c.acked.Store(ackValid | uint32(done.Tag))
}

// GetStats returns channel counters.
func (c *Channel) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"peer":        c.peer.Address.String(),
		"channel":     c.peer.Channel,
		"pending":     c.Pending(),
		"sent":        c.sent.Load(),
		"retries":     c.retries.Load(),
		"delivered":   c.delivered.Load(),
		"overwritten": c.overwritten.Load(),
		"tx_errors":   c.txErrors.Load(),
	}
}
