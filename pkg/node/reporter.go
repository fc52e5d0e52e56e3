// Package node assembles the reporter and tracker pipelines.
package node

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/heitortanoue/irhit/logging"
	"github.com/heitortanoue/irhit/pkg/anticheat"
	"github.com/heitortanoue/irhit/pkg/ir"
	"github.com/heitortanoue/irhit/pkg/link"
	"github.com/heitortanoue/irhit/pkg/protocol"
	"github.com/heitortanoue/irhit/pkg/schedule"
)

// ReporterConfig holds the reporter's cadences.
type ReporterConfig struct {
	NodeID         string
	Peer           link.PeerLink
	SampleInterval time.Duration
	PollInterval   time.Duration
	RetryInterval  time.Duration
	ImmediateSends int
}

// Reporter is the helmet side: it gates decoded shots on the coverage
// sensor and forwards accepted ones to the tracker.
//
// Step must be called from a single goroutine.
type Reporter struct {
	cfg     ReporterConfig
	gate    *anticheat.Gate
	decoder *ir.Decoder
	radio   link.Radio
	channel *link.Channel
	logger  *logging.NodeLogger

	seq       uint8
	lastRetry time.Time
	lastShot  atomic.Value // ir.Event

	accepted     atomic.Uint64
	discarded    atomic.Uint64
	statusSent   atomic.Uint64
	statusFailed atomic.Uint64
}

func NewReporter(cfg ReporterConfig, sensor anticheat.Sensor, rx ir.Receiver, radio link.Radio, logger *logging.NodeLogger) *Reporter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	if logger == nil {
		logger = logging.NewNodeLogger(nil, cfg.NodeID, "reporter")
	}
	return &Reporter{
		cfg:     cfg,
		gate:    anticheat.NewGate(sensor, cfg.SampleInterval),
		decoder: ir.NewDecoder(rx),
		radio:   radio,
		channel: link.NewChannel(radio, cfg.Peer, cfg.ImmediateSends),
		logger:  logger.With("reporter"),
		seq:     uint8(rand.Intn(256)),
	}
}

// Step runs one iteration of the reporter loop at now.
func (r *Reporter) Step(now time.Time) {
	if change, ok := r.gate.Sample(now); ok {
		r.logger.LogCheatTransition(change)
		r.sendStatus(change.Transition == anticheat.CheatDetected)
	}

	if schedule.Due(now, r.lastRetry, r.cfg.RetryInterval) {
		r.lastRetry = now
		if r.channel.Pending() {
			r.logger.LogLinkRetry(r.seq)
		}
		r.channel.RetryIfNeeded(now)
	}

	event, ok := r.decoder.TryDecode()
	if !ok {
		return
	}
	r.decoder.Resume()
	r.lastShot.Store(event)

	if !r.gate.Active() {
		r.discarded.Add(1)
		r.logger.LogShot(event.Address, event.Command, false)
		return
	}

	r.seq++
	r.channel.Send(protocol.HitPacket{Address: event.Address, Command: event.Command, Sequence: r.seq})
	r.lastRetry = now
	r.accepted.Add(1)
	r.logger.LogShot(event.Address, event.Command, true)
}

// sendStatus is best-effort; a lost status frame is not retried.
func (r *Reporter) sendStatus(covered bool) {
	if err := r.radio.Transmit(r.cfg.Peer.Address, protocol.EncodeStatus(covered)); err != nil {
		r.statusFailed.Add(1)
		r.logger.LogWarning("send status", err)
		return
	}
	r.statusSent.Add(1)
}

// Run calls Step at the poll interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	schedule.Every(ctx, r.cfg.PollInterval, r.Step)
	return ctx.Err()
}

// Channel exposes the link channel for inspection.
func (r *Reporter) Channel() *link.Channel {
	return r.channel
}

// Gate exposes the anti-cheat gate for inspection.
func (r *Reporter) Gate() *anticheat.Gate {
	return r.gate
}

func (r *Reporter) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"node_id":       r.cfg.NodeID,
		"accepted":      r.accepted.Load(),
		"discarded":     r.discarded.Load(),
		"status_sent":   r.statusSent.Load(),
		"status_failed": r.statusFailed.Load(),
		"gate":          r.gate.GetStats(),
		"decoder":       r.decoder.GetStats(),
		"link":          r.channel.GetStats(),
	}
	if shot, ok := r.lastShot.Load().(ir.Event); ok {
		stats["last_shot"] = shot
	}
	return stats
}
