package node

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heitortanoue/irhit/logging"
	"github.com/heitortanoue/irhit/pkg/dedup"
	"github.com/heitortanoue/irhit/pkg/geo"
	"github.com/heitortanoue/irhit/pkg/gps"
	"github.com/heitortanoue/irhit/pkg/hit"
	"github.com/heitortanoue/irhit/pkg/logqueue"
	"github.com/heitortanoue/irhit/pkg/payload"
	"github.com/heitortanoue/irhit/pkg/protocol"
	"github.com/heitortanoue/irhit/pkg/schedule"
	"github.com/heitortanoue/irhit/pkg/state"
	"github.com/heitortanoue/irhit/pkg/timebase"
	"github.com/heitortanoue/irhit/pkg/uplink"
)

// ErrInboundFull is returned when a received frame cannot be queued.
var ErrInboundFull = errors.New("tracker inbound queue full")

// Broadcaster pushes hit records to live subscribers.
type Broadcaster interface {
	Broadcast(v interface{}) error
}

// TrackerConfig holds the tracker's parameters.
type TrackerConfig struct {
	NodeID          string
	DeviceID        string
	Validator       geo.Validator
	DedupWindow     time.Duration
	Reporters       int
	AlertDuration   time.Duration
	UplinkInterval  time.Duration
	PublishTimeout  time.Duration
	GPSPollInterval time.Duration
	InboundSize     int
	OutboxSize      int
}

// Components are the collaborators a tracker is wired to. Source,
// Publisher and Broadcaster may be nil.
type Components struct {
	State       *state.TrackerState
	TimeBase    *timebase.TimeBase
	Queue       *logqueue.Queue
	Source      gps.Source
	Publisher   *uplink.Publisher
	Broadcaster Broadcaster
	Logger      *logging.NodeLogger
}

type inboundFrame struct {
	src   protocol.HardwareAddr
	frame []byte
	at    time.Time
}

// Tracker is the vehicle side: it validates reported hits against the
// geofence and hands them to the log queue and the uplink.
type Tracker struct {
	cfg    TrackerConfig
	state  *state.TrackerState
	tb     *timebase.TimeBase
	queue  *logqueue.Queue
	source gps.Source
	pub    *uplink.Publisher
	bcast  Broadcaster
	logger *logging.NodeLogger
	guards *dedup.GuardSet

	inbound chan inboundFrame
	outbox  chan uplink.Message

	uplinkSeq atomic.Uint32

	hits        atomic.Uint64
	duplicates  atomic.Uint64
	statuses    atomic.Uint64
	unknown     atomic.Uint64
	inboundDrop atomic.Uint64
	outboxDrop  atomic.Uint64
	published   atomic.Uint64
	failed      atomic.Uint64
	lockSkips   atomic.Uint64
}

func NewTracker(cfg TrackerConfig, c Components) *Tracker {
	if cfg.AlertDuration <= 0 {
		cfg.AlertDuration = 10 * time.Second
	}
	if cfg.UplinkInterval <= 0 {
		cfg.UplinkInterval = 30 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if cfg.GPSPollInterval <= 0 {
		cfg.GPSPollInterval = time.Second
	}
	if cfg.InboundSize <= 0 {
		cfg.InboundSize = 64
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 32
	}
	if cfg.Reporters <= 0 {
		cfg.Reporters = 64
	}
	if c.State == nil {
		c.State = state.NewTrackerState(cfg.NodeID, state.DefaultLockTimeout, 0)
	}
	if c.TimeBase == nil {
		c.TimeBase = timebase.New(0)
	}
	if c.Queue == nil {
		c.Queue = logqueue.New(logqueue.DefaultCapacity)
	}
	if c.Logger == nil {
		c.Logger = logging.NewNodeLogger(nil, cfg.NodeID, "tracker")
	}

	return &Tracker{
		cfg:     cfg,
		state:   c.State,
		tb:      c.TimeBase,
		queue:   c.Queue,
		source:  c.Source,
		pub:     c.Publisher,
		bcast:   c.Broadcaster,
		logger:  c.Logger.With("tracker"),
		guards:  dedup.NewGuardSet(cfg.Reporters, cfg.DedupWindow),
		inbound: make(chan inboundFrame, cfg.InboundSize),
		outbox:  make(chan uplink.Message, cfg.OutboxSize),
	}
}

// HandleFrame is the radio receive handler. It only queues the frame.
func (t *Tracker) HandleFrame(src protocol.HardwareAddr, frame []byte) {
	if err := t.enqueue(src, frame, time.Now()); err != nil {
		t.logger.LogWarning("receive frame", err)
	}
}

func (t *Tracker) enqueue(src protocol.HardwareAddr, frame []byte, at time.Time) error {
	select {
	case t.inbound <- inboundFrame{src: src, frame: append([]byte(nil), frame...), at: at}:
		return nil
	default:
		t.inboundDrop.Add(1)
		return ErrInboundFull
	}
}

// Process handles one received frame.
func (t *Tracker) Process(ctx context.Context, src protocol.HardwareAddr, frame []byte, at time.Time) {
	switch protocol.Classify(frame) {
	case protocol.KindHit:
		packet, err := protocol.DecodeHitPacket(frame)
		if err != nil {
			t.unknown.Add(1)
			return
		}
		t.HandleHit(ctx, src, packet, at)
	case protocol.KindStatus:
		covered, err := protocol.DecodeStatus(frame)
		if err != nil {
			t.unknown.Add(1)
			return
		}
		t.HandleStatus(ctx, src, covered, at)
	default:
		t.unknown.Add(1)
	}
}

// HandleHit validates one hit packet. It returns false for retransmissions.
// When the shared state cannot be read in time the fix is treated as
// unavailable and the hit is recorded as unverifiable.
func (t *Tracker) HandleHit(ctx context.Context, src protocol.HardwareAddr, packet protocol.HitPacket, at time.Time) (hit.Record, bool) {
	if !t.guards.Accept(src, packet.Sequence, at) {
		t.duplicates.Add(1)
		t.logger.LogDuplicate(src.String(), packet.Sequence)
		return hit.Record{}, false
	}

	fix, err := t.state.Fix(ctx)
	if err != nil {
		t.lockSkips.Add(1)
		t.logger.LogWarning("read fix", err)
		fix = gps.Fix{}
	}
	verdict := t.cfg.Validator.Validate(fix)

	cheat, err := t.state.CheatAlert(ctx, at)
	if err != nil {
		t.lockSkips.Add(1)
		t.logger.LogWarning("read cheat alert", err)
	}

	rec := hit.New(src, packet, fix, verdict, t.localTime(at))
	rec.CheatAlert = cheat

	if err := t.state.RecordHit(ctx, rec); err != nil {
		t.lockSkips.Add(1)
		t.logger.LogWarning("record hit", err)
	}
	t.queue.Push(logqueue.FormatLine(rec))
	t.hits.Add(1)
	t.logger.LogHit(rec)

	if t.bcast != nil {
		if err := t.bcast.Broadcast(rec); err != nil {
			t.logger.LogWarning("broadcast hit", err)
		}
	}

	t.queueUplink(payload.Encode(&rec, fix, payload.Status{CheatDetected: cheat}), at)
	return rec, true
}

// HandleStatus applies a reporter's anti-cheat status. A covered sensor
// raises the cheat alert for the configured duration.
func (t *Tracker) HandleStatus(ctx context.Context, src protocol.HardwareAddr, covered bool, at time.Time) {
	t.statuses.Add(1)
	if !covered {
		return
	}
	if err := t.state.RaiseCheatAlert(ctx, at.Add(t.cfg.AlertDuration)); err != nil {
		t.lockSkips.Add(1)
		t.logger.LogWarning("raise cheat alert", err)
		return
	}
	t.logger.LogCheatReport(src.String(), at.Add(t.cfg.AlertDuration))
}

// UpdateFix stores a new fix and feeds the time base from it.
func (t *Tracker) UpdateFix(ctx context.Context, fix gps.Fix, receivedAt time.Time) error {
	if err := t.state.UpdateFix(ctx, fix); err != nil {
		t.lockSkips.Add(1)
		return err
	}
	if fix.Valid {
		t.tb.SetLongitude(fix.Longitude)
	}
	if !fix.UTC.IsZero() {
		t.tb.SyncFromSatellite(fix.UTC, receivedAt)
	}
	return nil
}

// OnPPS forwards a pulse-per-second edge to the time base.
func (t *Tracker) OnPPS(edgeAt time.Time) bool {
	return t.tb.OnPPS(edgeAt)
}

// SendStatus queues a status uplink carrying the current fix and flags but
// no hit.
func (t *Tracker) SendStatus(ctx context.Context, now time.Time) error {
	fix, err := t.state.Fix(ctx)
	if err != nil {
		t.lockSkips.Add(1)
		return err
	}
	cheat, err := t.state.CheatAlert(ctx, now)
	if err != nil {
		t.lockSkips.Add(1)
		return err
	}

	if local, ok := t.tb.Local(now); ok {
		fix.Hour, fix.Minute, fix.Second = local.Clock()
	}
	seq := uint8(t.uplinkSeq.Add(1))
	t.queueUplink(payload.Encode(nil, fix, payload.Status{CheatDetected: cheat, Sequence: seq}), now)
	return nil
}

func (t *Tracker) localTime(at time.Time) time.Time {
	if local, ok := t.tb.Local(at); ok {
		return local
	}
	return at.In(t.tb.Zone())
}

func (t *Tracker) queueUplink(data []byte, at time.Time) {
	msg, err := uplink.NewMessage(t.cfg.DeviceID, data, at)
	if err != nil {
		t.logger.LogError("build uplink", err)
		return
	}
	select {
	case t.outbox <- msg:
	default:
		t.outboxDrop.Add(1)
		t.logger.LogWarning("queue uplink", errors.New("outbox full, payload dropped"))
	}
}

func (t *Tracker) publish(ctx context.Context, msg uplink.Message) {
	if t.pub == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, t.cfg.PublishTimeout)
	err := t.pub.Publish(pctx, msg)
	cancel()

	if err != nil {
		t.failed.Add(1)
	} else {
		t.published.Add(1)
	}
	t.logger.LogUplink(msg.ID.String(), len(msg.Payload), err)

	updateErr := t.state.UpdateLink(ctx, func(ls *state.LinkStatus) {
		ls.LastAt = msg.CreatedAt
		if err != nil {
			ls.LastEvent = "UPLINK_FAILED"
			ls.Failures++
			return
		}
		ls.LastEvent = "UPLINK_SENT"
		ls.Uplinks++
	})
	if updateErr != nil {
		t.lockSkips.Add(1)
	}
}

// Join waits for every sink that needs a session.
func (t *Tracker) Join(ctx context.Context, attempts uint64, delay time.Duration) error {
	if t.pub == nil {
		return nil
	}
	for _, sink := range t.pub.Sinks() {
		joiner, ok := sink.(uplink.Joiner)
		if !ok {
			continue
		}
		if err := uplink.Join(ctx, joiner, attempts, delay); err != nil {
			return err
		}
	}
	return t.state.UpdateLink(ctx, func(ls *state.LinkStatus) {
		ls.Joined = true
		ls.LastEvent = "JOINED"
		ls.LastAt = time.Now()
	})
}

// Run processes frames, polls the GPS source, publishes uplinks and sends
// the periodic status until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case in := <-t.inbound:
				t.Process(ctx, in.src, in.frame, in.at)
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg := <-t.outbox:
				t.publish(ctx, msg)
			}
		}
	})

	if t.source != nil {
		g.Go(func() error {
			poll := func(now time.Time) {
				if err := t.UpdateFix(ctx, t.source.Read(), now); err != nil {
					t.logger.LogWarning("update fix", err)
				}
			}
			poll(time.Now())
			schedule.Every(ctx, t.cfg.GPSPollInterval, poll)
			return nil
		})
	}

	g.Go(func() error {
		schedule.Every(ctx, t.cfg.UplinkInterval, func(now time.Time) {
			if err := t.SendStatus(ctx, now); err != nil {
				t.logger.LogWarning("status uplink", err)
			}
		})
		return nil
	})

	return g.Wait()
}

// State exposes the shared tracker state.
func (t *Tracker) State() *state.TrackerState {
	return t.state
}

func (t *Tracker) GetStats(ctx context.Context) map[string]interface{} {
	stats := map[string]interface{}{
		"node_id":       t.cfg.NodeID,
		"device_id":     t.cfg.DeviceID,
		"hits":          t.hits.Load(),
		"duplicates":    t.duplicates.Load(),
		"status_frames": t.statuses.Load(),
		"unknown":       t.unknown.Load(),
		"inbound_drop":  t.inboundDrop.Load(),
		"outbox_drop":   t.outboxDrop.Load(),
		"published":     t.published.Load(),
		"publish_fail":  t.failed.Load(),
		"lock_skips":    t.lockSkips.Load(),
		"dedup":         t.guards.GetStats(),
		"log_queue":     t.queue.GetStats(),
		"timebase":      t.tb.GetStats(),
	}
	if t.pub != nil {
		stats["uplink"] = t.pub.GetStats()
	}
	if shared, err := t.state.GetStats(ctx); err == nil {
		stats["state"] = shared
	} else {
		stats["state"] = err.Error()
	}
	return stats
}
