package node

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heitortanoue/irhit/logging"
	"github.com/heitortanoue/irhit/pkg/api"
	"github.com/heitortanoue/irhit/pkg/geo"
	"github.com/heitortanoue/irhit/pkg/gps"
	"github.com/heitortanoue/irhit/pkg/link"
	"github.com/heitortanoue/irhit/pkg/logqueue"
	"github.com/heitortanoue/irhit/pkg/payload"
	"github.com/heitortanoue/irhit/pkg/protocol"
	"github.com/heitortanoue/irhit/pkg/sim"
	"github.com/heitortanoue/irhit/pkg/state"
	"github.com/heitortanoue/irhit/pkg/timebase"
	"github.com/heitortanoue/irhit/pkg/uplink"
)

var (
	helmetAddr  = protocol.HardwareAddr{0x24, 0x6F, 0x28, 0x11, 0x22, 0x33}
	trackerAddr = protocol.HardwareAddr{0x24, 0x6F, 0x28, 0xAA, 0xBB, 0xCC}
	reference   = geo.Point{Lat: -7.966667, Lon: 112.633333}
)

func quietLogger(nodeID, role string) *logging.NodeLogger {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logging.NewNodeLogger(logger, nodeID, role)
}

type reporterRig struct {
	reporter *Reporter
	radio    *link.StubRadio
	rx       *sim.IrReceiver
	sensor   *sim.CoverageSensor
}

func newReporterRig(t *testing.T) reporterRig {
	t.Helper()
	radio := link.NewStubRadio()
	rx := sim.NewIrReceiver(8)
	sensor := sim.NewCoverageSensor()
	cfg := ReporterConfig{
		NodeID:         "helmet-1",
		Peer:           link.PeerLink{Address: trackerAddr, Channel: 1},
		SampleInterval: 100 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		RetryInterval:  50 * time.Millisecond,
		ImmediateSends: 1,
	}
	return reporterRig{
		reporter: NewReporter(cfg, sensor, rx, radio, quietLogger("helmet-1", "reporter")),
		radio:    radio,
		rx:       rx,
		sensor:   sensor,
	}
}

func hitFrames(t *testing.T, sent []link.Transmission) []protocol.HitPacket {
	t.Helper()
	var packets []protocol.HitPacket
	for _, tx := range sent {
		if protocol.Classify(tx.Frame) != protocol.KindHit {
			continue
		}
		p, err := protocol.DecodeHitPacket(tx.Frame)
		require.NoError(t, err)
		packets = append(packets, p)
	}
	return packets
}

func TestReporterForwardsShotAndRetriesUntilAcked(t *testing.T) {
	rig := newReporterRig(t)
	start := time.Unix(1_700_000_000, 0)

	rig.rx.Fire(0x00A1, 0x07)
	rig.reporter.Step(start)

	packets := hitFrames(t, rig.radio.Sent())
	require.Len(t, packets, 1)
	assert.Equal(t, uint16(0x00A1), packets[0].Address)
	assert.Equal(t, uint8(0x07), packets[0].Command)
	assert.True(t, rig.reporter.Channel().Pending())

	// Before the retry interval nothing is resent.
	rig.reporter.Step(start.Add(20 * time.Millisecond))
	assert.Len(t, hitFrames(t, rig.radio.Sent()), 1)

	rig.reporter.Step(start.Add(60 * time.Millisecond))
	resent := hitFrames(t, rig.radio.Sent())
	require.Len(t, resent, 2)
	assert.Equal(t, packets[0], resent[1])

	rig.radio.AckHit(trackerAddr, packets[0].Sequence)
	rig.reporter.Step(start.Add(120 * time.Millisecond))
	assert.False(t, rig.reporter.Channel().Pending())
	assert.Len(t, hitFrames(t, rig.radio.Sent()), 2)
}

func TestReporterSequenceAdvances(t *testing.T) {
	rig := newReporterRig(t)
	now := time.Unix(1_700_000_000, 0)

	rig.rx.Fire(0x00A1, 0x01)
	rig.reporter.Step(now)
	rig.rx.Fire(0x00A1, 0x01)
	rig.reporter.Step(now.Add(time.Millisecond))

	packets := hitFrames(t, rig.radio.Sent())
	require.Len(t, packets, 2)
	assert.Equal(t, packets[0].Sequence+1, packets[1].Sequence)
	assert.Equal(t, uint64(1), rig.reporter.Channel().GetStats()["overwritten"])
}

func TestReporterDiscardsShotsWhileCovered(t *testing.T) {
	rig := newReporterRig(t)
	now := time.Unix(1_700_000_000, 0)

	rig.sensor.Cover(true)
	rig.rx.Fire(0x00B2, 0x02)
	rig.reporter.Step(now)

	assert.False(t, rig.reporter.Gate().Active())
	assert.Empty(t, hitFrames(t, rig.radio.Sent()))

	sent := rig.radio.Sent()
	require.Len(t, sent, 1)
	covered, err := protocol.DecodeStatus(sent[0].Frame)
	require.NoError(t, err)
	assert.True(t, covered)
	assert.Equal(t, uint64(1), rig.reporter.GetStats()["discarded"])

	rig.sensor.Cover(false)
	rig.rx.Fire(0x00B2, 0x02)
	rig.reporter.Step(now.Add(100 * time.Millisecond))

	assert.True(t, rig.reporter.Gate().Active())
	assert.Len(t, hitFrames(t, rig.radio.Sent()), 1)
}

type trackerRig struct {
	tracker *Tracker
	state   *state.TrackerState
	queue   *logqueue.Queue
	hub     *recordingBroadcaster
}

type recordingBroadcaster struct {
	items []interface{}
}

func (b *recordingBroadcaster) Broadcast(v interface{}) error {
	b.items = append(b.items, v)
	return nil
}

func newTrackerRig(t *testing.T, pub *uplink.Publisher) trackerRig {
	t.Helper()
	st := state.NewTrackerState("tracker-1", state.DefaultLockTimeout, 10)
	queue := logqueue.New(20)
	hub := &recordingBroadcaster{}
	tr := NewTracker(TrackerConfig{
		NodeID:         "tracker-1",
		DeviceID:       uplink.FormatDeviceID(0x70B3D57E),
		Validator:      geo.NewValidator(reference, 50),
		DedupWindow:    2 * time.Second,
		AlertDuration:  10 * time.Second,
		UplinkInterval: time.Hour,
	}, Components{
		State:       st,
		TimeBase:    timebase.New(0),
		Queue:       queue,
		Publisher:   pub,
		Broadcaster: hub,
		Logger:      quietLogger("tracker-1", "tracker"),
	})
	return trackerRig{tracker: tr, state: st, queue: queue, hub: hub}
}

func fixAt(lat, lon float64) gps.Fix {
	return gps.Fix{Valid: true, Latitude: lat, Longitude: lon, AltitudeMeters: 450, Satellites: 8}
}

func nextUplink(t *testing.T, tr *Tracker) payload.Uplink {
	t.Helper()
	select {
	case msg := <-tr.outbox:
		return msg.Decoded
	default:
		t.Fatal("no uplink queued")
		return payload.Uplink{}
	}
}

func TestTrackerHitAtReferenceIsInRange(t *testing.T) {
	rig := newTrackerRig(t, nil)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, rig.tracker.UpdateFix(ctx, fixAt(reference.Lat, reference.Lon), now))

	rec, ok := rig.tracker.HandleHit(ctx, helmetAddr, protocol.HitPacket{Address: 0x00A1, Command: 0x07, Sequence: 5}, now)
	require.True(t, ok)
	assert.Equal(t, geo.InRange, rec.Verdict.Status)
	assert.InDelta(t, 0, rec.Verdict.DistanceMeters, 0.001)
	within, known := rec.WithinRange()
	assert.True(t, within)
	assert.True(t, known)

	up := nextUplink(t, rig.tracker)
	assert.Equal(t, payload.HitInRange, up.HitStatus)
	assert.Equal(t, uint16(0), up.DistanceMeters)
	assert.Equal(t, uint16(0x00A1), up.IRAddress)
	assert.Equal(t, uint8(5), up.Sequence)
	assert.True(t, up.GPSValid)

	assert.Equal(t, 1, rig.queue.Len())
	assert.Len(t, rig.hub.items, 1)
	hits, err := rig.state.RecentHits(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, rec.ID, hits[0].ID)
}

func TestTrackerHitFarAwayIsOutOfRange(t *testing.T) {
	rig := newTrackerRig(t, nil)
	ctx := context.Background()
	now := time.Now()

	// 0.001 degrees of latitude is roughly 111 m.
	require.NoError(t, rig.tracker.UpdateFix(ctx, fixAt(reference.Lat+0.001, reference.Lon), now))

	rec, ok := rig.tracker.HandleHit(ctx, helmetAddr, protocol.HitPacket{Address: 1, Command: 1, Sequence: 1}, now)
	require.True(t, ok)
	assert.Equal(t, geo.OutOfRange, rec.Verdict.Status)
	assert.InDelta(t, 111, rec.Verdict.DistanceMeters, 1)

	up := nextUplink(t, rig.tracker)
	assert.Equal(t, payload.HitOutOfRange, up.HitStatus)
	assert.InDelta(t, 111, float64(up.DistanceMeters), 1)
}

func TestTrackerHitWithoutFixIsUnverifiable(t *testing.T) {
	rig := newTrackerRig(t, nil)
	ctx := context.Background()

	rec, ok := rig.tracker.HandleHit(ctx, helmetAddr, protocol.HitPacket{Address: 1, Command: 1, Sequence: 1}, time.Now())
	require.True(t, ok)
	assert.Equal(t, geo.Unverifiable, rec.Verdict.Status)
	_, known := rec.WithinRange()
	assert.False(t, known)

	up := nextUplink(t, rig.tracker)
	assert.Equal(t, payload.HitUnverifiable, up.HitStatus)
	assert.Equal(t, uint16(payload.DistanceUnknown), up.DistanceMeters)
	assert.False(t, up.GPSValid)

	lines := rig.queue.Drain()
	require.Len(t, lines, 1)
	assert.True(t, strings.HasSuffix(lines[0], ",-,UNVERIFIABLE"), lines[0])
}

func TestTrackerDropsRetransmissions(t *testing.T) {
	rig := newTrackerRig(t, nil)
	ctx := context.Background()
	now := time.Now()
	packet := protocol.HitPacket{Address: 0x00A1, Command: 0x07, Sequence: 9}

	_, ok := rig.tracker.HandleHit(ctx, helmetAddr, packet, now)
	require.True(t, ok)
	_, ok = rig.tracker.HandleHit(ctx, helmetAddr, packet, now.Add(500*time.Millisecond))
	assert.False(t, ok)

	// Another helmet with the same sequence is a different hit.
	other := protocol.HardwareAddr{0x24, 0x6F, 0x28, 0x44, 0x55, 0x66}
	_, ok = rig.tracker.HandleHit(ctx, other, packet, now.Add(600*time.Millisecond))
	assert.True(t, ok)

	// Same sequence after the window is accepted again.
	_, ok = rig.tracker.HandleHit(ctx, helmetAddr, packet, now.Add(3*time.Second))
	assert.True(t, ok)

	stats := rig.tracker.GetStats(ctx)
	assert.Equal(t, uint64(3), stats["hits"])
	assert.Equal(t, uint64(1), stats["duplicates"])
}

func TestTrackerCheatStatusFlagsHits(t *testing.T) {
	rig := newTrackerRig(t, nil)
	ctx := context.Background()
	now := time.Now()

	rig.tracker.Process(ctx, helmetAddr, protocol.EncodeStatus(true), now)

	rec, ok := rig.tracker.HandleHit(ctx, helmetAddr, protocol.HitPacket{Address: 1, Command: 2, Sequence: 3}, now.Add(time.Second))
	require.True(t, ok)
	assert.True(t, rec.CheatAlert)
	assert.True(t, nextUplink(t, rig.tracker).CheatDetected)

	rec, ok = rig.tracker.HandleHit(ctx, helmetAddr, protocol.HitPacket{Address: 1, Command: 2, Sequence: 4}, now.Add(11*time.Second))
	require.True(t, ok)
	assert.False(t, rec.CheatAlert)
}

func TestTrackerIgnoresUnknownFrames(t *testing.T) {
	rig := newTrackerRig(t, nil)
	rig.tracker.Process(context.Background(), helmetAddr, []byte{0x01, 0x02, 0x03, 0x04, 0x05}, time.Now())
	assert.Equal(t, uint64(1), rig.tracker.GetStats(context.Background())["unknown"])
}

func TestTrackerStatusUplinkUsesLocalTime(t *testing.T) {
	rig := newTrackerRig(t, nil)
	ctx := context.Background()
	now := time.Now()

	fix := fixAt(reference.Lat, reference.Lon)
	fix.UTC = time.Date(2026, 10, 18, 7, 3, 5, 0, time.UTC)
	require.NoError(t, rig.tracker.UpdateFix(ctx, fix, now))

	require.NoError(t, rig.tracker.SendStatus(ctx, now))
	up := nextUplink(t, rig.tracker)
	assert.Equal(t, payload.HitNone, up.HitStatus)
	// Longitude 112.6 is UTC+7.
	assert.Equal(t, uint8(14), up.Hour)
	assert.Equal(t, uint8(3), up.Minute)
	assert.Equal(t, uint8(1), up.Sequence)
}

func TestTrackerLockTimeoutStillRecordsHit(t *testing.T) {
	rig := newTrackerRig(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, ok := rig.tracker.HandleHit(ctx, helmetAddr, protocol.HitPacket{Sequence: 1}, time.Now())
	require.True(t, ok)
	assert.Equal(t, geo.Unverifiable, rec.Verdict.Status)
	assert.Equal(t, 1, rig.queue.Len())
}

func TestEndToEndOverUDP(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	sink := uplink.NewRedisSink(client, uplink.FormatDeviceID(0x70B3D57E))

	rig := newTrackerRig(t, uplink.NewPublisher(sink).WithRetry(1, time.Millisecond))

	trackerRadio := link.NewUDPRadio(trackerAddr, 1, "127.0.0.1:0", link.NewPeerTable(time.Minute))
	trackerRadio.SetReceiveHandler(rig.tracker.HandleFrame)
	require.NoError(t, trackerRadio.Start())
	t.Cleanup(func() { trackerRadio.Stop() })

	helmetRadio := link.NewUDPRadio(helmetAddr, 1, "127.0.0.1:0", nil)
	require.NoError(t, helmetRadio.Start())
	t.Cleanup(func() { helmetRadio.Stop() })
	require.NoError(t, helmetRadio.AddPeer(trackerAddr, trackerRadio.LocalAddr().String()))

	rx := sim.NewIrReceiver(8)
	reporter := NewReporter(ReporterConfig{
		NodeID:         "helmet-1",
		Peer:           link.PeerLink{Address: trackerAddr, Channel: 1},
		SampleInterval: 10 * time.Millisecond,
		PollInterval:   2 * time.Millisecond,
		RetryInterval:  20 * time.Millisecond,
	}, sim.NewCoverageSensor(), rx, helmetRadio, quietLogger("helmet-1", "reporter"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, rig.tracker.UpdateFix(ctx, fixAt(reference.Lat, reference.Lon), time.Now()))

	go rig.tracker.Run(ctx)
	go reporter.Run(ctx)

	rx.Fire(0x00A1, 0x07)

	require.Eventually(t, func() bool {
		n, err := client.LLen(ctx, sink.ListKey()).Result()
		return err == nil && n == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return !reporter.Channel().Pending() }, 2*time.Second, 10*time.Millisecond)

	raw, err := client.LIndex(ctx, sink.ListKey(), 0).Result()
	require.NoError(t, err)
	var msg uplink.Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, payload.HitInRange, msg.Decoded.HitStatus)
	assert.Equal(t, uint16(0x00A1), msg.Decoded.IRAddress)

	// Retries of an already delivered hit never produce a second record.
	time.Sleep(100 * time.Millisecond)
	hits, err := rig.state.RecentHits(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	status, err := rig.state.Link(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), status.Uplinks)
}

func TestReporterHandlers(t *testing.T) {
	rig := newReporterRig(t)
	s := api.NewServer("helmet-1", "reporter", ":0")
	MountReporter(s, rig.reporter, rig.rx, rig.sensor)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ir", strings.NewReader(`{"address": 161, "command": 7}`)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, rig.rx.Pending())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cover", strings.NewReader(`{"covered": true}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, rig.sensor.Covered())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ir", strings.NewReader(`{"address": "x"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"gate"`)
}

func TestTrackerHandlers(t *testing.T) {
	rig := newTrackerRig(t, nil)
	static := gps.NewStaticSource(0, 0, 0, 0)
	s := api.NewServer("tracker-1", "tracker", ":0")
	MountTracker(s, rig.tracker, nil, static)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/position",
		strings.NewReader(`{"lat": -7.966667, "lon": 112.633333, "alt": 451}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	hitRec, ok := rig.tracker.HandleHit(context.Background(), helmetAddr, protocol.HitPacket{Address: 0xA1, Sequence: 1}, time.Now())
	require.True(t, ok)
	assert.Equal(t, geo.InRange, hitRec.Verdict.Status)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hits?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hits/"+hitRec.ID.String(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reporter":"24:6f:28:11:22:33"`)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hits/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hits?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
