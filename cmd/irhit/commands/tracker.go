package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/heitortanoue/irhit/internal/config"
	"github.com/heitortanoue/irhit/internal/printer"
	"github.com/heitortanoue/irhit/logging"
	"github.com/heitortanoue/irhit/pkg/api"
	"github.com/heitortanoue/irhit/pkg/geo"
	"github.com/heitortanoue/irhit/pkg/gps"
	"github.com/heitortanoue/irhit/pkg/link"
	"github.com/heitortanoue/irhit/pkg/logqueue"
	"github.com/heitortanoue/irhit/pkg/node"
	"github.com/heitortanoue/irhit/pkg/state"
	"github.com/heitortanoue/irhit/pkg/store"
	"github.com/heitortanoue/irhit/pkg/timebase"
	"github.com/heitortanoue/irhit/pkg/uplink"
)

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Run a tracker node",
	Long: `Run a tracker node: receive hits from helmets, validate them against the
geofence, store the hit log and publish uplink payloads.`,
	RunE: runTracker,
}

func runTracker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.RoleTracker)
	if err != nil {
		return err
	}
	logger := logging.NewNodeLogger(nil, cfg.NodeID, cfg.Role)

	ctx, cancel := signalContext()
	defer cancel()

	peers := link.NewPeerTable(cfg.Link.PeerTimeout)
	radio, err := newRadio(cfg, peers)
	if err != nil {
		return printer.Error("Radio setup failed", err.Error())
	}

	logs, err := store.Open(cfg.Store.Path)
	if err != nil {
		return printer.Error("Hit log unavailable", err.Error())
	}
	defer logs.Close()
	queue := logqueue.New(cfg.Store.QueueSize)
	writer := store.NewWriter(queue, logs, cfg.Store.WriteInterval)

	source, static, err := openGPS(ctx, cfg)
	if err != nil {
		return printer.Error("GPS unavailable", err.Error())
	}

	publisher, sinkNames, closeSinks := buildPublisher(cfg)
	defer closeSinks()

	server := api.NewServer(cfg.NodeID, cfg.Role, cfg.API.Listen)
	tracker := node.NewTracker(node.TrackerConfig{
		NodeID:         cfg.NodeID,
		DeviceID:       uplink.FormatDeviceID(cfg.Uplink.DeviceID),
		Validator:      geo.NewValidator(geo.Point{Lat: cfg.Geofence.ReferenceLat, Lon: cfg.Geofence.ReferenceLon}, cfg.Geofence.ThresholdMeters),
		DedupWindow:    cfg.Dedup.Window,
		Reporters:      cfg.Dedup.Reporters,
		AlertDuration:  cfg.AntiCheat.AlertDuration,
		UplinkInterval: cfg.Uplink.Interval,
		PublishTimeout: cfg.Uplink.PublishWindow,
	}, node.Components{
		State:       state.NewTrackerState(cfg.NodeID, cfg.LockTimeout, cfg.Store.History),
		TimeBase:    timebase.New(cfg.TimeBase.UTCOffsetHours),
		Queue:       queue,
		Source:      source,
		Publisher:   publisher,
		Broadcaster: server.Hub(),
		Logger:      logger,
	})
	node.MountTracker(server, tracker, logs, static)
	radio.SetReceiveHandler(tracker.HandleFrame)

	if err := radio.Start(); err != nil {
		return printer.Error("Radio start failed", err.Error())
	}
	defer radio.Stop()

	if err := server.Start(); err != nil {
		return printer.Error("API start failed", err.Error())
	}
	defer stopServer(server)

	membership := startFleet(cfg, server, logger)
	defer stopFleet(membership)

	printer.Banner(os.Stdout, "Tracker "+cfg.NodeID, map[string]string{
		"radio":    fmt.Sprintf("%s ch%d on %s", cfg.Link.SelfAddress, cfg.Link.Channel, radio.LocalAddr()),
		"api":      "http://" + server.Addr(),
		"geofence": fmt.Sprintf("%.6f,%.6f r=%.0fm", cfg.Geofence.ReferenceLat, cfg.Geofence.ReferenceLon, cfg.Geofence.ThresholdMeters),
		"gps":      cfg.GPS.Source,
		"uplink":   strings.Join(sinkNames, ", "),
		"hit log":  cfg.Store.Path,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tracker.Run(ctx) })
	g.Go(func() error { writer.Run(ctx); return nil })
	g.Go(func() error { peers.Run(ctx); return nil })
	g.Go(func() error {
		if err := tracker.Join(ctx, cfg.Uplink.JoinAttempts, cfg.Uplink.JoinDelay); err != nil && ctx.Err() == nil {
			logger.LogError("uplink join", err)
		}
		return nil
	})

	err = g.Wait()
	printer.Success("Tracker %s stopped\n", cfg.NodeID)
	return err
}

// openGPS returns the fix source and, for the static source, the handle used
// by POST /position.
func openGPS(ctx context.Context, cfg *config.Config) (gps.Source, *gps.StaticSource, error) {
	if cfg.GPS.Source == config.GPSStatic {
		static := gps.NewStaticSource(cfg.GPS.StaticLat, cfg.GPS.StaticLon, cfg.GPS.StaticAlt, cfg.GPS.StaticSats)
		return static, static, nil
	}

	f, err := os.Open(cfg.GPS.Device)
	if err != nil {
		return nil, nil, fmt.Errorf("open gps device: %w", err)
	}
	reader := gps.NewNMEAReader()
	go func() {
		defer f.Close()
		if err := reader.Run(ctx, f, nil); err != nil && ctx.Err() == nil {
			logging.NewNodeLogger(nil, cfg.NodeID, cfg.Role).LogError("read gps", err)
		}
	}()
	return reader, nil, nil
}

// buildPublisher creates one sink per configured uplink target.
func buildPublisher(cfg *config.Config) (*uplink.Publisher, []string, func()) {
	deviceID := uplink.FormatDeviceID(cfg.Uplink.DeviceID)
	var (
		sinks   []uplink.Sink
		names   []string
		closers []func()
	)

	if cfg.Uplink.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Uplink.RedisAddr})
		sinks = append(sinks, uplink.NewRedisSink(client, deviceID))
		names = append(names, "redis "+cfg.Uplink.RedisAddr)
		closers = append(closers, func() { client.Close() })
	}
	if cfg.Uplink.HTTPURL != "" {
		sinks = append(sinks, uplink.NewHTTPSink(cfg.Uplink.HTTPURL, cfg.Uplink.HTTPTimeout))
		names = append(names, "http "+cfg.Uplink.HTTPURL)
	}
	if len(sinks) == 0 {
		printer.Warning("no uplink configured, payloads are only logged\n")
		return nil, []string{"none"}, func() {}
	}

	publisher := uplink.NewPublisher(sinks...).WithRetry(cfg.Uplink.MaxRetries, cfg.Uplink.HTTPTimeout/10)
	return publisher, names, func() {
		for _, c := range closers {
			c()
		}
	}
}
