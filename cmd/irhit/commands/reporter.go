package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/heitortanoue/irhit/internal/config"
	"github.com/heitortanoue/irhit/internal/printer"
	"github.com/heitortanoue/irhit/logging"
	"github.com/heitortanoue/irhit/pkg/api"
	"github.com/heitortanoue/irhit/pkg/link"
	"github.com/heitortanoue/irhit/pkg/node"
	"github.com/heitortanoue/irhit/pkg/sim"
)

var autoFire bool

var reporterCmd = &cobra.Command{
	Use:   "reporter",
	Short: "Run a helmet node",
	Long: `Run a helmet node: sample the coverage sensor, decode infrared shots and
forward accepted hits to the tracker.

On a host the peripherals are simulated. Inject a shot with
  curl -X POST localhost:8080/ir -d '{"address": 161, "command": 7}'
and cover the sensor with
  curl -X POST localhost:8080/cover -d '{"covered": true}'`,
	RunE: runReporter,
}

func init() {
	reporterCmd.Flags().BoolVar(&autoFire, "auto-fire", false, "fire simulated shots periodically")
}

func runReporter(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.RoleReporter)
	if err != nil {
		return err
	}
	if autoFire {
		cfg.Sim.AutoFire = true
	}

	logger := logging.NewNodeLogger(nil, cfg.NodeID, cfg.Role)

	radio, err := newRadio(cfg, nil)
	if err != nil {
		return printer.Error("Radio setup failed", err.Error())
	}
	rx := sim.NewIrReceiver(8)
	sensor := sim.NewCoverageSensor()

	reporter := node.NewReporter(node.ReporterConfig{
		NodeID:         cfg.NodeID,
		Peer:           link.PeerLink{Address: cfg.PeerAddress(), Channel: cfg.Link.Channel},
		SampleInterval: cfg.AntiCheat.SampleInterval,
		PollInterval:   cfg.IR.PollInterval,
		RetryInterval:  cfg.Link.RetryInterval,
		ImmediateSends: cfg.Link.ImmediateSends,
	}, sensor, rx, radio, logger)

	server := api.NewServer(cfg.NodeID, cfg.Role, cfg.API.Listen)
	node.MountReporter(server, reporter, rx, sensor)

	var generator *sim.Generator
	if cfg.Sim.AutoFire {
		generator = sim.NewGenerator(cfg.NodeID, rx, sensor, nil, cfg.Sim.FireInterval)
	}

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

	printer.Banner(os.Stdout, "Reporter "+cfg.NodeID, map[string]string{
		"radio":     fmt.Sprintf("%s ch%d on %s", cfg.Link.SelfAddress, cfg.Link.Channel, radio.LocalAddr()),
		"peer":      cfg.Link.PeerAddress,
		"api":       "http://" + server.Addr(),
		"sampling":  cfg.AntiCheat.SampleInterval.String(),
		"retry":     cfg.Link.RetryInterval.String(),
		"auto-fire": fmt.Sprintf("%v", cfg.Sim.AutoFire),
	})

	if generator != nil {
		generator.Start()
		defer generator.Stop()
	}

	ctx, cancel := signalContext()
	defer cancel()

	_ = reporter.Run(ctx)
	printer.Success("Reporter %s stopped\n", cfg.NodeID)
	return nil
}
