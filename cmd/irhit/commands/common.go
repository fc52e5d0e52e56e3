package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/heitortanoue/irhit/internal/config"
	"github.com/heitortanoue/irhit/internal/printer"
	"github.com/heitortanoue/irhit/logging"
	"github.com/heitortanoue/irhit/pkg/api"
	"github.com/heitortanoue/irhit/pkg/fleet"
	"github.com/heitortanoue/irhit/pkg/link"
	"github.com/heitortanoue/irhit/pkg/node"
	"github.com/heitortanoue/irhit/pkg/protocol"
)

// loadConfig loads the config for role and applies the global flags.
func loadConfig(role string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, printer.Error("Invalid configuration", err.Error())
	}
	cfg.Role = role
	if nodeID != "" {
		cfg.NodeID = nodeID
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, printer.Error("Invalid configuration", err.Error())
	}
	if err := logging.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, printer.Error("Logging setup failed", err.Error())
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newRadio builds the UDP radio and registers the configured peers.
func newRadio(cfg *config.Config, peers *link.PeerTable) (*link.UDPRadio, error) {
	radio := link.NewUDPRadio(cfg.SelfAddress(), cfg.Link.Channel, cfg.Link.Listen, peers)
	for addr, endpoint := range cfg.Link.Peers {
		hw, err := protocol.ParseHardwareAddr(addr)
		if err != nil {
			return nil, err
		}
		if err := radio.AddPeer(hw, endpoint); err != nil {
			return nil, fmt.Errorf("add peer %s: %w", addr, err)
		}
	}
	return radio, nil
}

// startFleet joins the membership cluster when enabled. It returns nil when
// disabled.
func startFleet(cfg *config.Config, server *api.Server, logger *logging.NodeLogger) *fleet.Membership {
	if !cfg.Fleet.Enabled {
		return nil
	}
	m, err := fleet.New(fleet.Config{
		Meta: fleet.NodeMeta{
			ID:           cfg.NodeID,
			Role:         cfg.Role,
			HardwareAddr: cfg.Link.SelfAddress,
			API:          cfg.API.Listen,
		},
		BindAddr: cfg.Fleet.BindAddr,
		BindPort: cfg.Fleet.BindPort,
		Seeds:    cfg.Fleet.Seeds,
	})
	if err != nil {
		logger.LogWarning("start fleet membership", err)
		return nil
	}
	node.MountMembers(server, m)
	return m
}

func stopFleet(m *fleet.Membership) {
	if m == nil {
		return
	}
	if err := m.Leave(time.Second); err != nil {
		log.WithError(err).Warn("[FLEET] leave failed")
	}
}

func stopServer(server *api.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.WithError(err).Warn("[API] shutdown failed")
	}
}
