package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/heitortanoue/irhit/pkg/protocol"
)

// Node roles.
const (
	RoleReporter = "reporter"
	RoleTracker  = "tracker"
)

// GPS sources.
const (
	GPSStatic = "static"
	GPSNMEA   = "nmea"
)

// Config is the complete node configuration.
type Config struct {
	NodeID      string        `yaml:"node_id"`
	Role        string        `yaml:"role"`
	LogLevel    string        `yaml:"log_level"`
	LogFile     string        `yaml:"log_file"`
	LockTimeout time.Duration `yaml:"lock_timeout"`

	Link      LinkConfig      `yaml:"link"`
	AntiCheat AntiCheatConfig `yaml:"anticheat"`
	IR        IRConfig        `yaml:"ir"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Geofence  GeofenceConfig  `yaml:"geofence"`
	TimeBase  TimeBaseConfig  `yaml:"timebase"`
	GPS       GPSConfig       `yaml:"gps"`
	Uplink    UplinkConfig    `yaml:"uplink"`
	Store     StoreConfig     `yaml:"store"`
	API       APIConfig       `yaml:"api"`
	Fleet     FleetConfig     `yaml:"fleet"`
	Sim       SimConfig       `yaml:"sim"`
}

// LinkConfig describes the short-range radio link.
type LinkConfig struct {
	SelfAddress    string            `yaml:"self_address"`
	PeerAddress    string            `yaml:"peer_address"`
	Channel        int               `yaml:"channel"`
	Listen         string            `yaml:"listen"`
	Peers          map[string]string `yaml:"peers"` // hardware address -> UDP endpoint
	RetryInterval  time.Duration     `yaml:"retry_interval"`
	ImmediateSends int               `yaml:"immediate_sends"`
	PeerTimeout    time.Duration     `yaml:"peer_timeout"`
}

type AntiCheatConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	AlertDuration  time.Duration `yaml:"alert_duration"`
}

type IRConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type DedupConfig struct {
	Window    time.Duration `yaml:"window"`
	Reporters int           `yaml:"reporters"`
}

type GeofenceConfig struct {
	ReferenceLat    float64 `yaml:"reference_lat"`
	ReferenceLon    float64 `yaml:"reference_lon"`
	ThresholdMeters float64 `yaml:"threshold_meters"`
}

// TimeBaseConfig: zero offset means derive it from longitude.
type TimeBaseConfig struct {
	UTCOffsetHours int `yaml:"utc_offset_hours"`
}

type GPSConfig struct {
	Source     string  `yaml:"source"`
	Device     string  `yaml:"device"`
	StaticLat  float64 `yaml:"static_lat"`
	StaticLon  float64 `yaml:"static_lon"`
	StaticAlt  float64 `yaml:"static_alt"`
	StaticSats int     `yaml:"static_sats"`
}

// UplinkConfig: empty RedisAddr or HTTPURL disables that sink.
type UplinkConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	HTTPURL       string        `yaml:"http_url"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	Interval      time.Duration `yaml:"interval"`
	DeviceID      uint32        `yaml:"device_id"`
	MaxRetries    uint64        `yaml:"max_retries"`
	JoinAttempts  uint64        `yaml:"join_attempts"`
	JoinDelay     time.Duration `yaml:"join_delay"`
	PublishWindow time.Duration `yaml:"publish_timeout"`
}

type StoreConfig struct {
	Path          string        `yaml:"path"`
	WriteInterval time.Duration `yaml:"write_interval"`
	QueueSize     int           `yaml:"queue_size"`
	History       int           `yaml:"history"`
}

type APIConfig struct {
	Listen string `yaml:"listen"`
}

type FleetConfig struct {
	Enabled  bool     `yaml:"enabled"`
	BindAddr string   `yaml:"bind_addr"`
	BindPort int      `yaml:"bind_port"`
	Seeds    []string `yaml:"seeds"`
}

// SimConfig drives the simulated peripherals of a reporter.
type SimConfig struct {
	AutoFire     bool          `yaml:"auto_fire"`
	FireInterval time.Duration `yaml:"fire_interval"`
}

// DefaultConfig returns the configuration of a reporter on the default
// channel, aimed at the reference base station.
func DefaultConfig() *Config {
	return &Config{
		NodeID:      "helmet-1",
		Role:        RoleReporter,
		LogLevel:    "info",
		LockTimeout: 100 * time.Millisecond,
		Link: LinkConfig{
			SelfAddress:    "24:6f:28:11:22:33",
			PeerAddress:    "24:6f:28:aa:bb:cc",
			Channel:        1,
			Listen:         "0.0.0.0:7100",
			Peers:          map[string]string{},
			RetryInterval:  50 * time.Millisecond,
			ImmediateSends: 1,
			PeerTimeout:    9 * time.Second,
		},
		AntiCheat: AntiCheatConfig{
			SampleInterval: 100 * time.Millisecond,
			AlertDuration:  10 * time.Second,
		},
		IR:    IRConfig{PollInterval: 5 * time.Millisecond},
		Dedup: DedupConfig{Window: 2 * time.Second, Reporters: 64},
		Geofence: GeofenceConfig{
			ReferenceLat:    -7.966667,
			ReferenceLon:    112.633333,
			ThresholdMeters: 50,
		},
		GPS: GPSConfig{
			Source:     GPSStatic,
			StaticLat:  -7.966667,
			StaticLon:  112.633333,
			StaticAlt:  450,
			StaticSats: 8,
		},
		Uplink: UplinkConfig{
			HTTPTimeout:   5 * time.Second,
			Interval:      30 * time.Second,
			DeviceID:      0x70B3D57E,
			MaxRetries:    3,
			JoinAttempts:  10,
			JoinDelay:     8 * time.Second,
			PublishWindow: 10 * time.Second,
		},
		Store: StoreConfig{
			Path:          "irhit.db",
			WriteInterval: 2 * time.Second,
			QueueSize:     20,
			History:       50,
		},
		API: APIConfig{Listen: ":8080"},
		Fleet: FleetConfig{
			BindAddr: "0.0.0.0",
			BindPort: 7946,
		},
		Sim: SimConfig{FireInterval: 3 * time.Second},
	}
}

// Load reads a YAML file on top of the defaults, then applies IRHIT_*
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from IRHIT_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("IRHIT_NODE_ID", &c.NodeID)
	str("IRHIT_ROLE", &c.Role)
	str("IRHIT_LOG_LEVEL", &c.LogLevel)
	str("IRHIT_PEER_ADDRESS", &c.Link.PeerAddress)
	num("IRHIT_CHANNEL", &c.Link.Channel)
	duration("IRHIT_SAMPLE_INTERVAL", &c.AntiCheat.SampleInterval)
	duration("IRHIT_RETRY_INTERVAL", &c.Link.RetryInterval)
	duration("IRHIT_DEDUP_WINDOW", &c.Dedup.Window)
	float("IRHIT_REFERENCE_LAT", &c.Geofence.ReferenceLat)
	float("IRHIT_REFERENCE_LON", &c.Geofence.ReferenceLon)
	float("IRHIT_THRESHOLD_METERS", &c.Geofence.ThresholdMeters)
	str("IRHIT_REDIS_ADDR", &c.Uplink.RedisAddr)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment override: %w", errors.Join(errs...))
	}
	return nil
}

// Validate performs strict validation on the configuration.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if c.Role != RoleReporter && c.Role != RoleTracker {
		return fmt.Errorf("invalid role %q (expected %s or %s)", c.Role, RoleReporter, RoleTracker)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock_timeout must be positive")
	}

	if _, err := protocol.ParseHardwareAddr(c.Link.SelfAddress); err != nil {
		return fmt.Errorf("link.self_address: %w", err)
	}
	if _, err := protocol.ParseHardwareAddr(c.Link.PeerAddress); err != nil {
		return fmt.Errorf("link.peer_address: %w", err)
	}
	for addr, endpoint := range c.Link.Peers {
		if _, err := protocol.ParseHardwareAddr(addr); err != nil {
			return fmt.Errorf("link.peers: %w", err)
		}
		if endpoint == "" {
			return fmt.Errorf("link.peers[%s]: endpoint is required", addr)
		}
	}
	if c.Link.Channel < 0 || c.Link.Channel > 14 {
		return fmt.Errorf("link.channel must be between 0 and 14, got %d", c.Link.Channel)
	}
	if c.Link.RetryInterval <= 0 {
		return fmt.Errorf("link.retry_interval must be positive")
	}
	if c.Link.ImmediateSends < 1 {
		return fmt.Errorf("link.immediate_sends must be >= 1, got %d", c.Link.ImmediateSends)
	}

	if c.AntiCheat.SampleInterval <= 0 || c.IR.PollInterval <= 0 {
		return fmt.Errorf("anticheat.sample_interval and ir.poll_interval must be positive")
	}
	if c.Dedup.Window < 0 {
		return fmt.Errorf("dedup.window must be >= 0")
	}

	if c.Geofence.ReferenceLat < -90 || c.Geofence.ReferenceLat > 90 ||
		c.Geofence.ReferenceLon < -180 || c.Geofence.ReferenceLon > 180 {
		return fmt.Errorf("geofence reference (%f, %f) is outside the globe", c.Geofence.ReferenceLat, c.Geofence.ReferenceLon)
	}
	if c.Geofence.ThresholdMeters < 0 {
		return fmt.Errorf("geofence.threshold_meters must be >= 0")
	}
	if c.TimeBase.UTCOffsetHours < -12 || c.TimeBase.UTCOffsetHours > 14 {
		return fmt.Errorf("timebase.utc_offset_hours out of range: %d", c.TimeBase.UTCOffsetHours)
	}

	switch c.GPS.Source {
	case GPSStatic:
	case GPSNMEA:
		if c.GPS.Device == "" {
			return fmt.Errorf("gps.device is required for the nmea source")
		}
	default:
		return fmt.Errorf("invalid gps.source %q", c.GPS.Source)
	}

	if c.Uplink.Interval <= 0 {
		return fmt.Errorf("uplink.interval must be positive")
	}
	if c.Store.QueueSize <= 0 {
		return fmt.Errorf("store.queue_size must be positive")
	}
	if c.Store.WriteInterval <= 0 {
		return fmt.Errorf("store.write_interval must be positive")
	}
	return nil
}

// SelfAddress returns the parsed local hardware address.
func (c *Config) SelfAddress() protocol.HardwareAddr {
	addr, _ := protocol.ParseHardwareAddr(c.Link.SelfAddress)
	return addr
}

// PeerAddress returns the parsed peer hardware address.
func (c *Config) PeerAddress() protocol.HardwareAddr {
	addr, _ := protocol.ParseHardwareAddr(c.Link.PeerAddress)
	return addr
}
