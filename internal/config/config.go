package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"advtrack/internal/peer"
)

// EnvPrefix is prepended to every environment override (ADVTRACK_ROLE, ...).
const EnvPrefix = "ADVTRACK"

type Config struct {
	// Role is idle, host or follow.
	Role      string `yaml:"role" envconfig:"ROLE"`
	ConfigDir string `yaml:"config_dir" envconfig:"CONFIG_DIR"`
	DataDir   string `yaml:"data_dir" envconfig:"DATA_DIR"`

	Player      PlayerConfig      `yaml:"player" envconfig:"PLAYER"`
	Tracker     TrackerConfig     `yaml:"tracker" envconfig:"TRACKER"`
	Transport   TransportConfig   `yaml:"transport" envconfig:"TRANSPORT"`
	Persistence PersistenceConfig `yaml:"persistence" envconfig:"PERSISTENCE"`
	Log         LogConfig         `yaml:"log" envconfig:"LOG"`
}

type PlayerConfig struct {
	ID   string `yaml:"id" envconfig:"ID"`
	Name string `yaml:"name" envconfig:"NAME"`
}

type TrackerConfig struct {
	TickRateHz         int `yaml:"tick_rate_hz" envconfig:"TICK_RATE_HZ"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks" envconfig:"SNAPSHOT_EVERY_TICKS"`
}

type TransportConfig struct {
	Listen         string `yaml:"listen" envconfig:"LISTEN"`
	HostURL        string `yaml:"host_url" envconfig:"HOST_URL"`
	ResyncSeconds  int    `yaml:"resync_seconds" envconfig:"RESYNC_SECONDS"`
	SendQueue      int    `yaml:"send_queue" envconfig:"SEND_QUEUE"`
	ReconnectMinMs int    `yaml:"reconnect_min_ms" envconfig:"RECONNECT_MIN_MS"`
	ReconnectMaxMs int    `yaml:"reconnect_max_ms" envconfig:"RECONNECT_MAX_MS"`
}

type PersistenceConfig struct {
	DisableDB       bool `yaml:"disable_db" envconfig:"DISABLE_DB"`
	DisableTickLog  bool `yaml:"disable_tick_log" envconfig:"DISABLE_TICK_LOG"`
	DisableSnapshot bool `yaml:"disable_snapshot" envconfig:"DISABLE_SNAPSHOT"`
}

type LogConfig struct {
	Level      string `yaml:"level" envconfig:"LEVEL"`
	Encoding   string `yaml:"encoding" envconfig:"ENCODING"`
	OutputPath string `yaml:"output_path" envconfig:"OUTPUT_PATH"`
}

// Load reads path (optional), applies ADVTRACK_* overrides, then normalizes
// and validates the result.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return cfg, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Read is Load without Normalize and Validate, for callers that layer more
// overrides on top.
func Read(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("tracker.yaml: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("env: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		Role:      "idle",
		ConfigDir: "./configs",
		DataDir:   "./data",
		Tracker: TrackerConfig{
			TickRateHz:         20,
			SnapshotEveryTicks: 1200,
		},
		Transport: TransportConfig{
			Listen:         ":8090",
			ResyncSeconds:  30,
			SendQueue:      64,
			ReconnectMinMs: 500,
			ReconnectMaxMs: 15000,
		},
		Log: LogConfig{Level: "info", Encoding: "json"},
	}
}

func (c *Config) Normalize() {
	c.Role = strings.ToLower(strings.TrimSpace(c.Role))
	if c.Role == "" {
		c.Role = "idle"
	}
	if c.Role == "follower" {
		c.Role = "follow"
	}
	c.Player.ID = strings.TrimSpace(c.Player.ID)
	if c.Tracker.TickRateHz <= 0 {
		c.Tracker.TickRateHz = 20
	}
	if c.Tracker.SnapshotEveryTicks < 0 {
		c.Tracker.SnapshotEveryTicks = 0
	}
	if c.Transport.ResyncSeconds < 0 {
		c.Transport.ResyncSeconds = 0
	}
	if c.Transport.SendQueue <= 0 {
		c.Transport.SendQueue = 64
	}
	if c.Transport.ReconnectMinMs <= 0 {
		c.Transport.ReconnectMinMs = 500
	}
	if c.Transport.ReconnectMaxMs < c.Transport.ReconnectMinMs {
		c.Transport.ReconnectMaxMs = c.Transport.ReconnectMinMs
	}
}

func (c Config) Validate() error {
	switch c.Role {
	case "idle", "host", "follow":
	default:
		return fmt.Errorf("role %q must be idle, host or follow", c.Role)
	}
	if c.Player.ID != "" {
		if _, err := uuid.Parse(c.Player.ID); err != nil {
			return fmt.Errorf("player.id: %w", err)
		}
	}
	if c.Role == "follow" {
		if strings.TrimSpace(c.Transport.HostURL) == "" {
			return fmt.Errorf("transport.host_url is required to follow")
		}
		if c.Player.ID == "" {
			return fmt.Errorf("player.id is required to follow")
		}
	}
	if c.Role == "host" && strings.TrimSpace(c.Transport.Listen) == "" {
		return fmt.Errorf("transport.listen is required to host")
	}
	if c.Tracker.TickRateHz > 1000 {
		return fmt.Errorf("tracker.tick_rate_hz must be <= 1000")
	}
	return nil
}

// PeerRole maps the configured role onto the session role.
func (c Config) PeerRole() peer.Role { return peer.ParseRole(c.Role) }

// PlayerID returns the parsed local participant id, or uuid.Nil.
func (c Config) PlayerID() uuid.UUID {
	id, err := uuid.Parse(c.Player.ID)
	if err != nil {
		return uuid.Nil
	}
	return id
}
