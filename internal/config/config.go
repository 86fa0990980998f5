// Package config loads server.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server      ServerConfig      `toml:"server"`
	Network     NetworkConfig     `toml:"network"`
	Logging     LoggingConfig     `toml:"logging"`
	Federation  FederationConfig  `toml:"federation"`
	Persistence PersistenceConfig `toml:"persistence"`
}

type ServerConfig struct {
	Addr       string `toml:"addr"`
	InstanceID string `toml:"instance_id"` // empty = random per boot
	DataDir    string `toml:"data_dir"`
	RoomFile   string `toml:"room_file"`
	AgentsFile string `toml:"agents_file"`
}

type NetworkConfig struct {
	SendBuffer        int           `toml:"send_buffer"`
	MaxMessageBytes   int64         `toml:"max_message_bytes"`
	ReadTimeout       time.Duration `toml:"read_timeout"`
	WriteTimeout      time.Duration `toml:"write_timeout"`
	MaxMovesPerSecond float64       `toml:"max_moves_per_second"`
	MaxPending        int           `toml:"max_pending"`
	AllowAnyOrigin    bool          `toml:"allow_any_origin"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type FederationConfig struct {
	Enabled     bool          `toml:"enabled"`
	Relays      []string      `toml:"relays"`
	Secret      string        `toml:"secret"` // HS256 envelope key; empty = unsigned
	DialTimeout time.Duration `toml:"dial_timeout"`
	Buffer      int           `toml:"buffer"`
}

type PersistenceConfig struct {
	Journal            bool   `toml:"journal"`
	SnapshotEveryTicks int    `toml:"snapshot_every_ticks"`
	EventStoreDSN      string `toml:"event_store_dsn"` // sqlite path or postgres:// URL; empty = off
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	if c.Network.SendBuffer <= 0 {
		return fmt.Errorf("network.send_buffer must be > 0 (got %d)", c.Network.SendBuffer)
	}
	if c.Network.MaxMessageBytes <= 0 {
		return fmt.Errorf("network.max_message_bytes must be > 0 (got %d)", c.Network.MaxMessageBytes)
	}
	if c.Network.MaxMovesPerSecond < 0 {
		return fmt.Errorf("network.max_moves_per_second must be >= 0 (got %v)", c.Network.MaxMovesPerSecond)
	}
	if c.Federation.Enabled && len(c.Federation.Relays) == 0 {
		return errors.New("federation.enabled requires at least one relay")
	}
	if c.Persistence.SnapshotEveryTicks < 0 {
		return fmt.Errorf("persistence.snapshot_every_ticks must be >= 0 (got %d)", c.Persistence.SnapshotEveryTicks)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:     ":8080",
			DataDir:  "data",
			RoomFile: "configs/room.yaml",
		},
		Network: NetworkConfig{
			SendBuffer:        64,
			MaxMessageBytes:   64 * 1024,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      10 * time.Second,
			MaxMovesPerSecond: 20,
			MaxPending:        4096,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Federation: FederationConfig{
			DialTimeout: 5 * time.Second,
			Buffer:      256,
		},
		Persistence: PersistenceConfig{
			Journal:            true,
			SnapshotEveryTicks: 3000,
		},
	}
}
