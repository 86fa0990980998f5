// Package room loads the YAML room file that parameterizes one world.
package room

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/spatial"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/world"
)

type Config struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Channel     string `yaml:"channel"`

	MaxEntities int     `yaml:"max_entities"`
	TickRateHz  int     `yaml:"tick_rate_hz"`
	HalfExtent  float64 `yaml:"half_extent"`
	AOIRadius   float64 `yaml:"aoi_radius"`
	CellSize    float64 `yaml:"cell_size"`

	Spawn     command.Vec3       `yaml:"spawn"`
	Obstacles []command.Obstacle `yaml:"obstacles,omitempty"`

	EventRetention     int `yaml:"event_retention"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
}

// Load reads the room file. An empty path yields the default lobby.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("room.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("room.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ID:                 "lobby",
		Name:               "Lobby",
		MaxEntities:        100,
		TickRateHz:         20,
		HalfExtent:         50,
		AOIRadius:          spatial.DefaultAOIRadius,
		CellSize:           spatial.DefaultCellSize,
		EventRetention:     1000,
		SnapshotEveryTicks: 0,
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.ID = strings.TrimSpace(c.ID)
	if strings.TrimSpace(c.Name) == "" {
		c.Name = c.ID
	}
	if strings.TrimSpace(c.Channel) == "" {
		c.Channel = c.ID
	}
	if c.CellSize <= 0 {
		c.CellSize = spatial.DefaultCellSize
	}
	if c.AOIRadius <= 0 {
		c.AOIRadius = spatial.DefaultAOIRadius
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if c.ID == "" {
		return fmt.Errorf("id must not be empty")
	}
	if c.MaxEntities <= 0 {
		return fmt.Errorf("max_entities must be > 0")
	}
	if c.TickRateHz <= 0 || c.TickRateHz > 120 {
		return fmt.Errorf("tick_rate_hz must be in [1, 120]")
	}
	if c.HalfExtent <= 0 || math.IsInf(c.HalfExtent, 0) || math.IsNaN(c.HalfExtent) {
		return fmt.Errorf("half_extent must be a finite number > 0")
	}
	if math.Abs(c.Spawn.X) > c.HalfExtent || math.Abs(c.Spawn.Z) > c.HalfExtent {
		return fmt.Errorf("spawn (%v,%v) outside half_extent %v", c.Spawn.X, c.Spawn.Z, c.HalfExtent)
	}
	for i, o := range c.Obstacles {
		if o.Radius <= 0 {
			return fmt.Errorf("obstacles[%d] radius must be > 0", i)
		}
		if math.Abs(o.X) > c.HalfExtent || math.Abs(o.Z) > c.HalfExtent {
			return fmt.Errorf("obstacles[%d] center outside half_extent", i)
		}
		if math.Hypot(c.Spawn.X-o.X, c.Spawn.Z-o.Z) < o.Radius {
			return fmt.Errorf("spawn lies inside obstacles[%d]", i)
		}
	}
	if c.EventRetention <= 0 {
		return fmt.Errorf("event_retention must be > 0")
	}
	if c.SnapshotEveryTicks < 0 {
		return fmt.Errorf("snapshot_every_ticks must be >= 0")
	}
	return nil
}

// WorldConfig maps the room file onto the simulation's parameters.
func (c Config) WorldConfig() world.Config {
	return world.Config{
		ID:                 c.ID,
		Name:               c.Name,
		Description:        c.Description,
		Channel:            c.Channel,
		TickRateHz:         c.TickRateHz,
		MaxEntities:        c.MaxEntities,
		HalfExtent:         c.HalfExtent,
		AOIRadius:          c.AOIRadius,
		CellSize:           c.CellSize,
		Spawn:              c.Spawn,
		Obstacles:          append([]command.Obstacle(nil), c.Obstacles...),
		EventRetention:     c.EventRetention,
		SnapshotEveryTicks: c.SnapshotEveryTicks,
	}
}
