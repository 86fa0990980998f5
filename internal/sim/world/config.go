package world

import (
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/spatial"
)

type Config struct {
	ID          string
	Name        string
	Description string
	// Channel keys the federation topic; rooms sharing a channel share presence.
	Channel string

	TickRateHz  int
	MaxEntities int
	HalfExtent  float64
	AOIRadius   float64
	CellSize    float64
	Spawn       command.Vec3
	Obstacles   []command.Obstacle

	EventRetention     int
	SnapshotEveryTicks int
}

func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = "lobby"
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	if c.Channel == "" {
		c.Channel = c.ID
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.MaxEntities <= 0 {
		c.MaxEntities = 100
	}
	if c.HalfExtent <= 0 {
		c.HalfExtent = 50
	}
	if c.AOIRadius <= 0 {
		c.AOIRadius = spatial.DefaultAOIRadius
	}
	if c.CellSize <= 0 {
		c.CellSize = spatial.DefaultCellSize
	}
	if c.EventRetention <= 0 {
		c.EventRetention = 1000
	}
}

// QueueOptions derives the command queue's validation parameters.
func (c Config) QueueOptions() command.Options {
	c.applyDefaults()
	return command.Options{
		HalfExtent:  c.HalfExtent,
		Obstacles:   c.Obstacles,
		MaxEntities: c.MaxEntities,
		Spawn:       c.Spawn,
	}
}
