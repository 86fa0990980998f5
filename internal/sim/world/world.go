// Package world runs the authoritative room simulation: one goroutine drains
// the command queue each tick, mutates State and broadcasts to sessions.
package world

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/persistence/snapshot"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/clients"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/spatial"
)

type Deps struct {
	Queue    *command.Queue
	Clients  *clients.Manager
	Registry Registry
	Filter   ChatFilter
	Logger   *zap.Logger
	Sinks    []EventSink
	Now      func() time.Time
}

type World struct {
	cfg      Config
	log      *zap.Logger
	queue    *command.Queue
	clients  *clients.Manager
	registry Registry
	filter   ChatFilter
	sinks    []EventSink
	now      func() time.Time

	// Loop-owned.
	state      *State
	grid       *spatial.Grid
	dirty      map[string]struct{}
	tickEvents []Event
	views      map[clients.SessionID]*sessionView

	snapshotSink chan<- snapshot.RoomV1

	tick            atomic.Uint64
	published       atomic.Pointer[published]
	metrics         atomic.Value
	missedDeadlines atomic.Uint64
	sendFailures    atomic.Uint64
	eventsTotal     atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
}

func New(cfg Config, deps Deps) *World {
	cfg.applyDefaults()
	if deps.Queue == nil {
		deps.Queue = command.NewQueue(cfg.QueueOptions())
	}
	if deps.Clients == nil {
		deps.Clients = clients.NewManager(deps.Queue, deps.Logger)
	}
	deps.Clients.SetBounds(cfg.HalfExtent)
	if deps.Registry == nil {
		deps.Registry = noRegistry{}
	}
	if deps.Filter == nil {
		deps.Filter = passFilter{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	w := &World{
		cfg:      cfg,
		log:      deps.Logger.Named("world").With(zap.String("room", cfg.ID)),
		queue:    deps.Queue,
		clients:  deps.Clients,
		registry: deps.Registry,
		filter:   deps.Filter,
		sinks:    deps.Sinks,
		now:      deps.Now,
		state:    NewState(cfg.EventRetention),
		grid:     spatial.NewGrid(cfg.CellSize),
		dirty:    map[string]struct{}{},
		views:    map[clients.SessionID]*sessionView{},
		stop:     make(chan struct{}),
	}
	w.metrics.Store(Metrics{TickRateHz: cfg.TickRateHz})
	w.publish()
	return w
}

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}

func (w *World) Config() Config { return w.cfg }

func (w *World) Queue() *command.Queue { return w.queue }

func (w *World) Clients() *clients.Manager { return w.clients }

// CurrentTick is safe to call from any goroutine.
func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// AddSink registers an event sink. Call before Run.
func (w *World) AddSink(s EventSink) {
	if s != nil {
		w.sinks = append(w.sinks, s)
	}
}

// SetSnapshotSink makes the loop emit a room snapshot every
// Config.SnapshotEveryTicks ticks. Call before Run.
func (w *World) SetSnapshotSink(ch chan<- snapshot.RoomV1) {
	w.snapshotSink = ch
}
