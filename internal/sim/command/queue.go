package command

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/protocol"
)

// Queue defaults applied to zero Options fields.
const (
	DefaultMaxPending   = 4096
	DefaultMaxTextRunes = 500
	DefaultMoveRate     = 20
	DefaultMoveBurst    = 10
)

// Options bound what the queue accepts. Zero values take the defaults.
type Options struct {
	HalfExtent  float64
	Obstacles   []Obstacle
	MaxEntities int
	Spawn       Vec3

	// MaxPending caps queued commands between drains. Leave is exempt so
	// disconnect cleanup can never be refused.
	MaxPending   int
	MaxTextRunes int

	// MoveRate is the per-entity Position ceiling in commands per second.
	MoveRate  float64
	MoveBurst int

	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.MaxPending <= 0 {
		o.MaxPending = DefaultMaxPending
	}
	if o.MaxTextRunes <= 0 {
		o.MaxTextRunes = DefaultMaxTextRunes
	}
	if o.MoveRate <= 0 {
		o.MoveRate = DefaultMoveRate
	}
	if o.MoveBurst <= 0 {
		o.MoveBurst = DefaultMoveBurst
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Result is the synchronous verdict on one command. Reason is a protocol
// error code when OK is false.
type Result struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

func accept() Result              { return Result{OK: true} }
func reject(reason string) Result { return Result{Reason: reason} }

// member is the queue's own view of an entity: enough to validate later
// commands without reading world state.
type member struct {
	origin  Origin
	x, y, z float64
	moves   *rate.Limiter
}

// Queue is the single gate for world mutations. Many goroutines may Enqueue;
// one consumer (the simulation loop) calls Drain once per tick.
type Queue struct {
	opts Options

	mu      sync.Mutex
	pending []Command
	roster  map[string]*member
}

// NewQueue copies opts, including the obstacle slice.
func NewQueue(opts Options) *Queue {
	opts.applyDefaults()
	obs := make([]Obstacle, len(opts.Obstacles))
	copy(obs, opts.Obstacles)
	opts.Obstacles = obs
	return &Queue{
		opts:   opts,
		roster: map[string]*member{},
	}
}

// Enqueue validates cmd and, when accepted, appends the normalized command.
// A rejected command leaves no trace.
func (q *Queue) Enqueue(cmd Command) Result {
	if cmd.AgentID == "" || !cmd.shapeOK() {
		return reject(protocol.ErrInvalidCommand)
	}
	if cmd.At.IsZero() {
		cmd.At = q.opts.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if cmd.Kind != KindLeave && len(q.pending) >= q.opts.MaxPending {
		return reject(protocol.ErrQueueFull)
	}

	m := q.roster[cmd.AgentID]
	if cmd.Kind != KindJoin && m == nil {
		return reject(protocol.ErrUnknownEntity)
	}

	switch cmd.Kind {
	case KindJoin:
		j := *cmd.Join
		if m == nil && q.opts.MaxEntities > 0 && len(q.roster) >= q.opts.MaxEntities {
			return reject(protocol.ErrCapacityExceeded)
		}
		spawn := q.opts.Spawn
		if j.Spawn != nil {
			spawn = *j.Spawn
		}
		if !finite(spawn.X, spawn.Y, spawn.Z) {
			return reject(protocol.ErrInvalidNumeric)
		}
		spawn.X, spawn.Z = ResolvePosition(spawn.X, spawn.Z, q.opts.HalfExtent, q.opts.Obstacles, 0, 0, false)
		j.Spawn = &spawn
		j.Skills = append([]Skill(nil), j.Skills...)
		cmd.Join = &j
		if m == nil {
			m = &member{moves: rate.NewLimiter(rate.Limit(q.opts.MoveRate), q.opts.MoveBurst)}
			q.roster[cmd.AgentID] = m
		}
		m.origin = cmd.Origin
		m.x, m.y, m.z = spawn.X, spawn.Y, spawn.Z

	case KindLeave:
		delete(q.roster, cmd.AgentID)

	case KindPosition:
		p := *cmd.Position
		if !finite(p.X, p.Y, p.Z, p.Rotation) {
			return reject(protocol.ErrInvalidNumeric)
		}
		if !m.moves.AllowN(q.opts.Now(), 1) {
			return reject(protocol.ErrRateLimited)
		}
		p.X, p.Z = ResolvePosition(p.X, p.Z, q.opts.HalfExtent, q.opts.Obstacles, m.x, m.z, true)
		cmd.Position = &p
		m.x, m.y, m.z = p.X, p.Y, p.Z

	case KindAction:
		a := *cmd.Action
		if !a.Kind.Valid() {
			return reject(protocol.ErrInvalidCommand)
		}
		if a.Target != "" && q.roster[a.Target] == nil {
			return reject(protocol.ErrUnknownEntity)
		}
		cmd.Action = &a

	case KindChat:
		text, ok := NormalizeText(cmd.Chat.Text, q.opts.MaxTextRunes)
		if !ok {
			return reject(protocol.ErrEmptyText)
		}
		cmd.Chat = &Chat{Text: text}

	case KindEmote:
		e := *cmd.Emote
		if !e.Kind.Valid() {
			return reject(protocol.ErrInvalidCommand)
		}
		cmd.Emote = &e
	}

	q.pending = append(q.pending, cmd)
	return accept()
}

// Drain hands every queued command to the caller in enqueue order. Commands
// enqueued after the swap land in the next drain.
func (q *Queue) Drain() []Command {
	q.mu.Lock()
	out := q.pending
	q.pending = nil
	q.mu.Unlock()
	return out
}

// Len is the number of commands waiting for the next drain.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Lookup reports whether id is a known entity and where it was homed.
func (q *Queue) Lookup(id string) (Origin, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.roster[id]
	if m == nil {
		return Local, false
	}
	return m.origin, true
}

func (q *Queue) Known(id string) bool {
	_, ok := q.Lookup(id)
	return ok
}

// Seed registers an entity restored outside the queue (snapshot resume).
func (q *Queue) Seed(id string, origin Origin, pos Vec3) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.roster[id]
	if m == nil {
		m = &member{moves: rate.NewLimiter(rate.Limit(q.opts.MoveRate), q.opts.MoveBurst)}
		q.roster[id] = m
	}
	m.origin = origin
	m.x, m.y, m.z = pos.X, pos.Y, pos.Z
}

func (q *Queue) Options() Options { return q.opts }

// NormalizeText applies NFC normalization, trims surrounding space and caps
// the text at max code points. ok is false when nothing remains.
func NormalizeText(s string, max int) (string, bool) {
	s = strings.TrimSpace(norm.NFC.String(s))
	if max > 0 && utf8.RuneCountInString(s) > max {
		r := []rune(s)
		s = strings.TrimSpace(string(r[:max]))
	}
	return s, s != ""
}
