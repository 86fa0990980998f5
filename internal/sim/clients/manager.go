// Package clients keeps the bookkeeping for live connections: acknowledged
// tick, interest center and the entity a connection controls.
package clients

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
)

var (
	ErrUnknownConnection = errors.New("clients: unknown connection")
	ErrAlreadyBound      = errors.New("clients: connection already controls an entity")
	ErrEntityControlled  = errors.New("clients: entity controlled by another connection")
	ErrNotBound          = errors.New("clients: connection controls no entity")
	ErrInvalidViewport   = errors.New("clients: viewport is not a finite point")
)

// Conn is a connection handle. Send must not block; a full buffer or a dead
// peer is reported as an error.
type Conn interface {
	Send(msg any) error
	Close()
}

// Enqueuer accepts synthesized commands (the Leave issued on disconnect).
type Enqueuer interface {
	Enqueue(cmd command.Command) command.Result
}

type SessionID string

type Point struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// Session is a copy of one connection's state, safe to read without locks.
type Session struct {
	ID          SessionID
	Conn        Conn
	ConnectedAt time.Time

	// LastAckTick is the last tick broadcast to this session; 0 means the
	// next broadcast must be a full snapshot.
	LastAckTick      uint64
	PendingSnapshots int

	Viewport   *Point
	Follow     string
	Controlled string
}

// NeedsSnapshot reports whether the next broadcast must be a full snapshot.
func (s Session) NeedsSnapshot() bool {
	return s.LastAckTick == 0 || s.PendingSnapshots > 0
}

type Manager struct {
	q   Enqueuer
	log *zap.Logger
	now func() time.Time

	mu         sync.Mutex
	halfExtent float64
	seq        uint64
	sessions   map[Conn]*Session
	controlled map[string]Conn
}

func NewManager(q Enqueuer, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		q:          q,
		log:        log,
		now:        time.Now,
		sessions:   map[Conn]*Session{},
		controlled: map[string]Conn{},
	}
}

func (m *Manager) AddConnection(c Conn) SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[c]; ok {
		return s.ID
	}
	m.seq++
	s := &Session{
		ID:          SessionID(fmt.Sprintf("sess_%d", m.seq)),
		Conn:        c,
		ConnectedAt: m.now(),
	}
	m.sessions[c] = s
	return s.ID
}

// RemoveConnection forgets c. A controlled entity gets a Leave enqueued
// before the session record goes away. Removing twice is a no-op; the
// return value reports whether c was live.
func (m *Manager) RemoveConnection(c Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[c]
	if !ok {
		return false
	}
	if s.Controlled != "" {
		if m.q != nil {
			leave := command.NewLeave(s.Controlled)
			if res := m.q.Enqueue(leave); !res.OK {
				m.log.Debug("disconnect leave rejected",
					zap.String("session", string(s.ID)),
					zap.String("agent", s.Controlled),
					zap.String("reason", res.Reason))
			}
		}
		delete(m.controlled, s.Controlled)
	}
	delete(m.sessions, c)
	return true
}

// SetBounds limits viewports to the square of the given half-extent. Zero
// leaves them unclamped.
func (m *Manager) SetBounds(halfExtent float64) {
	m.mu.Lock()
	m.halfExtent = halfExtent
	m.mu.Unlock()
}

// SetViewport centers the session's interest on (x,z), clamped to the room.
func (m *Manager) SetViewport(c Conn, x, z float64) error {
	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(z) || math.IsInf(z, 0) {
		return ErrInvalidViewport
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[c]
	if !ok {
		return ErrUnknownConnection
	}
	if h := m.halfExtent; h > 0 {
		x = math.Max(-h, math.Min(h, x))
		z = math.Max(-h, math.Min(h, z))
	}
	s.Viewport = &Point{X: x, Z: z}
	return nil
}

// SetFollowEntity centers the session's interest on entityID; an empty id
// clears the follow target.
func (m *Manager) SetFollowEntity(c Conn, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[c]
	if !ok {
		return ErrUnknownConnection
	}
	s.Follow = entityID
	return nil
}

func (m *Manager) BindControlledEntity(c Conn, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[c]
	if !ok {
		return ErrUnknownConnection
	}
	if s.Controlled != "" {
		return ErrAlreadyBound
	}
	if owner, taken := m.controlled[entityID]; taken && owner != c {
		return ErrEntityControlled
	}
	s.Controlled = entityID
	m.controlled[entityID] = c
	return nil
}

// UnbindControlledEntity releases the controlled entity and returns its id.
func (m *Manager) UnbindControlledEntity(c Conn) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[c]
	if !ok {
		return "", ErrUnknownConnection
	}
	if s.Controlled == "" {
		return "", ErrNotBound
	}
	id := s.Controlled
	s.Controlled = ""
	delete(m.controlled, id)
	return id, nil
}

// ReleaseEntity unbinds whichever connection controls entityID. It is called
// when the entity leaves the room by a path other than that connection.
func (m *Manager) ReleaseEntity(entityID string) (Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.controlled[entityID]
	if !ok {
		return nil, false
	}
	delete(m.controlled, entityID)
	if s := m.sessions[c]; s != nil && s.Controlled == entityID {
		s.Controlled = ""
	}
	return c, true
}

func (m *Manager) ControlledEntity(c Conn) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[c]
	if !ok || s.Controlled == "" {
		return "", false
	}
	return s.Controlled, true
}

// ControllerOf returns the connection bound to entityID.
func (m *Manager) ControllerOf(entityID string) (Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.controlled[entityID]
	return c, ok
}

// RequestSnapshot forces a full snapshot on the next broadcast. Each call
// yields its own snapshot, one per tick.
func (m *Manager) RequestSnapshot(c Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[c]
	if !ok {
		return ErrUnknownConnection
	}
	s.LastAckTick = 0
	s.PendingSnapshots++
	return nil
}

// MarkSent records a broadcast at tick. consumed is the number of pending
// snapshot requests the broadcast satisfied.
func (m *Manager) MarkSent(c Conn, tick uint64, consumed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[c]
	if !ok {
		return
	}
	s.LastAckTick = tick
	if consumed > s.PendingSnapshots {
		consumed = s.PendingSnapshots
	}
	s.PendingSnapshots -= consumed
	if s.PendingSnapshots > 0 {
		s.LastAckTick = 0
	}
}

func (m *Manager) Session(c Conn) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[c]
	if !ok {
		return Session{}, false
	}
	return copySession(s), true
}

// Sessions returns copies of every live session ordered by id.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, copySession(s))
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].ID) != len(out[j].ID) {
			return len(out[i].ID) < len(out[j].ID)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func copySession(s *Session) Session {
	cp := *s
	if s.Viewport != nil {
		v := *s.Viewport
		cp.Viewport = &v
	}
	return cp
}
