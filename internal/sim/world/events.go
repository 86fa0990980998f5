package world

import (
	"time"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
)

type Vec struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Rotation float64 `json:"rotation"`
}

type Payload struct {
	Name     string             `json:"name,omitempty"`
	Color    string             `json:"color,omitempty"`
	Bio      string             `json:"bio,omitempty"`
	Skills   []command.Skill    `json:"skills,omitempty"`
	Position *Vec               `json:"position,omitempty"`
	Action   command.ActionKind `json:"action,omitempty"`
	Target   string             `json:"target,omitempty"`
	Text     string             `json:"text,omitempty"`
	Emote    command.EmoteKind  `json:"emote,omitempty"`
}

// Event is one committed world mutation.
type Event struct {
	Tick    uint64         `json:"tick"`
	Type    command.Kind   `json:"type"`
	AgentID string         `json:"agentId"`
	At      time.Time      `json:"timestamp"`
	Origin  command.Origin `json:"origin"`
	Payload Payload        `json:"payload"`
}

// EventSink receives the events committed by each tick. Implementations run
// on the loop goroutine and must not block.
type EventSink interface {
	WriteEvents(tick uint64, events []Event) error
}

// EventLog is a bounded ring of events, oldest evicted first.
type EventLog struct {
	buf   []Event
	start int
	n     int
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventLog{buf: make([]Event, capacity)}
}

func (l *EventLog) Append(e Event) {
	if l.n < len(l.buf) {
		l.buf[(l.start+l.n)%len(l.buf)] = e
		l.n++
		return
	}
	l.buf[l.start] = e
	l.start = (l.start + 1) % len(l.buf)
}

func (l *EventLog) Len() int { return l.n }

func (l *EventLog) Cap() int { return len(l.buf) }

// Events returns a copy, oldest first.
func (l *EventLog) Events() []Event {
	out := make([]Event, 0, l.n)
	for i := 0; i < l.n; i++ {
		out = append(out, l.buf[(l.start+i)%len(l.buf)])
	}
	return out
}

// Recent returns up to limit of the newest events, oldest first.
func (l *EventLog) Recent(limit int) []Event {
	all := l.Events()
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}
