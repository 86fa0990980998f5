package world

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/protocol"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
)

type recConn struct {
	mu     sync.Mutex
	msgs   []any
	fail   bool
	closed bool
}

func (c *recConn) Send(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("send buffer full")
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *recConn) take() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.msgs
	c.msgs = nil
	return out
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time {
	c.t = c.t.Add(50 * time.Millisecond)
	return c.t
}

type harness struct {
	t   *testing.T
	w   *World
	clk *fixedClock
}

func newHarness(t *testing.T, cfg Config, deps Deps) *harness {
	t.Helper()
	clk := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	if deps.Now == nil {
		deps.Now = clk.now
	}
	return &harness{t: t, w: New(cfg, deps), clk: clk}
}

func (h *harness) enqueue(cmd command.Command) {
	h.t.Helper()
	if res := h.w.Queue().Enqueue(cmd); !res.OK {
		h.t.Fatalf("enqueue %s %s: %s", cmd.Kind, cmd.AgentID, res.Reason)
	}
}

func (h *harness) step() uint64 {
	return h.w.StepOnce(h.clk.now())
}

func (h *harness) connect() *recConn {
	c := &recConn{}
	h.w.Clients().AddConnection(c)
	return c
}

func fulls(msgs []any) []protocol.FullMsg {
	var out []protocol.FullMsg
	for _, m := range msgs {
		if f, ok := m.(protocol.FullMsg); ok {
			out = append(out, f)
		}
	}
	return out
}

func deltas(msgs []any) []protocol.DeltaMsg {
	var out []protocol.DeltaMsg
	for _, m := range msgs {
		if d, ok := m.(protocol.DeltaMsg); ok {
			out = append(out, d)
		}
	}
	return out
}

func findEntity(ents []protocol.EntityView, id string) (protocol.EntityView, bool) {
	for _, e := range ents {
		if e.AgentID == id {
			return e, true
		}
	}
	return protocol.EntityView{}, false
}

type sinkRecorder struct {
	ticks  []uint64
	events []Event
}

func (s *sinkRecorder) WriteEvents(tick uint64, events []Event) error {
	s.ticks = append(s.ticks, tick)
	s.events = append(s.events, events...)
	return nil
}
