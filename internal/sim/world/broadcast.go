package world

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/protocol"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/clients"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
)

// sessionView is what a session was last told about: the entity ids it
// currently holds on the client side.
type sessionView struct {
	known map[string]struct{}
}

func (w *World) broadcast(tick uint64, now time.Time) {
	if w.clients.Size() == 0 {
		for id := range w.views {
			delete(w.views, id)
		}
		return
	}
	sessions := w.clients.Sessions()
	live := make(map[clients.SessionID]struct{}, len(sessions))
	ts := now.UnixMilli()

	for _, s := range sessions {
		live[s.ID] = struct{}{}
		v := w.views[s.ID]
		if v == nil {
			v = &sessionView{known: map[string]struct{}{}}
			w.views[s.ID] = v
		}

		visible := w.visibleTo(s)
		if s.NeedsSnapshot() {
			msg := protocol.FullMsg{Type: protocol.TypeFull, Tick: tick, Timestamp: ts, Entities: w.entityViews(visible)}
			if !w.send(s, msg) {
				delete(w.views, s.ID)
				continue
			}
			consumed := 0
			if s.PendingSnapshots > 0 {
				consumed = 1
			}
			w.clients.MarkSent(s.Conn, tick, consumed)
			v.known = toSet(visible)
			continue
		}

		msg, ok := w.delta(tick, ts, v, visible)
		if ok && !w.send(s, msg) {
			delete(w.views, s.ID)
			continue
		}
		w.clients.MarkSent(s.Conn, tick, 0)
		v.known = toSet(visible)
	}

	for id := range w.views {
		if _, ok := live[id]; !ok {
			delete(w.views, id)
		}
	}
}

// send pushes msg without blocking. On failure the connection is dropped and
// its controlled entity gets a Leave for the next tick.
func (w *World) send(s clients.Session, msg any) bool {
	err := s.Conn.Send(msg)
	if err == nil {
		return true
	}
	w.sendFailures.Add(1)
	w.log.Info("send failed; dropping connection",
		zap.String("session", string(s.ID)),
		zap.String("controlled", s.Controlled),
		zap.Error(err))
	w.clients.RemoveConnection(s.Conn)
	s.Conn.Close()
	return false
}

// interestCenter picks the follow target when it exists, else the viewport.
// ok is false for sessions that asked for neither and see the whole room.
func (w *World) interestCenter(s clients.Session) (x, z float64, ok bool) {
	if s.Follow != "" {
		if e := w.state.Get(s.Follow); e != nil {
			return e.X, e.Z, true
		}
	}
	if s.Viewport != nil {
		return s.Viewport.X, s.Viewport.Z, true
	}
	return 0, 0, false
}

func (w *World) visibleTo(s clients.Session) []string {
	x, z, ok := w.interestCenter(s)
	if !ok {
		return w.state.IDs()
	}
	return w.grid.Query(x, z, w.cfg.AOIRadius)
}

func (w *World) delta(tick uint64, ts int64, v *sessionView, visible []string) (protocol.DeltaMsg, bool) {
	msg := protocol.DeltaMsg{Type: protocol.TypeDelta, Tick: tick, Timestamp: ts}
	inRange := make(map[string]struct{}, len(visible))
	for _, id := range visible {
		inRange[id] = struct{}{}
		_, known := v.known[id]
		_, changed := w.dirty[id]
		if !known || changed {
			msg.Entities = append(msg.Entities, w.entityView(w.state.Get(id)))
		}
	}
	for id := range v.known {
		if _, ok := inRange[id]; !ok {
			msg.Removed = append(msg.Removed, id)
		}
	}
	sort.Strings(msg.Removed)
	for _, ev := range w.tickEvents {
		switch ev.Type {
		case command.KindChat, command.KindEmote, command.KindAction:
		default:
			continue
		}
		if _, ok := inRange[ev.AgentID]; !ok {
			continue
		}
		msg.Events = append(msg.Events, EventView(ev))
	}
	if len(msg.Entities) == 0 && len(msg.Removed) == 0 && len(msg.Events) == 0 {
		return msg, false
	}
	if msg.Entities == nil {
		msg.Entities = []protocol.EntityView{}
	}
	return msg, true
}

func (w *World) entityViews(ids []string) []protocol.EntityView {
	out := make([]protocol.EntityView, 0, len(ids))
	for _, id := range ids {
		if e := w.state.Get(id); e != nil {
			out = append(out, w.entityView(e))
		}
	}
	return out
}

func (w *World) entityView(e *Entity) protocol.EntityView {
	return protocol.EntityView{
		AgentID:   e.ID,
		Name:      e.Name,
		Color:     e.Color,
		X:         e.X,
		Y:         e.Y,
		Z:         e.Z,
		Rotation:  e.Rotation,
		Action:    string(e.Action),
		Target:    e.Target,
		Emote:     string(e.Emote),
		Chat:      e.LastChat,
		UpdatedAt: e.UpdatedAt.UnixMilli(),
	}
}

// EventView is the wire form of a committed event.
func EventView(ev Event) protocol.EventView {
	return protocol.EventView{
		Tick:      ev.Tick,
		Type:      string(ev.Type),
		AgentID:   ev.AgentID,
		Timestamp: ev.At.UnixMilli(),
		Text:      ev.Payload.Text,
		Action:    string(ev.Payload.Action),
		Target:    ev.Payload.Target,
		Emote:     string(ev.Payload.Emote),
	}
}

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
