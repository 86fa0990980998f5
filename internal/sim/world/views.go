package world

import (
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/protocol"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
)

const recentEventsKept = 200

// published is an immutable read model swapped in by the loop so request
// handlers never touch loop-owned state.
type published struct {
	room     protocol.RoomInfo
	profiles []protocol.Profile
	byID     map[string]int
	recent   []Event
}

func (w *World) publish() {
	p := &published{
		room: protocol.RoomInfo{
			ID:          w.cfg.ID,
			Name:        w.cfg.Name,
			Description: w.cfg.Description,
			Channel:     w.cfg.Channel,
			TickRateHz:  w.cfg.TickRateHz,
			MaxEntities: w.cfg.MaxEntities,
			HalfExtent:  w.cfg.HalfExtent,
			AOIRadius:   w.cfg.AOIRadius,
			Entities:    w.state.Len(),
			Tick:        w.state.tick,
		},
		byID:   make(map[string]int, w.state.Len()),
		recent: w.state.log.Recent(recentEventsKept),
	}
	for _, o := range w.cfg.Obstacles {
		p.room.Obstacles = append(p.room.Obstacles, protocol.Obstacle{X: o.X, Z: o.Z, Radius: o.Radius})
	}
	for _, id := range w.state.IDs() {
		e := w.state.Get(id)
		p.byID[id] = len(p.profiles)
		p.profiles = append(p.profiles, profileView(e))
	}
	w.published.Store(p)
}

func profileView(e *Entity) protocol.Profile {
	pr := protocol.Profile{
		AgentID:  e.ID,
		Name:     e.Name,
		Color:    e.Color,
		Bio:      e.Bio,
		Origin:   e.Origin.String(),
		JoinedAt: e.JoinedAt.UnixMilli(),
	}
	for _, s := range e.Skills {
		pr.Skills = append(pr.Skills, protocol.Skill{ID: s.ID, Name: s.Name, Description: s.Description})
	}
	return pr
}

func (w *World) RoomInfo() protocol.RoomInfo {
	p := w.published.Load()
	room := p.room
	room.Tick = w.CurrentTick()
	room.Obstacles = append([]protocol.Obstacle(nil), p.room.Obstacles...)
	return room
}

func (w *World) Profiles() []protocol.Profile {
	p := w.published.Load()
	return append([]protocol.Profile(nil), p.profiles...)
}

func (w *World) Profile(agentID string) (protocol.Profile, bool) {
	p := w.published.Load()
	i, ok := p.byID[agentID]
	if !ok {
		return protocol.Profile{}, false
	}
	return p.profiles[i], true
}

// RecentEvents returns up to limit of the newest committed events, optionally
// restricted to one kind.
func (w *World) RecentEvents(limit int, kind command.Kind) []Event {
	p := w.published.Load()
	out := make([]Event, 0, len(p.recent))
	for _, ev := range p.recent {
		if kind != "" && ev.Type != kind {
			continue
		}
		out = append(out, ev)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (w *World) Health() protocol.Health {
	return protocol.Health{
		Tick:       w.CurrentTick(),
		TickRateHz: w.cfg.TickRateHz,
		Sessions:   w.clients.Size(),
		Entities:   w.published.Load().room.Entities,
	}
}
