package world

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
)

func (w *World) step(now time.Time) {
	stepStart := time.Now()
	nowTick := w.tick.Load() + 1
	w.state.tick = nowTick
	w.tick.Store(nowTick)

	w.tickEvents = w.tickEvents[:0]
	for id := range w.dirty {
		delete(w.dirty, id)
	}

	// Commands enqueued after this swap belong to the next tick.
	cmds := w.queue.Drain()
	w.applyAll(nowTick, cmds)

	w.broadcast(nowTick, now)

	if len(w.tickEvents) > 0 {
		events := append([]Event(nil), w.tickEvents...)
		w.eventsTotal.Add(uint64(len(events)))
		for _, s := range w.sinks {
			if err := s.WriteEvents(nowTick, events); err != nil {
				w.log.Warn("event sink", zap.Uint64("tick", nowTick), zap.Error(err))
			}
		}
	}

	w.maybeSnapshot(nowTick, now)
	if len(cmds) > 0 {
		w.publish()
	}

	elapsed := time.Since(stepStart)
	period := time.Second / time.Duration(w.cfg.TickRateHz)
	if elapsed > period {
		w.missedDeadlines.Add(1)
		w.log.Warn("tick missed deadline",
			zap.Uint64("tick", nowTick),
			zap.Duration("elapsed", elapsed),
			zap.Duration("period", period))
	}
	w.storeMetrics(nowTick, len(cmds), elapsed)
}

// applyAll mutates State. A panic here means an invariant broke; there is no
// consistent partial tick to continue from, so it is logged and re-raised.
func (w *World) applyAll(tick uint64, cmds []command.Command) {
	var cur command.Command
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("panic applying command",
				zap.Uint64("tick", tick),
				zap.String("kind", string(cur.Kind)),
				zap.String("agent", cur.AgentID),
				zap.String("origin", cur.Origin.String()),
				zap.Any("panic", r),
				zap.Stack("stack"))
			panic(fmt.Sprintf("world %s: apply %s for %s: %v", w.cfg.ID, cur.Kind, cur.AgentID, r))
		}
	}()
	for _, cmd := range cmds {
		cur = cmd
		w.apply(tick, cmd)
	}
}

func (w *World) apply(tick uint64, cmd command.Command) {
	ev := Event{Tick: tick, Type: cmd.Kind, AgentID: cmd.AgentID, At: cmd.At, Origin: cmd.Origin}

	if cmd.Kind == command.KindJoin {
		w.applyJoin(cmd, &ev)
		w.record(ev)
		return
	}

	e := w.state.Get(cmd.AgentID)
	if e == nil {
		// The queue roster admitted it, but a Leave earlier in this tick
		// already removed the entity.
		return
	}

	switch cmd.Kind {
	case command.KindLeave:
		w.state.Delete(e.ID)
		w.grid.Remove(e.ID)
		delete(w.dirty, e.ID)
		if _, ok := w.clients.ReleaseEntity(e.ID); ok {
			w.log.Debug("released controlled entity", zap.String("agent", e.ID))
		}

	case command.KindPosition:
		p := cmd.Position
		e.X, e.Y, e.Z, e.Rotation = p.X, p.Y, p.Z, p.Rotation
		w.grid.Update(e.ID, e.X, e.Z)
		ev.Payload.Position = &Vec{X: e.X, Y: e.Y, Z: e.Z, Rotation: e.Rotation}

	case command.KindAction:
		e.Action = cmd.Action.Kind
		e.Target = cmd.Action.Target
		ev.Payload.Action = e.Action
		ev.Payload.Target = e.Target

	case command.KindChat:
		text := w.filter.RedactSecrets(w.filter.Filter(cmd.Chat.Text))
		e.LastChat = text
		ev.Payload.Text = text

	case command.KindEmote:
		e.Emote = cmd.Emote.Kind
		ev.Payload.Emote = e.Emote

	default:
		panic(fmt.Sprintf("unknown command kind %q", cmd.Kind))
	}

	if cmd.Kind != command.KindLeave {
		e.UpdatedAt = cmd.At
		w.dirty[e.ID] = struct{}{}
	}
	w.record(ev)
}

func (w *World) applyJoin(cmd command.Command, ev *Event) {
	j := cmd.Join
	e := &Entity{
		ID:        cmd.AgentID,
		Name:      j.Name,
		Color:     j.Color,
		Bio:       j.Bio,
		Skills:    append([]command.Skill(nil), j.Skills...),
		Action:    command.ActionIdle,
		Present:   true,
		Origin:    cmd.Origin,
		JoinedAt:  cmd.At,
		UpdatedAt: cmd.At,
	}
	if _, ok := w.clients.ControllerOf(cmd.AgentID); ok {
		e.Controlled = true
	}
	if p, ok := w.registry.Lookup(cmd.AgentID); ok {
		if p.Name != "" {
			e.Name = p.Name
		}
		if p.Color != "" {
			e.Color = p.Color
		}
		if p.Bio != "" {
			e.Bio = p.Bio
		}
		if len(p.Skills) > 0 {
			e.Skills = append([]command.Skill(nil), p.Skills...)
		}
	}
	if e.Name == "" {
		e.Name = e.ID
	}
	spawn := w.cfg.Spawn
	if j.Spawn != nil {
		spawn = *j.Spawn
	}
	e.X, e.Y, e.Z = spawn.X, spawn.Y, spawn.Z

	w.state.Put(e)
	w.grid.Update(e.ID, e.X, e.Z)
	w.dirty[e.ID] = struct{}{}

	ev.Payload = Payload{
		Name:     e.Name,
		Color:    e.Color,
		Bio:      e.Bio,
		Skills:   e.Skills,
		Position: &Vec{X: e.X, Y: e.Y, Z: e.Z, Rotation: e.Rotation},
	}
}

func (w *World) record(ev Event) {
	w.state.log.Append(ev)
	w.tickEvents = append(w.tickEvents, ev)
}
