package world

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/persistence/snapshot"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
)

func (w *World) maybeSnapshot(tick uint64, now time.Time) {
	every := uint64(w.cfg.SnapshotEveryTicks)
	if w.snapshotSink == nil || every == 0 || tick%every != 0 {
		return
	}
	snap := w.ExportSnapshot(now)
	select {
	case w.snapshotSink <- snap:
	default:
		w.log.Warn("snapshot writer busy; skipping", zap.Uint64("tick", tick))
	}
}

// ExportSnapshot copies the room state. Loop goroutine only.
func (w *World) ExportSnapshot(now time.Time) snapshot.RoomV1 {
	snap := snapshot.RoomV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			RoomID:  w.cfg.ID,
			Tick:    w.state.tick,
			SavedAt: now.UnixMilli(),
		},
	}
	for _, id := range w.state.IDs() {
		if !w.queue.Known(id) {
			// Leave already queued.
			continue
		}
		e := w.state.Get(id)
		ev := snapshot.EntityV1{
			ID:        e.ID,
			Name:      e.Name,
			Color:     e.Color,
			Bio:       e.Bio,
			Pos:       [3]float64{e.X, e.Y, e.Z},
			Rotation:  e.Rotation,
			Action:    string(e.Action),
			Target:    e.Target,
			Emote:     string(e.Emote),
			LastChat:  e.LastChat,
			Origin:    e.Origin.String(),
			JoinedAt:  e.JoinedAt.UnixMilli(),
			UpdatedAt: e.UpdatedAt.UnixMilli(),
		}
		if _, ok := w.clients.ControllerOf(e.ID); ok || e.Controlled {
			ev.Controlled = true
		}
		for _, s := range e.Skills {
			ev.Skills = append(ev.Skills, snapshot.SkillV1{ID: s.ID, Name: s.Name, Description: s.Description})
		}
		snap.Entities = append(snap.Entities, ev)
	}
	return snap
}

// ImportSnapshot restores a room before Run. Remote-homed entities are not
// restored; their home instance will re-announce them. Connection-driven
// avatars are dropped too, since no connection survives a restart.
func (w *World) ImportSnapshot(snap snapshot.RoomV1) error {
	if snap.Header.RoomID != "" && snap.Header.RoomID != w.cfg.ID {
		return fmt.Errorf("snapshot room %q does not match %q", snap.Header.RoomID, w.cfg.ID)
	}
	for _, ev := range snap.Entities {
		var origin command.Origin
		if err := origin.UnmarshalText([]byte(ev.Origin)); err != nil {
			return fmt.Errorf("entity %s: %w", ev.ID, err)
		}
		if origin == command.Remote || ev.Controlled {
			continue
		}
		e := &Entity{
			ID:        ev.ID,
			Name:      ev.Name,
			Color:     ev.Color,
			Bio:       ev.Bio,
			X:         ev.Pos[0],
			Y:         ev.Pos[1],
			Z:         ev.Pos[2],
			Rotation:  ev.Rotation,
			Action:    command.ActionKind(ev.Action),
			Target:    ev.Target,
			Emote:     command.EmoteKind(ev.Emote),
			LastChat:  ev.LastChat,
			Present:   true,
			Origin:    origin,
			JoinedAt:  time.UnixMilli(ev.JoinedAt),
			UpdatedAt: time.UnixMilli(ev.UpdatedAt),
		}
		if !e.Action.Valid() {
			e.Action = command.ActionIdle
		}
		for _, s := range ev.Skills {
			e.Skills = append(e.Skills, command.Skill{ID: s.ID, Name: s.Name, Description: s.Description})
		}
		w.state.Put(e)
		w.grid.Update(e.ID, e.X, e.Z)
		w.queue.Seed(e.ID, origin, command.Vec3{X: e.X, Y: e.Y, Z: e.Z})
	}
	w.state.tick = snap.Header.Tick
	w.tick.Store(snap.Header.Tick)
	w.publish()
	w.log.Info("resumed from snapshot",
		zap.Uint64("tick", snap.Header.Tick),
		zap.Int("entities", w.state.Len()))
	return nil
}
