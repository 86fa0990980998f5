package eventstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/world"
)

func openTemp(t *testing.T, room string) *Store {
	t.Helper()
	s, err := Open(context.Background(), room, filepath.Join(t.TempDir(), "events.sqlite"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecentOrderAndKindFilter(t *testing.T) {
	s := openTemp(t, "lobby")
	ctx := context.Background()
	at := time.Unix(1700000000, 0).UTC()

	_ = s.WriteEvents(1, []world.Event{
		{Tick: 1, Type: command.KindJoin, AgentID: "alice", At: at, Payload: world.Payload{Name: "Alice"}},
		{Tick: 1, Type: command.KindChat, AgentID: "alice", At: at, Payload: world.Payload{Text: "one"}},
	})
	_ = s.WriteEvents(2, []world.Event{
		{Tick: 2, Type: command.KindChat, AgentID: "alice", At: at.Add(time.Second), Origin: command.Remote, Payload: world.Payload{Text: "two"}},
		{Tick: 2, Type: command.KindEmote, AgentID: "alice", At: at.Add(time.Second), Payload: world.Payload{Emote: command.EmoteHappy}},
	})
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	all, err := s.Recent(ctx, 3, "")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(all) != 3 || all[0].Text != "one" || all[2].Emote != "happy" {
		t.Fatalf("unexpected recent: %+v", all)
	}

	chats, err := s.Recent(ctx, 10, "chat")
	if err != nil {
		t.Fatalf("recent chat: %v", err)
	}
	if len(chats) != 2 || chats[1].Text != "two" || chats[1].Timestamp != at.Add(time.Second).UnixMilli() {
		t.Fatalf("unexpected chats: %+v", chats)
	}

	var sb strings.Builder
	s.WriteMetrics(&sb, "lobby")
	if !strings.Contains(sb.String(), `realm_eventstore_written_total{room="lobby"} 4`) {
		t.Fatalf("metrics:\n%s", sb.String())
	}
}

func TestStore_RoomsAreIsolated(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "shared.sqlite")
	ctx := context.Background()

	a, err := Open(ctx, "lobby", dsn, nil)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	_ = a.WriteEvents(1, []world.Event{{Tick: 1, Type: command.KindJoin, AgentID: "alice", At: time.Now()}})
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	_ = a.Close()

	// Reopening re-runs migrations against an up-to-date schema.
	b, err := Open(ctx, "plaza", "sqlite:"+dsn, nil)
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()
	evs, err := b.Recent(ctx, 10, "")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(evs) != 0 {
		t.Fatalf("plaza sees lobby events: %+v", evs)
	}
}

func TestOpen_EmptyDSN(t *testing.T) {
	if _, err := Open(context.Background(), "lobby", "", nil); err == nil {
		t.Fatalf("expected error")
	}
}
