package intake

import (
	"testing"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/protocol"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
)

func TestFromSubmit(t *testing.T) {
	cases := []struct {
		name string
		req  protocol.SubmitRequest
		kind command.Kind
		code string
	}{
		{"join", protocol.SubmitRequest{Command: "join", AgentID: "a", Args: map[string]any{"name": "A", "x": 3.0, "z": 4.0}}, command.KindJoin, ""},
		{"prefixed move", protocol.SubmitRequest{Command: "world-move", AgentID: "a", Args: map[string]any{"x": 1.0, "z": 2.0, "rotation": 0.5}}, command.KindPosition, ""},
		{"move missing z", protocol.SubmitRequest{Command: "move", AgentID: "a", Args: map[string]any{"x": 1.0}}, "", protocol.ErrInvalidCommand},
		{"move wrong type", protocol.SubmitRequest{Command: "move", AgentID: "a", Args: map[string]any{"x": "far", "z": 1.0}}, "", protocol.ErrInvalidCommand},
		{"action", protocol.SubmitRequest{Command: "action", AgentID: "a", Args: map[string]any{"action": "wave", "target": "b"}}, command.KindAction, ""},
		{"chat", protocol.SubmitRequest{Command: "chat", AgentID: "a", Args: map[string]any{"text": "hi"}}, command.KindChat, ""},
		{"emote", protocol.SubmitRequest{Command: "emote", AgentID: "a", Args: map[string]any{"emote": "happy"}}, command.KindEmote, ""},
		{"leave", protocol.SubmitRequest{Command: "leave", AgentID: "a"}, command.KindLeave, ""},
		{"no agent", protocol.SubmitRequest{Command: "leave"}, "", protocol.ErrInvalidCommand},
		{"unknown", protocol.SubmitRequest{Command: "teleport", AgentID: "a"}, "", protocol.ErrInvalidCommand},
	}
	for _, tc := range cases {
		cmd, err := FromSubmit(tc.req)
		if tc.code != "" {
			if err == nil || Code(err) != tc.code {
				t.Fatalf("%s: err = %v, want %s", tc.name, err, tc.code)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if cmd.Kind != tc.kind || cmd.AgentID != "a" {
			t.Fatalf("%s: cmd = %+v", tc.name, cmd)
		}
	}
}

func TestFromSubmit_JoinSpawn(t *testing.T) {
	cmd, err := FromSubmit(protocol.SubmitRequest{Command: "join", AgentID: "a", Args: map[string]any{"x": 3.0, "y": 1.0, "z": 4.0}})
	if err != nil {
		t.Fatalf("FromSubmit: %v", err)
	}
	if s := cmd.Join.Spawn; s == nil || s.X != 3 || s.Y != 1 || s.Z != 4 {
		t.Fatalf("spawn = %+v", s)
	}
}

func TestSubmit_SharesQueueValidation(t *testing.T) {
	q := command.NewQueue(command.Options{HalfExtent: 50})
	if res := Submit(q, protocol.SubmitRequest{Command: "move", AgentID: "ghost", Args: map[string]any{"x": 1.0, "z": 1.0}}); res.OK || res.Reason != protocol.ErrUnknownEntity {
		t.Fatalf("move unknown = %+v", res)
	}
	if res := Submit(q, protocol.SubmitRequest{Command: "join", AgentID: "a"}); !res.OK {
		t.Fatalf("join = %+v", res)
	}
	if res := Submit(q, protocol.SubmitRequest{Command: "chat", AgentID: "a", Args: map[string]any{"text": "   "}}); res.OK || res.Reason != protocol.ErrEmptyText {
		t.Fatalf("empty chat = %+v", res)
	}
	if res := Submit(q, protocol.SubmitRequest{Command: "action", AgentID: "a", Args: map[string]any{"action": "fly"}}); res.OK || res.Reason != protocol.ErrInvalidCommand {
		t.Fatalf("bad action = %+v", res)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
}

func TestFromPlayer(t *testing.T) {
	cmd, err := FromPlayer("player-1", protocol.TypePlayerMove, []byte(`{"type":"playerMove","x":4,"z":-2,"rotation":1.5}`))
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if p := cmd.Position; p == nil || p.X != 4 || p.Z != -2 || p.Rotation != 1.5 || cmd.AgentID != "player-1" {
		t.Fatalf("move = %+v", cmd)
	}
	if cmd, _ := FromPlayer("player-1", protocol.TypePlayerLeave, nil); cmd.Kind != command.KindLeave {
		t.Fatalf("leave = %+v", cmd)
	}
	if _, err := FromPlayer("player-1", protocol.TypeSubscribe, nil); err == nil {
		t.Fatalf("subscribe should not map to a command")
	}
}
