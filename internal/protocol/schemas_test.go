package protocol_test

import (
	"testing"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	valid := map[string]string{
		protocol.TypeSubscribe:       `{"type":"subscribe"}`,
		protocol.TypeRequestProfiles: `{"type":"requestProfiles"}`,
		protocol.TypeRequestProfile:  `{"type":"requestProfile","agentId":"agent-1"}`,
		protocol.TypeViewport:        `{"type":"viewport","x":1.5,"z":-3}`,
		protocol.TypeFollow:          `{"type":"follow","agentId":"agent-1"}`,
		protocol.TypeRequestRoomInfo: `{"type":"requestRoomInfo"}`,
		protocol.TypePlayerJoin:      `{"type":"playerJoin","name":"Ada","color":"#ff8800"}`,
		protocol.TypePlayerMove:      `{"type":"playerMove","x":10,"z":5,"rotation":0.5}`,
		protocol.TypePlayerChat:      `{"type":"playerChat","text":"hello"}`,
		protocol.TypePlayerAction:    `{"type":"playerAction","action":"wave"}`,
		protocol.TypePlayerLeave:     `{"type":"playerLeave"}`,
	}
	for typ, raw := range valid {
		if !v.Knows(typ) {
			t.Fatalf("no schema for %s", typ)
		}
		if err := v.Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("validate %s: %v", typ, err)
		}
	}

	invalid := map[string]string{
		protocol.TypeViewport:       `{"type":"viewport","x":"left","z":0}`,
		protocol.TypePlayerMove:     `{"type":"playerMove","x":1}`,
		protocol.TypePlayerJoin:     `{"type":"playerJoin","name":""}`,
		protocol.TypePlayerChat:     `{"type":"playerChat","text":42}`,
		protocol.TypeRequestProfile: `{"type":"requestProfile"}`,
	}
	for _, raw := range []string{
		`{"type":"viewport","x":21474836435,"z":0}`,
		`{"type":"viewport","x":0,"z":-1e300}`,
	} {
		if err := v.Validate(protocol.TypeViewport, []byte(raw)); err == nil {
			t.Fatalf("expected out-of-range viewport to fail: %s", raw)
		}
	}
	for typ, raw := range invalid {
		if err := v.Validate(typ, []byte(raw)); err == nil {
			t.Fatalf("expected %s to fail: %s", typ, raw)
		}
	}

	if err := v.Validate("teleport", []byte(`{"type":"teleport"}`)); err == nil {
		t.Fatalf("expected unknown type rejected")
	}
}
