// Package intake translates wire messages and submission requests into queue
// commands. Both the websocket bridge and the HTTP endpoint go through here so
// they share one mapping and the queue's validation.
package intake

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/protocol"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
)

// Error carries a protocol reason code.
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code
	}
	return e.Code + ": " + e.Msg
}

func invalid(format string, args ...any) *Error {
	return &Error{Code: protocol.ErrInvalidCommand, Msg: fmt.Sprintf(format, args...)}
}

// Enqueuer is the queue surface intake needs.
type Enqueuer interface {
	Enqueue(cmd command.Command) command.Result
}

type submitArgs struct {
	Name     string          `json:"name"`
	Color    string          `json:"color"`
	Bio      string          `json:"bio"`
	Skills   []command.Skill `json:"skills"`
	X        *float64        `json:"x"`
	Y        *float64        `json:"y"`
	Z        *float64        `json:"z"`
	Rotation *float64        `json:"rotation"`
	Action   string          `json:"action"`
	Target   string          `json:"target"`
	Text     string          `json:"text"`
	Emote    string          `json:"emote"`
}

// FromSubmit maps a submission request onto a command. Command names accept
// an optional "world-" prefix ("world-move" == "move").
func FromSubmit(req protocol.SubmitRequest) (command.Command, error) {
	id := strings.TrimSpace(req.AgentID)
	if id == "" {
		return command.Command{}, invalid("agentId is required")
	}
	var a submitArgs
	if len(req.Args) > 0 {
		b, err := json.Marshal(req.Args)
		if err != nil {
			return command.Command{}, &Error{Code: protocol.ErrMalformedMessage, Msg: err.Error()}
		}
		if err := json.Unmarshal(b, &a); err != nil {
			return command.Command{}, invalid("args: %v", err)
		}
	}

	name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(req.Command)), "world-")
	switch name {
	case "join":
		j := command.Join{Name: a.Name, Color: a.Color, Bio: a.Bio, Skills: a.Skills}
		if a.X != nil && a.Z != nil {
			j.Spawn = &command.Vec3{X: *a.X, Y: deref(a.Y), Z: *a.Z}
		}
		return command.NewJoin(id, j), nil
	case "leave":
		return command.NewLeave(id), nil
	case "move", "position":
		if a.X == nil || a.Z == nil {
			return command.Command{}, invalid("move requires x and z")
		}
		return command.NewPosition(id, *a.X, deref(a.Y), *a.Z, deref(a.Rotation)), nil
	case "action":
		if a.Action == "" {
			return command.Command{}, invalid("action requires action")
		}
		return command.NewAction(id, command.ActionKind(a.Action), a.Target), nil
	case "chat":
		return command.NewChat(id, a.Text), nil
	case "emote":
		if a.Emote == "" {
			return command.Command{}, invalid("emote requires emote")
		}
		return command.NewEmote(id, command.EmoteKind(a.Emote)), nil
	}
	return command.Command{}, invalid("unknown command %q", req.Command)
}

// Submit translates and enqueues req.
func Submit(q Enqueuer, req protocol.SubmitRequest) protocol.SubmitResponse {
	cmd, err := FromSubmit(req)
	if err != nil {
		return protocol.SubmitResponse{Reason: Code(err), AgentID: req.AgentID}
	}
	res := q.Enqueue(cmd)
	return protocol.SubmitResponse{OK: res.OK, Reason: res.Reason, AgentID: cmd.AgentID}
}

// FromPlayer maps a player* frame onto a command for the connection's bound
// entity. raw is the JSON form of the frame.
func FromPlayer(agentID, typ string, raw []byte) (command.Command, error) {
	switch typ {
	case protocol.TypePlayerMove:
		var m protocol.PlayerMoveMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return command.Command{}, &Error{Code: protocol.ErrMalformedMessage, Msg: err.Error()}
		}
		return command.NewPosition(agentID, m.X, 0, m.Z, m.Rotation), nil
	case protocol.TypePlayerChat:
		var m protocol.PlayerChatMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return command.Command{}, &Error{Code: protocol.ErrMalformedMessage, Msg: err.Error()}
		}
		return command.NewChat(agentID, m.Text), nil
	case protocol.TypePlayerAction:
		var m protocol.PlayerActionMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return command.Command{}, &Error{Code: protocol.ErrMalformedMessage, Msg: err.Error()}
		}
		return command.NewAction(agentID, command.ActionKind(m.Action), m.Target), nil
	case protocol.TypePlayerLeave:
		return command.NewLeave(agentID), nil
	}
	return command.Command{}, invalid("not a player command: %q", typ)
}

// Code extracts the protocol reason code from err.
func Code(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return protocol.ErrInvalidCommand
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
