// Package command holds the closed set of world mutations and the queue that
// validates them before the simulation loop applies them.
package command

import (
	"fmt"
	"time"
)

// Kind names a world mutation.
type Kind string

const (
	KindJoin     Kind = "join"
	KindLeave    Kind = "leave"
	KindPosition Kind = "position"
	KindAction   Kind = "action"
	KindChat     Kind = "chat"
	KindEmote    Kind = "emote"
)

// Origin marks where a command entered the system. Remote commands came from
// the federation relay and must never be published back to it.
type Origin uint8

const (
	Local Origin = iota
	Remote
)

func (o Origin) String() string {
	if o == Remote {
		return "remote"
	}
	return "local"
}

func (o Origin) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Origin) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "local":
		*o = Local
	case "remote":
		*o = Remote
	default:
		return fmt.Errorf("unknown origin %q", b)
	}
	return nil
}

// ActionKind is the closed set of persistent entity actions.
type ActionKind string

const (
	ActionIdle     ActionKind = "idle"
	ActionWalk     ActionKind = "walk"
	ActionWave     ActionKind = "wave"
	ActionDance    ActionKind = "dance"
	ActionBackflip ActionKind = "backflip"
	ActionSpin     ActionKind = "spin"
	ActionTalk     ActionKind = "talk"
	ActionThink    ActionKind = "think"
	ActionPoint    ActionKind = "point"
)

func (a ActionKind) Valid() bool {
	switch a {
	case ActionIdle, ActionWalk, ActionWave, ActionDance, ActionBackflip,
		ActionSpin, ActionTalk, ActionThink, ActionPoint:
		return true
	}
	return false
}

// EmoteKind is the closed set of one-shot emotes.
type EmoteKind string

const (
	EmoteHappy     EmoteKind = "happy"
	EmoteSad       EmoteKind = "sad"
	EmoteSurprised EmoteKind = "surprised"
	EmoteThinking  EmoteKind = "thinking"
	EmoteLaugh     EmoteKind = "laugh"
	EmoteLove      EmoteKind = "love"
	EmoteAngry     EmoteKind = "angry"
)

func (e EmoteKind) Valid() bool {
	switch e {
	case EmoteHappy, EmoteSad, EmoteSurprised, EmoteThinking, EmoteLaugh, EmoteLove, EmoteAngry:
		return true
	}
	return false
}

// Skill is a capability an agent advertises in its profile.
type Skill struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Vec3 is a world position; y is height.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Join creates the entity, or overwrites it when the id is already present.
// Spawn is optional; the world spawn point is used when nil.
type Join struct {
	Name   string
	Color  string
	Bio    string
	Skills []Skill
	Spawn  *Vec3
}

// Position moves an entity and sets its facing in radians.
type Position struct {
	X, Y, Z  float64
	Rotation float64
}

// Action sets the entity's ongoing action, optionally aimed at another entity.
type Action struct {
	Kind   ActionKind
	Target string
}

// Chat is a room-wide message, normalized by the queue.
type Chat struct {
	Text string
}

// Emote is shown once and not kept on the entity.
type Emote struct {
	Kind EmoteKind
}

// Command is a tagged variant: Kind selects which payload pointer is set.
// Leave carries no payload.
type Command struct {
	Kind    Kind
	AgentID string
	At      time.Time
	Origin  Origin

	Join     *Join
	Position *Position
	Action   *Action
	Chat     *Chat
	Emote    *Emote
}

// NewJoin and the constructors below build a local-origin command with
// exactly one payload set.
func NewJoin(agentID string, j Join) Command {
	return Command{Kind: KindJoin, AgentID: agentID, Join: &j}
}

func NewLeave(agentID string) Command {
	return Command{Kind: KindLeave, AgentID: agentID}
}

func NewPosition(agentID string, x, y, z, rotation float64) Command {
	return Command{Kind: KindPosition, AgentID: agentID, Position: &Position{X: x, Y: y, Z: z, Rotation: rotation}}
}

func NewAction(agentID string, kind ActionKind, target string) Command {
	return Command{Kind: KindAction, AgentID: agentID, Action: &Action{Kind: kind, Target: target}}
}

func NewChat(agentID, text string) Command {
	return Command{Kind: KindChat, AgentID: agentID, Chat: &Chat{Text: text}}
}

func NewEmote(agentID string, kind EmoteKind) Command {
	return Command{Kind: KindEmote, AgentID: agentID, Emote: &Emote{Kind: kind}}
}

// shapeOK reports whether exactly the payload matching Kind is present.
func (c Command) shapeOK() bool {
	n := 0
	for _, set := range []bool{c.Join != nil, c.Position != nil, c.Action != nil, c.Chat != nil, c.Emote != nil} {
		if set {
			n++
		}
	}
	switch c.Kind {
	case KindLeave:
		return n == 0
	case KindJoin:
		return n == 1 && c.Join != nil
	case KindPosition:
		return n == 1 && c.Position != nil
	case KindAction:
		return n == 1 && c.Action != nil
	case KindChat:
		return n == 1 && c.Chat != nil
	case KindEmote:
		return n == 1 && c.Emote != nil
	}
	return false
}
