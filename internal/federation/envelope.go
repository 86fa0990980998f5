// Package federation bridges a room to a shared pub/sub relay so separately
// run instances of the same channel see each other's agents.
package federation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/world"
)

// Envelope is the relay payload for one committed event.
type Envelope struct {
	Instance string        `json:"instance"`
	Channel  string        `json:"channel"`
	Tick     uint64        `json:"tick"`
	Kind     command.Kind  `json:"kind"`
	AgentID  string        `json:"agentId"`
	At       time.Time     `json:"at"`
	Payload  world.Payload `json:"payload"`
}

var ErrBadSignature = errors.New("bad envelope signature")

type envelopeClaims struct {
	Env Envelope `json:"env"`
	jwt.RegisteredClaims
}

// Codec encodes envelopes as plain JSON, or as HS256 tokens when a secret
// is set. A signing codec refuses unsigned input.
type Codec struct {
	secret []byte
}

func NewCodec(secret string) Codec {
	if secret == "" {
		return Codec{}
	}
	return Codec{secret: []byte(secret)}
}

func (c Codec) Signed() bool { return len(c.secret) > 0 }

func (c Codec) Encode(env Envelope) ([]byte, error) {
	if !c.Signed() {
		return json.Marshal(env)
	}
	claims := envelopeClaims{
		Env: env,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   env.Instance,
			IssuedAt: jwt.NewNumericDate(env.At),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("sign envelope: %w", err)
	}
	return []byte(tok), nil
}

func (c Codec) Decode(b []byte) (Envelope, error) {
	if !c.Signed() {
		var env Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			return Envelope{}, fmt.Errorf("decode envelope: %w", err)
		}
		return env, nil
	}
	var claims envelopeClaims
	_, err := jwt.ParseWithClaims(string(b), &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return claims.Env, nil
}

func envelopeOf(instance, channel string, ev world.Event) Envelope {
	return Envelope{
		Instance: instance,
		Channel:  channel,
		Tick:     ev.Tick,
		Kind:     ev.Type,
		AgentID:  ev.AgentID,
		At:       ev.At,
		Payload:  ev.Payload,
	}
}

// commands translates a remote envelope into queue commands. known reports
// whether the agent already has an entity here; unknown agents get a
// synthesized Join ahead of their first non-join event.
func (e Envelope) commands(known bool) []command.Command {
	p := e.Payload
	var cmds []command.Command
	if !known && e.Kind != command.KindJoin {
		if e.Kind == command.KindLeave {
			return nil
		}
		j := command.Join{Name: p.Name}
		if p.Position != nil {
			j.Spawn = &command.Vec3{X: p.Position.X, Y: p.Position.Y, Z: p.Position.Z}
		}
		cmds = append(cmds, command.NewJoin(e.AgentID, j))
	}

	switch e.Kind {
	case command.KindJoin:
		j := command.Join{Name: p.Name, Color: p.Color, Bio: p.Bio, Skills: p.Skills}
		if p.Position != nil {
			j.Spawn = &command.Vec3{X: p.Position.X, Y: p.Position.Y, Z: p.Position.Z}
		}
		cmds = append(cmds, command.NewJoin(e.AgentID, j))
	case command.KindLeave:
		cmds = append(cmds, command.NewLeave(e.AgentID))
	case command.KindPosition:
		if p.Position == nil {
			return nil
		}
		cmds = append(cmds, command.NewPosition(e.AgentID, p.Position.X, p.Position.Y, p.Position.Z, p.Position.Rotation))
	case command.KindAction:
		cmds = append(cmds, command.NewAction(e.AgentID, p.Action, p.Target))
	case command.KindChat:
		cmds = append(cmds, command.NewChat(e.AgentID, p.Text))
	case command.KindEmote:
		cmds = append(cmds, command.NewEmote(e.AgentID, p.Emote))
	default:
		return nil
	}
	for i := range cmds {
		cmds[i].Origin = command.Remote
		cmds[i].At = e.At
	}
	return cmds
}
