package world

import (
	"time"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
)

// Entity is an agent or player avatar. Owned by State; only the loop mutates it.
type Entity struct {
	ID     string
	Name   string
	Color  string
	Bio    string
	Skills []command.Skill

	X, Y, Z  float64
	Rotation float64

	Action   command.ActionKind
	Target   string
	Emote    command.EmoteKind
	LastChat string

	Present    bool
	Controlled bool // driven by a websocket connection
	Origin     command.Origin
	JoinedAt   time.Time
	UpdatedAt  time.Time
}

// Profile is what the agent registry declares about an agent.
type Profile struct {
	AgentID string          `yaml:"id"`
	Name    string          `yaml:"name"`
	Color   string          `yaml:"color"`
	Bio     string          `yaml:"bio"`
	Skills  []command.Skill `yaml:"skills"`
}

// Registry is the authoritative source of declared agent identity. The world
// trusts whatever it returns at join time.
type Registry interface {
	Lookup(agentID string) (Profile, bool)
}

// ChatFilter transforms chat text before it is stored or broadcast. It must
// not reject input.
type ChatFilter interface {
	Filter(text string) string
	RedactSecrets(text string) string
}

type noRegistry struct{}

func (noRegistry) Lookup(string) (Profile, bool) { return Profile{}, false }

type passFilter struct{}

func (passFilter) Filter(s string) string        { return s }
func (passFilter) RedactSecrets(s string) string { return s }
