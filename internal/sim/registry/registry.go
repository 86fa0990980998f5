// Package registry is the in-memory agent registry, seeded from agents.yaml
// and updated at runtime.
package registry

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/command"
	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/sim/world"
)

var (
	ErrEmptyID  = errors.New("agent id must not be empty")
	ErrBadColor = errors.New("color must be #rrggbb")
)

var colorRE = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type file struct {
	Agents []world.Profile `yaml:"agents"`
}

// Static is safe for concurrent use. It satisfies world.Registry.
type Static struct {
	mu   sync.RWMutex
	byID map[string]world.Profile
}

func New() *Static {
	return &Static{byID: map[string]world.Profile{}}
}

// Load seeds a registry from path. An empty path yields an empty registry.
func Load(path string) (*Static, error) {
	r := New()
	if strings.TrimSpace(path) == "" {
		return r, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("agents.yaml: %w", err)
	}
	for i, p := range f.Agents {
		if err := r.Register(p); err != nil {
			return nil, fmt.Errorf("agents.yaml: agents[%d]: %w", i, err)
		}
	}
	return r, nil
}

// Register adds or replaces a profile. The next Join of that id picks it up.
func (r *Static) Register(p world.Profile) error {
	p.AgentID = strings.TrimSpace(p.AgentID)
	if p.AgentID == "" {
		return ErrEmptyID
	}
	if p.Color != "" && !colorRE.MatchString(p.Color) {
		return fmt.Errorf("%s: %w", p.AgentID, ErrBadColor)
	}
	p.Skills = append([]command.Skill(nil), p.Skills...)
	r.mu.Lock()
	r.byID[p.AgentID] = p
	r.mu.Unlock()
	return nil
}

func (r *Static) Unregister(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[agentID]
	delete(r.byID, agentID)
	return ok
}

func (r *Static) Lookup(agentID string) (world.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[agentID]
	if ok {
		p.Skills = append([]command.Skill(nil), p.Skills...)
	}
	return p, ok
}

// List returns profiles sorted by id.
func (r *Static) List() []world.Profile {
	r.mu.RLock()
	out := make([]world.Profile, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
