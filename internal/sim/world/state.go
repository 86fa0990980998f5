package world

import "sort"

// State is the canonical room state. Only the simulation loop touches it.
type State struct {
	entities map[string]*Entity
	log      *EventLog
	tick     uint64
}

func NewState(retention int) *State {
	return &State{
		entities: map[string]*Entity{},
		log:      NewEventLog(retention),
	}
}

func (s *State) Tick() uint64 { return s.tick }

func (s *State) Get(id string) *Entity { return s.entities[id] }

func (s *State) Put(e *Entity) { s.entities[e.ID] = e }

func (s *State) Delete(id string) bool {
	if _, ok := s.entities[id]; !ok {
		return false
	}
	delete(s.entities, id)
	return true
}

func (s *State) Len() int { return len(s.entities) }

func (s *State) IDs() []string {
	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *State) Log() *EventLog { return s.log }
