package protocol

// Client -> server.

type ViewportMsg struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Z    float64 `json:"z"`
}

type FollowMsg struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId"`
}

type RequestProfileMsg struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId"`
}

type PlayerJoinMsg struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type PlayerMoveMsg struct {
	Type     string  `json:"type"`
	X        float64 `json:"x"`
	Z        float64 `json:"z"`
	Rotation float64 `json:"rotation"`
}

type PlayerChatMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type PlayerActionMsg struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
}

// Server -> client.

type Skill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type EntityView struct {
	AgentID   string  `json:"agentId"`
	Name      string  `json:"name"`
	Color     string  `json:"color,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Rotation  float64 `json:"rotation"`
	Action    string  `json:"action"`
	Target    string  `json:"target,omitempty"`
	Emote     string  `json:"emote,omitempty"`
	Chat      string  `json:"chat,omitempty"`
	UpdatedAt int64   `json:"updatedAt"`
}

type EventView struct {
	Tick      uint64 `json:"tick"`
	Type      string `json:"type"`
	AgentID   string `json:"agentId"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text,omitempty"`
	Action    string `json:"action,omitempty"`
	Target    string `json:"target,omitempty"`
	Emote     string `json:"emote,omitempty"`
}

type FullMsg struct {
	Type      string       `json:"type"`
	Tick      uint64       `json:"tick"`
	Timestamp int64        `json:"timestamp"`
	Entities  []EntityView `json:"entities"`
}

// DeltaMsg carries entities that entered range or changed, ids that left
// range or were removed, and events authored by visible entities.
type DeltaMsg struct {
	Type      string       `json:"type"`
	Tick      uint64       `json:"tick"`
	Timestamp int64        `json:"timestamp"`
	Entities  []EntityView `json:"entities"`
	Removed   []string     `json:"removed,omitempty"`
	Events    []EventView  `json:"events,omitempty"`
}

type Obstacle struct {
	X      float64 `json:"x"`
	Z      float64 `json:"z"`
	Radius float64 `json:"radius"`
}

type RoomInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Channel     string     `json:"channel"`
	TickRateHz  int        `json:"tickRate"`
	MaxEntities int        `json:"maxEntities"`
	HalfExtent  float64    `json:"halfExtent"`
	AOIRadius   float64    `json:"aoiRadius"`
	Obstacles   []Obstacle `json:"obstacles,omitempty"`
	Entities    int        `json:"entities"`
	Tick        uint64     `json:"tick"`
}

type RoomInfoMsg struct {
	Type string   `json:"type"`
	Room RoomInfo `json:"room"`
}

type Profile struct {
	AgentID  string  `json:"agentId"`
	Name     string  `json:"name"`
	Color    string  `json:"color,omitempty"`
	Bio      string  `json:"bio,omitempty"`
	Skills   []Skill `json:"skills,omitempty"`
	Origin   string  `json:"origin"`
	JoinedAt int64   `json:"joinedAt"`
}

type ProfilesMsg struct {
	Type     string    `json:"type"`
	Profiles []Profile `json:"profiles"`
}

type ProfileMsg struct {
	Type    string  `json:"type"`
	Profile Profile `json:"profile"`
}

type PlayerJoinedMsg struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Ref     string `json:"ref,omitempty"`
}

func NewError(code, ref, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, Code: code, Ref: ref, Message: message}
}

// Command submission (synchronous, non-websocket callers).

type SubmitRequest struct {
	Command string         `json:"command"`
	AgentID string         `json:"agentId"`
	Args    map[string]any `json:"args,omitempty"`
}

type SubmitResponse struct {
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"`
	AgentID string `json:"agentId,omitempty"`
}

type Health struct {
	Tick       uint64 `json:"tick"`
	TickRateHz int    `json:"tickRate"`
	Sessions   int    `json:"sessions"`
	Entities   int    `json:"entities"`
}
