package protocol

import "encoding/json"

const Version = "1.0"

// Client -> server message types.
const (
	TypeSubscribe       = "subscribe"
	TypeRequestProfiles = "requestProfiles"
	TypeRequestProfile  = "requestProfile"
	TypeViewport        = "viewport"
	TypeFollow          = "follow"
	TypeRequestRoomInfo = "requestRoomInfo"
	TypePlayerJoin      = "playerJoin"
	TypePlayerMove      = "playerMove"
	TypePlayerChat      = "playerChat"
	TypePlayerAction    = "playerAction"
	TypePlayerLeave     = "playerLeave"
)

// Server -> client message types.
const (
	TypeFull         = "full"
	TypeDelta        = "delta"
	TypeRoomInfo     = "roomInfo"
	TypeProfiles     = "profiles"
	TypeProfile      = "profile"
	TypePlayerJoined = "playerJoined"
	TypeError        = "error"
)

// MaxMessageBytes caps a single inbound frame.
const MaxMessageBytes = 64 * 1024

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
