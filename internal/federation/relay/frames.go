// Package relay is a topic pub/sub relay speaking Nostr-style JSON array
// frames over websocket:
//
//	client -> hub: ["EVENT", {topic, content}]  ["REQ", subID, {topic}]  ["CLOSE", subID]
//	hub -> client: ["EVENT", subID, {topic, content}]  ["NOTICE", text]
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	frameEvent  = "EVENT"
	frameReq    = "REQ"
	frameClose  = "CLOSE"
	frameNotice = "NOTICE"
)

// ErrUnavailable means no relay endpoint is reachable.
var ErrUnavailable = errors.New("relay unavailable")

// Message is one published payload on a topic.
type Message struct {
	Topic string `json:"topic"`
	Data  []byte `json:"-"`
}

type wireEvent struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
}

type wireFilter struct {
	Topic string `json:"topic"`
}

// frame is a decoded inbound array frame. Unused fields stay zero.
type frame struct {
	Kind   string
	SubID  string
	Event  wireEvent
	Filter wireFilter
	Notice string
}

func encodeFrame(parts ...any) ([]byte, error) {
	return json.Marshal(parts)
}

// decodeFrame parses frames from either direction.
func decodeFrame(b []byte) (frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return frame{}, err
	}
	if len(parts) == 0 {
		return frame{}, errors.New("empty frame")
	}
	var f frame
	if err := json.Unmarshal(parts[0], &f.Kind); err != nil {
		return frame{}, fmt.Errorf("frame kind: %w", err)
	}
	switch {
	case f.Kind == frameEvent && len(parts) == 2:
		err := json.Unmarshal(parts[1], &f.Event)
		return f, err
	case f.Kind == frameEvent && len(parts) == 3:
		if err := json.Unmarshal(parts[1], &f.SubID); err != nil {
			return frame{}, err
		}
		err := json.Unmarshal(parts[2], &f.Event)
		return f, err
	case f.Kind == frameReq && len(parts) == 3:
		if err := json.Unmarshal(parts[1], &f.SubID); err != nil {
			return frame{}, err
		}
		err := json.Unmarshal(parts[2], &f.Filter)
		return f, err
	case f.Kind == frameClose && len(parts) == 2:
		err := json.Unmarshal(parts[1], &f.SubID)
		return f, err
	case f.Kind == frameNotice && len(parts) == 2:
		err := json.Unmarshal(parts[1], &f.Notice)
		return f, err
	}
	return frame{}, fmt.Errorf("bad %s frame with %d parts", f.Kind, len(parts))
}
