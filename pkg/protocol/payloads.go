package protocol

import "encoding/json"

// PeerInfo is the wire view of one participant, deduplicated by user: a
// client never receives two entries for the same person because they have
// two tabs open.
type PeerInfo struct {
	UserID       string `json:"userId"`
	Name         string `json:"name"`
	Avatar       string `json:"avatar,omitempty"`
	Role         string `json:"role,omitempty"`
	Location     string `json:"currentPath,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
}

type JoinRoom struct {
	RoomKey  string `json:"roomKey"`
	Location string `json:"path,omitempty"`
}

type LeaveRoom struct {
	RoomKey string `json:"roomKey"`
}

type RoomSnapshot struct {
	RoomKey string     `json:"roomKey"`
	Peers   []PeerInfo `json:"peers"`
}

type PeerJoined struct {
	PeerInfo
	IsReconnection bool `json:"isReconnection,omitempty"`
}

type PeerLeft struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type LocationUpdate struct {
	UserID string `json:"userId,omitempty"`
	Path   string `json:"path"`
}

type CursorUpdate struct {
	UserID string  `json:"userId,omitempty"`
	Name   string  `json:"name,omitempty"`
	Avatar string  `json:"avatar,omitempty"`
	Path   string  `json:"currentPath,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type ErrorInfo struct {
	Message string `json:"message"`
}

// OpType classifies a mutation of a shared object for conflict resolution.
type OpType string

const (
	OpMove   OpType = "move"
	OpResize OpType = "resize"
	OpModify OpType = "modify"
	OpAdd    OpType = "add"
	OpDelete OpType = "delete"
)

// Operation is the payload of an object-mutate event. Properties carries the
// field-level bag merged on concurrent modifies; Payload stays opaque to the
// core (its format is owned by the persistence side).
type Operation struct {
	ObjectID   string          `json:"objectId"`
	Type       OpType          `json:"type"`
	Properties json.RawMessage `json:"properties,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`

	// Set by the server: who performed it and where it sits in the room's
	// arrival order.
	ActorID   string `json:"actorId,omitempty"`
	ActorName string `json:"actorName,omitempty"`
	Seq       int64  `json:"seq,omitempty"`
}
