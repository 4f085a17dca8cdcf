package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind is the closed set of event tags carried on the wire. The router
// matches it exhaustively; adding a collaboration feature means adding a
// variant here and handling it everywhere the compiler complains.
type Kind string

const (
	// client -> server
	KindJoinRoom  Kind = "join-room"
	KindLeaveRoom Kind = "leave-room"

	// server -> client
	KindRoomSnapshot Kind = "room-snapshot"
	KindPeerJoined   Kind = "peer-joined"
	KindPeerLeft     Kind = "peer-left"
	KindError        Kind = "error"

	// relayed within a room
	KindLocation      Kind = "location-update"
	KindCursor        Kind = "cursor-update"
	KindSelection     Kind = "selection-update"
	KindChat          Kind = "chat-message"
	KindTypingStart   Kind = "typing-start"
	KindTypingStop    Kind = "typing-stop"
	KindObjectMutate  Kind = "object-mutate"
	KindDrawingStroke Kind = "drawing-stroke"
	KindDrawingClear  Kind = "drawing-clear"
	KindStickyNote    Kind = "sticky-note-update"
	KindNoteUpdate    Kind = "note-update"
)

// IsWriteClass reports whether the event mutates a shared artifact and is
// therefore subject to role gating.
func (k Kind) IsWriteClass() bool {
	switch k {
	case KindObjectMutate, KindDrawingStroke, KindDrawingClear, KindStickyNote, KindNoteUpdate:
		return true
	}
	return false
}

// IsLocationScoped reports whether delivery is suppressed toward peers whose
// location differs from the source's (cursors and strokes only make sense on
// the page they happen on).
func (k Kind) IsLocationScoped() bool {
	return k == KindCursor || k == KindDrawingStroke || k == KindDrawingClear
}

// Known reports whether k is part of the taxonomy.
func (k Kind) Known() bool {
	switch k {
	case KindJoinRoom, KindLeaveRoom, KindRoomSnapshot, KindPeerJoined,
		KindPeerLeft, KindError, KindLocation, KindCursor, KindSelection,
		KindChat, KindTypingStart, KindTypingStop, KindObjectMutate,
		KindDrawingStroke, KindDrawingClear, KindStickyNote, KindNoteUpdate:
		return true
	}
	return false
}

// Envelope is the wire frame: a tag plus a kind-specific payload.
type Envelope struct {
	Event   Kind            `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed frame: %w", err)
	}
	if !env.Event.Known() {
		return Envelope{}, fmt.Errorf("unknown event %q", env.Event)
	}
	return env, nil
}

// Encode marshals a payload into a complete wire frame.
func Encode(kind Kind, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return json.Marshal(Envelope{Event: kind, Payload: body})
}
