package state

import "errors"

var (
	// ErrUnknownConnection is returned for operations on a connection id the
	// registry has never seen or has already deregistered.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrNotInRoom marks a room-scoped call from a connection that never
	// joined. Callers treat it as a silent no-op to tolerate client races.
	ErrNotInRoom = errors.New("connection is not in a room")
)
