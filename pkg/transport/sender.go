package transport

import "github.com/google/uuid"

// Sender is the write side of a live connection, as seen by the state
// registry and the relay. *Connection implements it; tests substitute fakes.
type Sender interface {
	ID() uuid.UUID
	Send(message []byte)
	Close(err error)
	Done() <-chan struct{}
}

var _ Sender = (*Connection)(nil)
