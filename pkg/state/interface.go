package state

import (
	"github.com/a-essam23/go-collab/pkg/identity"
	"github.com/a-essam23/go-collab/pkg/transport"
	"github.com/google/uuid"
)

// JoinResult is what a successful join hands back: the registry connection
// and the deduplicated peer list, excluding the joiner's own identity.
type JoinResult struct {
	Conn  *Connection
	Peers []PresenceEntry

	// WasPresent reports whether a connection of the same identity was
	// already in the room when this join landed. Computed under the registry
	// lock, so two tabs joining concurrently cannot both observe absence.
	WasPresent bool
}

type Registry interface {
	// --- Connection Lifecycle ---
	RegisterConnection(conn transport.Sender, id identity.Identity, ipAddr string) (*Connection, error)
	// DeregisterConnection removes the connection and, if it was in a room,
	// removes it from that room too. The removed connection is returned so
	// callers can drive presence transitions from its last known state.
	DeregisterConnection(connID uuid.UUID) (*Connection, error)
	// Connection returns a point-in-time snapshot of the connection's state.
	Connection(connID uuid.UUID) (*Connection, bool)
	IdentityConnectionCount(identityID string) int
	FindOldestIdentityConnection(identityID string) (*Connection, bool)
	AllTransports() []transport.Sender

	// --- Room Membership ---
	// Join is idempotent per connection id. A connection already in another
	// room is moved.
	Join(connID uuid.UUID, roomKey string, role identity.Role, location string) (JoinResult, error)
	// Leave removes the connection from its current room (ErrNotInRoom when
	// it has none) and returns its pre-leave state.
	Leave(connID uuid.UUID) (*Connection, error)
	UpdateLocation(connID uuid.UUID, location string) (*Connection, error)

	// --- Room Queries ---
	// Peers computes the deduplicated presence list for a room, excluding
	// every connection of excludeIdentityID.
	Peers(roomKey string, excludeIdentityID string) []PresenceEntry
	// IdentityPresent reports whether any live connection of the identity is
	// in the room.
	IdentityPresent(roomKey, identityID string) bool
	// WithRoom runs fn under the room's lock with the room's current
	// connections. All fan-out for one room goes through here, which is what
	// gives every peer the same arrival order. No-op if the room is gone.
	// fn must not call back into the registry for the same room.
	WithRoom(roomKey string, fn func(conns []*Connection))
}
