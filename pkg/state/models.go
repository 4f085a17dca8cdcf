package state

import (
	"time"

	"github.com/a-essam23/go-collab/pkg/identity"
	"github.com/a-essam23/go-collab/pkg/transport"
	"github.com/google/uuid"
)

// Connection is the registry's view of a single transport-layer connection.
// One identity may own several concurrent connections (multiple tabs or
// devices); each is tracked separately.
type Connection struct {
	ID        uuid.UUID
	Identity  identity.Identity
	IPAddress string
	Transport transport.Sender // The actual connection for sending messages
	CreatedAt time.Time

	// Room-scoped fields, valid while RoomKey is non-empty. Guarded by the
	// owning room's lock.
	RoomKey    string
	Role       identity.Role
	Location   string
	LastSeenAt time.Time
}

// PresenceEntry is the deduplicated, per-identity view of who is in a room.
// Peers never see two entries for the same person merely because that person
// has two tabs open.
type PresenceEntry struct {
	Identity identity.Identity
	Role     identity.Role
	Location string

	// The earliest-joined live connection of the identity.
	RepresentativeConnectionID uuid.UUID
}
