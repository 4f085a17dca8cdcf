package identity

import "errors"

// ErrPermissionDenied is returned when an identity may not enter a room at
// all. It is surfaced to the originating client only.
var ErrPermissionDenied = errors.New("permission denied")

// AccessService decides, at join time, whether an identity may enter a room
// and with which role. It is the narrow seam to the external membership
// store.
type AccessService interface {
	Authorize(id Identity, roomKey string) (Role, error)
}

// RoomAccess is one entry of a static access table.
type RoomAccess struct {
	Public  bool
	Members map[string]Role // userID -> role
}

// StaticAccess authorizes against an in-memory table, typically loaded from
// configuration.
type StaticAccess struct {
	rooms map[string]RoomAccess
}

var _ AccessService = (*StaticAccess)(nil)

func NewStaticAccess(rooms map[string]RoomAccess) *StaticAccess {
	if rooms == nil {
		rooms = make(map[string]RoomAccess)
	}
	return &StaticAccess{rooms: rooms}
}

// Authorize resolves the identity's role in a room.
//
// Guests collaborate as editors. Rooms absent from the table are treated as
// open workspaces. A known private room rejects non-members outright.
func (s *StaticAccess) Authorize(id Identity, roomKey string) (Role, error) {
	if id.IsGuest {
		return RoleEditor, nil
	}

	room, known := s.rooms[roomKey]
	if !known {
		return RoleEditor, nil
	}
	if role, member := room.Members[id.ID]; member {
		return role, nil
	}
	if room.Public {
		return RoleViewer, nil
	}
	return "", ErrPermissionDenied
}
