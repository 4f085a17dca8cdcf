package identity

// Identity is a stable participant: an authenticated user or an anonymous
// guest. It is resolved once at connect time and immutable for the lifetime
// of the connection that carries it.
type Identity struct {
	ID          string
	DisplayName string
	AvatarRef   string
	IsGuest     bool
}

// a bitmap representing a set of capabilities
type Permission uint64

const (
	PermCanRead Permission = 1 << iota
	PermCanWrite
	PermCanManage
)

func (p Permission) Has(flag Permission) bool {
	return p&flag == flag
}

// Role is the closed set of per-room capabilities a participant can hold.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func (r Role) Permissions() Permission {
	switch r {
	case RoleOwner:
		return PermCanRead | PermCanWrite | PermCanManage
	case RoleEditor:
		return PermCanRead | PermCanWrite
	case RoleViewer:
		return PermCanRead
	}
	return 0
}

// CanWrite reports whether the role may emit write-class events.
func (r Role) CanWrite() bool {
	return r.Permissions().Has(PermCanWrite)
}

// ParseRole maps a configured role name to a Role, falling back to viewer
// for anything unrecognized rather than granting write access by accident.
func ParseRole(name string) Role {
	switch Role(name) {
	case RoleOwner, RoleEditor, RoleViewer:
		return Role(name)
	}
	return RoleViewer
}
