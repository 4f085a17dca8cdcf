package statemanager

import (
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/go-collab/pkg/identity"
	"github.com/a-essam23/go-collab/pkg/state"
	"github.com/a-essam23/go-collab/pkg/transport"
	"github.com/google/uuid"
)

// roomState is one shard of the lock table: every room serializes its own
// membership and fan-out independently of every other room.
type roomState struct {
	mu    sync.Mutex
	key   string
	conns map[uuid.UUID]*state.Connection
}

// InMemoryRegistry tracks connections, their identities, and room
// membership.
//
// Locking: membership mutations (register, deregister, join, leave) hold the
// outer write lock. Hot-path operations (fan-out, peer queries, location
// updates) hold the outer read lock plus the target room's mutex, so two
// rooms never contend with each other on the hot path.
type InMemoryRegistry struct {
	mu         sync.RWMutex
	conns      map[uuid.UUID]*state.Connection
	identities map[string]map[uuid.UUID]*state.Connection
	rooms      map[string]*roomState

	logger *slog.Logger
}

func NewInMemoryRegistry(logger *slog.Logger) *InMemoryRegistry {
	return &InMemoryRegistry{
		conns:      make(map[uuid.UUID]*state.Connection),
		identities: make(map[string]map[uuid.UUID]*state.Connection),
		rooms:      make(map[string]*roomState),
		logger:     logger.With(slog.String("component", "state_registry")),
	}
}

// compile-time check to ensure InMemoryRegistry implements Registry.
var _ state.Registry = (*InMemoryRegistry)(nil)

func (m *InMemoryRegistry) RegisterConnection(conn transport.Sender, id identity.Identity, ipAddr string) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := conn.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, state.ErrUnknownConnection
	}
	newConn := &state.Connection{
		ID:        connID,
		Identity:  id,
		IPAddress: ipAddr,
		Transport: conn,
		CreatedAt: time.Now(),
	}
	m.conns[connID] = newConn

	byID, ok := m.identities[id.ID]
	if !ok {
		byID = make(map[uuid.UUID]*state.Connection)
		m.identities[id.ID] = byID
	}
	byID[connID] = newConn

	m.logger.Debug("Connection registered", slog.String("connID", connID.String()), slog.String("identity", id.ID))
	return newConn, nil
}

func (m *InMemoryRegistry) DeregisterConnection(connID uuid.UUID) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, state.ErrUnknownConnection
	}
	delete(m.conns, connID)

	if byID, ok := m.identities[conn.Identity.ID]; ok {
		delete(byID, connID)
		if len(byID) == 0 {
			delete(m.identities, conn.Identity.ID)
		}
	}

	removed := *conn
	if conn.RoomKey != "" {
		m.removeFromRoomLocked(conn)
	}
	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
	return &removed, nil
}

func (m *InMemoryRegistry) Connection(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	if !ok {
		return nil, false
	}
	return m.snapshotLocked(conn), true
}

func (m *InMemoryRegistry) IdentityConnectionCount(identityID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities[identityID])
}

func (m *InMemoryRegistry) FindOldestIdentityConnection(identityID string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest *state.Connection
	for _, conn := range m.identities[identityID] {
		if oldest == nil || conn.CreatedAt.Before(oldest.CreatedAt) {
			oldest = conn
		}
	}
	if oldest == nil {
		return nil, false
	}
	return m.snapshotLocked(oldest), true
}

func (m *InMemoryRegistry) AllTransports() []transport.Sender {
	m.mu.RLock()
	defer m.mu.RUnlock()

	senders := make([]transport.Sender, 0, len(m.conns))
	for _, c := range m.conns {
		senders = append(senders, c.Transport)
	}
	return senders
}

// --- Room Membership ---

func (m *InMemoryRegistry) Join(connID uuid.UUID, roomKey string, role identity.Role, location string) (state.JoinResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return state.JoinResult{}, state.ErrUnknownConnection
	}

	// A connection switching workspaces is removed from its old room first.
	if conn.RoomKey != "" && conn.RoomKey != roomKey {
		m.removeFromRoomLocked(conn)
	}

	room, exists := m.rooms[roomKey]
	if !exists {
		room = &roomState{key: roomKey, conns: make(map[uuid.UUID]*state.Connection)}
		m.rooms[roomKey] = room
		m.logger.Debug("Room created", slog.String("roomKey", roomKey))
	}

	// Membership of the identity is read before this connection is inserted,
	// while the write lock is held, so the announce decision downstream never
	// races a sibling tab's join.
	wasPresent := false
	for _, c := range room.conns {
		if c.Identity.ID == conn.Identity.ID {
			wasPresent = true
			break
		}
	}

	// Idempotent per connection id: a repeated join refreshes room-scoped
	// fields and recomputes the peer list, nothing more.
	room.conns[connID] = conn
	conn.RoomKey = roomKey
	conn.Role = role
	if location != "" {
		conn.Location = location
	}
	conn.LastSeenAt = time.Now()

	peers := peersOf(room, conn.Identity.ID)
	m.logger.Debug("Connection joined room",
		slog.String("connID", connID.String()),
		slog.String("identity", conn.Identity.ID),
		slog.String("roomKey", roomKey),
	)
	snapshot := *conn
	return state.JoinResult{Conn: &snapshot, Peers: peers, WasPresent: wasPresent}, nil
}

func (m *InMemoryRegistry) Leave(connID uuid.UUID) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, state.ErrUnknownConnection
	}
	if conn.RoomKey == "" {
		return nil, state.ErrNotInRoom
	}

	before := *conn
	m.removeFromRoomLocked(conn)
	return &before, nil
}

func (m *InMemoryRegistry) UpdateLocation(connID uuid.UUID, location string) (*state.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, state.ErrUnknownConnection
	}
	room, ok := m.rooms[conn.RoomKey]
	if !ok || conn.RoomKey == "" {
		return nil, state.ErrNotInRoom
	}

	room.mu.Lock()
	conn.Location = location
	conn.LastSeenAt = time.Now()
	snapshot := *conn
	room.mu.Unlock()
	return &snapshot, nil
}

// --- Room Queries ---

func (m *InMemoryRegistry) Peers(roomKey string, excludeIdentityID string) []state.PresenceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomKey]
	if !ok {
		return nil
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return peersOf(room, excludeIdentityID)
}

func (m *InMemoryRegistry) IdentityPresent(roomKey, identityID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomKey]
	if !ok {
		return false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	for _, conn := range room.conns {
		if conn.Identity.ID == identityID {
			return true
		}
	}
	return false
}

func (m *InMemoryRegistry) WithRoom(roomKey string, fn func(conns []*state.Connection)) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomKey]
	if !ok {
		return
	}
	room.mu.Lock()
	defer room.mu.Unlock()

	conns := make([]*state.Connection, 0, len(room.conns))
	for _, c := range room.conns {
		conns = append(conns, c)
	}
	// fn runs under the room lock: every peer observes one arrival order.
	fn(conns)
}

// snapshotLocked copies the connection under the lock that currently guards
// its room-scoped fields. Caller holds the outer lock (read or write).
func (m *InMemoryRegistry) snapshotLocked(conn *state.Connection) *state.Connection {
	if room, ok := m.rooms[conn.RoomKey]; ok && conn.RoomKey != "" {
		room.mu.Lock()
		c := *conn
		room.mu.Unlock()
		return &c
	}
	c := *conn
	return &c
}

// removeFromRoomLocked detaches the connection from its room and destroys
// the room when it empties. Caller holds the outer write lock.
func (m *InMemoryRegistry) removeFromRoomLocked(conn *state.Connection) {
	room, ok := m.rooms[conn.RoomKey]
	if ok {
		delete(room.conns, conn.ID)
		if len(room.conns) == 0 {
			delete(m.rooms, conn.RoomKey)
			m.logger.Debug("Removed empty room", slog.String("roomKey", room.key))
		}
	}
	conn.RoomKey = ""
	conn.Role = ""
	conn.Location = ""
}

// peersOf builds the deduplicated presence list: one entry per identity,
// represented by its earliest-joined connection. Caller holds a lock that
// covers the room.
func peersOf(room *roomState, excludeIdentityID string) []state.PresenceEntry {
	representatives := make(map[string]*state.Connection)
	for _, conn := range room.conns {
		uid := conn.Identity.ID
		if uid == excludeIdentityID {
			continue
		}
		if current, seen := representatives[uid]; !seen || conn.CreatedAt.Before(current.CreatedAt) {
			representatives[uid] = conn
		}
	}

	peers := make([]state.PresenceEntry, 0, len(representatives))
	for _, conn := range representatives {
		peers = append(peers, state.PresenceEntry{
			Identity:                   conn.Identity,
			Role:                       conn.Role,
			Location:                   conn.Location,
			RepresentativeConnectionID: conn.ID,
		})
	}
	return peers
}
