// Package presence tracks the join/leave/reconnect lifecycle of each
// (identity, room) pair. Page navigation tears down and re-creates the
// transport connection; this package makes that indistinguishable from an
// uninterrupted stay, so peers never see a spurious "left"/"joined" flash.
package presence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/go-collab/pkg/identity"
	"github.com/a-essam23/go-collab/pkg/state"
)

// DepartureFunc is invoked exactly once when an identity's departure from a
// room matures (grace window elapsed with no reconnection).
type DepartureFunc func(roomKey string, id identity.Identity)

type pendingKey struct {
	roomKey    string
	identityID string
}

type pendingDeparture struct {
	timer    *time.Timer
	identity identity.Identity
}

// Manager runs the per-(identity, room) state machine:
//
//	ABSENT -> PRESENT            first connection joins; announce
//	PRESENT -> PRESENT           extra tab; silent
//	PRESENT -> PENDING_DEPARTURE last connection drops; grace timer starts
//	PENDING_DEPARTURE -> PRESENT reconnect within grace; silent both ways
//	PENDING_DEPARTURE -> ABSENT  timer fires; exactly one departure
type Manager struct {
	mu      sync.Mutex
	pending map[pendingKey]*pendingDeparture

	registry    state.Registry
	grace       time.Duration
	onDeparture DepartureFunc
	logger      *slog.Logger
}

func NewManager(registry state.Registry, grace time.Duration, onDeparture DepartureFunc, logger *slog.Logger) *Manager {
	return &Manager{
		pending:     make(map[pendingKey]*pendingDeparture),
		registry:    registry,
		grace:       grace,
		onDeparture: onDeparture,
		logger:      logger.With(slog.String("component", "presence_lifecycle")),
	}
}

// HandleJoin records a join that has already happened in the registry.
// wasPresent is whether the identity had another live connection in the room
// before this one. It returns whether a peer-joined broadcast should go out,
// and whether this join cancelled a pending departure (the seamless
// reconnection path, which broadcasts nothing).
func (m *Manager) HandleJoin(roomKey string, id identity.Identity, wasPresent bool) (announce, reconnection bool) {
	key := pendingKey{roomKey: roomKey, identityID: id.ID}

	m.mu.Lock()
	if pd, ok := m.pending[key]; ok {
		pd.timer.Stop()
		delete(m.pending, key)
		m.mu.Unlock()
		m.logger.Debug("Seamless reconnection",
			slog.String("identity", id.ID),
			slog.String("roomKey", roomKey),
		)
		return false, true
	}
	m.mu.Unlock()

	if wasPresent {
		// Extra tab of an already-present identity. Nothing to announce.
		return false, false
	}
	return true, false
}

// HandleDisconnect reacts to a connection of the identity closing while it
// was in the room. If other connections of the identity remain, nothing
// happens. Otherwise a grace timer starts; only its expiry announces the
// departure.
func (m *Manager) HandleDisconnect(roomKey string, id identity.Identity) {
	if roomKey == "" {
		return
	}
	if m.registry.IdentityPresent(roomKey, id.ID) {
		return
	}

	key := pendingKey{roomKey: roomKey, identityID: id.ID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[key]; ok {
		// A timer is already running for this pair.
		return
	}
	pd := &pendingDeparture{identity: id}
	pd.timer = time.AfterFunc(m.grace, func() {
		m.expire(key)
	})
	m.pending[key] = pd
	m.logger.Debug("Departure pending",
		slog.String("identity", id.ID),
		slog.String("roomKey", roomKey),
		slog.Duration("grace", m.grace),
	)
}

// HandleExplicitLeave reacts to a deliberate leave-room. No grace window:
// the departure is announced immediately, unless the identity still has
// another connection in the room.
func (m *Manager) HandleExplicitLeave(roomKey string, id identity.Identity) (announce bool) {
	key := pendingKey{roomKey: roomKey, identityID: id.ID}
	m.mu.Lock()
	if pd, ok := m.pending[key]; ok {
		pd.timer.Stop()
		delete(m.pending, key)
	}
	m.mu.Unlock()

	return !m.registry.IdentityPresent(roomKey, id.ID)
}

// expire runs when a grace timer fires. The pending entry may have been
// cancelled between the fire and the lock; the registry is re-checked so a
// reconnection that raced the timer never produces a phantom departure.
func (m *Manager) expire(key pendingKey) {
	m.mu.Lock()
	pd, ok := m.pending[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pending, key)
	m.mu.Unlock()

	if m.registry.IdentityPresent(key.roomKey, key.identityID) {
		return
	}
	m.logger.Debug("Departure matured",
		slog.String("identity", key.identityID),
		slog.String("roomKey", key.roomKey),
	)
	if m.onDeparture != nil {
		m.onDeparture(key.roomKey, pd.identity)
	}
}

// PendingCount reports how many departures are currently held back.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Close stops all grace timers without firing them.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, pd := range m.pending {
		pd.timer.Stop()
		delete(m.pending, key)
	}
}
