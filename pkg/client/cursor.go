package client

import (
	"sync"
	"time"

	"github.com/a-essam23/go-collab/pkg/protocol"
)

// DefaultCursorStaleAfter is how long a remote cursor survives without an
// update before it is removed. Covers the peer who closed a tab before a
// clean leave event reached this layer.
const DefaultCursorStaleAfter = 5 * time.Second

// defaultLerpFactor is the fraction of the remaining distance covered per
// Step call. Updates arrive throttled, so rendering snaps toward the latest
// target instead of jumping.
const defaultLerpFactor = 0.35

// CursorPosition is one remote cursor as the UI should draw it.
type CursorPosition struct {
	UserID string
	Name   string
	Path   string
	X, Y   float64
}

type trackedCursor struct {
	current  CursorPosition
	targetX  float64
	targetY  float64
	lastSeen time.Time
}

// CursorTracker holds remote cursors keyed by identity and interpolates each
// toward its most recently reported target.
type CursorTracker struct {
	mu         sync.Mutex
	cursors    map[string]*trackedCursor
	staleAfter time.Duration
	lerp       float64
}

func NewCursorTracker(staleAfter time.Duration) *CursorTracker {
	if staleAfter <= 0 {
		staleAfter = DefaultCursorStaleAfter
	}
	return &CursorTracker{
		cursors:    make(map[string]*trackedCursor),
		staleAfter: staleAfter,
		lerp:       defaultLerpFactor,
	}
}

// Observe records a cursor update. The first sighting of an identity places
// the cursor directly at the target so it does not fly in from the origin.
func (t *CursorTracker) Observe(ev protocol.CursorUpdate, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.cursors[ev.UserID]
	if !ok {
		t.cursors[ev.UserID] = &trackedCursor{
			current:  CursorPosition{UserID: ev.UserID, Name: ev.Name, Path: ev.Path, X: ev.X, Y: ev.Y},
			targetX:  ev.X,
			targetY:  ev.Y,
			lastSeen: now,
		}
		return
	}
	c.targetX = ev.X
	c.targetY = ev.Y
	c.current.Name = ev.Name
	c.current.Path = ev.Path
	c.lastSeen = now
}

// Step advances every cursor one interpolation increment toward its target
// and drops cursors that have gone stale. Returns the positions to render.
func (t *CursorTracker) Step(now time.Time) []CursorPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]CursorPosition, 0, len(t.cursors))
	for id, c := range t.cursors {
		if now.Sub(c.lastSeen) > t.staleAfter {
			delete(t.cursors, id)
			continue
		}
		c.current.X += (c.targetX - c.current.X) * t.lerp
		c.current.Y += (c.targetY - c.current.Y) * t.lerp
		out = append(out, c.current)
	}
	return out
}

// Forget removes one identity's cursor, used when a peer-left arrives before
// the stale timeout.
func (t *CursorTracker) Forget(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cursors, userID)
}

// Len reports how many cursors are currently tracked.
func (t *CursorTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cursors)
}
