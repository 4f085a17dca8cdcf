package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type Config struct {
	// Minimum interval between cursor broadcasts per source connection.
	CursorInterval time.Duration
}

// throttleTable enforces a minimum inter-send interval per connection.
// Excess sends within the interval are dropped; this state is purely local
// and discarded on disconnect.
type throttleTable struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	interval time.Duration
}

func newThrottleTable(interval time.Duration) *throttleTable {
	return &throttleTable{
		limiters: make(map[uuid.UUID]*rate.Limiter),
		interval: interval,
	}
}

func (t *throttleTable) allow(connID uuid.UUID) bool {
	if t.interval <= 0 {
		return true
	}
	t.mu.Lock()
	lim, ok := t.limiters[connID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.interval), 1)
		t.limiters[connID] = lim
	}
	t.mu.Unlock()
	return lim.Allow()
}

func (t *throttleTable) forget(connID uuid.UUID) {
	t.mu.Lock()
	delete(t.limiters, connID)
	t.mu.Unlock()
}
