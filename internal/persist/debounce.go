package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/go-collab/pkg/protocol"
)

type pendingSave struct {
	timer   *time.Timer
	roomKey string
	op      protocol.Operation
}

// Debouncer coalesces high-frequency saves per (room, object): each call
// replaces the pending operation and restarts a trailing-edge timer, so a
// drag producing dozens of moves per second lands as one write. Save always
// returns nil; the delayed write is fire-and-forget and failures are logged.
type Debouncer struct {
	mu      sync.Mutex
	pending map[string]*pendingSave

	inner  Saver
	delay  time.Duration
	logger *slog.Logger
}

var _ Saver = (*Debouncer)(nil)

func NewDebouncer(inner Saver, delay time.Duration, logger *slog.Logger) *Debouncer {
	return &Debouncer{
		pending: make(map[string]*pendingSave),
		inner:   inner,
		delay:   delay,
		logger:  logger.With(slog.String("component", "save_debouncer")),
	}
}

func (d *Debouncer) Save(_ context.Context, roomKey string, op protocol.Operation) error {
	if d.delay <= 0 {
		d.flushOne(roomKey, op)
		return nil
	}

	key := roomKey + "\x00" + op.ObjectID
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		p.op = op
		p.timer.Reset(d.delay)
		return nil
	}

	p := &pendingSave{roomKey: roomKey, op: op}
	p.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		current, ok := d.pending[key]
		if !ok {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()
		d.flushOne(current.roomKey, current.op)
	})
	d.pending[key] = p
	return nil
}

// Flush writes every pending operation immediately. Called on shutdown.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	drained := make([]*pendingSave, 0, len(d.pending))
	for key, p := range d.pending {
		p.timer.Stop()
		drained = append(drained, p)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	for _, p := range drained {
		d.flushOne(p.roomKey, p.op)
	}
}

// PendingCount reports how many saves are currently held back.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Debouncer) flushOne(roomKey string, op protocol.Operation) {
	// The connection that triggered the save may be long gone by the time
	// the timer fires; the write gets its own context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.inner.Save(ctx, roomKey, op); err != nil {
		d.logger.Error("Persistence save failed; live state already broadcast",
			slog.String("roomKey", roomKey),
			slog.String("objectID", op.ObjectID),
			slog.Any("error", err),
		)
	}
}
