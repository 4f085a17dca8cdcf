// Package conflict resolves concurrent mutations of shared objects. It is a
// deliberately small operational-transform-like reducer, not a CRDT:
// move/resize are last-writer-wins, concurrent modifies merge their property
// bags field by field.
package conflict

import (
	"log/slog"
	"sync"

	"github.com/a-essam23/go-collab/pkg/protocol"
)

type roomHistory struct {
	mu   sync.Mutex
	last *protocol.Operation
	seq  int64
}

// Resolver tracks the last applied operation per room and rewrites incoming
// operations against it. Operations are ordered by arrival here, never by
// client timestamps.
type Resolver struct {
	mu     sync.RWMutex
	rooms  map[string]*roomHistory
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{
		rooms:  make(map[string]*roomHistory),
		logger: logger.With(slog.String("component", "conflict_resolver")),
	}
}

// Apply assigns the operation its place in the room's arrival order and
// returns the effective operation to broadcast and persist.
//
// modify vs modify on the same object merges property bags with the newer
// operation winning per key, so two users editing unrelated properties never
// clobber each other. move/resize overwrite whole. add passes through. A
// delete arriving after a modify to the same object is not reconciled; the
// delete simply wins downstream.
func (r *Resolver) Apply(roomKey string, op protocol.Operation) protocol.Operation {
	h := r.history(roomKey)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	op.Seq = h.seq

	if op.Type == protocol.OpModify &&
		h.last != nil &&
		h.last.Type == protocol.OpModify &&
		h.last.ObjectID == op.ObjectID {
		op.Properties = mergeBags(h.last.Properties, op.Properties)
		r.logger.Debug("Merged concurrent modify",
			slog.String("roomKey", roomKey),
			slog.String("objectID", op.ObjectID),
			slog.Int64("seq", op.Seq),
		)
	}

	applied := op
	h.last = &applied
	return op
}

// LastOperation returns the most recently applied operation for a room.
func (r *Resolver) LastOperation(roomKey string) (protocol.Operation, bool) {
	r.mu.RLock()
	h, ok := r.rooms[roomKey]
	r.mu.RUnlock()
	if !ok {
		return protocol.Operation{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return protocol.Operation{}, false
	}
	return *h.last, true
}

// Forget drops a room's history. Called when the room empties.
func (r *Resolver) Forget(roomKey string) {
	r.mu.Lock()
	delete(r.rooms, roomKey)
	r.mu.Unlock()
}

func (r *Resolver) history(roomKey string) *roomHistory {
	r.mu.RLock()
	h, ok := r.rooms[roomKey]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok = r.rooms[roomKey]; ok {
		return h
	}
	h = &roomHistory{}
	r.rooms[roomKey] = h
	return h
}
