// Package relay fans events out within a room. It owns the self-exclusion
// invariant (never back to the sender, never to the sender's other tabs),
// role gating for write-class events, the cursor throttle, and the
// same-location filter for page-scoped events.
package relay

import (
	"errors"
	"log/slog"

	"github.com/a-essam23/go-collab/pkg/protocol"
	"github.com/a-essam23/go-collab/pkg/state"
	"github.com/google/uuid"
)

// ErrForbidden marks a write-class event from a read-only role. Surfaced to
// the originating client only; nothing is broadcast.
var ErrForbidden = errors.New("forbidden")

type Relay struct {
	registry state.Registry
	throttle *throttleTable
	logger   *slog.Logger
}

func New(registry state.Registry, cfg Config, logger *slog.Logger) *Relay {
	return &Relay{
		registry: registry,
		throttle: newThrottleTable(cfg.CursorInterval),
		logger:   logger.With(slog.String("component", "event_relay")),
	}
}

// Publish relays a client-originated frame into the source's room.
//
// Returns state.ErrNotInRoom when the source never joined (callers treat it
// as a no-op) and ErrForbidden for gated writes. A throttled cursor update
// is dropped silently, not queued.
func (r *Relay) Publish(sourceID uuid.UUID, kind protocol.Kind, frame []byte) error {
	return r.publish(sourceID, kind, func() ([]byte, error) { return frame, nil })
}

// PublishPrepared is Publish with the frame built inside the room's ordering
// lock. A caller that derives the frame from mutable shared state (sequence
// numbers, merge results) runs that derivation in prepare, so the order
// peers receive frames in matches the order the state was advanced in.
// Gating and throttling happen first; a rejected publish never calls prepare.
func (r *Relay) PublishPrepared(sourceID uuid.UUID, kind protocol.Kind, prepare func() ([]byte, error)) error {
	return r.publish(sourceID, kind, prepare)
}

func (r *Relay) publish(sourceID uuid.UUID, kind protocol.Kind, prepare func() ([]byte, error)) error {
	src, ok := r.registry.Connection(sourceID)
	if !ok || src.RoomKey == "" {
		return state.ErrNotInRoom
	}
	if kind.IsWriteClass() && !src.Role.CanWrite() {
		r.logger.Debug("Write-class event rejected for read-only role",
			slog.String("identity", src.Identity.ID),
			slog.String("kind", string(kind)),
		)
		return ErrForbidden
	}
	if kind == protocol.KindCursor && !r.throttle.allow(sourceID) {
		return nil
	}

	// Chat is the one kind also delivered to the sender's other tabs: their
	// own message has to appear in every open transcript. The originating
	// connection itself is still excluded.
	includeOwnTabs := kind == protocol.KindChat

	ran := false
	var prepErr error
	delivered := 0
	r.registry.WithRoom(src.RoomKey, func(conns []*state.Connection) {
		ran = true
		frame, err := prepare()
		if err != nil {
			prepErr = err
			return
		}
		var srcLocation string
		for _, c := range conns {
			if c.ID == sourceID {
				srcLocation = c.Location
				break
			}
		}
		for _, c := range conns {
			if c.ID == sourceID {
				continue
			}
			if !includeOwnTabs && c.Identity.ID == src.Identity.ID {
				continue
			}
			if kind.IsLocationScoped() && c.Location != srcLocation {
				continue
			}
			c.Transport.Send(frame)
			delivered++
		}
	})
	if !ran {
		// The room emptied between the snapshot read and the fan-out.
		return state.ErrNotInRoom
	}
	if prepErr != nil {
		return prepErr
	}

	r.logger.Debug("Relayed event",
		slog.String("kind", string(kind)),
		slog.String("roomKey", src.RoomKey),
		slog.Int("delivered", delivered),
	)
	return nil
}

// BroadcastRoom sends a server-originated frame to every connection in the
// room, skipping all connections of excludeIdentityID (empty string skips
// nobody).
func (r *Relay) BroadcastRoom(roomKey string, frame []byte, excludeIdentityID string) {
	r.registry.WithRoom(roomKey, func(conns []*state.Connection) {
		for _, c := range conns {
			if excludeIdentityID != "" && c.Identity.ID == excludeIdentityID {
				continue
			}
			c.Transport.Send(frame)
		}
	})
}

// ForgetConnection drops per-connection relay state (the cursor throttle).
// Called when the transport closes.
func (r *Relay) ForgetConnection(connID uuid.UUID) {
	r.throttle.forget(connID)
}
