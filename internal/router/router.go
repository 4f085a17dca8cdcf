// Package router turns inbound wire frames into calls on the registry,
// presence lifecycle, relay, conflict resolver, and persistence seam. Every
// event kind is matched explicitly; there is no string-keyed dispatch table
// to fall through.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/a-essam23/go-collab/internal/conflict"
	"github.com/a-essam23/go-collab/internal/persist"
	"github.com/a-essam23/go-collab/internal/presence"
	"github.com/a-essam23/go-collab/internal/relay"
	"github.com/a-essam23/go-collab/pkg/identity"
	"github.com/a-essam23/go-collab/pkg/protocol"
	"github.com/a-essam23/go-collab/pkg/state"
	"github.com/google/uuid"
)

type Router struct {
	logger   *slog.Logger
	registry state.Registry
	access   identity.AccessService
	relay    *relay.Relay
	conflict *conflict.Resolver
	saver    persist.Saver
	presence *presence.Manager
}

func New(logger *slog.Logger, registry state.Registry, access identity.AccessService, rel *relay.Relay, resolver *conflict.Resolver, saver persist.Saver, graceWindow time.Duration) *Router {
	r := &Router{
		logger:   logger.With(slog.String("component", "event_router")),
		registry: registry,
		access:   access,
		relay:    rel,
		conflict: resolver,
		saver:    saver,
	}
	r.presence = presence.NewManager(registry, graceWindow, r.announceDeparture, logger)
	return r
}

// Presence exposes the lifecycle manager, mainly to tests.
func (r *Router) Presence() *presence.Manager {
	return r.presence
}

// Close stops the presence grace timers.
func (r *Router) Close() {
	r.presence.Close()
}

// HandleMessage is the transport's message callback for one inbound frame.
func (r *Router) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	env, err := protocol.DecodeEnvelope(msg)
	if err != nil {
		r.logger.Warn("Dropping undecodable frame", slog.String("connID", connID.String()), slog.Any("error", err))
		r.sendError(connID, "malformed frame")
		return
	}

	switch env.Event {
	case protocol.KindJoinRoom:
		r.handleJoin(connID, env.Payload)
	case protocol.KindLeaveRoom:
		r.handleLeave(connID)
	case protocol.KindLocation:
		r.handleLocation(connID, env.Payload)
	case protocol.KindCursor:
		r.handleCursor(connID, env.Payload)
	case protocol.KindObjectMutate:
		r.handleObjectMutate(connID, env.Payload)
	case protocol.KindDrawingStroke, protocol.KindDrawingClear,
		protocol.KindStickyNote, protocol.KindNoteUpdate,
		protocol.KindSelection, protocol.KindChat,
		protocol.KindTypingStart, protocol.KindTypingStop:
		r.handlePassthrough(connID, env.Event, env.Payload)
	case protocol.KindRoomSnapshot, protocol.KindPeerJoined,
		protocol.KindPeerLeft, protocol.KindError:
		// Server-originated kinds have no business arriving inbound.
		r.logger.Warn("Client sent a server-originated event",
			slog.String("connID", connID.String()),
			slog.String("kind", string(env.Event)),
		)
	}
}

// HandleClose is the transport's close callback. It tears down registry
// state and hands the identity to the presence lifecycle, which decides
// after the grace window whether anyone actually left.
func (r *Router) HandleClose(connID uuid.UUID, cause error) {
	r.relay.ForgetConnection(connID)

	removed, err := r.registry.DeregisterConnection(connID)
	if err != nil {
		return
	}
	if removed.RoomKey != "" {
		r.presence.HandleDisconnect(removed.RoomKey, removed.Identity)
	}
}

// announceDeparture is the presence manager's callback: the grace window
// elapsed with no reconnection, broadcast exactly one peer-left.
func (r *Router) announceDeparture(roomKey string, id identity.Identity) {
	frame, err := protocol.Encode(protocol.KindPeerLeft, protocol.PeerLeft{
		UserID: id.ID,
		Name:   id.DisplayName,
	})
	if err != nil {
		r.logger.Error("Failed to encode peer-left", slog.Any("error", err))
		return
	}
	r.relay.BroadcastRoom(roomKey, frame, "")
	r.logger.Info("Peer left room", slog.String("identity", id.ID), slog.String("roomKey", roomKey))
	r.dropHistoryIfEmpty(roomKey)
}

func (r *Router) dropHistoryIfEmpty(roomKey string) {
	if len(r.registry.Peers(roomKey, "")) == 0 {
		r.conflict.Forget(roomKey)
	}
}

func (r *Router) sendError(connID uuid.UUID, message string) {
	conn, ok := r.registry.Connection(connID)
	if !ok {
		return
	}
	frame, err := protocol.Encode(protocol.KindError, protocol.ErrorInfo{Message: message})
	if err != nil {
		return
	}
	conn.Transport.Send(frame)
}
