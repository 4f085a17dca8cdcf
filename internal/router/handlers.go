package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/a-essam23/go-collab/internal/relay"
	"github.com/a-essam23/go-collab/pkg/protocol"
	"github.com/a-essam23/go-collab/pkg/state"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func (r *Router) handleJoin(connID uuid.UUID, payload json.RawMessage) {
	var req protocol.JoinRoom
	if err := json.Unmarshal(payload, &req); err != nil || req.RoomKey == "" {
		r.sendError(connID, "join-room requires a roomKey")
		return
	}

	conn, ok := r.registry.Connection(connID)
	if !ok {
		return
	}

	role, err := r.access.Authorize(conn.Identity, req.RoomKey)
	if err != nil {
		// No room state is created for a rejected join.
		r.logger.Warn("Join rejected",
			slog.String("identity", conn.Identity.ID),
			slog.String("roomKey", req.RoomKey),
			slog.Any("error", err),
		)
		r.sendError(connID, "permission denied")
		return
	}

	oldRoom := conn.RoomKey
	res, err := r.registry.Join(connID, req.RoomKey, role, req.Location)
	if err != nil {
		r.logger.Error("Registry join failed", slog.String("connID", connID.String()), slog.Any("error", err))
		r.sendError(connID, "failed to join room")
		return
	}

	// Switching rooms is a leave of the old room. The registry already moved
	// the connection; the old room's peers still need their peer-left if this
	// was the identity's last tab there.
	if oldRoom != "" && oldRoom != req.RoomKey {
		if r.presence.HandleExplicitLeave(oldRoom, conn.Identity) {
			r.announceDeparture(oldRoom, conn.Identity)
		}
	}

	announce, reconnection := r.presence.HandleJoin(req.RoomKey, conn.Identity, res.WasPresent)

	// The joiner gets the deduplicated snapshot first, then peers hear about
	// the joiner. A reconnection within the grace window announces nothing.
	snapshot := protocol.RoomSnapshot{
		RoomKey: req.RoomKey,
		Peers:   toPeerInfos(res.Peers),
	}
	if frame, err := protocol.Encode(protocol.KindRoomSnapshot, snapshot); err == nil {
		res.Conn.Transport.Send(frame)
	}

	if announce {
		joined := protocol.PeerJoined{
			PeerInfo: protocol.PeerInfo{
				UserID:       conn.Identity.ID,
				Name:         conn.Identity.DisplayName,
				Avatar:       conn.Identity.AvatarRef,
				Role:         string(role),
				Location:     res.Conn.Location,
				ConnectionID: connID.String(),
			},
		}
		if frame, err := protocol.Encode(protocol.KindPeerJoined, joined); err == nil {
			r.relay.BroadcastRoom(req.RoomKey, frame, conn.Identity.ID)
		}
	}

	r.logger.Info("Connection joined room",
		slog.String("identity", conn.Identity.ID),
		slog.String("roomKey", req.RoomKey),
		slog.String("role", string(role)),
		slog.Bool("reconnection", reconnection),
		slog.Int("peers", len(res.Peers)),
	)
}

func (r *Router) handleLeave(connID uuid.UUID) {
	before, err := r.registry.Leave(connID)
	if err != nil {
		// A stray leave from a connection that never joined is a client
		// race, not a fault.
		return
	}

	if r.presence.HandleExplicitLeave(before.RoomKey, before.Identity) {
		frame, err := protocol.Encode(protocol.KindPeerLeft, protocol.PeerLeft{
			UserID: before.Identity.ID,
			Name:   before.Identity.DisplayName,
		})
		if err == nil {
			r.relay.BroadcastRoom(before.RoomKey, frame, "")
		}
		r.logger.Info("Peer left room",
			slog.String("identity", before.Identity.ID),
			slog.String("roomKey", before.RoomKey),
		)
	}
	r.dropHistoryIfEmpty(before.RoomKey)
}

func (r *Router) handleLocation(connID uuid.UUID, payload json.RawMessage) {
	var req protocol.LocationUpdate
	if err := json.Unmarshal(payload, &req); err != nil {
		r.sendError(connID, "malformed location-update")
		return
	}

	// Registry state is updated before anything is forwarded, so the
	// same-location filter sees the new page immediately.
	conn, err := r.registry.UpdateLocation(connID, req.Path)
	if err != nil {
		return
	}

	out := protocol.LocationUpdate{UserID: conn.Identity.ID, Path: req.Path}
	frame, err := protocol.Encode(protocol.KindLocation, out)
	if err != nil {
		return
	}
	if err := r.relay.Publish(connID, protocol.KindLocation, frame); err != nil && !errors.Is(err, state.ErrNotInRoom) {
		r.logger.Warn("Failed to relay location", slog.Any("error", err))
	}
}

func (r *Router) handleCursor(connID uuid.UUID, payload json.RawMessage) {
	var req protocol.CursorUpdate
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}

	conn, ok := r.registry.Connection(connID)
	if !ok || conn.RoomKey == "" {
		return
	}

	out := protocol.CursorUpdate{
		UserID: conn.Identity.ID,
		Name:   conn.Identity.DisplayName,
		Avatar: conn.Identity.AvatarRef,
		Path:   conn.Location,
		X:      req.X,
		Y:      req.Y,
	}
	frame, err := protocol.Encode(protocol.KindCursor, out)
	if err != nil {
		return
	}
	// Throttled drops and not-in-room races are both silent.
	_ = r.relay.Publish(connID, protocol.KindCursor, frame)
}

func (r *Router) handleObjectMutate(connID uuid.UUID, payload json.RawMessage) {
	var op protocol.Operation
	if err := json.Unmarshal(payload, &op); err != nil || op.ObjectID == "" {
		r.sendError(connID, "malformed object-mutate")
		return
	}

	conn, ok := r.registry.Connection(connID)
	if !ok || conn.RoomKey == "" {
		return
	}
	if !conn.Role.CanWrite() {
		r.sendError(connID, "viewers cannot edit")
		return
	}

	op.ActorID = conn.Identity.ID
	op.ActorName = conn.Identity.DisplayName

	// The resolver assigns the sequence number inside the room's ordering
	// lock, so peers receive operations in seq order.
	var effective protocol.Operation
	err := r.relay.PublishPrepared(connID, protocol.KindObjectMutate, func() ([]byte, error) {
		effective = r.conflict.Apply(conn.RoomKey, op)
		return protocol.Encode(protocol.KindObjectMutate, effective)
	})
	if err != nil {
		if errors.Is(err, relay.ErrForbidden) {
			r.sendError(connID, "viewers cannot edit")
		}
		return
	}

	// Broadcast first, persist second: latency or failure in the backing
	// store never delays peer-to-peer visibility.
	if err := r.saver.Save(context.Background(), conn.RoomKey, effective); err != nil {
		r.logger.Error("Persistence save failed; peers already notified",
			slog.String("roomKey", conn.RoomKey),
			slog.String("objectID", effective.ObjectID),
			slog.Any("error", err),
		)
	}
}

// handlePassthrough relays kinds whose payloads stay opaque to the server.
// The source's identity fields are stamped into the flat payload so
// receivers read who acted from the event body itself.
func (r *Router) handlePassthrough(connID uuid.UUID, kind protocol.Kind, payload json.RawMessage) {
	conn, ok := r.registry.Connection(connID)
	if !ok || conn.RoomKey == "" {
		return
	}

	frame, err := protocol.Encode(kind, json.RawMessage(r.stampSource(conn, kind, payload)))
	if err != nil {
		return
	}
	if err := r.relay.Publish(connID, kind, frame); err != nil {
		if errors.Is(err, relay.ErrForbidden) {
			r.sendError(connID, "viewers cannot edit")
		}
		return
	}
}

func (r *Router) stampSource(conn *state.Connection, kind protocol.Kind, payload json.RawMessage) []byte {
	out := []byte(payload)
	if len(out) == 0 || !gjson.ValidBytes(out) || !gjson.ParseBytes(out).IsObject() {
		out = []byte(`{}`)
	}
	out, _ = sjson.SetBytes(out, "userId", conn.Identity.ID)
	out, _ = sjson.SetBytes(out, "userName", conn.Identity.DisplayName)
	if kind == protocol.KindChat && conn.Identity.AvatarRef != "" {
		out, _ = sjson.SetBytes(out, "avatar", conn.Identity.AvatarRef)
	}
	if kind.IsLocationScoped() || kind == protocol.KindStickyNote {
		out, _ = sjson.SetBytes(out, "currentPath", conn.Location)
	}
	if kind.IsWriteClass() || kind == protocol.KindChat {
		out, _ = sjson.SetBytes(out, "timestamp", time.Now().UnixMilli())
	}
	return out
}

func toPeerInfos(peers []state.PresenceEntry) []protocol.PeerInfo {
	infos := make([]protocol.PeerInfo, 0, len(peers))
	for _, p := range peers {
		infos = append(infos, toPeerInfo(p))
	}
	return infos
}

func toPeerInfo(p state.PresenceEntry) protocol.PeerInfo {
	return protocol.PeerInfo{
		UserID:       p.Identity.ID,
		Name:         p.Identity.DisplayName,
		Avatar:       p.Identity.AvatarRef,
		Role:         string(p.Role),
		Location:     p.Location,
		ConnectionID: p.RepresentativeConnectionID.String(),
	}
}
