package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/a-essam23/go-collab/pkg/protocol"
	"github.com/coder/websocket"
)

// EventHandler receives every decoded server frame after the built-in
// presence and cursor bookkeeping has been applied. Optional.
type EventHandler func(kind protocol.Kind, payload []byte)

// Options configures Dial.
type Options struct {
	// Token is the connect-time credential. Empty connects as a guest.
	Token string
	// CursorStaleAfter overrides the cursor removal timeout.
	CursorStaleAfter time.Duration
	// OnEvent, when set, is called for every inbound frame.
	OnEvent EventHandler
	Logger  *slog.Logger
}

// Client is one live connection to the collaboration server. It keeps the
// local presence view and cursor tracker reconciled from inbound frames and
// exposes typed send helpers for the outbound ones.
type Client struct {
	conn    *websocket.Conn
	cache   *PresenceCache
	cursors *CursorTracker
	onEvent EventHandler
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects and starts the read loop. The credential travels as a query
// parameter; the server treats a missing or invalid one as a guest connect,
// so Dial never fails on auth grounds.
func Dial(ctx context.Context, serverURL string, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var headers http.Header
	if opts.Token != "" {
		headers = http.Header{"Cookie": []string{"session-token=" + opts.Token}}
	}

	conn, _, err := websocket.Dial(ctx, serverURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", serverURL, err)
	}

	c := &Client{
		conn:    conn,
		cache:   NewPresenceCache(),
		cursors: NewCursorTracker(opts.CursorStaleAfter),
		onEvent: opts.OnEvent,
		logger:  logger.With(slog.String("component", "collab_client")),
		done:    make(chan struct{}),
	}
	go c.readLoop(ctx)
	return c, nil
}

// Presence returns the live deduplicated peer view.
func (c *Client) Presence() *PresenceCache { return c.cache }

// Cursors returns the live cursor tracker.
func (c *Client) Cursors() *CursorTracker { return c.cursors }

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close(websocket.StatusNormalClosure, "")
	})
	return err
}

// JoinRoom enters a workspace. The server replies with a room snapshot that
// resets the presence view.
func (c *Client) JoinRoom(ctx context.Context, roomKey, location string) error {
	return c.send(ctx, protocol.KindJoinRoom, protocol.JoinRoom{RoomKey: roomKey, Location: location})
}

// LeaveRoom exits the current workspace immediately, skipping the grace
// window a dropped transport would get.
func (c *Client) LeaveRoom(ctx context.Context, roomKey string) error {
	return c.send(ctx, protocol.KindLeaveRoom, protocol.LeaveRoom{RoomKey: roomKey})
}

// UpdateLocation reports the page this client is now on.
func (c *Client) UpdateLocation(ctx context.Context, path string) error {
	return c.send(ctx, protocol.KindLocation, protocol.LocationUpdate{Path: path})
}

// SendCursor reports a cursor position. The server throttles per connection;
// calling this at input frequency is fine.
func (c *Client) SendCursor(ctx context.Context, x, y float64) error {
	return c.send(ctx, protocol.KindCursor, protocol.CursorUpdate{X: x, Y: y})
}

// SendOperation submits a mutation of a shared object.
func (c *Client) SendOperation(ctx context.Context, op protocol.Operation) error {
	return c.send(ctx, protocol.KindObjectMutate, op)
}

// SendChat posts a chat message to the room.
func (c *Client) SendChat(ctx context.Context, payload any) error {
	return c.send(ctx, protocol.KindChat, payload)
}

// Send submits a raw payload under any event kind, for the passthrough
// events (strokes, sticky notes, typing indicators).
func (c *Client) Send(ctx context.Context, kind protocol.Kind, payload any) error {
	return c.send(ctx, kind, payload)
}

func (c *Client) send(ctx context.Context, kind protocol.Kind, payload any) error {
	frame, err := protocol.Encode(kind, payload)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.logger.Debug("Read loop ended", slog.Any("reason", err))
			return
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			c.logger.Warn("Dropping undecodable server frame", slog.Any("error", err))
			continue
		}
		c.apply(env)
		if c.onEvent != nil {
			c.onEvent(env.Event, env.Payload)
		}
	}
}

// apply runs the built-in bookkeeping for presence and cursor frames. Other
// kinds pass straight through to the handler.
func (c *Client) apply(env protocol.Envelope) {
	switch env.Event {
	case protocol.KindRoomSnapshot:
		var snap protocol.RoomSnapshot
		if err := unmarshal(env.Payload, &snap); err != nil {
			return
		}
		c.cache.ApplySnapshot(snap.Peers)
	case protocol.KindPeerJoined:
		var ev protocol.PeerJoined
		if err := unmarshal(env.Payload, &ev); err != nil {
			return
		}
		c.cache.ApplyJoined(ev)
	case protocol.KindPeerLeft:
		var ev protocol.PeerLeft
		if err := unmarshal(env.Payload, &ev); err != nil {
			return
		}
		c.cache.ApplyLeft(ev)
		c.cursors.Forget(ev.UserID)
	case protocol.KindLocation:
		var ev protocol.LocationUpdate
		if err := unmarshal(env.Payload, &ev); err != nil {
			return
		}
		c.cache.ApplyLocation(ev)
	case protocol.KindCursor:
		var ev protocol.CursorUpdate
		if err := unmarshal(env.Payload, &ev); err != nil {
			return
		}
		c.cursors.Observe(ev, time.Now())
	}
}

func unmarshal(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}

