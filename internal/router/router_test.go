package router_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/a-essam23/go-collab/internal/conflict"
	"github.com/a-essam23/go-collab/internal/persist"
	"github.com/a-essam23/go-collab/internal/relay"
	"github.com/a-essam23/go-collab/internal/router"
	"github.com/a-essam23/go-collab/pkg/identity"
	"github.com/a-essam23/go-collab/pkg/logging"
	"github.com/a-essam23/go-collab/pkg/protocol"
	"github.com/a-essam23/go-collab/pkg/state/statemanager"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// --- Test Suite Setup ---

type fakeSender struct {
	id   uuid.UUID
	done chan struct{}

	mu     sync.Mutex
	frames [][]byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{id: uuid.New(), done: make(chan struct{})}
}

func (f *fakeSender) ID() uuid.UUID { return f.id }
func (f *fakeSender) Send(message []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, message)
}
func (f *fakeSender) Close(err error)       {}
func (f *fakeSender) Done() <-chan struct{} { return f.done }

// framesOf returns the decoded payloads of every received frame of one kind.
func (f *fakeSender) framesOf(t *testing.T, kind protocol.Kind) [][]byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, raw := range f.frames {
		env, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			t.Fatalf("Received undecodable frame: %v", err)
		}
		if env.Event == kind {
			out = append(out, env.Payload)
		}
	}
	return out
}

func (f *fakeSender) countOf(t *testing.T, kind protocol.Kind) int {
	return len(f.framesOf(t, kind))
}

type recordingSaver struct {
	mu    sync.Mutex
	saves []protocol.Operation
}

func (s *recordingSaver) Save(_ context.Context, roomKey string, op protocol.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, op)
	return nil
}

var _ persist.Saver = (*recordingSaver)(nil)

type harness struct {
	registry *statemanager.InMemoryRegistry
	router   *router.Router
	saver    *recordingSaver
}

func newHarness(t *testing.T, grace time.Duration) *harness {
	t.Helper()
	logger := logging.Discard()
	registry := statemanager.NewInMemoryRegistry(logger)
	rel := relay.New(registry, relay.Config{}, logger)
	access := identity.NewStaticAccess(map[string]identity.RoomAccess{
		"private": {Public: false, Members: map[string]identity.Role{"alice": identity.RoleEditor}},
		"gallery": {Public: true, Members: map[string]identity.Role{"alice": identity.RoleOwner}},
	})
	saver := &recordingSaver{}
	rt := router.New(logger, registry, access, rel, conflict.NewResolver(logger), saver, grace)
	t.Cleanup(rt.Close)
	return &harness{registry: registry, router: rt, saver: saver}
}

// connect registers a transport and joins it to a room through the real
// message path.
func (h *harness) connect(t *testing.T, identityID, roomKey, location string) *fakeSender {
	t.Helper()
	s := newFakeSender()
	id := identity.Identity{ID: identityID, DisplayName: "User " + identityID}
	if _, err := h.registry.RegisterConnection(s, id, "127.0.0.1"); err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	h.send(s, protocol.KindJoinRoom, `{"roomKey":"`+roomKey+`","path":"`+location+`"}`)
	return s
}

func (h *harness) send(s *fakeSender, kind protocol.Kind, payload string) {
	frame := []byte(`{"event":"` + string(kind) + `","payload":` + payload + `}`)
	h.router.HandleMessage(context.Background(), s.ID(), frame)
}

// --- Join / Snapshot Tests ---

func TestJoinDeliversSnapshotAndAnnounces(t *testing.T) {
	h := newHarness(t, 3*time.Second)
	a := h.connect(t, "alice", "P1", "/canvas")
	b := h.connect(t, "bob", "P1", "/canvas")

	snaps := a.framesOf(t, protocol.KindRoomSnapshot)
	if len(snaps) != 1 {
		t.Fatalf("Expected 1 snapshot for alice, got %d", len(snaps))
	}
	if n := gjson.GetBytes(snaps[0], "peers.#").Int(); n != 0 {
		t.Errorf("First joiner should see an empty peer list, got %d", n)
	}

	snaps = b.framesOf(t, protocol.KindRoomSnapshot)
	if len(snaps) != 1 {
		t.Fatalf("Expected 1 snapshot for bob, got %d", len(snaps))
	}
	if got := gjson.GetBytes(snaps[0], "peers.0.userId").String(); got != "alice" {
		t.Errorf("Bob's snapshot should contain alice, got %s", snaps[0])
	}

	joined := a.framesOf(t, protocol.KindPeerJoined)
	if len(joined) != 1 {
		t.Fatalf("Expected alice to see bob join, got %d events", len(joined))
	}
	if got := gjson.GetBytes(joined[0], "userId").String(); got != "bob" {
		t.Errorf("Unexpected peer-joined payload: %s", joined[0])
	}
	if b.countOf(t, protocol.KindPeerJoined) != 0 {
		t.Error("Bob received his own join announcement")
	}
}

func TestExtraTabJoinIsSilentToPeers(t *testing.T) {
	h := newHarness(t, 3*time.Second)
	b := h.connect(t, "bob", "P1", "")
	h.connect(t, "alice", "P1", "")
	h.connect(t, "alice", "P1", "")

	if n := b.countOf(t, protocol.KindPeerJoined); n != 1 {
		t.Errorf("Expected exactly one peer-joined for alice's two tabs, got %d", n)
	}

	// Bob's view of the room still holds one entry for alice.
	peers := h.registry.Peers("P1", "bob")
	if len(peers) != 1 || peers[0].Identity.ID != "alice" {
		t.Errorf("Expected one deduplicated entry for alice, got %+v", peers)
	}
}

func TestRoomSwitchAnnouncesDepartureToOldRoom(t *testing.T) {
	h := newHarness(t, time.Hour)
	a := h.connect(t, "alice", "P1", "")
	b := h.connect(t, "bob", "P1", "")

	// Alice's tab joins a different room without leaving first. The old
	// room's peers get their peer-left right away, not after a grace window.
	h.send(a, protocol.KindJoinRoom, `{"roomKey":"P2"}`)

	lefts := b.framesOf(t, protocol.KindPeerLeft)
	if len(lefts) != 1 {
		t.Fatalf("Expected one peer-left in the old room, got %d", len(lefts))
	}
	if gjson.GetBytes(lefts[0], "userId").String() != "alice" {
		t.Errorf("Unexpected peer-left payload: %s", lefts[0])
	}
	if h.registry.IdentityPresent("P1", "alice") {
		t.Error("alice still present in the old room after switching")
	}
	if !h.registry.IdentityPresent("P2", "alice") {
		t.Error("alice not present in the new room after switching")
	}
}

func TestRoomSwitchWithRemainingTabStaysSilent(t *testing.T) {
	h := newHarness(t, time.Hour)
	tab1 := h.connect(t, "alice", "P1", "")
	h.connect(t, "alice", "P1", "")
	b := h.connect(t, "bob", "P1", "")

	// One of alice's tabs moves to another room; the other keeps her present.
	h.send(tab1, protocol.KindJoinRoom, `{"roomKey":"P2"}`)

	if n := b.countOf(t, protocol.KindPeerLeft); n != 0 {
		t.Errorf("Departure announced while a tab remained, got %d peer-left", n)
	}
	if !h.registry.IdentityPresent("P1", "alice") {
		t.Error("alice vanished from the old room despite her remaining tab")
	}
}

func TestPrivateRoomJoinRejected(t *testing.T) {
	h := newHarness(t, 3*time.Second)
	m := newFakeSender()
	h.registry.RegisterConnection(m, identity.Identity{ID: "mallory", DisplayName: "Mallory"}, "127.0.0.1")

	h.send(m, protocol.KindJoinRoom, `{"roomKey":"private"}`)

	if m.countOf(t, protocol.KindError) != 1 {
		t.Error("Rejected join must surface an error to the caller")
	}
	if m.countOf(t, protocol.KindRoomSnapshot) != 0 {
		t.Error("Rejected join must not deliver a snapshot")
	}
	// No room state was created for the failed join.
	if h.registry.IdentityPresent("private", "mallory") {
		t.Error("Rejected join created room membership")
	}
}

// --- Relay Path Tests ---

func TestViewerMutationRejected(t *testing.T) {
	h := newHarness(t, 3*time.Second)
	// Alice owns the gallery; mallory is a non-member of a public room and
	// therefore joins as a viewer.
	a := h.connect(t, "alice", "gallery", "")
	b := h.connect(t, "mallory", "gallery", "")

	h.send(b, protocol.KindObjectMutate, `{"objectId":"n1","type":"move","payload":{"x":5}}`)

	if b.countOf(t, protocol.KindError) != 1 {
		t.Error("Viewer must receive a rejection for a write-class event")
	}
	if a.countOf(t, protocol.KindObjectMutate) != 0 {
		t.Error("Rejected mutation reached a peer")
	}
	h.saver.mu.Lock()
	saved := len(h.saver.saves)
	h.saver.mu.Unlock()
	if saved != 0 {
		t.Error("Rejected mutation was persisted")
	}
}

func TestMutationBroadcastAndPersisted(t *testing.T) {
	h := newHarness(t, 3*time.Second)
	a := h.connect(t, "alice", "P1", "")
	b := h.connect(t, "bob", "P1", "")

	h.send(a, protocol.KindObjectMutate, `{"objectId":"n1","type":"modify","properties":{"color":"red"}}`)

	ops := b.framesOf(t, protocol.KindObjectMutate)
	if len(ops) != 1 {
		t.Fatalf("Expected bob to receive 1 mutation, got %d", len(ops))
	}
	if gjson.GetBytes(ops[0], "actorId").String() != "alice" {
		t.Errorf("Mutation missing actor stamp: %s", ops[0])
	}
	if gjson.GetBytes(ops[0], "seq").Int() != 1 {
		t.Errorf("Mutation missing arrival order: %s", ops[0])
	}
	if a.countOf(t, protocol.KindObjectMutate) != 0 {
		t.Error("Mutation echoed to its sender")
	}

	h.saver.mu.Lock()
	defer h.saver.mu.Unlock()
	if len(h.saver.saves) != 1 || h.saver.saves[0].ActorID != "alice" {
		t.Errorf("Expected 1 persisted operation from alice, got %+v", h.saver.saves)
	}
}

func TestConcurrentModifiesMergeOnTheWire(t *testing.T) {
	h := newHarness(t, 3*time.Second)
	a := h.connect(t, "alice", "P1", "")
	b := h.connect(t, "bob", "P1", "")
	c := h.connect(t, "carol", "P1", "")

	h.send(a, protocol.KindObjectMutate, `{"objectId":"n1","type":"modify","properties":{"color":"red"}}`)
	h.send(b, protocol.KindObjectMutate, `{"objectId":"n1","type":"modify","properties":{"label":"start"}}`)

	ops := c.framesOf(t, protocol.KindObjectMutate)
	if len(ops) != 2 {
		t.Fatalf("Expected carol to receive 2 mutations, got %d", len(ops))
	}
	merged := gjson.GetBytes(ops[1], "properties")
	if merged.Get("color").String() != "red" || merged.Get("label").String() != "start" {
		t.Errorf("Second modify should carry the merged bag, got %s", ops[1])
	}
}

func TestMutationBroadcastOrderMatchesSeq(t *testing.T) {
	h := newHarness(t, 3*time.Second)
	a := h.connect(t, "alice", "P1", "")
	c := h.connect(t, "carol", "P1", "")
	b := h.connect(t, "bob", "P1", "")

	// Two editors hammer the same object from separate goroutines. Peers
	// must receive the operations in seq order regardless of interleaving.
	var wg sync.WaitGroup
	for _, sender := range []*fakeSender{a, c} {
		wg.Add(1)
		go func(s *fakeSender) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				h.send(s, protocol.KindObjectMutate, `{"objectId":"n1","type":"modify","properties":{"x":1}}`)
			}
		}(sender)
	}
	wg.Wait()

	ops := b.framesOf(t, protocol.KindObjectMutate)
	if len(ops) != 50 {
		t.Fatalf("Expected bob to receive 50 mutations, got %d", len(ops))
	}
	prev := int64(0)
	for i, op := range ops {
		seq := gjson.GetBytes(op, "seq").Int()
		if seq <= prev {
			t.Fatalf("Mutation %d arrived out of order: seq %d after %d", i, seq, prev)
		}
		prev = seq
	}
}

func TestCursorFromOneTabSkipsTheOther(t *testing.T) {
	h := newHarness(t, 3*time.Second)
	tab1 := h.connect(t, "alice", "P1", "/canvas")
	tab2 := h.connect(t, "alice", "P1", "/canvas")
	b := h.connect(t, "bob", "P1", "/canvas")

	h.send(tab1, protocol.KindCursor, `{"x":10,"y":20}`)

	cursors := b.framesOf(t, protocol.KindCursor)
	if len(cursors) != 1 {
		t.Fatalf("Expected bob to receive 1 cursor update, got %d", len(cursors))
	}
	if gjson.GetBytes(cursors[0], "userId").String() != "alice" {
		t.Errorf("Cursor update missing source identity: %s", cursors[0])
	}
	if tab1.countOf(t, protocol.KindCursor) != 0 || tab2.countOf(t, protocol.KindCursor) != 0 {
		t.Error("Cursor update reached the sender's own connections")
	}
}

func TestChatIsStampedAndReachesOwnOtherTab(t *testing.T) {
	h := newHarness(t, 3*time.Second)
	tab1 := h.connect(t, "alice", "P1", "")
	tab2 := h.connect(t, "alice", "P1", "")
	b := h.connect(t, "bob", "P1", "")

	h.send(tab1, protocol.KindChat, `{"text":"hello"}`)

	msgs := b.framesOf(t, protocol.KindChat)
	if len(msgs) != 1 {
		t.Fatalf("Expected bob to receive 1 chat message, got %d", len(msgs))
	}
	payload := gjson.ParseBytes(msgs[0])
	if payload.Get("text").String() != "hello" {
		t.Errorf("Chat body lost: %s", msgs[0])
	}
	if payload.Get("userId").String() != "alice" || payload.Get("userName").String() != "User alice" {
		t.Errorf("Chat missing sender stamp: %s", msgs[0])
	}
	if !payload.Get("timestamp").Exists() {
		t.Errorf("Chat missing timestamp: %s", msgs[0])
	}

	if tab2.countOf(t, protocol.KindChat) != 1 {
		t.Error("Chat must reach the sender's other tab")
	}
	if tab1.countOf(t, protocol.KindChat) != 0 {
		t.Error("Chat echoed to its originating connection")
	}
}

func TestLocationUpdateRebroadcast(t *testing.T) {
	h := newHarness(t, 3*time.Second)
	a := h.connect(t, "alice", "P1", "/canvas")
	b := h.connect(t, "bob", "P1", "/canvas")

	h.send(a, protocol.KindLocation, `{"path":"/notes"}`)

	locs := b.framesOf(t, protocol.KindLocation)
	if len(locs) != 1 {
		t.Fatalf("Expected bob to see 1 location update, got %d", len(locs))
	}
	if gjson.GetBytes(locs[0], "userId").String() != "alice" || gjson.GetBytes(locs[0], "path").String() != "/notes" {
		t.Errorf("Unexpected location payload: %s", locs[0])
	}

	// Registry state was updated before the broadcast.
	conn, _ := h.registry.Connection(a.ID())
	if conn.Location != "/notes" {
		t.Errorf("Registry location not updated, got %q", conn.Location)
	}
}

func TestStrayEventsBeforeJoinAreSilent(t *testing.T) {
	h := newHarness(t, 3*time.Second)
	s := newFakeSender()
	h.registry.RegisterConnection(s, identity.Identity{ID: "alice"}, "127.0.0.1")

	h.send(s, protocol.KindCursor, `{"x":1,"y":2}`)
	h.send(s, protocol.KindChat, `{"text":"anyone?"}`)
	h.send(s, protocol.KindLeaveRoom, `{}`)

	if s.countOf(t, protocol.KindError) != 0 {
		t.Error("Room-scoped calls before join must be silent no-ops")
	}
}

// --- Presence Lifecycle Tests ---

func TestGraceWindowReconnectIsInvisible(t *testing.T) {
	h := newHarness(t, 200*time.Millisecond)
	a := h.connect(t, "alice", "P1", "")
	b := h.connect(t, "bob", "P1", "")

	// Page navigation: alice's only connection drops and a fresh one joins
	// inside the grace window.
	h.router.HandleClose(a.ID(), nil)
	time.Sleep(50 * time.Millisecond)
	h.connect(t, "alice", "P1", "")

	time.Sleep(400 * time.Millisecond)
	if n := b.countOf(t, protocol.KindPeerLeft); n != 0 {
		t.Errorf("Peers observed %d peer-left during a seamless reconnection", n)
	}
	// The original join is the only announcement bob ever saw for alice.
	if n := b.countOf(t, protocol.KindPeerJoined); n != 1 {
		t.Errorf("Peers observed %d peer-joined, expected only the original", n)
	}
}

func TestGraceWindowExpiryAnnouncesOnce(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	a := h.connect(t, "alice", "P1", "")
	b := h.connect(t, "bob", "P1", "")

	h.router.HandleClose(a.ID(), nil)

	time.Sleep(250 * time.Millisecond)
	lefts := b.framesOf(t, protocol.KindPeerLeft)
	if len(lefts) != 1 {
		t.Fatalf("Expected exactly one peer-left, got %d", len(lefts))
	}
	if gjson.GetBytes(lefts[0], "userId").String() != "alice" {
		t.Errorf("Unexpected peer-left payload: %s", lefts[0])
	}
}

func TestMultiTabDisconnectDoesNotAnnounce(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	tab1 := h.connect(t, "alice", "P1", "")
	h.connect(t, "alice", "P1", "")
	b := h.connect(t, "bob", "P1", "")

	// One of alice's two tabs closes; the other keeps her present.
	h.router.HandleClose(tab1.ID(), nil)

	time.Sleep(200 * time.Millisecond)
	if n := b.countOf(t, protocol.KindPeerLeft); n != 0 {
		t.Errorf("Departure announced while a tab remained, got %d peer-left", n)
	}
}

func TestExplicitLeaveAnnouncesImmediately(t *testing.T) {
	h := newHarness(t, time.Hour)
	a := h.connect(t, "alice", "P1", "")
	b := h.connect(t, "bob", "P1", "")

	h.send(a, protocol.KindLeaveRoom, `{"roomKey":"P1"}`)

	// No grace window on a deliberate leave.
	lefts := b.framesOf(t, protocol.KindPeerLeft)
	if len(lefts) != 1 {
		t.Fatalf("Expected an immediate peer-left, got %d", len(lefts))
	}
	if gjson.GetBytes(lefts[0], "userId").String() != "alice" {
		t.Errorf("Unexpected peer-left payload: %s", lefts[0])
	}
}

func TestMalformedFrameGetsErrorReply(t *testing.T) {
	h := newHarness(t, 3*time.Second)
	s := newFakeSender()
	h.registry.RegisterConnection(s, identity.Identity{ID: "alice"}, "127.0.0.1")

	h.router.HandleMessage(context.Background(), s.ID(), []byte(`{{{`))
	if s.countOf(t, protocol.KindError) != 1 {
		t.Error("Malformed frame must produce an error reply")
	}
}
