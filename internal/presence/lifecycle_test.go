package presence_test

import (
	"sync"
	"testing"
	"time"

	"github.com/a-essam23/go-collab/internal/presence"
	"github.com/a-essam23/go-collab/pkg/identity"
	"github.com/a-essam23/go-collab/pkg/logging"
	"github.com/a-essam23/go-collab/pkg/state/statemanager"
	"github.com/google/uuid"
)

type fakeSender struct {
	id   uuid.UUID
	done chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{id: uuid.New(), done: make(chan struct{})}
}

func (f *fakeSender) ID() uuid.UUID         { return f.id }
func (f *fakeSender) Send(message []byte)   {}
func (f *fakeSender) Close(err error)       {}
func (f *fakeSender) Done() <-chan struct{} { return f.done }

// departureRecorder counts matured departures, which is what peers would see
// as peer-left broadcasts.
type departureRecorder struct {
	mu    sync.Mutex
	count int
	last  identity.Identity
}

func (d *departureRecorder) record(roomKey string, id identity.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
	d.last = id
}

func (d *departureRecorder) departures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

func setup(t *testing.T, grace time.Duration) (*statemanager.InMemoryRegistry, *presence.Manager, *departureRecorder) {
	t.Helper()
	registry := statemanager.NewInMemoryRegistry(logging.Discard())
	rec := &departureRecorder{}
	mgr := presence.NewManager(registry, grace, rec.record, logging.Discard())
	t.Cleanup(mgr.Close)
	return registry, mgr, rec
}

func alice() identity.Identity {
	return identity.Identity{ID: "alice", DisplayName: "Alice"}
}

func TestFirstJoinAnnounces(t *testing.T) {
	_, mgr, _ := setup(t, 3*time.Second)

	announce, reconnection := mgr.HandleJoin("P1", alice(), false)
	if !announce {
		t.Error("First join of an identity must announce")
	}
	if reconnection {
		t.Error("First join is not a reconnection")
	}
}

func TestExtraTabIsSilent(t *testing.T) {
	_, mgr, _ := setup(t, 3*time.Second)

	mgr.HandleJoin("P1", alice(), false)
	announce, reconnection := mgr.HandleJoin("P1", alice(), true)
	if announce {
		t.Error("Extra tab of a present identity must not announce")
	}
	if reconnection {
		t.Error("Extra tab is not a grace-window reconnection")
	}
}

func TestReconnectWithinGraceIsSeamless(t *testing.T) {
	registry, mgr, rec := setup(t, 100*time.Millisecond)

	// Alice's only connection drops: a departure goes pending.
	mgr.HandleDisconnect("P1", alice())
	if mgr.PendingCount() != 1 {
		t.Fatalf("Expected 1 pending departure, got %d", mgr.PendingCount())
	}

	// She reconnects before the window elapses.
	s := newFakeSender()
	registry.RegisterConnection(s, alice(), "127.0.0.1")
	registry.Join(s.ID(), "P1", identity.RoleEditor, "")
	announce, reconnection := mgr.HandleJoin("P1", alice(), false)

	if announce {
		t.Error("Seamless reconnection must not announce a join")
	}
	if !reconnection {
		t.Error("Expected the reconnection path")
	}
	if mgr.PendingCount() != 0 {
		t.Errorf("Pending departure not cancelled: %d", mgr.PendingCount())
	}

	// Even well past the original window, no departure ever matures.
	time.Sleep(250 * time.Millisecond)
	if rec.departures() != 0 {
		t.Errorf("Expected zero departures, got %d", rec.departures())
	}
}

func TestGraceExpiryAnnouncesExactlyOnce(t *testing.T) {
	_, mgr, rec := setup(t, 30*time.Millisecond)

	mgr.HandleDisconnect("P1", alice())
	// A second disconnect signal for the same pair must not double the timer.
	mgr.HandleDisconnect("P1", alice())

	time.Sleep(150 * time.Millisecond)
	if rec.departures() != 1 {
		t.Errorf("Expected exactly one departure, got %d", rec.departures())
	}
	if mgr.PendingCount() != 0 {
		t.Errorf("Pending entry leaked after expiry: %d", mgr.PendingCount())
	}
}

func TestDisconnectWithRemainingTabIsIgnored(t *testing.T) {
	registry, mgr, rec := setup(t, 30*time.Millisecond)

	// Alice keeps a second live connection in the room.
	s := newFakeSender()
	registry.RegisterConnection(s, alice(), "127.0.0.1")
	registry.Join(s.ID(), "P1", identity.RoleEditor, "")

	mgr.HandleDisconnect("P1", alice())
	if mgr.PendingCount() != 0 {
		t.Fatal("Departure went pending despite a remaining connection")
	}

	time.Sleep(100 * time.Millisecond)
	if rec.departures() != 0 {
		t.Errorf("Expected zero departures, got %d", rec.departures())
	}
}

func TestExpiryRechecksRegistry(t *testing.T) {
	registry, mgr, rec := setup(t, 30*time.Millisecond)

	mgr.HandleDisconnect("P1", alice())

	// Alice comes back through the registry, but the lifecycle join races the
	// timer and never lands. The expiry path re-checks the registry and stays
	// quiet.
	s := newFakeSender()
	registry.RegisterConnection(s, alice(), "127.0.0.1")
	registry.Join(s.ID(), "P1", identity.RoleEditor, "")

	time.Sleep(100 * time.Millisecond)
	if rec.departures() != 0 {
		t.Errorf("Phantom departure despite a live connection: %d", rec.departures())
	}
}

func TestExplicitLeaveSkipsGraceWindow(t *testing.T) {
	registry, mgr, _ := setup(t, 3*time.Second)

	if announce := mgr.HandleExplicitLeave("P1", alice()); !announce {
		t.Error("Explicit leave of the last connection must announce immediately")
	}

	// With another tab still in the room the leave announces nothing.
	s := newFakeSender()
	registry.RegisterConnection(s, alice(), "127.0.0.1")
	registry.Join(s.ID(), "P1", identity.RoleEditor, "")
	if announce := mgr.HandleExplicitLeave("P1", alice()); announce {
		t.Error("Leave with a remaining tab must stay silent")
	}
}

func TestCloseStopsPendingTimers(t *testing.T) {
	_, mgr, rec := setup(t, 20*time.Millisecond)

	mgr.HandleDisconnect("P1", alice())
	mgr.Close()

	time.Sleep(80 * time.Millisecond)
	if rec.departures() != 0 {
		t.Errorf("Departure fired after Close: %d", rec.departures())
	}
}
