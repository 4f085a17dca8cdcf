package client_test

import (
	"math"
	"testing"
	"time"

	"github.com/a-essam23/go-collab/pkg/client"
	"github.com/a-essam23/go-collab/pkg/protocol"
)

func cursorAt(userID string, x, y float64) protocol.CursorUpdate {
	return protocol.CursorUpdate{UserID: userID, Name: "User " + userID, X: x, Y: y}
}

func TestFirstSightingSnapsToTarget(t *testing.T) {
	tr := client.NewCursorTracker(0)
	now := time.Now()

	tr.Observe(cursorAt("alice", 100, 50), now)
	positions := tr.Step(now)
	if len(positions) != 1 {
		t.Fatalf("Expected 1 cursor, got %d", len(positions))
	}
	if positions[0].X != 100 || positions[0].Y != 50 {
		t.Errorf("First sighting should start at the target, got (%v, %v)", positions[0].X, positions[0].Y)
	}
}

func TestStepInterpolatesTowardTarget(t *testing.T) {
	tr := client.NewCursorTracker(0)
	now := time.Now()

	tr.Observe(cursorAt("alice", 0, 0), now)
	tr.Observe(cursorAt("alice", 100, 0), now)

	var prev float64
	for i := 0; i < 20; i++ {
		positions := tr.Step(now)
		x := positions[0].X
		if x < prev {
			t.Fatalf("Interpolation moved backward: %v after %v", x, prev)
		}
		prev = x
	}
	// After enough steps the cursor has effectively arrived.
	if math.Abs(prev-100) > 1 {
		t.Errorf("Cursor did not converge on its target, stuck at %v", prev)
	}
}

func TestStaleCursorIsRemoved(t *testing.T) {
	tr := client.NewCursorTracker(100 * time.Millisecond)
	start := time.Now()

	tr.Observe(cursorAt("alice", 10, 10), start)
	if len(tr.Step(start.Add(50*time.Millisecond))) != 1 {
		t.Fatal("Cursor dropped before the stale timeout")
	}

	// The peer closed their tab without a clean leave; the cursor ages out.
	if len(tr.Step(start.Add(300*time.Millisecond))) != 0 {
		t.Error("Stale cursor survived the timeout")
	}
	if tr.Len() != 0 {
		t.Errorf("Stale entry leaked: %d tracked", tr.Len())
	}
}

func TestObserveRefreshesStaleness(t *testing.T) {
	tr := client.NewCursorTracker(100 * time.Millisecond)
	start := time.Now()

	tr.Observe(cursorAt("alice", 0, 0), start)
	tr.Observe(cursorAt("alice", 5, 5), start.Add(80*time.Millisecond))

	if len(tr.Step(start.Add(150*time.Millisecond))) != 1 {
		t.Error("A refreshed cursor was dropped")
	}
}

func TestForgetRemovesImmediately(t *testing.T) {
	tr := client.NewCursorTracker(time.Hour)
	now := time.Now()

	tr.Observe(cursorAt("alice", 0, 0), now)
	tr.Forget("alice")
	if tr.Len() != 0 {
		t.Error("Forget left the cursor tracked")
	}
}
