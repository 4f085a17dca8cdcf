// Package client is the consumer-side companion to the server: a websocket
// client plus the local presence view a UI renders from. The cache owns the
// reconciliation rules so the rendering layer never has to reason about
// duplicate tabs or stale cursors.
package client

import (
	"sort"
	"sync"

	"github.com/a-essam23/go-collab/pkg/protocol"
)

// PresenceCache is the local, deduplicated view of remote participants in a
// room. It reconciles three server-pushed events: the full snapshot received
// on join, incremental joined/left, and location updates.
//
// Entries are keyed by identity, never by connection: even if the transport
// ever delivered per-connection entries, a second entry for an already
// present identity updates the existing one in place.
type PresenceCache struct {
	mu    sync.RWMutex
	peers map[string]protocol.PeerInfo
}

func NewPresenceCache() *PresenceCache {
	return &PresenceCache{peers: make(map[string]protocol.PeerInfo)}
}

// ApplySnapshot replaces the whole view. Later entries for the same identity
// win, collapsing any per-connection duplicates.
func (c *PresenceCache) ApplySnapshot(peers []protocol.PeerInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers = make(map[string]protocol.PeerInfo, len(peers))
	for _, p := range peers {
		c.peers[p.UserID] = p
	}
}

// ApplyJoined upserts one peer. Returns true when the peer was not already
// present, which is what should trigger a UI notification; an update in
// place is silent.
func (c *PresenceCache) ApplyJoined(ev protocol.PeerJoined) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.peers[ev.UserID]
	c.peers[ev.UserID] = ev.PeerInfo
	return !existed
}

// ApplyLeft removes the peer. Returns true when something was removed.
func (c *PresenceCache) ApplyLeft(ev protocol.PeerLeft) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.peers[ev.UserID]
	delete(c.peers, ev.UserID)
	return existed
}

// ApplyLocation updates a present peer's location. Unknown peers are
// ignored; the snapshot or a joined event must introduce them first.
func (c *PresenceCache) ApplyLocation(ev protocol.LocationUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[ev.UserID]
	if !ok {
		return
	}
	p.Location = ev.Path
	c.peers[ev.UserID] = p
}

// Peer returns one entry by identity id.
func (c *PresenceCache) Peer(userID string) (protocol.PeerInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.peers[userID]
	return p, ok
}

// Peers returns the current view sorted by display name for stable
// rendering.
func (c *PresenceCache) Peers() []protocol.PeerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.PeerInfo, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Len reports how many distinct identities are present.
func (c *PresenceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.peers)
}

// Clear empties the view, used when leaving a room or reconnecting.
func (c *PresenceCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers = make(map[string]protocol.PeerInfo)
}
