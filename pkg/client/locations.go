package client

import (
	"strings"
	"sync"
)

// LocationIndex maps a peer's reported location path to a navigation entry
// so the UI can render a "who's where" badge next to the matching menu item.
//
// Matching is best effort: exact path first, then the longest registered
// prefix on a path-segment boundary. A path that matches nothing reports
// ok=false and the caller shows no badge, which beats pinning a peer to the
// wrong page.
type LocationIndex struct {
	mu      sync.RWMutex
	entries map[string]string // path -> label
}

func NewLocationIndex() *LocationIndex {
	return &LocationIndex{entries: make(map[string]string)}
}

// Register adds one navigation entry. Paths are normalized to a leading
// slash with no trailing slash.
func (x *LocationIndex) Register(path, label string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[normalizePath(path)] = label
}

// Match resolves a reported location to a registered label.
func (x *LocationIndex) Match(path string) (string, bool) {
	p := normalizePath(path)
	if p == "" {
		return "", false
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if label, ok := x.entries[p]; ok {
		return label, true
	}

	bestLen := -1
	var bestLabel string
	for registered, label := range x.entries {
		if registered == "/" {
			continue
		}
		if strings.HasPrefix(p, registered+"/") && len(registered) > bestLen {
			bestLen = len(registered)
			bestLabel = label
		}
	}
	if bestLen >= 0 {
		return bestLabel, true
	}
	return "", false
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
