// Package blocker decides whether a queried name is covered by the
// blocklist. Matching is exact or on a parent domain at a label boundary, so
// blocking "facebook.com" also blocks "www.facebook.com" but never
// "notfacebook.com".
package blocker

import (
	"strings"
	"sync"

	"blockandfocus/internal/config"
)

// Blocker holds a pre-normalized view of the blocklist. It is rebuilt
// atomically whenever the policy changes and is safe for concurrent use.
type Blocker struct {
	mu      sync.RWMutex
	domains map[string]struct{}
}

// New creates a blocker over the given domain list.
func New(domains []string) *Blocker {
	b := &Blocker{}
	b.Replace(domains)
	return b
}

// Replace swaps in a new blocklist.
func (b *Blocker) Replace(domains []string) {
	next := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = config.NormalizeDomain(d)
		if d != "" {
			next[d] = struct{}{}
		}
	}

	b.mu.Lock()
	b.domains = next
	b.mu.Unlock()
}

// Match reports whether the queried name or any of its parent domains is on
// the blocklist.
func (b *Blocker) Match(name string) bool {
	name = config.NormalizeDomain(name)
	if name == "" {
		return false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.domains[name]; ok {
		return true
	}
	parts := strings.Split(name, ".")
	for i := 1; i < len(parts); i++ {
		if _, ok := b.domains[strings.Join(parts[i:], ".")]; ok {
			return true
		}
	}
	return false
}

// Len returns the number of blocklist entries.
func (b *Blocker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.domains)
}
