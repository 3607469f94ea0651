package endpoint

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrExhausted signals that every candidate endpoint has been tried.
var ErrExhausted = errors.New("endpoint: candidate list exhausted")

// Resolver holds the prioritized candidate endpoints. It is process-wide
// shared state; the candidate list is only mutated through Update (config
// hot-reload). Failover position lives in per-request Cursors, so a transient
// primary outage never pins later requests to a fallback.
type Resolver struct {
	mu         sync.RWMutex
	candidates []string
}

// NewResolver validates, normalizes and deduplicates the candidate list.
func NewResolver(candidates []string) (*Resolver, error) {
	normalized, err := normalize(candidates)
	if err != nil {
		return nil, err
	}
	return &Resolver{candidates: normalized}, nil
}

func normalize(candidates []string) ([]string, error) {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.TrimRight(strings.TrimSpace(c), "/")
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("endpoint: candidate list must not be empty")
	}
	return out, nil
}

// Update replaces the candidate list, e.g. after a config reload. In-flight
// cursors keep their snapshot; only new requests see the change.
func (r *Resolver) Update(candidates []string) error {
	normalized, err := normalize(candidates)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.candidates = normalized
	r.mu.Unlock()
	return nil
}

// Candidates returns a copy of the current candidate list.
func (r *Resolver) Candidates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.candidates))
	copy(out, r.candidates)
	return out
}

// Len returns the number of candidates.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.candidates)
}

// Primary returns the first candidate.
func (r *Resolver) Primary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.candidates[0]
}

// Cursor snapshots the candidate list for one logical request, positioned at
// the primary.
func (r *Resolver) Cursor() *Cursor {
	return &Cursor{list: r.Candidates()}
}

// Cursor walks the candidate list for a single logical request. It is not
// safe for concurrent use; attempts within one request are sequential.
type Cursor struct {
	list []string
	pos  int
}

// Current returns the candidate under the cursor.
func (c *Cursor) Current() string {
	return c.list[c.pos]
}

// Advance moves to the next candidate. It never wraps: once the list is
// exhausted it returns ErrExhausted and the cursor stays on the last entry.
func (c *Cursor) Advance() (string, error) {
	if c.pos+1 >= len(c.list) {
		return "", ErrExhausted
	}
	c.pos++
	return c.list[c.pos], nil
}

// Reset returns the cursor to the primary candidate.
func (c *Cursor) Reset() {
	c.pos = 0
}

// Attempted lists the candidates visited so far, in order.
func (c *Cursor) Attempted() []string {
	out := make([]string, c.pos+1)
	copy(out, c.list[:c.pos+1])
	return out
}

// Remaining reports how many untried candidates are left.
func (c *Cursor) Remaining() int {
	return len(c.list) - c.pos - 1
}

// Size returns the number of candidates in this request's snapshot.
func (c *Cursor) Size() int {
	return len(c.list)
}
