// Package handoff holds the transient payload the popup stores for the
// side panel to pick up when it opens. At most one handoff is active, and
// it ages out quickly so a stale intent can never leak into a future panel
// session.
package handoff

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a stored handoff stays collectable.
const DefaultTTL = 10 * time.Second

// Payload is a stored handoff.
type Payload struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	Data     json.RawMessage `json:"data,omitempty"`
	StoredAt time.Time       `json:"stored_at"`
}

// Store is the single-slot handoff holder.
type Store struct {
	mu  sync.Mutex
	ttl time.Duration
	cur *Payload
	now func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{ttl: ttl, now: time.Now}
}

// Put replaces any existing handoff with a fresh one.
func (s *Store) Put(kind string, data json.RawMessage) Payload {
	p := Payload{
		ID:       uuid.NewString(),
		Kind:     kind,
		Data:     data,
		StoredAt: s.now(),
	}
	s.mu.Lock()
	s.cur = &p
	s.mu.Unlock()
	return p
}

// Take returns the stored handoff and clears the slot. Expired or absent
// handoffs report false; an expired one is also discarded.
func (s *Store) Take() (Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.cur
	s.cur = nil
	if cur == nil || s.now().Sub(cur.StoredAt) > s.ttl {
		return Payload{}, false
	}
	return *cur, true
}

// Peek reports the live handoff without consuming it.
func (s *Store) Peek() (Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.now().Sub(s.cur.StoredAt) > s.ttl {
		return Payload{}, false
	}
	return *s.cur, true
}
