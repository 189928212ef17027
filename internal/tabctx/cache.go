package tabctx

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Outcome reports what an upsert did.
type Outcome int

const (
	Changed Outcome = iota
	Unchanged
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Changed:
		return "changed"
	case Unchanged:
		return "unchanged"
	default:
		return "rejected"
	}
}

// Update is a partial upsert from the content agent or a gateway action.
// Seq is the producer's per-tab arrival counter; zero means the caller makes
// no ordering claim and the tab's committed sequence is left as is.
type Update struct {
	URL        string
	Instance   string
	InScope    bool
	Object     *DetectedObject
	ObservedAt time.Time
	Seq        int64
}

// Event is delivered to subscribers after an upsert commits.
type Event struct {
	TabID   TabID
	Version int64
	Context TabContext
	// Closed marks the terminal event for a tab; no further events follow.
	Closed bool
}

// Cache is the single authoritative holder of TabContext, keyed by tab id.
// Upserts are serialized; subscribers observe strictly increasing versions
// per tab and never an event for an uncommitted version.
type Cache struct {
	mu     sync.Mutex
	tabs   map[TabID]*TabContext
	subs   map[int64]subscriber
	nextID int64
}

type subscriber struct {
	pred func(Event) bool
	fn   func(Event)
}

func NewCache() *Cache {
	return &Cache{
		tabs: make(map[TabID]*TabContext),
		subs: make(map[int64]subscriber),
	}
}

// Upsert merges an update over the current record. An observation behind the
// tab's committed sequence, or an older timestamp for the same URL, is
// rejected; an update that does not change the observable identity is
// collapsed without a broadcast. Sequence enforcement spans URLs, so a slow
// upsert for a page the tab already left can never overwrite the newer one.
func (c *Cache) Upsert(tabID TabID, up Update) Outcome {
	if up.ObservedAt.IsZero() {
		up.ObservedAt = time.Now()
	}
	if up.Object != nil && up.Object.ID == "" {
		slog.Warn("tabctx upsert dropped: empty object id", "tab_id", tabID, "kind", up.Object.Kind)
		return Rejected
	}
	if up.InScope == (up.Instance == "") {
		slog.Warn("tabctx upsert dropped: instance/scope mismatch", "tab_id", tabID, "instance", up.Instance, "in_scope", up.InScope)
		return Rejected
	}

	c.mu.Lock()
	cur := c.tabs[tabID]
	if cur != nil && up.Seq != 0 && up.Seq < cur.Seq {
		c.mu.Unlock()
		slog.Debug("tabctx upsert rejected as out of order", "tab_id", tabID, "seq", up.Seq, "committed_seq", cur.Seq)
		return Rejected
	}
	if cur != nil && up.URL == cur.URL && up.ObservedAt.Before(cur.UpdatedAt) {
		c.mu.Unlock()
		slog.Debug("tabctx upsert rejected as stale", "tab_id", tabID, "url", up.URL)
		return Rejected
	}

	next := TabContext{
		TabID:     tabID,
		URL:       up.URL,
		Instance:  up.Instance,
		InScope:   up.InScope,
		Object:    up.Object,
		UpdatedAt: up.ObservedAt,
		Seq:       up.Seq,
	}
	if cur != nil {
		next.Version = cur.Version
		if next.Seq < cur.Seq {
			next.Seq = cur.Seq
		}
		if next.digest() == cur.digest() {
			// Accept the fresher timestamp and sequence but do not broadcast.
			cur.UpdatedAt = up.ObservedAt
			cur.Seq = next.Seq
			c.mu.Unlock()
			return Unchanged
		}
	}
	next.Version++
	stored := next.Clone()
	c.tabs[tabID] = &stored
	evt := Event{TabID: tabID, Version: next.Version, Context: next.Clone()}
	subs := c.matchingSubsLocked(evt)
	c.mu.Unlock()

	slog.Debug("tabctx upsert committed", "tab_id", tabID, "version", evt.Version, "in_scope", next.InScope)
	for _, fn := range subs {
		fn(evt)
	}
	return Changed
}

// PatchMetadata merges fresh metadata into the current detected object,
// going through the same commit path so version monotonicity holds. It is a
// no-op when the tab has no detected object or the object identity moved on.
// The patch carries the snapshot's sequence, so a navigation committing
// between the identity check and the commit rejects the patch instead of
// being overwritten by it.
func (c *Cache) PatchMetadata(tabID TabID, kind TabContextKindMatcher, md Metadata) Outcome {
	c.mu.Lock()
	cur := c.tabs[tabID]
	if cur == nil || cur.Object == nil || !kind(cur.Object) {
		c.mu.Unlock()
		return Rejected
	}
	snapshot := cur.Clone()
	c.mu.Unlock()

	obj := *snapshot.Object
	merged := Metadata{}
	if obj.Metadata != nil {
		merged = *obj.Metadata
	}
	if md.Name != "" {
		merged.Name = md.Name
	}
	if md.Parent != "" {
		merged.Parent = md.Parent
	}
	if md.Children != nil {
		merged.Children = md.Children
	}
	if md.Details != nil {
		merged.Details = md.Details
	}
	obj.Metadata = &merged

	return c.Upsert(tabID, Update{
		URL:      snapshot.URL,
		Instance: snapshot.Instance,
		InScope:  snapshot.InScope,
		Object:   &obj,
		Seq:      snapshot.Seq,
	})
}

// TabContextKindMatcher guards a metadata patch against an object identity
// that changed between the action start and the patch.
type TabContextKindMatcher func(*DetectedObject) bool

// Get returns a snapshot of the tab's record, or nil when unknown.
func (c *Cache) Get(tabID TabID) *TabContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.tabs[tabID]
	if cur == nil {
		return nil
	}
	snap := cur.Clone()
	return &snap
}

// Snapshot returns all live records ordered by tab id.
func (c *Cache) Snapshot() []TabContext {
	c.mu.Lock()
	out := make([]TabContext, 0, len(c.tabs))
	for _, t := range c.tabs {
		out = append(out, t.Clone())
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// Invalidate removes a tab's record. The terminal event is the last one
// subscribers see for this tab id.
func (c *Cache) Invalidate(tabID TabID) {
	c.mu.Lock()
	cur, ok := c.tabs[tabID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.tabs, tabID)
	evt := Event{TabID: tabID, Version: cur.Version, Context: cur.Clone(), Closed: true}
	subs := c.matchingSubsLocked(evt)
	c.mu.Unlock()

	slog.Info("tabctx invalidated", "tab_id", tabID)
	for _, fn := range subs {
		fn(evt)
	}
}

// Subscribe registers a change listener. The predicate filters events
// (typically by tab id); a nil predicate receives everything. The returned
// func removes the subscription.
func (c *Cache) Subscribe(pred func(Event) bool, fn func(Event)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs[id] = subscriber{pred: pred, fn: fn}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Cache) matchingSubsLocked(evt Event) []func(Event) {
	out := make([]func(Event), 0, len(c.subs))
	for _, s := range c.subs {
		if s.pred == nil || s.pred(evt) {
			out = append(out, s.fn)
		}
	}
	return out
}
