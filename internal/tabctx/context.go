package tabctx

import (
	"encoding/json"
	"hash/fnv"
	"time"

	"github.com/dgnsrekt/atlas_agent/internal/classify"
)

// TabID is the stable identifier of a browser tab for its lifetime. It is
// the CDP target id of the tab's page target.
type TabID string

// Metadata is the optional descriptive packet attached to a detected object.
type Metadata struct {
	Name     string         `json:"name,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Parent   string         `json:"parent,omitempty"`
	Children []string       `json:"children,omitempty"`
}

// DetectedObject is the platform object a tab is currently looking at.
type DetectedObject struct {
	Kind     classify.Kind `json:"kind"`
	ID       string        `json:"id"`
	Metadata *Metadata     `json:"metadata,omitempty"`
}

// TabContext is the authoritative per-tab record held by the cache.
type TabContext struct {
	TabID     TabID           `json:"tab_id"`
	URL       string          `json:"url"`
	Instance  string          `json:"instance,omitempty"`
	InScope   bool            `json:"in_scope"`
	Object    *DetectedObject `json:"detected_object,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
	Version   int64           `json:"version"`
	// Seq is the highest producer sequence number committed for this tab.
	// It never appears on the wire.
	Seq int64 `json:"-"`
}

// Clone returns a deep copy so callers can hold a snapshot without racing
// later upserts.
func (t TabContext) Clone() TabContext {
	out := t
	if t.Object != nil {
		obj := *t.Object
		if t.Object.Metadata != nil {
			md := *t.Object.Metadata
			if md.Details != nil {
				details := make(map[string]any, len(md.Details))
				for k, v := range md.Details {
					details[k] = v
				}
				md.Details = details
			}
			md.Children = append([]string(nil), md.Children...)
			obj.Metadata = &md
		}
		out.Object = &obj
	}
	return out
}

// digest folds the observable identity of a record ({url, kind, id,
// metadata}) into a comparable value used for upsert deduplication.
func (t TabContext) digest() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(t.URL))
	_, _ = h.Write([]byte{0})
	if t.Object != nil {
		_, _ = h.Write([]byte(t.Object.Kind))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(t.Object.ID))
		_, _ = h.Write([]byte{0})
		if t.Object.Metadata != nil {
			b, _ := json.Marshal(t.Object.Metadata)
			_, _ = h.Write(b)
		}
	}
	if !t.InScope {
		_, _ = h.Write([]byte{1})
	}
	return h.Sum64()
}
