// Package bus defines the typed messages that cross execution-environment
// boundaries: broadcasts pushed to UI surfaces, upserts arriving from tab
// watchers, and the wire form of every shared record. Domain types never
// cross a boundary as live structs; they pass through the neutral wire
// shapes here so the wire format stays decoupled from in-memory identity.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgnsrekt/atlas_agent/internal/classify"
	"github.com/dgnsrekt/atlas_agent/internal/tabctx"
)

// Type discriminates message payloads. Every envelope carries exactly one.
type Type string

const (
	TypeContextChanged Type = "context-changed"
	TypeContextClosed  Type = "context-closed"
	TypeContextUpsert  Type = "context-upsert"
	TypeHandoffStored  Type = "handoff-stored"
	TypeActivity       Type = "activity"
)

// Envelope is the outermost wire shape of every bus message.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ContextChanged is broadcast after an upsert commits. Receivers that care
// about the full record fetch it by tab id; the broadcast itself stays small.
type ContextChanged struct {
	TabID   string `json:"tab_id"`
	Version int64  `json:"version"`
}

// ContextClosed is the terminal broadcast for a tab id.
type ContextClosed struct {
	TabID string `json:"tab_id"`
}

// ContextUpsert is the message a tab watcher pushes toward the cache. Seq is
// the watcher's per-tab arrival counter; the cache refuses to commit an
// upsert behind one it has already seen.
type ContextUpsert struct {
	TabID      string          `json:"tab_id"`
	URL        string          `json:"url"`
	Instance   string          `json:"instance,omitempty"`
	InScope    bool            `json:"in_scope"`
	Object     *DetectedObject `json:"detected_object,omitempty"`
	ObservedAt time.Time       `json:"observed_at"`
	Seq        int64           `json:"seq,omitempty"`
}

// HandoffStored announces a fresh sidepanel handoff payload.
type HandoffStored struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// Activity mirrors a gateway action outcome onto the event stream.
type Activity struct {
	Instance string `json:"instance,omitempty"`
	Action   string `json:"action"`
	Status   string `json:"status"`
	Title    string `json:"title"`
}

// Encode wraps a payload in an envelope and renders it as JSON.
func Encode(t Type, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("bus: encode %s: %w", t, err)
	}
	out, err := json.Marshal(Envelope{Type: t, Payload: raw})
	if err != nil {
		return "", fmt.Errorf("bus: encode %s: %w", t, err)
	}
	return string(out), nil
}

// Decode parses an envelope and returns the discriminator plus raw payload.
func Decode(data []byte) (Type, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("bus: decode: %w", err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("bus: decode: missing type")
	}
	return env.Type, env.Payload, nil
}

// DetectedObject is the wire form of tabctx.DetectedObject.
type DetectedObject struct {
	Kind     string    `json:"kind"`
	ID       string    `json:"id"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Metadata is the wire form of tabctx.Metadata.
type Metadata struct {
	Name     string         `json:"name,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Parent   string         `json:"parent,omitempty"`
	Children []string       `json:"children,omitempty"`
}

// TabContext is the wire form of tabctx.TabContext.
type TabContext struct {
	TabID     string          `json:"tab_id"`
	URL       string          `json:"url"`
	Instance  string          `json:"instance,omitempty"`
	InScope   bool            `json:"in_scope"`
	Object    *DetectedObject `json:"detected_object,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
	Version   int64           `json:"version"`
}

// ContextToWire converts a cache record to its wire form.
func ContextToWire(t tabctx.TabContext) TabContext {
	out := TabContext{
		TabID:     string(t.TabID),
		URL:       t.URL,
		Instance:  t.Instance,
		InScope:   t.InScope,
		UpdatedAt: t.UpdatedAt,
		Version:   t.Version,
	}
	if t.Object != nil {
		out.Object = objectToWire(t.Object)
	}
	return out
}

// ContextFromWire converts a wire record back to the cache form.
func ContextFromWire(w TabContext) tabctx.TabContext {
	out := tabctx.TabContext{
		TabID:     tabctx.TabID(w.TabID),
		URL:       w.URL,
		Instance:  w.Instance,
		InScope:   w.InScope,
		UpdatedAt: w.UpdatedAt,
		Version:   w.Version,
	}
	if w.Object != nil {
		out.Object = objectFromWire(w.Object)
	}
	return out
}

// UpsertToUpdate converts an incoming wire upsert to a cache update.
func UpsertToUpdate(u ContextUpsert) tabctx.Update {
	up := tabctx.Update{
		URL:        u.URL,
		Instance:   u.Instance,
		InScope:    u.InScope,
		ObservedAt: u.ObservedAt,
		Seq:        u.Seq,
	}
	if u.Object != nil {
		up.Object = objectFromWire(u.Object)
	}
	return up
}

func objectToWire(o *tabctx.DetectedObject) *DetectedObject {
	out := &DetectedObject{Kind: string(o.Kind), ID: o.ID}
	if o.Metadata != nil {
		md := Metadata(*o.Metadata)
		out.Metadata = &md
	}
	return out
}

func objectFromWire(o *DetectedObject) *tabctx.DetectedObject {
	out := &tabctx.DetectedObject{Kind: classify.Kind(o.Kind), ID: o.ID}
	if o.Metadata != nil {
		md := tabctx.Metadata(*o.Metadata)
		out.Metadata = &md
	}
	return out
}
