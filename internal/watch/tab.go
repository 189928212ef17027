package watch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/atlas_agent/internal/bus"
	"github.com/dgnsrekt/atlas_agent/internal/classify"
)

// State is the per-tab agent lifecycle.
type State int

const (
	StateIdle State = iota
	StateClassifying
	StateStable
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClassifying:
		return "classifying"
	case StateStable:
		return "stable"
	default:
		return "terminated"
	}
}

// PageRunner is the slice of the page executor the watcher needs for async
// detection refinement.
type PageRunner interface {
	RunInPage(ctx context.Context, tabID, fnBody string, args ...any) (json.RawMessage, error)
}

// Sink receives upserts and terminal invalidations from tab watchers.
type Sink interface {
	Apply(up bus.ContextUpsert)
	Invalidate(tabID string)
}

// signalPayload is what the in-page sentinel reports.
type signalPayload struct {
	Href       string `json:"href"`
	OpenCardID string `json:"open_card_id"`
	Breadcrumb string `json:"breadcrumb"`
}

// tabWatcher tracks one in-scope page. URL and DOM signal changes funnel
// through observe(); refinements are tagged with the URL they started for
// and dropped when the tab has moved on.
type tabWatcher struct {
	tabID  string
	scope  classify.Scope
	sink   Sink
	runner PageRunner
	now    func() time.Time

	mu        sync.Mutex
	state     State
	url       string
	lastProbe classify.DOMProbe

	seq atomic.Int64
}

// nextSeq claims the next arrival sequence number. The manager calls it in
// the CDP event handler, before handing the event to a goroutine, so the
// numbering matches the order events arrived even when handling overtakes.
func (w *tabWatcher) nextSeq() int64 {
	return w.seq.Add(1)
}

func newTabWatcher(tabID string, scope classify.Scope, sink Sink, runner PageRunner) *tabWatcher {
	return &tabWatcher{
		tabID:  tabID,
		scope:  scope,
		sink:   sink,
		runner: runner,
		now:    time.Now,
	}
}

// observe ingests a fresh URL plus DOM probe and pushes an upsert when the
// classification changed. seq is the arrival number claimed at dispatch;
// refineCtx bounds any async refinement spawned for this observation. A
// report identical to the one the watcher already settled on is dropped
// without touching the sink.
func (w *tabWatcher) observe(refineCtx context.Context, url string, probe classify.DOMProbe, seq int64) {
	w.mu.Lock()
	if w.state == StateTerminated {
		w.mu.Unlock()
		return
	}
	if w.state == StateStable && url == w.url && probe == w.lastProbe {
		w.mu.Unlock()
		return
	}
	w.state = StateClassifying
	w.url = url
	w.lastProbe = probe
	w.mu.Unlock()

	up, needsRefine := buildUpsert(w.scope, w.tabID, url, probe, w.now())
	up.Seq = seq
	w.sink.Apply(up)

	w.mu.Lock()
	if w.state == StateClassifying && w.url == url {
		w.state = StateStable
	}
	w.mu.Unlock()

	if needsRefine {
		go w.refineAppStudio(refineCtx, url, up)
	}
}

// onNavigate handles a full or in-document navigation event. The sentinel
// will follow up with a DOM probe shortly; classifying immediately keeps
// the cache from serving the previous page's object in the meantime.
func (w *tabWatcher) onNavigate(refineCtx context.Context, url string, seq int64) {
	w.observe(refineCtx, url, classify.DOMProbe{}, seq)
}

// onSignal handles a sentinel report. Reports sampled at a URL the tab has
// already left are stale and ignored.
func (w *tabWatcher) onSignal(refineCtx context.Context, payload string, seq int64) {
	var sig signalPayload
	if err := json.Unmarshal([]byte(payload), &sig); err != nil {
		slog.Debug("watch: bad sentinel payload", "tab_id", w.tabID, "error", err)
		return
	}
	if sig.Href == "" {
		return
	}
	w.observe(refineCtx, sig.Href, classify.DOMProbe{
		OpenCardID: sig.OpenCardID,
		Breadcrumb: sig.Breadcrumb,
	}, seq)
}

// terminate marks the tab closed and drops its record.
func (w *tabWatcher) terminate() {
	w.mu.Lock()
	already := w.state == StateTerminated
	w.state = StateTerminated
	w.mu.Unlock()
	if already {
		return
	}
	w.sink.Invalidate(w.tabID)
}

// refineAppStudio asks the page whether an app-studio view is a data app,
// then upgrades the cached detection. The result is discarded when the tab
// URL moved on while the probe was in flight; the upgrade also reuses the
// originating observation's sequence, so the cache drops it if a newer
// navigation slipped past the URL check.
func (w *tabWatcher) refineAppStudio(ctx context.Context, urlTag string, up bus.ContextUpsert) {
	if w.runner == nil || up.Object == nil {
		return
	}
	raw, err := w.runner.RunInPage(ctx, w.tabID, appStudioRefineJS, up.Object.ID)
	if err != nil {
		slog.Debug("watch: app-studio refinement failed", "tab_id", w.tabID, "error", err)
		return
	}
	var out struct {
		DataApp bool `json:"data_app"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.Debug("watch: app-studio refinement payload", "tab_id", w.tabID, "error", err)
		return
	}

	w.mu.Lock()
	stale := w.state == StateTerminated || w.url != urlTag
	w.mu.Unlock()
	if stale {
		slog.Debug("watch: refinement discarded, url moved on", "tab_id", w.tabID, "url_tag", urlTag)
		return
	}

	kind := classify.KindApp
	if out.DataApp {
		kind = classify.KindDataAppView
	}
	refined := up
	refined.Object = &bus.DetectedObject{Kind: string(kind), ID: up.Object.ID}
	refined.ObservedAt = w.now()
	w.sink.Apply(refined)
}

// buildUpsert is the pure classification step: URL + probe in, wire upsert
// out. The second result reports whether the detection still needs an
// async page probe to settle its kind.
func buildUpsert(scope classify.Scope, tabID, url string, probe classify.DOMProbe, observedAt time.Time) (bus.ContextUpsert, bool) {
	instance, inScope := scope.Instance(url)
	up := bus.ContextUpsert{
		TabID:      tabID,
		URL:        url,
		Instance:   instance,
		InScope:    inScope,
		ObservedAt: observedAt,
	}
	if !inScope {
		return up, false
	}
	det := classify.Classify(url, probe)
	if det == nil || det.ID == "" {
		return up, false
	}
	up.Object = &bus.DetectedObject{Kind: string(det.Kind), ID: det.ID}
	return up, classify.Spec(det.Kind).NeedsProbe
}
