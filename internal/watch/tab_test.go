package watch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/atlas_agent/internal/bus"
	"github.com/dgnsrekt/atlas_agent/internal/classify"
	"github.com/dgnsrekt/atlas_agent/internal/tabctx"
)

type recordingSink struct {
	mu          sync.Mutex
	upserts     []bus.ContextUpsert
	invalidated []string
}

func (s *recordingSink) Apply(up bus.ContextUpsert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, up)
}

func (s *recordingSink) Invalidate(tabID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, tabID)
}

func (s *recordingSink) last(t *testing.T) bus.ContextUpsert {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.upserts) == 0 {
		t.Fatal("expected at least one upsert")
	}
	return s.upserts[len(s.upserts)-1]
}

type fakeRunner struct {
	mu     sync.Mutex
	result json.RawMessage
	err    error
	calls  int
	done   chan struct{}
}

func (r *fakeRunner) RunInPage(ctx context.Context, tabID, fnBody string, args ...any) (json.RawMessage, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.done != nil {
		defer close(r.done)
	}
	return r.result, r.err
}

func testScope() classify.Scope {
	return classify.NewScope("acme.example")
}

func TestBuildUpsertInScopeObject(t *testing.T) {
	now := time.Now()
	up, refine := buildUpsert(testScope(), "tab-1", "https://corp.acme.example/page/123", classify.DOMProbe{}, now)
	if !up.InScope || up.Instance != "corp.acme.example" {
		t.Fatalf("expected in-scope upsert, got %+v", up)
	}
	if up.Object == nil || up.Object.Kind != string(classify.KindPage) || up.Object.ID != "123" {
		t.Fatalf("unexpected object: %+v", up.Object)
	}
	if refine {
		t.Error("page detection should not request a probe")
	}
	if !up.ObservedAt.Equal(now) {
		t.Errorf("ObservedAt = %v, want %v", up.ObservedAt, now)
	}
}

func TestBuildUpsertOutOfScopeStub(t *testing.T) {
	up, refine := buildUpsert(testScope(), "tab-1", "https://example.org/page/123", classify.DOMProbe{}, time.Now())
	if up.InScope || up.Instance != "" {
		t.Fatalf("expected out-of-scope stub, got %+v", up)
	}
	if up.Object != nil {
		t.Errorf("stub should carry no object, got %+v", up.Object)
	}
	if refine {
		t.Error("stub should not request a probe")
	}
}

func TestBuildUpsertExcludedHostIsStub(t *testing.T) {
	up, _ := buildUpsert(testScope(), "tab-1", "https://www.acme.example/page/123", classify.DOMProbe{}, time.Now())
	if up.InScope {
		t.Fatalf("www host should be out of scope, got %+v", up)
	}
}

func TestBuildUpsertAppStudioRequestsProbe(t *testing.T) {
	up, refine := buildUpsert(testScope(), "tab-1", "https://corp.acme.example/app-studio/view-9", classify.DOMProbe{}, time.Now())
	if up.Object == nil || up.Object.Kind != string(classify.KindAppStudioViewUnknown) {
		t.Fatalf("unexpected object: %+v", up.Object)
	}
	if !refine {
		t.Error("app-studio detection should request a probe")
	}
}

func TestObserveAppliesUpsertAndSettles(t *testing.T) {
	sink := &recordingSink{}
	w := newTabWatcher("tab-1", testScope(), sink, nil)

	w.observe(context.Background(), "https://corp.acme.example/kpis/details/42", classify.DOMProbe{}, w.nextSeq())

	up := sink.last(t)
	if up.Object == nil || up.Object.Kind != string(classify.KindCard) {
		t.Fatalf("unexpected upsert: %+v", up)
	}
	if w.state != StateStable {
		t.Errorf("state = %v, want stable", w.state)
	}
}

func TestOnSignalStaleAndMalformedIgnored(t *testing.T) {
	sink := &recordingSink{}
	w := newTabWatcher("tab-1", testScope(), sink, nil)

	w.onSignal(context.Background(), "{not json", w.nextSeq())
	w.onSignal(context.Background(), `{"href":""}`, w.nextSeq())
	if len(sink.upserts) != 0 {
		t.Fatalf("expected no upserts, got %d", len(sink.upserts))
	}

	w.onSignal(context.Background(), `{"href":"https://corp.acme.example/page/7","open_card_id":"","breadcrumb":""}`, w.nextSeq())
	if got := sink.last(t); got.Object == nil || got.Object.ID != "7" {
		t.Fatalf("unexpected upsert: %+v", got)
	}
}

func TestSignalModalOverridesURL(t *testing.T) {
	sink := &recordingSink{}
	w := newTabWatcher("tab-1", testScope(), sink, nil)

	w.onSignal(context.Background(), `{"href":"https://corp.acme.example/page/7","open_card_id":"555"}`, w.nextSeq())
	up := sink.last(t)
	if up.Object == nil || up.Object.Kind != string(classify.KindCard) || up.Object.ID != "555" {
		t.Fatalf("expected modal card detection, got %+v", up.Object)
	}
}

func TestTerminateInvalidatesOnce(t *testing.T) {
	sink := &recordingSink{}
	w := newTabWatcher("tab-1", testScope(), sink, nil)

	w.terminate()
	w.terminate()
	if len(sink.invalidated) != 1 {
		t.Fatalf("expected one invalidation, got %d", len(sink.invalidated))
	}

	w.observe(context.Background(), "https://corp.acme.example/page/7", classify.DOMProbe{}, w.nextSeq())
	if len(sink.upserts) != 0 {
		t.Error("terminated watcher should not emit upserts")
	}
}

func TestObserveSuppressesDuplicateReport(t *testing.T) {
	sink := &recordingSink{}
	w := newTabWatcher("tab-1", testScope(), sink, nil)

	payload := `{"href":"https://corp.acme.example/page/7","open_card_id":"555"}`
	w.onSignal(context.Background(), payload, w.nextSeq())
	w.onSignal(context.Background(), payload, w.nextSeq())
	if len(sink.upserts) != 1 {
		t.Fatalf("repeated identical report should be dropped, got %d upserts", len(sink.upserts))
	}

	// Closing the modal is a different probe for the same URL.
	w.onSignal(context.Background(), `{"href":"https://corp.acme.example/page/7"}`, w.nextSeq())
	if len(sink.upserts) != 2 {
		t.Fatalf("changed probe should observe again, got %d upserts", len(sink.upserts))
	}
}

func TestLateObservationCannotOverwriteNewer(t *testing.T) {
	cache := tabctx.NewCache()
	w := newTabWatcher("tab-1", testScope(), cacheSink{cache: cache}, nil)

	// Two navigations arrive in order but their handlers run reversed.
	first := w.nextSeq()
	second := w.nextSeq()
	w.observe(context.Background(), "https://corp.acme.example/page/2", classify.DOMProbe{}, second)
	w.observe(context.Background(), "https://corp.acme.example/page/1", classify.DOMProbe{}, first)

	got := cache.Get("tab-1")
	if got == nil {
		t.Fatal("expected a cached record")
	}
	if got.URL != "https://corp.acme.example/page/2" {
		t.Fatalf("cache settled on %q, want the newer navigation", got.URL)
	}
	if got.Object == nil || got.Object.ID != "2" {
		t.Fatalf("unexpected object: %+v", got.Object)
	}
}

func TestRefinementUpgradesKind(t *testing.T) {
	sink := &recordingSink{}
	runner := &fakeRunner{result: json.RawMessage(`{"data_app":true}`), done: make(chan struct{})}
	w := newTabWatcher("tab-1", testScope(), sink, runner)

	url := "https://corp.acme.example/app-studio/view-9"
	w.observe(context.Background(), url, classify.DOMProbe{}, w.nextSeq())
	<-runner.done
	waitUpserts(t, sink, 2)

	up := sink.last(t)
	if up.Object == nil || up.Object.Kind != string(classify.KindDataAppView) {
		t.Fatalf("expected data app view after refinement, got %+v", up.Object)
	}
}

func TestRefinementDiscardedWhenURLMovedOn(t *testing.T) {
	sink := &recordingSink{}
	runner := &fakeRunner{result: json.RawMessage(`{"data_app":true}`)}
	w := newTabWatcher("tab-1", testScope(), sink, runner)

	up, _ := buildUpsert(testScope(), "tab-1", "https://corp.acme.example/app-studio/view-9", classify.DOMProbe{}, time.Now())

	w.mu.Lock()
	w.url = "https://corp.acme.example/page/7"
	w.mu.Unlock()

	w.refineAppStudio(context.Background(), "https://corp.acme.example/app-studio/view-9", up)
	if len(sink.upserts) != 0 {
		t.Fatalf("stale refinement should be discarded, got %d upserts", len(sink.upserts))
	}
}

func TestRefinementNotDataApp(t *testing.T) {
	sink := &recordingSink{}
	runner := &fakeRunner{result: json.RawMessage(`{"data_app":false}`)}
	w := newTabWatcher("tab-1", testScope(), sink, runner)

	url := "https://corp.acme.example/app-studio/view-9"
	up, _ := buildUpsert(testScope(), "tab-1", url, classify.DOMProbe{}, time.Now())
	w.mu.Lock()
	w.url = url
	w.mu.Unlock()

	w.refineAppStudio(context.Background(), url, up)
	got := sink.last(t)
	if got.Object == nil || got.Object.Kind != string(classify.KindApp) {
		t.Fatalf("expected app kind for non data app, got %+v", got.Object)
	}
}

func waitUpserts(t *testing.T, sink *recordingSink, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		got := len(sink.upserts)
		sink.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d upserts", n)
}
