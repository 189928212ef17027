package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dgnsrekt/atlas_agent/internal/cdp"
	"github.com/dgnsrekt/atlas_agent/internal/classify"
	"github.com/dgnsrekt/atlas_agent/internal/resolve"
	"github.com/dgnsrekt/atlas_agent/internal/tabctx"
)

func TestStripEmptyQuickFilters(t *testing.T) {
	def := map[string]any{
		"title": "sales",
		"quickFilters": []any{
			map[string]any{"column": "region", "values": []any{""}},
			map[string]any{"column": "year", "values": []any{"2026"}},
			map[string]any{"column": "team", "values": []any{"", "west"}},
		},
	}
	next, dropped := stripEmptyQuickFilters(def)
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	kept := next["quickFilters"].([]any)
	if len(kept) != 2 {
		t.Fatalf("kept %d filters, want 2", len(kept))
	}
	if next["title"] != "sales" {
		t.Error("unrelated keys must survive")
	}
}

func TestStripEmptyQuickFiltersNoFilters(t *testing.T) {
	def := map[string]any{"title": "sales"}
	if _, dropped := stripEmptyQuickFilters(def); dropped != 0 {
		t.Fatalf("dropped = %d, want 0", dropped)
	}
}

func TestNormalizeDetails(t *testing.T) {
	raw := json.RawMessage(`{"id":"42","title":"Revenue","owner":"pat","rowCount":10,"internal":"x"}`)
	md := normalizeDetails(raw)
	if md.Name != "Revenue" {
		t.Errorf("Name = %q, want Revenue", md.Name)
	}
	if md.Details["rowCount"] != float64(10) {
		t.Errorf("rowCount = %v", md.Details["rowCount"])
	}
	if _, ok := md.Details["internal"]; ok {
		t.Error("unlisted keys must not leak into details")
	}
}

func TestFetchObjectDetailsPatchesCache(t *testing.T) {
	tabs := &fakeTabs{}
	pages := &fakePages{results: map[string]json.RawMessage{
		"tab-1": json.RawMessage(`{"title":"Revenue","owner":"pat"}`),
	}}
	g, cache := newTestGateway(tabs, pages, &fakeResolver{})
	seedContext(cache, "tab-1", classify.KindCard, "999")

	res, err := g.FetchObjectDetails(context.Background(), "tab-1")
	if err != nil {
		t.Fatalf("FetchObjectDetails: %v", err)
	}
	if res.Kind != ResultSuccess {
		t.Fatalf("kind = %q (%s)", res.Kind, res.Description)
	}
	tc := cache.Get("tab-1")
	if tc.Object.Metadata == nil || tc.Object.Metadata.Name != "Revenue" {
		t.Fatalf("metadata not patched: %+v", tc.Object.Metadata)
	}
	if tc.Version != 2 {
		t.Errorf("Version = %d, want 2 after patch", tc.Version)
	}
}

func TestFetchObjectDetailsHTTPFailureIsDanger(t *testing.T) {
	pages := &fakePages{errs: map[string]error{
		"tab-1": cdp.NewError(cdp.CodeInPageThrow, "HTTP 403 GET /api/content/v1/cards/999?parts=metadata", nil),
	}}
	g, cache := newTestGateway(&fakeTabs{}, pages, &fakeResolver{})
	seedContext(cache, "tab-1", classify.KindCard, "999")

	res, err := g.FetchObjectDetails(context.Background(), "tab-1")
	if err != nil {
		t.Fatalf("HTTP failures must come back as tagged results, got %v", err)
	}
	if res.Kind != ResultDanger {
		t.Fatalf("kind = %q, want danger", res.Kind)
	}
}

func TestFetchObjectDetailsRequiresScope(t *testing.T) {
	g, cache := newTestGateway(&fakeTabs{}, &fakePages{}, &fakeResolver{})
	cache.Upsert("tab-1", tabctx.Update{URL: "https://example.org/", InScope: false})

	_, err := g.FetchObjectDetails(context.Background(), "tab-1")
	var coded *cdp.CodedError
	if !errors.As(err, &coded) || coded.Code != cdp.CodeOutOfScope {
		t.Fatalf("expected out of scope, got %v", err)
	}
}

func TestFetchObjectDetailsUnknownTab(t *testing.T) {
	g, _ := newTestGateway(&fakeTabs{}, &fakePages{}, &fakeResolver{})
	_, err := g.FetchObjectDetails(context.Background(), "tab-404")
	var coded *cdp.CodedError
	if !errors.As(err, &coded) || coded.Code != cdp.CodeTabGone {
		t.Fatalf("expected tab gone, got %v", err)
	}
}

func TestStripFiltersRejectedForNonPages(t *testing.T) {
	g, cache := newTestGateway(&fakeTabs{}, &fakePages{}, &fakeResolver{})
	seedContext(cache, "tab-1", classify.KindCard, "999")

	_, err := g.StripEmptyQuickFilters(context.Background(), "tab-1")
	var coded *cdp.CodedError
	if !errors.As(err, &coded) || coded.Code != cdp.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStripFiltersRewritesAndReloads(t *testing.T) {
	tabs := &fakeTabs{}
	pages := &fakePages{results: map[string]json.RawMessage{
		"tab-1": json.RawMessage(`{"quickFilters":[{"column":"region","values":[""]}]}`),
	}}
	g, cache := newTestGateway(tabs, pages, &fakeResolver{})
	seedContext(cache, "tab-1", classify.KindPage, "42")

	res, err := g.StripEmptyQuickFilters(context.Background(), "tab-1")
	if err != nil {
		t.Fatalf("StripEmptyQuickFilters: %v", err)
	}
	if res.Kind != ResultSuccess {
		t.Fatalf("kind = %q (%s)", res.Kind, res.Description)
	}
	if len(pages.calls) != 2 {
		t.Errorf("expected GET then POST, got %d calls", len(pages.calls))
	}
	if len(tabs.reloaded) != 1 || tabs.reloaded[0] != "tab-1" {
		t.Errorf("reloaded = %v, want tab-1", tabs.reloaded)
	}
}

func TestCopyUnknownTargetRejected(t *testing.T) {
	g, cache := newTestGateway(&fakeTabs{}, &fakePages{}, &fakeResolver{})
	seedContext(cache, "tab-1", classify.KindCard, "999")

	_, err := g.CopyToClipboard(context.Background(), "tab-1", "everything")
	var coded *cdp.CodedError
	if !errors.As(err, &coded) || coded.Code != cdp.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRenderObjectURL(t *testing.T) {
	got := renderObjectURL("https://{instance}/page/{id}", "corp.acme.example", "42")
	if got != "https://corp.acme.example/page/42" {
		t.Errorf("renderObjectURL = %q", got)
	}
	if renderObjectURL("", "corp.acme.example", "42") != "" {
		t.Error("empty template must render empty")
	}
	if renderObjectURL("https://{instance}/page/{id}", "", "42") != "" {
		t.Error("missing instance must render empty")
	}
}

func TestNavigateToObject(t *testing.T) {
	tabs := &fakeTabs{}
	resolver := &fakeResolver{recent: []resolve.InstanceTab{
		{Instance: "corp.acme.example", Tab: cdp.TabInfo{ID: "tab-1", URL: "https://corp.acme.example/page/1"}},
	}}
	g, _ := newTestGateway(tabs, &fakePages{}, resolver)

	res, err := g.NavigateToObject(context.Background(), NavigateRequest{
		Instance: "corp.acme.example",
		Kind:     classify.KindDataset,
		ID:       "ds-7",
	})
	if err != nil {
		t.Fatalf("NavigateToObject: %v", err)
	}
	if res.Kind != ResultSuccess {
		t.Fatalf("kind = %q", res.Kind)
	}
	want := "https://corp.acme.example/datasources/ds-7/details"
	if tabs.navigated["tab-1"] != want {
		t.Errorf("navigated to %q, want %q", tabs.navigated["tab-1"], want)
	}
}

func TestNavigateToObjectRejectsKindsWithoutURL(t *testing.T) {
	g, _ := newTestGateway(&fakeTabs{}, &fakePages{}, &fakeResolver{})
	_, err := g.NavigateToObject(context.Background(), NavigateRequest{
		Instance: "corp.acme.example",
		Kind:     classify.KindDrillView,
		ID:       "7",
	})
	var coded *cdp.CodedError
	if !errors.As(err, &coded) || coded.Code != cdp.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
