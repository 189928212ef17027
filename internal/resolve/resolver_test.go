package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/dgnsrekt/atlas_agent/internal/cdp"
	"github.com/dgnsrekt/atlas_agent/internal/classify"
)

type fakeLister struct {
	tabs []cdp.TabInfo
	err  error
}

func (f *fakeLister) Tabs(context.Context) ([]cdp.TabInfo, error) {
	return f.tabs, f.err
}

func newResolver(tabs ...cdp.TabInfo) *Resolver {
	return New(&fakeLister{tabs: tabs}, classify.NewScope("acme.example"))
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var coded *cdp.CodedError
	if !errors.As(err, &coded) || coded.Code != code {
		t.Fatalf("error = %v, want code %s", err, code)
	}
}

func TestResolveExplicitTabStillValid(t *testing.T) {
	r := newResolver(
		cdp.TabInfo{ID: "t1", URL: "https://a.acme.example/page/1"},
		cdp.TabInfo{ID: "t2", URL: "https://b.acme.example/page/2"},
	)

	got, err := r.Resolve(context.Background(), "b.acme.example", "t2")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ID != "t2" {
		t.Fatalf("Resolve() = %+v, want t2", got)
	}
}

func TestResolveExplicitTabMovedOffInstance(t *testing.T) {
	// t1 navigated away from instance a; the resolver falls back to the
	// most recent tab that still matches.
	r := newResolver(
		cdp.TabInfo{ID: "t1", URL: "https://other.example/"},
		cdp.TabInfo{ID: "t2", URL: "https://a.acme.example/page/2"},
	)

	got, err := r.Resolve(context.Background(), "a.acme.example", "t1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ID != "t2" {
		t.Fatalf("Resolve() = %+v, want fallback t2", got)
	}
}

func TestResolvePrefersActiveTab(t *testing.T) {
	r := newResolver(
		cdp.TabInfo{ID: "active", URL: "https://a.acme.example/page/1"},
		cdp.TabInfo{ID: "older", URL: "https://a.acme.example/page/2"},
	)

	got, err := r.Resolve(context.Background(), "a.acme.example", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.ID != "active" {
		t.Fatalf("Resolve() = %+v, want active", got)
	}
}

func TestResolveNoTabForInstance(t *testing.T) {
	r := newResolver(
		cdp.TabInfo{ID: "t1", URL: "https://a.acme.example/page/1"},
		cdp.TabInfo{ID: "t2", URL: "https://www.acme.example/pricing"},
	)

	_, err := r.Resolve(context.Background(), "c.acme.example", "")
	assertCode(t, err, cdp.CodeNoTabForInstance)
}

func TestResolveReturnedTabMatchesInstance(t *testing.T) {
	r := newResolver(
		cdp.TabInfo{ID: "t1", URL: "https://b.acme.example/datasources/1/details"},
		cdp.TabInfo{ID: "t2", URL: "https://a.acme.example/page/2"},
	)

	got, err := r.Resolve(context.Background(), "a.acme.example", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	scope := classify.NewScope("acme.example")
	if !scope.Matches(got.URL, "a.acme.example") {
		t.Fatalf("resolved tab %+v not on requested instance", got)
	}
}

func TestResolveRequiresSomeSelector(t *testing.T) {
	r := newResolver()
	_, err := r.Resolve(context.Background(), "", "")
	assertCode(t, err, cdp.CodeValidation)
}

func TestRecentInstances(t *testing.T) {
	r := newResolver(
		cdp.TabInfo{ID: "t1", URL: "https://a.acme.example/page/1"},
		cdp.TabInfo{ID: "t2", URL: "https://a.acme.example/page/9"},
		cdp.TabInfo{ID: "t3", URL: "https://www.acme.example/pricing"},
		cdp.TabInfo{ID: "t4", URL: "https://b.acme.example/page/2"},
		cdp.TabInfo{ID: "t5", URL: "https://c.acme.example/page/3"},
	)

	got, err := r.RecentInstances(context.Background(), 2)
	if err != nil {
		t.Fatalf("RecentInstances() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("RecentInstances() = %+v, want 2 entries", got)
	}
	if got[0].Instance != "a.acme.example" || got[0].Tab.ID != "t1" {
		t.Fatalf("first = %+v, want a/t1", got[0])
	}
	if got[1].Instance != "b.acme.example" {
		t.Fatalf("second = %+v, want b", got[1])
	}
}
