package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/atlas_agent/internal/classify"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func withDefaultHTTPClient(t *testing.T, transport http.RoundTripper) {
	t.Helper()
	origClient := http.DefaultClient
	t.Cleanup(func() {
		http.DefaultClient = origClient
	})
	http.DefaultClient = &http.Client{Transport: transport}
}

func withTargetList(t *testing.T, targets []map[string]any) {
	t.Helper()
	withDefaultHTTPClient(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/json/list" {
			return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader(``))}, nil
		}
		body, _ := json.Marshal(targets)
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(string(body)))}, nil
	}))
}

func testExecutor() *Executor {
	return NewExecutor("http://example.com", classify.NewScope("acme.example"), time.Second)
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	var coded *CodedError
	if !errors.As(err, &coded) {
		t.Fatalf("expected *CodedError, got %T: %v", err, err)
	}
	if coded.Code != code {
		t.Fatalf("error code = %s, want %s", coded.Code, code)
	}
}

func TestTabsFiltersNonPageTargets(t *testing.T) {
	withTargetList(t, []map[string]any{
		{"id": "t1", "type": "page", "url": "https://a.acme.example/page/1", "title": "one"},
		{"id": "sw", "type": "service_worker", "url": "https://a.acme.example/sw.js"},
		{"id": "t2", "type": "page", "url": "https://b.acme.example/page/2"},
	})

	tabs, err := testExecutor().Tabs(context.Background())
	if err != nil {
		t.Fatalf("Tabs() error = %v", err)
	}
	if len(tabs) != 2 || tabs[0].ID != "t1" || tabs[1].ID != "t2" {
		t.Fatalf("Tabs() = %+v, want t1,t2", tabs)
	}
}

func TestTabsWrapsListError(t *testing.T) {
	withDefaultHTTPClient(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusInternalServerError, Body: io.NopCloser(strings.NewReader(`oops`))}, nil
	}))

	_, err := testExecutor().Tabs(context.Background())
	assertCode(t, err, CodeExecutorUnavailable)
}

func TestLookupTabGone(t *testing.T) {
	withTargetList(t, []map[string]any{
		{"id": "t1", "type": "page", "url": "https://a.acme.example/page/1"},
	})

	_, err := testExecutor().Lookup(context.Background(), "missing")
	assertCode(t, err, CodeTabGone)
}

func TestRunInPageOutOfScope(t *testing.T) {
	withTargetList(t, []map[string]any{
		{"id": "t1", "type": "page", "url": "https://www.acme.example/pricing"},
	})

	_, err := testExecutor().RunInPage(context.Background(), "t1", "function(){return 1}")
	assertCode(t, err, CodeOutOfScope)
}

func TestRunInPageRejectsNonSerializableArgs(t *testing.T) {
	_, err := testExecutor().RunInPage(context.Background(), "t1", "function(){}", make(chan int))
	assertCode(t, err, CodeNotSerializable)
}

func TestRunInPageValidation(t *testing.T) {
	_, err := testExecutor().RunInPage(context.Background(), "  ", "function(){}")
	assertCode(t, err, CodeValidation)

	_, err = testExecutor().RunInPage(context.Background(), "t1", " ")
	assertCode(t, err, CodeValidation)
}

func TestDecodeEnvelope(t *testing.T) {
	data, err := decodeEnvelope(`{"ok":true,"data":{"name":"Revenue"}}`)
	if err != nil {
		t.Fatalf("decodeEnvelope() error = %v", err)
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.Name != "Revenue" {
		t.Fatalf("decoded data = %s, err = %v", data, err)
	}

	_, err = decodeEnvelope(`{"ok":false,"error_code":"IN_PAGE_THROW","error_message":"boom","error_stack":"at x"}`)
	assertCode(t, err, CodeInPageThrow)
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("error = %v, want sanitized message", err)
	}
	if strings.Contains(err.Error(), "at x") {
		t.Fatalf("error = %v, stack must not propagate", err)
	}

	_, err = decodeEnvelope(`not json`)
	assertCode(t, err, CodeExecutorUnavailable)

	_, err = decodeEnvelope(`{"ok":false,"error_message":"anon"}`)
	assertCode(t, err, CodeInPageThrow)
}

func TestMapEvalError(t *testing.T) {
	e := testExecutor()
	ctx := context.Background()

	err := e.mapEvalError(ctx, errors.New("cdp: No target with given id found"))
	assertCode(t, err, CodeTabGone)

	err = e.mapEvalError(ctx, errors.New("cdp: send: broken pipe"))
	assertCode(t, err, CodeExecutorUnavailable)

	timedOut, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
	defer cancel()
	<-timedOut.Done()
	err = e.mapEvalError(timedOut, errors.New("context deadline exceeded"))
	assertCode(t, err, CodeEvalTimeout)
}

func TestBuildInvocationEmbedsBodyAndArgs(t *testing.T) {
	expr := buildInvocation(`function(a,b){return a+b}`, `[1,2]`)
	for _, want := range []string{"function(a,b){return a+b}", "[1,2]", "__fn.apply", CodeNotSerializable, CodeInPageThrow} {
		if !strings.Contains(expr, want) {
			t.Fatalf("invocation missing %q:\n%s", want, expr)
		}
	}
}
