package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/atlas_agent/internal/classify"
)

// TabInfo describes a page target visible over CDP.
type TabInfo struct {
	ID    string `json:"tab_id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// goneHints are substrings in transport error causes that mean the target
// or its session no longer exists, as opposed to the browser being away.
var goneHints = []string{
	"no target with given id",
	"session with given id not found",
	"target closed",
	"session closed",
	"cannot find context",
	"inspected target navigated or closed",
}

type tabSession struct {
	mu        sync.Mutex
	sessionID string
}

// Executor runs caller-supplied function bodies inside a tab's own page
// scripting world. One invocation per call, no retries; results and
// arguments must be JSON-serializable.
type Executor struct {
	cdpURL      string
	scope       classify.Scope
	evalTimeout time.Duration

	mu       sync.Mutex
	tr       *transport
	sessions map[string]*tabSession
}

// NewExecutor creates an Executor for a browser at the given CDP HTTP base
// URL, scoped to the product domain.
func NewExecutor(cdpURL string, scope classify.Scope, evalTimeout time.Duration) *Executor {
	if evalTimeout <= 0 {
		evalTimeout = 10 * time.Second
	}
	return &Executor{
		cdpURL:      cdpURL,
		scope:       scope,
		evalTimeout: evalTimeout,
		sessions:    make(map[string]*tabSession),
	}
}

// Connect establishes the browser-level websocket connection.
func (e *Executor) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connectLocked(ctx)
}

func (e *Executor) connectLocked(ctx context.Context) error {
	if e.cdpURL == "" {
		return newError(CodeExecutorUnavailable, "missing CDP URL", nil)
	}
	if e.tr == nil {
		e.tr = newTransport(e.cdpURL)
	}
	if err := e.tr.connect(ctx); err != nil {
		e.tr = nil
		return newError(CodeExecutorUnavailable, "connect to CDP failed", err)
	}
	return nil
}

func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tr != nil {
		e.tr.close()
		e.tr = nil
	}
	e.sessions = make(map[string]*tabSession)
	return nil
}

// Tabs lists open page targets in most-recently-used order.
func (e *Executor) Tabs(ctx context.Context) ([]TabInfo, error) {
	targets, err := e.transportLazy().listTargets(ctx)
	if err != nil {
		return nil, newError(CodeExecutorUnavailable, "failed to list targets", err)
	}
	out := make([]TabInfo, 0, len(targets))
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		out = append(out, TabInfo{ID: string(t.TargetID), URL: t.URL, Title: t.Title})
	}
	return out, nil
}

// Lookup returns the live tab with the given id, or a TAB_GONE error.
func (e *Executor) Lookup(ctx context.Context, tabID string) (TabInfo, error) {
	tabs, err := e.Tabs(ctx)
	if err != nil {
		return TabInfo{}, err
	}
	for _, t := range tabs {
		if t.ID == tabID {
			return t, nil
		}
	}
	return TabInfo{}, newError(CodeTabGone, fmt.Sprintf("tab %s is gone", tabID), nil)
}

// RunInPage executes fnBody, a JS function expression, inside the page
// scripting world of the target tab, applying args. The resolved value of
// the function (awaiting any returned promise) comes back as raw JSON.
func (e *Executor) RunInPage(ctx context.Context, tabID, fnBody string, args ...any) (json.RawMessage, error) {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return nil, newError(CodeValidation, "tab id is required", nil)
	}
	if strings.TrimSpace(fnBody) == "" {
		return nil, newError(CodeValidation, "function body is required", nil)
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, newError(CodeNotSerializable, "arguments are not serializable", err)
	}

	info, err := e.Lookup(ctx, tabID)
	if err != nil {
		return nil, err
	}
	if _, ok := e.scope.Instance(info.URL); !ok {
		return nil, newError(CodeOutOfScope, fmt.Sprintf("tab %s is not on an in-scope host", tabID), nil)
	}

	tr := e.transportLazy()
	if err := tr.connect(ctx); err != nil {
		return nil, newError(CodeExecutorUnavailable, "connect to CDP failed", err)
	}
	sessionID, err := e.ensureSession(ctx, tr, tabID)
	if err != nil {
		return nil, err
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.evalTimeout)
	defer cancel()

	slog.Debug("cdp run in page", "tab_id", tabID)
	raw, err := tr.evaluate(evalCtx, sessionID, buildInvocation(fnBody, string(argsJSON)))
	if err != nil {
		e.resetSession(tabID)
		return nil, e.mapEvalError(evalCtx, err)
	}
	return decodeEnvelope(raw)
}

func (e *Executor) mapEvalError(evalCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
		return newError(CodeEvalTimeout, "in-page evaluation timed out", err)
	}
	lower := strings.ToLower(err.Error())
	for _, hint := range goneHints {
		if strings.Contains(lower, hint) {
			return newError(CodeTabGone, "tab went away during evaluation", err)
		}
	}
	return newError(CodeExecutorUnavailable, "in-page evaluation failed", err)
}

func (e *Executor) transportLazy() *transport {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tr == nil {
		e.tr = newTransport(e.cdpURL)
	}
	return e.tr
}

func (e *Executor) ensureSession(ctx context.Context, tr *transport, tabID string) (string, error) {
	e.mu.Lock()
	session := e.sessions[tabID]
	if session == nil {
		session = &tabSession{}
		e.sessions[tabID] = session
	}
	e.mu.Unlock()

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.sessionID != "" {
		return session.sessionID, nil
	}
	sessionID, err := tr.attachToTarget(ctx, tabID)
	if err != nil {
		return "", e.mapEvalError(ctx, err)
	}
	session.sessionID = sessionID
	return sessionID, nil
}

func (e *Executor) resetSession(tabID string) {
	e.mu.Lock()
	session := e.sessions[tabID]
	e.mu.Unlock()
	if session == nil {
		return
	}
	session.mu.Lock()
	session.sessionID = ""
	session.mu.Unlock()
}

// Forget drops the cached session for a closed tab.
func (e *Executor) Forget(tabID string) {
	e.mu.Lock()
	delete(e.sessions, tabID)
	e.mu.Unlock()
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorStack   string          `json:"error_stack,omitempty"`
}

func decodeEnvelope(raw string) (json.RawMessage, error) {
	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, newError(CodeExecutorUnavailable, "invalid evaluation envelope", err)
	}
	if env.OK {
		return env.Data, nil
	}
	code := env.ErrorCode
	if code == "" {
		code = CodeInPageThrow
	}
	if env.ErrorStack != "" {
		// Stacks stay in the background log and never reach callers.
		slog.Debug("in-page throw", "message", env.ErrorMessage, "stack", env.ErrorStack)
	}
	return nil, newError(code, env.ErrorMessage, nil)
}

// buildInvocation wraps a function expression and serialized arguments in
// an IIFE that reports through the {ok, data, error_code} envelope.
func buildInvocation(fnBody, argsJSON string) string {
	return `(async function(){
var __fn = (` + fnBody + `);
var __args = ` + argsJSON + `;
try {
var __out = await __fn.apply(null, __args);
if (__out === undefined) { __out = null; }
try {
return JSON.stringify({ok:true,data:__out});
} catch (serr) {
return JSON.stringify({ok:false,error_code:"` + CodeNotSerializable + `",error_message:String(serr && serr.message || serr)});
}
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeInPageThrow + `",error_message:String(err && err.message || err),error_stack:err && err.stack ? String(err.stack) : ""});
}
})()`
}
