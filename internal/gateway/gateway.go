package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chromedp/cdproto/network"

	"github.com/dgnsrekt/atlas_agent/internal/activity"
	"github.com/dgnsrekt/atlas_agent/internal/bus"
	"github.com/dgnsrekt/atlas_agent/internal/cdp"
	"github.com/dgnsrekt/atlas_agent/internal/classify"
	"github.com/dgnsrekt/atlas_agent/internal/prefs"
	"github.com/dgnsrekt/atlas_agent/internal/resolve"
	"github.com/dgnsrekt/atlas_agent/internal/tabctx"
)

// Result kinds. Every action reply carries one so callers never have to
// know action-specific error shapes.
const (
	ResultSuccess = "success"
	ResultWarning = "warning"
	ResultDanger  = "danger"
)

// ActionResult is the normalized outcome of a privileged action.
// Descriptions may carry markdown-lite bold spans delimited by **.
type ActionResult struct {
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Data        any    `json:"data,omitempty"`
}

// TabPrimitives are the privileged browser operations the gateway needs.
// The watch manager implements them.
type TabPrimitives interface {
	Reload(ctx context.Context, tabID string) error
	Navigate(ctx context.Context, tabID, url string) error
	Cookies(ctx context.Context) ([]*network.Cookie, error)
	DeleteCookie(ctx context.Context, name, domain, path string) error
}

// PageRunner executes function bodies in a tab's page scripting world,
// where the user's session credentials are attached to same-origin fetches.
type PageRunner interface {
	RunInPage(ctx context.Context, tabID, fnBody string, args ...any) (json.RawMessage, error)
}

// TabResolver finds live tabs for instances.
type TabResolver interface {
	Resolve(ctx context.Context, instance, tabID string) (cdp.TabInfo, error)
	RecentInstances(ctx context.Context, n int) ([]resolve.InstanceTab, error)
}

// Gateway coordinates privileged site-scoped actions. Cookies and the
// clipboard are global resources and are mutated only through here.
type Gateway struct {
	scope    classify.Scope
	tabs     TabPrimitives
	runner   PageRunner
	resolver TabResolver
	cache    *tabctx.Cache
	prefs    *prefs.Store
	log      *activity.Store
	notify   func(bus.Activity)
}

// New wires a gateway. log and notify may be nil; prefs may be nil, in
// which case activity logging and auto-recovery opt-ins are disabled.
func New(scope classify.Scope, tabs TabPrimitives, runner PageRunner, resolver TabResolver, cache *tabctx.Cache, prefStore *prefs.Store, log *activity.Store, notify func(bus.Activity)) *Gateway {
	return &Gateway{
		scope:    scope,
		tabs:     tabs,
		runner:   runner,
		resolver: resolver,
		cache:    cache,
		prefs:    prefStore,
		log:      log,
		notify:   notify,
	}
}

// record mirrors an action outcome onto the event stream and, when the
// instance has activity logging enabled, into the activity store. Logging
// failures never block action completion.
func (g *Gateway) record(ctx context.Context, instance, action string, res ActionResult, details string) {
	if g.notify != nil {
		g.notify(bus.Activity{Instance: instance, Action: action, Status: res.Kind, Title: res.Title})
	}
	if g.log == nil {
		return
	}
	if g.prefs != nil && !g.prefs.ActivityEnabled(instance) {
		return
	}
	if _, err := g.log.Append(ctx, activity.Entry{
		Instance:    instance,
		Action:      action,
		Status:      res.Kind,
		Title:       res.Title,
		Description: res.Description,
		Details:     details,
	}); err != nil {
		slog.Warn("Failed to append activity entry", "action", action, "error", err)
	}
}

// httpStatusFromError extracts the HTTP status from an in-page fetch
// failure. The fetch helper throws "HTTP <status> <method> <path>" on
// non-OK responses. Returns 0 when the error is not of that shape.
func httpStatusFromError(err error) int {
	var coded *cdp.CodedError
	if !errors.As(err, &coded) || coded.Code != cdp.CodeInPageThrow {
		return 0
	}
	var status int
	if _, serr := fmt.Sscanf(coded.Message, "HTTP %d", &status); serr != nil {
		return 0
	}
	return status
}

// httpFailure turns a platform endpoint failure into a danger result with
// the code and endpoint name. Non-HTTP errors pass through as coded errors.
func (g *Gateway) httpFailure(ctx context.Context, instance, action, path string, err error) (ActionResult, error) {
	status := httpStatusFromError(err)
	if status == 0 {
		return ActionResult{}, err
	}
	res := ActionResult{
		Kind:        ResultDanger,
		Title:       "Request failed",
		Description: fmt.Sprintf("**HTTP %d** from %s.", status, path),
	}
	g.record(ctx, instance, action, res, err.Error())
	return res, nil
}
