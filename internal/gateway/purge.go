package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/dgnsrekt/atlas_agent/internal/cdp"
	"github.com/dgnsrekt/atlas_agent/internal/classify"
	"github.com/dgnsrekt/atlas_agent/internal/prefs"
)

// PurgeMode selects how much a credential purge clears.
type PurgeMode string

const (
	PurgeAll             PurgeMode = "all"
	PurgeExceptPreserved PurgeMode = "allExceptPreserved"
)

// PurgeRequest asks for a credential purge. LauncherTab, when set, names
// the tab to reload after clearing; otherwise the most recent in-scope
// tab is reloaded.
type PurgeRequest struct {
	Mode        PurgeMode `json:"mode"`
	LauncherTab string    `json:"launcher_tab,omitempty"`
}

// bootstrapInfo is the slice of the page bootstrap object that identifies
// an instance's session cookies.
type bootstrapInfo struct {
	EnvironmentID string `json:"environment_id"`
	Company       string `json:"company"`
}

// sessionCookieNames derives the per-instance session identifier cookie
// names from bootstrap data.
func sessionCookieNames(b bootstrapInfo) []string {
	var names []string
	if b.EnvironmentID != "" {
		names = append(names, "sid-"+b.EnvironmentID)
	}
	if b.Company != "" {
		names = append(names, "auth-"+b.Company)
	}
	return names
}

type cookieDecision int

const (
	cookieSkip cookieDecision = iota
	cookieRemove
	cookiePreserve
)

// decideCookie classifies one cookie against the product scope, the purge
// mode and the preserve set (instance host to cookie names).
func decideCookie(c *network.Cookie, scope classify.Scope, mode PurgeMode, preserve map[string]map[string]bool) cookieDecision {
	host := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
	if host != scope.Domain && !strings.HasSuffix(host, "."+scope.Domain) {
		return cookieSkip
	}
	if mode == PurgeExceptPreserved {
		if set, ok := preserve[host]; ok && set[c.Name] {
			return cookiePreserve
		}
	}
	return cookieRemove
}

// preserveSet reads bootstrap data from the two most recently used
// instances' tabs. An instance whose bootstrap probe fails contributes
// nothing, so its cookies are cleared unconditionally.
func (g *Gateway) preserveSet(ctx context.Context) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	recent, err := g.resolver.RecentInstances(ctx, 2)
	if err != nil {
		slog.Warn("Failed to list recent instances for preservation", "error", err)
		return out
	}
	for _, it := range recent {
		raw, err := g.runner.RunInPage(ctx, it.Tab.ID, bootstrapJS)
		if err != nil {
			slog.Warn("Bootstrap probe failed, clearing instance unconditionally", "instance", it.Instance, "error", err)
			continue
		}
		var b bootstrapInfo
		if err := json.Unmarshal(raw, &b); err != nil || (b == bootstrapInfo{}) {
			slog.Warn("No bootstrap data on tab, clearing instance unconditionally", "instance", it.Instance)
			continue
		}
		set := make(map[string]bool)
		for _, name := range sessionCookieNames(b) {
			set[name] = true
		}
		out[it.Instance] = set
	}
	return out
}

// PurgeCredentials removes the product's cookies. In allExceptPreserved
// mode the session identifiers of the two most recently used instances
// survive. The launcher tab is reloaded afterwards so the page picks up
// the fresh session state.
func (g *Gateway) PurgeCredentials(ctx context.Context, req PurgeRequest) (ActionResult, error) {
	if req.Mode != PurgeAll && req.Mode != PurgeExceptPreserved {
		return ActionResult{}, cdp.NewError(cdp.CodeValidation, fmt.Sprintf("unknown purge mode %q", req.Mode), nil)
	}

	preserve := map[string]map[string]bool{}
	if req.Mode == PurgeExceptPreserved {
		preserve = g.preserveSet(ctx)
	}

	cookies, err := g.tabs.Cookies(ctx)
	if err != nil {
		return ActionResult{}, err
	}

	var removed, preserved int
	var failures []string
	for _, c := range cookies {
		switch decideCookie(c, g.scope, req.Mode, preserve) {
		case cookieSkip:
			continue
		case cookiePreserve:
			preserved++
		case cookieRemove:
			if err := g.tabs.DeleteCookie(ctx, c.Name, c.Domain, c.Path); err != nil {
				failures = append(failures, fmt.Sprintf("%s@%s: %v", c.Name, c.Domain, err))
			} else {
				removed++
			}
		}
	}

	launcher, instance := req.LauncherTab, ""
	if launcher == "" {
		if recent, rerr := g.resolver.RecentInstances(ctx, 1); rerr == nil && len(recent) > 0 {
			launcher = recent[0].Tab.ID
			instance = recent[0].Instance
		}
	}
	reloaded := false
	if launcher != "" {
		if err := g.tabs.Reload(ctx, launcher); err != nil {
			failures = append(failures, fmt.Sprintf("reload %s: %v", launcher, err))
		} else {
			reloaded = true
		}
	}

	res := ActionResult{
		Kind:        ResultSuccess,
		Title:       "Credentials purged",
		Description: fmt.Sprintf("Removed **%d** cookies, preserved **%d**.", removed, preserved),
		Data: map[string]any{
			"removed":   removed,
			"preserved": preserved,
			"failed":    len(failures),
			"reloaded":  reloaded,
		},
	}
	if len(failures) > 0 {
		res.Kind = ResultWarning
		res.Description = fmt.Sprintf("Removed **%d** cookies, preserved **%d**, **%d** failed.", removed, preserved, len(failures))
	}
	g.record(ctx, instance, "purge-credentials", res, strings.Join(failures, "; "))
	return res, nil
}

// maybeAutoRecover runs a preservation purge in the background when a
// platform endpoint rejected a request for oversized headers and the user
// opted in with cookie mode auto.
func (g *Gateway) maybeAutoRecover(err error) {
	if httpStatusFromError(err) != http.StatusRequestHeaderFieldsTooLarge {
		return
	}
	if g.prefs == nil || g.prefs.Get().CookieMode != prefs.CookieModeAuto {
		return
	}
	slog.Info("Header overflow detected, starting recovery purge")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, perr := g.PurgeCredentials(ctx, PurgeRequest{Mode: PurgeExceptPreserved}); perr != nil {
			slog.Warn("Recovery purge failed", "error", perr)
		}
	}()
}
