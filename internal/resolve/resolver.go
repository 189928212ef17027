// Package resolve picks the live tab a UI-triggered action should run
// against. Resolution is advisory: a returned tab can still vanish before
// the page executor reaches it, and callers handle TAB_GONE on their own.
package resolve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgnsrekt/atlas_agent/internal/cdp"
	"github.com/dgnsrekt/atlas_agent/internal/classify"
)

// TabLister enumerates open page targets in most-recently-used order.
type TabLister interface {
	Tabs(ctx context.Context) ([]cdp.TabInfo, error)
}

type Resolver struct {
	tabs  TabLister
	scope classify.Scope
}

func New(tabs TabLister, scope classify.Scope) *Resolver {
	return &Resolver{tabs: tabs, scope: scope}
}

// Resolve finds the most appropriate live tab for an instance. The ladder:
// an explicitly requested tab that is alive and still on the instance; the
// active (most recently used) tab when it is on the instance; any other tab
// on the instance by recency; otherwise NO_TAB_FOR_INSTANCE.
func (r *Resolver) Resolve(ctx context.Context, instance, tabID string) (cdp.TabInfo, error) {
	tabs, err := r.tabs.Tabs(ctx)
	if err != nil {
		return cdp.TabInfo{}, err
	}

	if tabID != "" {
		for _, t := range tabs {
			if t.ID != tabID {
				continue
			}
			if instance == "" || r.scope.Matches(t.URL, instance) {
				return t, nil
			}
			slog.Debug("resolve: requested tab moved off instance", "tab_id", tabID, "instance", instance)
			break
		}
	}

	if instance == "" {
		return cdp.TabInfo{}, cdp.NewError(cdp.CodeValidation, "instance or tab id is required", nil)
	}

	// The list is MRU-ordered, so the first entry is the active tab and the
	// first instance match is the most recently accessed candidate.
	for _, t := range tabs {
		if r.scope.Matches(t.URL, instance) {
			return t, nil
		}
	}
	return cdp.TabInfo{}, cdp.NewError(cdp.CodeNoTabForInstance, fmt.Sprintf("no open tab for instance %s", instance), nil)
}

// RecentInstances returns up to n distinct in-scope instances ordered by
// tab recency, each with its most recently used tab. Used to compute the
// credential preservation set.
func (r *Resolver) RecentInstances(ctx context.Context, n int) ([]InstanceTab, error) {
	tabs, err := r.tabs.Tabs(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	out := make([]InstanceTab, 0, n)
	for _, t := range tabs {
		instance, ok := r.scope.Instance(t.URL)
		if !ok || seen[instance] {
			continue
		}
		seen[instance] = true
		out = append(out, InstanceTab{Instance: instance, Tab: t})
		if len(out) == n {
			break
		}
	}
	return out, nil
}

// InstanceTab pairs an instance with its most recently used tab.
type InstanceTab struct {
	Instance string
	Tab      cdp.TabInfo
}
