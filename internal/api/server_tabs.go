package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/atlas_agent/internal/bus"
	"github.com/dgnsrekt/atlas_agent/internal/cdp"
	"github.com/dgnsrekt/atlas_agent/internal/tabctx"
)

// TabSummary is one open tab with its cached context, when any.
type TabSummary struct {
	TabID    string `json:"tab_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Instance string `json:"instance,omitempty"`
	InScope  bool   `json:"in_scope"`
	Version  int64  `json:"context_version,omitempty"`
}

func registerTabHandlers(api huma.API, deps Deps) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
			Tabs   int    `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Tabs = len(deps.Cache.Snapshot())
			return out, nil
		})

	type listTabsOutput struct {
		Body struct {
			Tabs []TabSummary `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List open browser tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			tabs, err := deps.Tabs.Tabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listTabsOutput{}
			out.Body.Tabs = make([]TabSummary, 0, len(tabs))
			for _, t := range tabs {
				sum := TabSummary{TabID: t.ID, URL: t.URL, Title: t.Title}
				if tc := deps.Cache.Get(tabctx.TabID(t.ID)); tc != nil {
					sum.Instance = tc.Instance
					sum.InScope = tc.InScope
					sum.Version = tc.Version
				}
				out.Body.Tabs = append(out.Body.Tabs, sum)
			}
			return out, nil
		})

	type tabIDInput struct {
		TabID string `path:"tab_id" doc:"Browser tab identifier"`
	}
	type contextOutput struct {
		Body bus.TabContext
	}
	huma.Register(api, huma.Operation{OperationID: "get-tab-context", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/context", Summary: "Get the authoritative context for a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*contextOutput, error) {
			tc := deps.Cache.Get(tabctx.TabID(input.TabID))
			if tc == nil {
				return nil, huma.Error404NotFound("no context for tab " + input.TabID)
			}
			out := &contextOutput{}
			out.Body = bus.ContextToWire(*tc)
			return out, nil
		})

	type resolveInput struct {
		Instance string `path:"instance" doc:"Instance host, e.g. corp.acme.example"`
		TabID    string `query:"tab_id" doc:"Optional tab to validate first"`
	}
	type resolveOutput struct {
		Body cdp.TabInfo
	}
	huma.Register(api, huma.Operation{OperationID: "resolve-instance-tab", Method: http.MethodGet, Path: "/api/v1/instances/{instance}/resolve", Summary: "Find a live tab for an instance", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *resolveInput) (*resolveOutput, error) {
			tab, err := deps.Resolver.Resolve(ctx, input.Instance, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &resolveOutput{}
			out.Body = tab
			return out, nil
		})
}
