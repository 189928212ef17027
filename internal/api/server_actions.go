package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/atlas_agent/internal/gateway"
)

type actionOutput struct {
	Body gateway.ActionResult
}

func registerActionHandlers(api huma.API, deps Deps) {
	type purgeInput struct {
		Body gateway.PurgeRequest
	}
	huma.Register(api, huma.Operation{OperationID: "purge-credentials", Method: http.MethodPost, Path: "/api/v1/actions/purge-credentials", Summary: "Remove product cookies, optionally preserving recent instances", Tags: []string{"Actions"}},
		func(ctx context.Context, input *purgeInput) (*actionOutput, error) {
			res, err := deps.Gateway.PurgeCredentials(ctx, input.Body)
			if err != nil {
				return nil, mapErr(err)
			}
			return &actionOutput{Body: res}, nil
		})

	type tabActionInput struct {
		Body struct {
			TabID string `json:"tab_id" doc:"Tab whose current object the action targets"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "fetch-details", Method: http.MethodPost, Path: "/api/v1/actions/fetch-details", Summary: "Fetch the current object's authoritative details", Tags: []string{"Actions"}},
		func(ctx context.Context, input *tabActionInput) (*actionOutput, error) {
			res, err := deps.Gateway.FetchObjectDetails(ctx, input.Body.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &actionOutput{Body: res}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "strip-filters", Method: http.MethodPost, Path: "/api/v1/actions/strip-filters", Summary: "Strip empty quick filters from the current page", Tags: []string{"Actions"}},
		func(ctx context.Context, input *tabActionInput) (*actionOutput, error) {
			res, err := deps.Gateway.StripEmptyQuickFilters(ctx, input.Body.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &actionOutput{Body: res}, nil
		})

	type copyInput struct {
		Body struct {
			TabID  string `json:"tab_id"`
			Target string `json:"target" enum:"id,url" doc:"What to copy"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "copy-to-clipboard", Method: http.MethodPost, Path: "/api/v1/actions/copy", Summary: "Copy the current object's id or URL", Tags: []string{"Actions"}},
		func(ctx context.Context, input *copyInput) (*actionOutput, error) {
			res, err := deps.Gateway.CopyToClipboard(ctx, input.Body.TabID, input.Body.Target)
			if err != nil {
				return nil, mapErr(err)
			}
			return &actionOutput{Body: res}, nil
		})

	type navigateInput struct {
		Body gateway.NavigateRequest
	}
	huma.Register(api, huma.Operation{OperationID: "navigate-to-object", Method: http.MethodPost, Path: "/api/v1/actions/navigate", Summary: "Drive a tab to an object's canonical URL", Tags: []string{"Actions"}},
		func(ctx context.Context, input *navigateInput) (*actionOutput, error) {
			res, err := deps.Gateway.NavigateToObject(ctx, input.Body)
			if err != nil {
				return nil, mapErr(err)
			}
			return &actionOutput{Body: res}, nil
		})
}
