package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/atlas_agent/internal/activity"
	"github.com/dgnsrekt/atlas_agent/internal/bus"
	"github.com/dgnsrekt/atlas_agent/internal/handoff"
	"github.com/dgnsrekt/atlas_agent/internal/prefs"
	"github.com/dgnsrekt/atlas_agent/internal/relay"
)

func registerStateHandlers(api huma.API, deps Deps) {
	type putHandoffInput struct {
		Body struct {
			Kind string          `json:"kind" doc:"Payload discriminator for the sidepanel"`
			Data json.RawMessage `json:"data"`
		}
	}
	type handoffOutput struct {
		Body handoff.Payload
	}
	huma.Register(api, huma.Operation{OperationID: "put-handoff", Method: http.MethodPut, Path: "/api/v1/handoff", Summary: "Store a sidepanel handoff payload", Tags: []string{"Handoff"}},
		func(ctx context.Context, input *putHandoffInput) (*handoffOutput, error) {
			if input.Body.Kind == "" {
				return nil, huma.Error400BadRequest("handoff kind is required")
			}
			p := deps.Handoff.Put(input.Body.Kind, input.Body.Data)
			publish(deps.Broker, relay.FeedHandoff, bus.TypeHandoffStored, bus.HandoffStored{ID: p.ID, Kind: p.Kind})
			return &handoffOutput{Body: p}, nil
		})

	type takeHandoffOutput struct {
		Body struct {
			OK      bool             `json:"ok"`
			Payload *handoff.Payload `json:"payload,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "take-handoff", Method: http.MethodPost, Path: "/api/v1/handoff/take", Summary: "Consume the pending handoff payload, if still fresh", Tags: []string{"Handoff"}},
		func(ctx context.Context, input *struct{}) (*takeHandoffOutput, error) {
			out := &takeHandoffOutput{}
			if p, ok := deps.Handoff.Take(); ok {
				out.Body.OK = true
				out.Body.Payload = &p
			}
			return out, nil
		})

	type prefsOutput struct {
		Body prefs.Settings
	}
	huma.Register(api, huma.Operation{OperationID: "get-prefs", Method: http.MethodGet, Path: "/api/v1/prefs", Summary: "Read persisted preferences", Tags: []string{"Prefs"}},
		func(ctx context.Context, input *struct{}) (*prefsOutput, error) {
			return &prefsOutput{Body: deps.Prefs.Get()}, nil
		})

	type putPrefsInput struct {
		Body prefs.Settings
	}
	huma.Register(api, huma.Operation{OperationID: "put-prefs", Method: http.MethodPut, Path: "/api/v1/prefs", Summary: "Replace persisted preferences", Tags: []string{"Prefs"}},
		func(ctx context.Context, input *putPrefsInput) (*prefsOutput, error) {
			next, err := deps.Prefs.Update(func(s *prefs.Settings) {
				*s = input.Body
			})
			if err != nil {
				return nil, mapErr(err)
			}
			return &prefsOutput{Body: next}, nil
		})

	type activityInput struct {
		Instance string `query:"instance" doc:"Filter to one instance"`
		Limit    int    `query:"limit" default:"100" maximum:"1000"`
	}
	type activityOutput struct {
		Body struct {
			Entries []activity.Entry `json:"entries"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-activity", Method: http.MethodGet, Path: "/api/v1/activity", Summary: "List logged action outcomes", Tags: []string{"Activity"}},
		func(ctx context.Context, input *activityInput) (*activityOutput, error) {
			entries, err := deps.Activity.List(ctx, input.Instance, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &activityOutput{}
			out.Body.Entries = entries
			return out, nil
		})
}

// publish encodes a typed payload and drops it on the event stream. Encode
// failures are logged, never surfaced to the caller.
func publish(broker *relay.Broker, feed string, t bus.Type, payload any) {
	if broker == nil {
		return
	}
	data, err := bus.Encode(t, payload)
	if err != nil {
		slog.Warn("Failed to encode event", "type", t, "error", err)
		return
	}
	broker.Publish(relay.Event{Feed: feed, Payload: data})
}
