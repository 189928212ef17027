package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"

	"github.com/dgnsrekt/atlas_agent/internal/cdp"
	"github.com/dgnsrekt/atlas_agent/internal/classify"
	"github.com/dgnsrekt/atlas_agent/internal/tabctx"
)

// detailsEndpoints maps kinds to the platform endpoint serving their
// authoritative details. Kinds without an entry do not support the
// details action even if a future spec grants it.
var detailsEndpoints = map[classify.Kind]string{
	classify.KindPage:              "/api/content/v1/pages/%s",
	classify.KindCard:              "/api/content/v1/cards/%s?parts=metadata",
	classify.KindDataset:           "/api/data/v3/datasources/%s",
	classify.KindDataflow:          "/api/dataprocessing/v1/dataflows/%s",
	classify.KindUser:              "/api/content/v2/users/%s",
	classify.KindGroup:             "/api/content/v2/groups/%s",
	classify.KindWorkflowModel:     "/api/workflow/v1/models/%s",
	classify.KindCodeEnginePackage: "/api/codeengine/v2/packages/%s",
	classify.KindApp:               "/api/apps/v1/apps/%s",
	classify.KindDataAppView:       "/api/content/v1/dataapps/views/%s",
	classify.KindFileset:           "/api/files/v1/filesets/%s",
	classify.KindAIProject:         "/api/ai/v1/projects/%s",
	classify.KindAIModel:           "/api/ai/v1/models/%s",
}

// detailKeys are the response fields worth surfacing to the UI.
var detailKeys = []string{
	"id", "title", "name", "description", "owner", "ownerName",
	"created", "createdBy", "updated", "lastModified", "locked",
	"rowCount", "columnCount", "status", "type",
}

// normalizeDetails reduces a raw endpoint response to the metadata shape
// the cache stores.
func normalizeDetails(raw json.RawMessage) tabctx.Metadata {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return tabctx.Metadata{}
	}
	md := tabctx.Metadata{Details: make(map[string]any)}
	for _, key := range detailKeys {
		if v, ok := body[key]; ok && v != nil {
			md.Details[key] = v
		}
	}
	if name, ok := body["title"].(string); ok && name != "" {
		md.Name = name
	} else if name, ok := body["name"].(string); ok {
		md.Name = name
	}
	return md
}

// currentObject fetches the tab's cached context and requires an in-scope
// detected object.
func (g *Gateway) currentObject(tabID string) (*tabctx.TabContext, tabctx.DetectedObject, error) {
	tc := g.cache.Get(tabctx.TabID(tabID))
	if tc == nil {
		return nil, tabctx.DetectedObject{}, cdp.NewError(cdp.CodeTabGone, fmt.Sprintf("no context for tab %s", tabID), nil)
	}
	if !tc.InScope || tc.Object == nil {
		return nil, tabctx.DetectedObject{}, cdp.NewError(cdp.CodeOutOfScope, fmt.Sprintf("tab %s has no in-scope object", tabID), nil)
	}
	return tc, *tc.Object, nil
}

// FetchObjectDetails asks the platform for the current object's
// authoritative details and merges them into the cached context.
func (g *Gateway) FetchObjectDetails(ctx context.Context, tabID string) (ActionResult, error) {
	tc, obj, err := g.currentObject(tabID)
	if err != nil {
		return ActionResult{}, err
	}
	if !obj.Kind.Allows("details") {
		return ActionResult{}, cdp.NewError(cdp.CodeValidation, fmt.Sprintf("%s objects have no details action", obj.Kind), nil)
	}
	tmpl, ok := detailsEndpoints[obj.Kind]
	if !ok {
		return ActionResult{}, cdp.NewError(cdp.CodeValidation, fmt.Sprintf("no details endpoint for kind %s", obj.Kind), nil)
	}
	path := fmt.Sprintf(tmpl, obj.ID)

	raw, err := g.runner.RunInPage(ctx, tabID, fetchJSONJS, "GET", path, nil)
	if err != nil {
		g.maybeAutoRecover(err)
		return g.httpFailure(ctx, tc.Instance, "fetch-details", path, err)
	}

	md := normalizeDetails(raw)
	outcome := g.cache.PatchMetadata(tc.TabID, func(o *tabctx.DetectedObject) bool {
		return o.Kind == obj.Kind && o.ID == obj.ID
	}, md)
	if outcome == tabctx.Rejected {
		// The tab moved to another object while the fetch was in flight.
		return ActionResult{
			Kind:        ResultWarning,
			Title:       "Details discarded",
			Description: "The tab navigated away before the details arrived.",
		}, nil
	}

	name := md.Name
	if name == "" {
		name = obj.ID
	}
	res := ActionResult{
		Kind:        ResultSuccess,
		Title:       "Details loaded",
		Description: fmt.Sprintf("Loaded details for **%s**.", name),
		Data:        md.Details,
	}
	g.record(ctx, tc.Instance, "fetch-details", res, "")
	return res, nil
}

// stripEmptyQuickFilters drops quick filter controls whose sole value is
// the empty string. Returns the rewritten definition and how many controls
// were removed.
func stripEmptyQuickFilters(def map[string]any) (map[string]any, int) {
	raw, ok := def["quickFilters"].([]any)
	if !ok {
		return def, 0
	}
	kept := make([]any, 0, len(raw))
	dropped := 0
	for _, f := range raw {
		if isEmptyQuickFilter(f) {
			dropped++
			continue
		}
		kept = append(kept, f)
	}
	if dropped > 0 {
		def["quickFilters"] = kept
	}
	return def, dropped
}

func isEmptyQuickFilter(f any) bool {
	m, ok := f.(map[string]any)
	if !ok {
		return false
	}
	values, ok := m["values"].([]any)
	if !ok || len(values) != 1 {
		return false
	}
	s, ok := values[0].(string)
	return ok && s == ""
}

// StripEmptyQuickFilters rewrites a page definition without its empty
// quick filter controls and reloads the tab so the page picks it up.
func (g *Gateway) StripEmptyQuickFilters(ctx context.Context, tabID string) (ActionResult, error) {
	tc, obj, err := g.currentObject(tabID)
	if err != nil {
		return ActionResult{}, err
	}
	if !obj.Kind.Allows("strip-filters") {
		return ActionResult{}, cdp.NewError(cdp.CodeValidation, fmt.Sprintf("%s objects have no quick filters", obj.Kind), nil)
	}
	path := fmt.Sprintf("/api/content/v1/pages/%s/definition", obj.ID)

	raw, err := g.runner.RunInPage(ctx, tabID, fetchJSONJS, "GET", path, nil)
	if err != nil {
		g.maybeAutoRecover(err)
		return g.httpFailure(ctx, tc.Instance, "strip-filters", path, err)
	}
	var def map[string]any
	if err := json.Unmarshal(raw, &def); err != nil {
		return ActionResult{}, cdp.NewError(cdp.CodeExecutorUnavailable, "page definition is not an object", err)
	}

	next, dropped := stripEmptyQuickFilters(def)
	if dropped == 0 {
		return ActionResult{
			Kind:        ResultSuccess,
			Title:       "Nothing to strip",
			Description: "No empty quick filters found.",
		}, nil
	}

	if _, err := g.runner.RunInPage(ctx, tabID, fetchJSONJS, "POST", path, next); err != nil {
		g.maybeAutoRecover(err)
		return g.httpFailure(ctx, tc.Instance, "strip-filters", path, err)
	}

	res := ActionResult{
		Kind:        ResultSuccess,
		Title:       "Quick filters stripped",
		Description: fmt.Sprintf("Removed **%d** empty quick filters.", dropped),
		Data:        map[string]int{"removed": dropped},
	}
	if err := g.tabs.Reload(ctx, tabID); err != nil {
		res.Kind = ResultWarning
		res.Description += " Reload failed, changes apply on next visit."
	}
	g.record(ctx, tc.Instance, "strip-filters", res, "")
	return res, nil
}

// CopyToClipboard copies the current object's id or URL. The clipboard is
// a global resource; this is the only place the agent writes it.
func (g *Gateway) CopyToClipboard(ctx context.Context, tabID, what string) (ActionResult, error) {
	tc, obj, err := g.currentObject(tabID)
	if err != nil {
		return ActionResult{}, err
	}

	var text string
	switch what {
	case "id":
		if !obj.Kind.Allows("copy-id") {
			return ActionResult{}, cdp.NewError(cdp.CodeValidation, fmt.Sprintf("%s objects have no copyable id", obj.Kind), nil)
		}
		text = obj.ID
	case "url":
		if !obj.Kind.Allows("copy-url") {
			return ActionResult{}, cdp.NewError(cdp.CodeValidation, fmt.Sprintf("%s objects have no copyable url", obj.Kind), nil)
		}
		text = renderObjectURL(classify.Spec(obj.Kind).URLTemplate, tc.Instance, obj.ID)
		if text == "" {
			text = tc.URL
		}
	default:
		return ActionResult{}, cdp.NewError(cdp.CodeValidation, fmt.Sprintf("unknown copy target %q", what), nil)
	}

	if err := clipboard.WriteAll(text); err != nil {
		return ActionResult{
			Kind:        ResultDanger,
			Title:       "Clipboard unavailable",
			Description: "Could not write to the system clipboard.",
		}, nil
	}
	res := ActionResult{
		Kind:        ResultSuccess,
		Title:       "Copied",
		Description: fmt.Sprintf("Copied **%s** to the clipboard.", text),
		Data:        text,
	}
	g.record(ctx, tc.Instance, "copy-"+what, res, "")
	return res, nil
}

// NavigateRequest points a tab at an object's canonical URL.
type NavigateRequest struct {
	Instance string        `json:"instance,omitempty"`
	TabID    string        `json:"tab_id,omitempty"`
	Kind     classify.Kind `json:"kind"`
	ID       string        `json:"id"`
}

// NavigateToObject resolves a live tab for the instance and drives it to
// the object's canonical URL.
func (g *Gateway) NavigateToObject(ctx context.Context, req NavigateRequest) (ActionResult, error) {
	spec := classify.Spec(req.Kind)
	if req.ID == "" || spec.URLTemplate == "" || !req.Kind.Allows("navigate") {
		return ActionResult{}, cdp.NewError(cdp.CodeValidation, fmt.Sprintf("%s objects cannot be navigated to", req.Kind), nil)
	}

	tab, err := g.resolver.Resolve(ctx, req.Instance, req.TabID)
	if err != nil {
		return ActionResult{}, err
	}
	instance := req.Instance
	if instance == "" {
		instance, _ = g.scope.Instance(tab.URL)
	}
	url := renderObjectURL(spec.URLTemplate, instance, req.ID)

	if err := g.tabs.Navigate(ctx, tab.ID, url); err != nil {
		return ActionResult{}, err
	}
	res := ActionResult{
		Kind:        ResultSuccess,
		Title:       "Opened " + spec.Name,
		Description: fmt.Sprintf("Opened **%s %s**.", spec.Name, req.ID),
		Data:        url,
	}
	g.record(ctx, instance, "navigate", res, "")
	return res, nil
}

func renderObjectURL(template, instance, id string) string {
	if template == "" || instance == "" {
		return ""
	}
	url := strings.ReplaceAll(template, "{instance}", instance)
	return strings.ReplaceAll(url, "{id}", id)
}
