package classify

import (
	"net/url"
	"strings"
)

// DOMProbe carries best-effort DOM signals sampled inside the page by the
// content agent sentinel. All fields are optional.
type DOMProbe struct {
	// OpenCardID is the numeric suffix of an open card modal element
	// (card-details-modal-<id>), empty when no modal is open.
	OpenCardID string `json:"open_card_id,omitempty"`
	// Breadcrumb is the raw breadcrumb marker text. Drill paths encode as
	// dr:<drillPathId>:<cardId>.
	Breadcrumb string `json:"breadcrumb,omitempty"`
}

// Detection is a classifier result. ID may be empty for kinds whose
// identifier needs an async page probe.
type Detection struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id,omitempty"`
}

type rule struct {
	match   func(u *url.URL, probe DOMProbe) bool
	extract func(u *url.URL, probe DOMProbe) Detection
}

// Rules are evaluated in order; the first match wins. Ordering is part of
// the compatibility contract and must not be rearranged: modal state beats
// URL shape, drill breadcrumbs beat the card rule, and two-segment shapes
// (fileset files, jupyter workspaces) beat their one-segment prefixes.
var rules = []rule{
	// Open card modal overrides whatever the URL says.
	{
		match:   func(_ *url.URL, p DOMProbe) bool { return p.OpenCardID != "" },
		extract: func(_ *url.URL, p DOMProbe) Detection { return Detection{Kind: KindCard, ID: p.OpenCardID} },
	},
	// kpis/details/<cardId> with a dr:<drillId>:<cardId> breadcrumb is a
	// drill view identified by the drill path, not the card.
	{
		match: func(u *url.URL, p DOMProbe) bool {
			return segmentAfter(u, "kpis/details") != "" && drillID(p) != ""
		},
		extract: func(u *url.URL, p DOMProbe) Detection {
			return Detection{Kind: KindDrillView, ID: drillID(p)}
		},
	},
	{
		match: func(u *url.URL, _ DOMProbe) bool { return u.Query().Get("drillviewid") != "" },
		extract: func(u *url.URL, _ DOMProbe) Detection {
			return Detection{Kind: KindDrillView, ID: u.Query().Get("drillviewid")}
		},
	},
	segRule("kpis/details", KindCard),
	segRule("page", KindPage),
	{
		match: func(u *url.URL, _ DOMProbe) bool {
			return segmentAfter(u, "filesets") != "" && secondSegmentAfter(u, "filesets", "files") != ""
		},
		extract: func(u *url.URL, _ DOMProbe) Detection {
			return Detection{Kind: KindFilesetFile, ID: secondSegmentAfter(u, "filesets", "files")}
		},
	},
	segRule("filesets", KindFileset),
	segRule("datasources", KindDataset),
	segRule("datacenter/dataflows", KindDataflow),
	segRule("people", KindUser),
	segRule("groups", KindGroup),
	segRule("admin/security/roles", KindRole),
	segRule("workflows/models", KindWorkflowModel),
	segRule("workflows/instances", KindWorkflowInstance),
	segRule("codeengine", KindCodeEnginePackage),
	{
		match: func(u *url.URL, _ DOMProbe) bool { return segmentAfter(u, "app-studio") != "" },
		extract: func(u *url.URL, _ DOMProbe) Detection {
			// Kind depends on a platform API answer; the content agent
			// refines this to app or data-app-view with a page probe.
			return Detection{Kind: KindAppStudioViewUnknown, ID: segmentAfter(u, "app-studio")}
		},
	},
	segRule("apps", KindApp),
	segRule("ai/projects", KindAIProject),
	segRule("ai/models", KindAIModel),
	// Goals and objectives share path tokens; objectives keep priority.
	segRule("goals/objectives", KindObjective),
	segRule("goals/keyresults", KindKeyResult),
	segRule("tasks", KindProjectTask),
	segRule("hopper/queues", KindTaskQueue),
	segRule("approvals", KindApproval),
	segRule("publications", KindPublication),
	segRule("repositories", KindRepository),
	segRule("jupyter/workspaces", KindJupyterWorkspace),
	segRule("workspaces", KindWorkspace),
	segRule("beastmode", KindBeastModeFormula),
	segRule("collections", KindMagnumCollection),
	segRule("worksheets", KindWorksheetView),
}

// Classify maps a raw page URL plus optional DOM signals to a detection.
// Pure and deterministic; returns nil for in-scope URLs that match no rule.
func Classify(rawURL string, probe DOMProbe) *Detection {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	for _, r := range rules {
		if r.match(u, probe) {
			d := r.extract(u, probe)
			return &d
		}
	}
	return nil
}

func segRule(token string, kind Kind) rule {
	return rule{
		match: func(u *url.URL, _ DOMProbe) bool { return segmentAfter(u, token) != "" },
		extract: func(u *url.URL, _ DOMProbe) Detection {
			return Detection{Kind: kind, ID: segmentAfter(u, token)}
		},
	}
}

// segmentAfter returns the path segment immediately after a marker token,
// where the token itself may span several segments ("workflows/models").
// Returns "" when the token is absent or the following segment is empty.
func segmentAfter(u *url.URL, token string) string {
	segs := pathSegments(u)
	tok := strings.Split(token, "/")
	for i := 0; i+len(tok) < len(segs)+1; i++ {
		if !equalSegs(segs[i:i+len(tok)], tok) {
			continue
		}
		if i+len(tok) < len(segs) {
			return segs[i+len(tok)]
		}
		return ""
	}
	return ""
}

// secondSegmentAfter returns the segment following a nested marker, as in
// filesets/<id>/files/<fileId>.
func secondSegmentAfter(u *url.URL, token, inner string) string {
	segs := pathSegments(u)
	tok := strings.Split(token, "/")
	for i := 0; i+len(tok) < len(segs)+1; i++ {
		if !equalSegs(segs[i:i+len(tok)], tok) {
			continue
		}
		// <token>/<id>/<inner>/<innerId>
		if i+len(tok)+2 < len(segs) && segs[i+len(tok)+1] == inner {
			return segs[i+len(tok)+2]
		}
		return ""
	}
	return ""
}

func pathSegments(u *url.URL) []string {
	raw := strings.Split(strings.Trim(u.Path, "/"), "/")
	segs := raw[:0]
	for _, s := range raw {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func equalSegs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// drillID extracts the drill path identifier from a dr:<drill>:<card>
// breadcrumb, or "" when the breadcrumb has another shape.
func drillID(p DOMProbe) string {
	parts := strings.Split(p.Breadcrumb, ":")
	if len(parts) != 3 || parts[0] != "dr" {
		return ""
	}
	if parts[1] == "" || parts[2] == "" {
		return ""
	}
	return parts[1]
}
