package classify

import "testing"

func TestClassifyURLShapes(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want Detection
	}{
		{"page", "https://acme.acme.example/page/42", Detection{Kind: KindPage, ID: "42"}},
		{"card", "https://acme.acme.example/kpis/details/999", Detection{Kind: KindCard, ID: "999"}},
		{"dataset", "https://acme.acme.example/datasources/ab-12/details", Detection{Kind: KindDataset, ID: "ab-12"}},
		{"dataflow", "https://acme.acme.example/datacenter/dataflows/77/graph", Detection{Kind: KindDataflow, ID: "77"}},
		{"user", "https://acme.acme.example/people/1087", Detection{Kind: KindUser, ID: "1087"}},
		{"group", "https://acme.acme.example/groups/55", Detection{Kind: KindGroup, ID: "55"}},
		{"role", "https://acme.acme.example/admin/security/roles/3", Detection{Kind: KindRole, ID: "3"}},
		{"workflow model", "https://acme.acme.example/workflows/models/m-1", Detection{Kind: KindWorkflowModel, ID: "m-1"}},
		{"workflow instance", "https://acme.acme.example/workflows/instances/i-2", Detection{Kind: KindWorkflowInstance, ID: "i-2"}},
		{"code engine", "https://acme.acme.example/codeengine/pkg9", Detection{Kind: KindCodeEnginePackage, ID: "pkg9"}},
		{"app", "https://acme.acme.example/apps/a1", Detection{Kind: KindApp, ID: "a1"}},
		{"app studio unresolved", "https://acme.acme.example/app-studio/st-5/pages/2", Detection{Kind: KindAppStudioViewUnknown, ID: "st-5"}},
		{"fileset", "https://acme.acme.example/filesets/fs1", Detection{Kind: KindFileset, ID: "fs1"}},
		{"fileset file", "https://acme.acme.example/filesets/fs1/files/f2", Detection{Kind: KindFilesetFile, ID: "f2"}},
		{"ai project", "https://acme.acme.example/ai/projects/p1", Detection{Kind: KindAIProject, ID: "p1"}},
		{"ai model", "https://acme.acme.example/ai/models/m1", Detection{Kind: KindAIModel, ID: "m1"}},
		{"objective", "https://acme.acme.example/goals/objectives/o1", Detection{Kind: KindObjective, ID: "o1"}},
		{"key result", "https://acme.acme.example/goals/keyresults/k1", Detection{Kind: KindKeyResult, ID: "k1"}},
		{"task", "https://acme.acme.example/tasks/t1", Detection{Kind: KindProjectTask, ID: "t1"}},
		{"task queue", "https://acme.acme.example/hopper/queues/q1", Detection{Kind: KindTaskQueue, ID: "q1"}},
		{"approval", "https://acme.acme.example/approvals/ap1", Detection{Kind: KindApproval, ID: "ap1"}},
		{"publication", "https://acme.acme.example/publications/pub1", Detection{Kind: KindPublication, ID: "pub1"}},
		{"repository", "https://acme.acme.example/repositories/r1", Detection{Kind: KindRepository, ID: "r1"}},
		{"workspace", "https://acme.acme.example/workspaces/w1", Detection{Kind: KindWorkspace, ID: "w1"}},
		{"jupyter workspace", "https://acme.acme.example/jupyter/workspaces/j1", Detection{Kind: KindJupyterWorkspace, ID: "j1"}},
		{"beast mode", "https://acme.acme.example/beastmode/bm1", Detection{Kind: KindBeastModeFormula, ID: "bm1"}},
		{"collection", "https://acme.acme.example/collections/c1", Detection{Kind: KindMagnumCollection, ID: "c1"}},
		{"worksheet", "https://acme.acme.example/worksheets/ws1", Detection{Kind: KindWorksheetView, ID: "ws1"}},
		{"drill view query", "https://acme.acme.example/page/42?drillviewid=dv7", Detection{Kind: KindDrillView, ID: "dv7"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.url, DOMProbe{})
			if got == nil {
				t.Fatalf("Classify(%q) = nil, want %+v", tc.url, tc.want)
			}
			if *got != tc.want {
				t.Fatalf("Classify(%q) = %+v, want %+v", tc.url, *got, tc.want)
			}
		})
	}
}

func TestClassifyNoMatch(t *testing.T) {
	cases := []string{
		"https://acme.acme.example/",
		"https://acme.acme.example/datacenter",
		"https://acme.acme.example/people/",
		"https://acme.acme.example/groups",
		"https://acme.acme.example/kpis/details/",
	}
	for _, u := range cases {
		if got := Classify(u, DOMProbe{}); got != nil {
			t.Fatalf("Classify(%q) = %+v, want nil", u, got)
		}
	}
}

func TestClassifyDeterministic(t *testing.T) {
	url := "https://acme.acme.example/kpis/details/999"
	probe := DOMProbe{Breadcrumb: "dr:7:999"}
	a := Classify(url, probe)
	b := Classify(url, probe)
	if a == nil || b == nil || *a != *b {
		t.Fatalf("Classify not deterministic: %+v vs %+v", a, b)
	}
}

func TestOpenModalOverridesURL(t *testing.T) {
	got := Classify("https://acme.acme.example/page/42", DOMProbe{OpenCardID: "999"})
	if got == nil || got.Kind != KindCard || got.ID != "999" {
		t.Fatalf("Classify with open modal = %+v, want card/999", got)
	}
}

func TestDrillBreadcrumbBeatsCard(t *testing.T) {
	got := Classify("https://acme.acme.example/kpis/details/999", DOMProbe{Breadcrumb: "dr:7:999"})
	if got == nil || got.Kind != KindDrillView || got.ID != "7" {
		t.Fatalf("Classify drill breadcrumb = %+v, want drill-view/7", got)
	}

	// Malformed breadcrumbs fall back to the card rule.
	got = Classify("https://acme.acme.example/kpis/details/999", DOMProbe{Breadcrumb: "crumbs"})
	if got == nil || got.Kind != KindCard || got.ID != "999" {
		t.Fatalf("Classify malformed breadcrumb = %+v, want card/999", got)
	}
}

func TestFilesetFileBeatsFileset(t *testing.T) {
	got := Classify("https://acme.acme.example/filesets/fs1/files/f2/preview", DOMProbe{})
	if got == nil || got.Kind != KindFilesetFile || got.ID != "f2" {
		t.Fatalf("Classify nested fileset file = %+v, want fileset-file/f2", got)
	}
}

func TestJupyterBeatsWorkspace(t *testing.T) {
	got := Classify("https://acme.acme.example/jupyter/workspaces/j1", DOMProbe{})
	if got == nil || got.Kind != KindJupyterWorkspace {
		t.Fatalf("Classify jupyter workspace = %+v, want jupyter-workspace", got)
	}
}

func TestKindAllows(t *testing.T) {
	if !KindPage.Allows("strip-filters") {
		t.Fatal("page should allow strip-filters")
	}
	if KindCard.Allows("strip-filters") {
		t.Fatal("card should not allow strip-filters")
	}
	if KindUnknown.Allows("copy-id") {
		t.Fatal("unknown should allow nothing")
	}
}
