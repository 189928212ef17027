package classify

// Kind identifies a category of platform object a tab can be looking at.
type Kind string

const (
	KindPage                 Kind = "page"
	KindCard                 Kind = "card"
	KindDataset              Kind = "dataset"
	KindDataflow             Kind = "dataflow"
	KindUser                 Kind = "user"
	KindGroup                Kind = "group"
	KindRole                 Kind = "role"
	KindWorkflowModel        Kind = "workflow-model"
	KindWorkflowInstance     Kind = "workflow-instance"
	KindCodeEnginePackage    Kind = "code-engine-package"
	KindApp                  Kind = "app"
	KindAppStudioViewUnknown Kind = "app-studio-view-unknown"
	KindDataAppView          Kind = "data-app-view"
	KindFileset              Kind = "fileset"
	KindFilesetFile          Kind = "fileset-file"
	KindAIProject            Kind = "ai-project"
	KindAIModel              Kind = "ai-model"
	KindObjective            Kind = "objective"
	KindKeyResult            Kind = "key-result"
	KindProjectTask          Kind = "project-task"
	KindTaskQueue            Kind = "task-queue"
	KindApproval             Kind = "approval"
	KindPublication          Kind = "publication"
	KindRepository           Kind = "repository"
	KindWorkspace            Kind = "workspace"
	KindDrillView            Kind = "drill-view"
	KindBeastModeFormula     Kind = "beast-mode-formula"
	KindMagnumCollection     Kind = "magnum-collection"
	KindWorksheetView        Kind = "worksheet-view"
	KindJupyterWorkspace     Kind = "jupyter-workspace"
	KindUnknown              Kind = "unknown"
)

// KindSpec describes the static properties of a Kind: how it renders, where
// it lives in the product URL space, and which gateway actions apply to it.
type KindSpec struct {
	Kind        Kind
	Name        string
	URLTemplate string // {instance} and {id} placeholders
	Actions     []string
	NeedsProbe  bool // identifier cannot be finalised without a page probe
}

var kindSpecs = map[Kind]KindSpec{
	KindPage:                 {Kind: KindPage, Name: "Page", URLTemplate: "https://{instance}/page/{id}", Actions: []string{"details", "copy-id", "copy-url", "navigate", "strip-filters"}},
	KindCard:                 {Kind: KindCard, Name: "Card", URLTemplate: "https://{instance}/kpis/details/{id}", Actions: []string{"details", "copy-id", "copy-url", "navigate"}},
	KindDataset:              {Kind: KindDataset, Name: "Dataset", URLTemplate: "https://{instance}/datasources/{id}/details", Actions: []string{"details", "copy-id", "copy-url", "navigate"}},
	KindDataflow:             {Kind: KindDataflow, Name: "Dataflow", URLTemplate: "https://{instance}/datacenter/dataflows/{id}/graph", Actions: []string{"details", "copy-id", "copy-url", "navigate"}},
	KindUser:                 {Kind: KindUser, Name: "Person", URLTemplate: "https://{instance}/people/{id}", Actions: []string{"details", "copy-id", "copy-url", "navigate"}},
	KindGroup:                {Kind: KindGroup, Name: "Group", URLTemplate: "https://{instance}/groups/{id}", Actions: []string{"details", "copy-id", "copy-url", "navigate"}},
	KindRole:                 {Kind: KindRole, Name: "Role", URLTemplate: "https://{instance}/admin/security/roles/{id}", Actions: []string{"copy-id", "copy-url", "navigate"}},
	KindWorkflowModel:        {Kind: KindWorkflowModel, Name: "Workflow Model", URLTemplate: "https://{instance}/workflows/models/{id}", Actions: []string{"details", "copy-id", "copy-url", "navigate"}},
	KindWorkflowInstance:     {Kind: KindWorkflowInstance, Name: "Workflow Instance", URLTemplate: "https://{instance}/workflows/instances/{id}", Actions: []string{"copy-id", "copy-url", "navigate"}},
	KindCodeEnginePackage:    {Kind: KindCodeEnginePackage, Name: "Code Engine Package", URLTemplate: "https://{instance}/codeengine/{id}", Actions: []string{"details", "copy-id", "copy-url", "navigate"}},
	KindApp:                  {Kind: KindApp, Name: "App", URLTemplate: "https://{instance}/apps/{id}", Actions: []string{"details", "copy-id", "copy-url", "navigate"}},
	KindAppStudioViewUnknown: {Kind: KindAppStudioViewUnknown, Name: "App Studio View", URLTemplate: "https://{instance}/app-studio/{id}", Actions: []string{"copy-id", "copy-url"}, NeedsProbe: true},
	KindDataAppView:          {Kind: KindDataAppView, Name: "Data App View", URLTemplate: "https://{instance}/app-studio/{id}", Actions: []string{"details", "copy-id", "copy-url", "navigate"}},
	KindFileset:              {Kind: KindFileset, Name: "Fileset", URLTemplate: "https://{instance}/filesets/{id}", Actions: []string{"details", "copy-id", "copy-url", "navigate"}},
	KindFilesetFile:          {Kind: KindFilesetFile, Name: "Fileset File", URLTemplate: "", Actions: []string{"copy-id"}},
	KindAIProject:            {Kind: KindAIProject, Name: "AI Project", URLTemplate: "https://{instance}/ai/projects/{id}", Actions: []string{"details", "copy-id", "copy-url", "navigate"}},
	KindAIModel:              {Kind: KindAIModel, Name: "AI Model", URLTemplate: "https://{instance}/ai/models/{id}", Actions: []string{"details", "copy-id", "copy-url", "navigate"}},
	KindObjective:            {Kind: KindObjective, Name: "Objective", URLTemplate: "https://{instance}/goals/objectives/{id}", Actions: []string{"copy-id", "copy-url", "navigate"}},
	KindKeyResult:            {Kind: KindKeyResult, Name: "Key Result", URLTemplate: "https://{instance}/goals/keyresults/{id}", Actions: []string{"copy-id", "copy-url", "navigate"}},
	KindProjectTask:          {Kind: KindProjectTask, Name: "Task", URLTemplate: "https://{instance}/tasks/{id}", Actions: []string{"copy-id", "copy-url", "navigate"}},
	KindTaskQueue:            {Kind: KindTaskQueue, Name: "Task Queue", URLTemplate: "https://{instance}/hopper/queues/{id}", Actions: []string{"copy-id", "copy-url", "navigate"}},
	KindApproval:             {Kind: KindApproval, Name: "Approval", URLTemplate: "https://{instance}/approvals/{id}", Actions: []string{"copy-id", "copy-url", "navigate"}},
	KindPublication:          {Kind: KindPublication, Name: "Publication", URLTemplate: "https://{instance}/publications/{id}", Actions: []string{"copy-id", "copy-url", "navigate"}},
	KindRepository:           {Kind: KindRepository, Name: "Repository", URLTemplate: "https://{instance}/repositories/{id}", Actions: []string{"copy-id", "copy-url", "navigate"}},
	KindWorkspace:            {Kind: KindWorkspace, Name: "Workspace", URLTemplate: "https://{instance}/workspaces/{id}", Actions: []string{"copy-id", "copy-url", "navigate"}},
	KindDrillView:            {Kind: KindDrillView, Name: "Drill View", URLTemplate: "", Actions: []string{"copy-id"}},
	KindBeastModeFormula:     {Kind: KindBeastModeFormula, Name: "Beast Mode Formula", URLTemplate: "https://{instance}/beastmode/{id}", Actions: []string{"copy-id", "copy-url", "navigate"}},
	KindMagnumCollection:     {Kind: KindMagnumCollection, Name: "Collection", URLTemplate: "https://{instance}/collections/{id}", Actions: []string{"copy-id", "copy-url", "navigate"}},
	KindWorksheetView:        {Kind: KindWorksheetView, Name: "Worksheet View", URLTemplate: "https://{instance}/worksheets/{id}", Actions: []string{"copy-id", "copy-url", "navigate"}},
	KindJupyterWorkspace:     {Kind: KindJupyterWorkspace, Name: "Jupyter Workspace", URLTemplate: "https://{instance}/jupyter/workspaces/{id}", Actions: []string{"copy-id", "copy-url", "navigate"}},
	KindUnknown:              {Kind: KindUnknown, Name: "Unknown", Actions: nil},
}

// Spec returns the static spec for a kind. Unregistered kinds fall back to
// the unknown spec.
func Spec(k Kind) KindSpec {
	if s, ok := kindSpecs[k]; ok {
		return s
	}
	return kindSpecs[KindUnknown]
}

// AllKinds returns every registered kind. Order is unspecified.
func AllKinds() []Kind {
	out := make([]Kind, 0, len(kindSpecs))
	for k := range kindSpecs {
		out = append(out, k)
	}
	return out
}

// Allows reports whether the kind permits the named gateway action.
func (k Kind) Allows(action string) bool {
	for _, a := range Spec(k).Actions {
		if a == action {
			return true
		}
	}
	return false
}
