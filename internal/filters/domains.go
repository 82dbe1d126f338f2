package filters

// Field names shared across data families. Per-family recognition is decided
// by the Schema, not by the constant set.
const (
	FieldID             Field = "id"
	FieldKey            Field = "key"
	FieldProject        Field = "project"
	FieldIssueType      Field = "issue_type"
	FieldStatus         Field = "status"
	FieldStatusCategory Field = "status_category"
	FieldPriority       Field = "priority"
	FieldAssignee       Field = "assignee"
	FieldReporter       Field = "reporter"
	FieldEpic           Field = "epic"
	FieldParentKey      Field = "parent_key"
	FieldLabel          Field = "label"
	FieldComponent      Field = "component"
	FieldVersion        Field = "version"
	FieldFixVersion     Field = "fix_version"
	FieldResolution     Field = "resolution"
	FieldStoryPoints    Field = "story_points"
	FieldSummary        Field = "summary"

	FieldStage       Field = "stage"        // status-history status
	FieldSprintID    Field = "sprint_id"    // sprint table
	FieldSprintName  Field = "sprint_name"  // sprint table
	FieldSprintState Field = "sprint_state" // sprint table, upper-cased
	FieldLink        Field = "link"         // linked-entity relation
	FieldVersionName Field = "version_name" // version table

	FieldCreatedAt  Field = "created_at"
	FieldUpdatedAt  Field = "updated_at"
	FieldDueAt      Field = "due_at"
	FieldResolvedAt Field = "resolved_at"
	FieldIngestedAt Field = "ingested_at"
	FieldAge        Field = "age"

	FieldRepo         Field = "repo"
	FieldState        Field = "state"
	FieldSourceBranch Field = "source_branch"
	FieldTargetBranch Field = "target_branch"
	FieldCreator      Field = "creator"
	FieldAuthor       Field = "author"
	FieldBranch       Field = "branch"
	FieldTag          Field = "tag"

	FieldCategory Field = "category"
	FieldSeverity Field = "severity"

	FieldSuite    Field = "suite"
	FieldTestName Field = "test_name"

	FieldJobName           Field = "job_name"
	FieldJobNormalizedName Field = "job_normalized_full_name"
	FieldInstance          Field = "instance_name"
)

// Issues returns the schema for the work-tracking issue family.
func Issues() Schema {
	return Schema{
		Name:          "issues",
		Table:         "issues",
		IDColumn:      "id",
		CreatedColumn: "issue_created_at",
		CustomColumn:  "custom_fields",
		Columns: map[Field]Column{
			FieldID:             {Name: "id", Table: TableEntity},
			FieldKey:            {Name: "key", Table: TableEntity},
			FieldProject:        {Name: "project", Table: TableEntity},
			FieldIssueType:      {Name: "issue_type", Table: TableEntity},
			FieldStatus:         {Name: "status", Table: TableEntity},
			FieldStatusCategory: {Name: "status_category", Table: TableEntity},
			FieldPriority:       {Name: "priority", Table: TableEntity},
			FieldAssignee:       {Name: "assignee", Table: TableEntity, IDName: "assignee_id"},
			FieldReporter:       {Name: "reporter", Table: TableEntity, IDName: "reporter_id"},
			FieldEpic:           {Name: "epic", Table: TableEntity},
			FieldParentKey:      {Name: "parent_key", Table: TableEntity},
			FieldLabel:          {Name: "labels", Table: TableEntity, Array: true},
			FieldComponent:      {Name: "components", Table: TableEntity, Array: true},
			FieldVersion:        {Name: "versions", Table: TableEntity, Array: true},
			FieldFixVersion:     {Name: "fix_versions", Table: TableEntity, Array: true},
			FieldResolution:     {Name: "resolution", Table: TableEntity},
			FieldStoryPoints:    {Name: "story_points", Table: TableEntity, Numeric: true},
			FieldSummary:        {Name: "summary", Table: TableEntity},
			FieldCreatedAt:      {Name: "issue_created_at", Table: TableEntity, Numeric: true, Time: true},
			FieldUpdatedAt:      {Name: "issue_updated_at", Table: TableEntity, Numeric: true, Time: true},
			FieldDueAt:          {Name: "issue_due_at", Table: TableEntity, Numeric: true, Time: true},
			FieldResolvedAt:     {Name: "issue_resolved_at", Table: TableEntity, Numeric: true, Time: true},
			FieldIngestedAt:     {Name: "ingested_at", Table: TableEntity, Numeric: true, Time: true},
			FieldAge:            {Name: "age", Table: TableEntity, Numeric: true},

			FieldStage:       {Name: "status", Table: TableStatuses, Upper: true},
			FieldSprintID:    {Name: "sprint_id", Table: TableSprints, Numeric: true},
			FieldSprintName:  {Name: "name", Table: TableSprints},
			FieldSprintState: {Name: "state", Table: TableSprints, Upper: true},
			FieldLink:        {Name: "relation", Table: TableLinks},
			FieldVersionName: {Name: "name", Table: TableVersions},
		},
		Dimensions: map[Field]bool{
			FieldProject: true, FieldIssueType: true, FieldStatus: true,
			FieldStatusCategory: true, FieldPriority: true, FieldAssignee: true,
			FieldReporter: true, FieldEpic: true, FieldParentKey: true,
			FieldLabel: true, FieldComponent: true, FieldVersion: true,
			FieldFixVersion: true, FieldResolution: true,
		},
		Calculations: map[CalcKind]bool{
			CalcTicketCount: true, CalcResolutionTime: true, CalcResponseTime: true,
			CalcBounces: true, CalcHops: true, CalcAge: true, CalcStoryPoints: true,
			CalcVelocityStageTimes: true,
		},
	}
}

// PullRequests returns the schema for the source-control PR family.
func PullRequests() Schema {
	return Schema{
		Name:          "pull_requests",
		Table:         "pull_requests",
		IDColumn:      "id",
		CreatedColumn: "pr_created_at",
		CustomColumn:  "",
		Columns: map[Field]Column{
			FieldID:           {Name: "id", Table: TableEntity},
			FieldRepo:         {Name: "repo", Table: TableEntity},
			FieldProject:      {Name: "project", Table: TableEntity},
			FieldState:        {Name: "state", Table: TableEntity},
			FieldSourceBranch: {Name: "source_branch", Table: TableEntity},
			FieldTargetBranch: {Name: "target_branch", Table: TableEntity},
			FieldCreator:      {Name: "creator", Table: TableEntity, IDName: "creator_id"},
			FieldLabel:        {Name: "labels", Table: TableEntity, Array: true},
			FieldCreatedAt:    {Name: "pr_created_at", Table: TableEntity, Numeric: true, Time: true},
			FieldResolvedAt:   {Name: "pr_merged_at", Table: TableEntity, Numeric: true, Time: true},
			FieldUpdatedAt:    {Name: "pr_updated_at", Table: TableEntity, Numeric: true, Time: true},
			FieldIngestedAt:   {Name: "ingested_at", Table: TableEntity, Numeric: true, Time: true},
		},
		Dimensions: map[Field]bool{
			FieldRepo: true, FieldProject: true, FieldState: true,
			FieldSourceBranch: true, FieldTargetBranch: true,
			FieldCreator: true, FieldLabel: true,
		},
		Calculations: map[CalcKind]bool{
			CalcTicketCount: true, CalcResolutionTime: true,
			CalcLeadTimeForChanges: true, CalcMeanTimeToRecover: true,
		},
	}
}

// Defects returns the schema for the static-analysis defect family.
func Defects() Schema {
	return Schema{
		Name:          "defects",
		Table:         "defects",
		IDColumn:      "id",
		CreatedColumn: "first_detected_at",
		CustomColumn:  "",
		Columns: map[Field]Column{
			FieldID:         {Name: "id", Table: TableEntity},
			FieldProject:    {Name: "project", Table: TableEntity},
			FieldCategory:   {Name: "category", Table: TableEntity},
			FieldSeverity:   {Name: "severity", Table: TableEntity},
			FieldStatus:     {Name: "status", Table: TableEntity},
			FieldComponent:  {Name: "component", Table: TableEntity},
			FieldCreatedAt:  {Name: "first_detected_at", Table: TableEntity, Numeric: true, Time: true},
			FieldUpdatedAt:  {Name: "last_detected_at", Table: TableEntity, Numeric: true, Time: true},
			FieldResolvedAt: {Name: "resolved_at", Table: TableEntity, Numeric: true, Time: true},
			FieldIngestedAt: {Name: "ingested_at", Table: TableEntity, Numeric: true, Time: true},
		},
		Dimensions: map[Field]bool{
			FieldProject: true, FieldCategory: true, FieldSeverity: true,
			FieldStatus: true, FieldComponent: true,
		},
		Calculations: map[CalcKind]bool{
			CalcTicketCount: true, CalcResolutionTime: true,
		},
	}
}

// TestRuns returns the schema for the QA test-run family.
func TestRuns() Schema {
	return Schema{
		Name:          "test_runs",
		Table:         "test_runs",
		IDColumn:      "id",
		CreatedColumn: "executed_at",
		CustomColumn:  "",
		Columns: map[Field]Column{
			FieldID:         {Name: "id", Table: TableEntity},
			FieldProject:    {Name: "project", Table: TableEntity},
			FieldSuite:      {Name: "suite", Table: TableEntity},
			FieldTestName:   {Name: "test_name", Table: TableEntity},
			FieldStatus:     {Name: "status", Table: TableEntity},
			FieldCreatedAt:  {Name: "executed_at", Table: TableEntity, Numeric: true, Time: true},
			FieldIngestedAt: {Name: "ingested_at", Table: TableEntity, Numeric: true, Time: true},
		},
		Dimensions: map[Field]bool{
			FieldProject: true, FieldSuite: true, FieldTestName: true, FieldStatus: true,
		},
		Calculations: map[CalcKind]bool{
			CalcTicketCount: true,
		},
	}
}

// PipelineRuns returns the schema for the CI/CD job-instance family.
func PipelineRuns() Schema {
	return Schema{
		Name:          "pipeline_runs",
		Table:         "pipeline_runs",
		IDColumn:      "id",
		CreatedColumn: "started_at",
		CustomColumn:  "",
		Columns: map[Field]Column{
			FieldID:                {Name: "id", Table: TableEntity},
			FieldJobName:           {Name: "job_name", Table: TableEntity},
			FieldJobNormalizedName: {Name: "job_normalized_full_name", Table: TableEntity},
			FieldInstance:          {Name: "instance_name", Table: TableEntity},
			FieldStatus:            {Name: "status", Table: TableEntity},
			FieldBranch:            {Name: "branch", Table: TableEntity},
			FieldTag:               {Name: "tags", Table: TableEntity, Array: true},
			FieldCreatedAt:         {Name: "started_at", Table: TableEntity, Numeric: true, Time: true},
			FieldResolvedAt:        {Name: "finished_at", Table: TableEntity, Numeric: true, Time: true},
			FieldIngestedAt:        {Name: "ingested_at", Table: TableEntity, Numeric: true, Time: true},
		},
		Dimensions: map[Field]bool{
			FieldJobName: true, FieldJobNormalizedName: true,
			FieldInstance: true, FieldStatus: true, FieldBranch: true,
		},
		Calculations: map[CalcKind]bool{
			CalcTicketCount: true, CalcResolutionTime: true,
			CalcLeadTimeForChanges: true, CalcMeanTimeToRecover: true,
		},
	}
}

// WorkItems returns the schema for the generic work-item family. It mirrors
// Issues with a reduced dimension set and is used by integrations that do not
// map cleanly onto the issue model.
func WorkItems() Schema {
	s := Issues()
	s.Name = "work_items"
	s.Table = "work_items"
	delete(s.Dimensions, FieldEpic)
	delete(s.Dimensions, FieldParentKey)
	s.Calculations = map[CalcKind]bool{
		CalcTicketCount: true, CalcResolutionTime: true, CalcResponseTime: true,
		CalcAge: true, CalcStoryPoints: true, CalcVelocityStageTimes: true,
	}
	return s
}
