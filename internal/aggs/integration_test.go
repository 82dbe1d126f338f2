package aggs_test

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlens-io/devlens/internal/aggs"
	"github.com/devlens-io/devlens/internal/filters"
	"github.com/devlens-io/devlens/internal/model"
	"github.com/devlens-io/devlens/internal/querybuilder"
	"github.com/devlens-io/devlens/internal/registry"
	"github.com/devlens-io/devlens/internal/storage"
	"github.com/devlens-io/devlens/internal/testutil"
)

// testDB is the shared container-backed database; nil in -short mode.
var testDB *storage.DB

const testTenant = "tenant_a"

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	tc := testutil.MustStartPostgres()

	ctx := context.Background()
	db, err := tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	if err := testutil.ProvisionTenant(ctx, db, testTenant); err != nil {
		fmt.Fprintf(os.Stderr, "failed to provision tenant: %v\n", err)
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	db.Close()
	tc.Terminate()
	os.Exit(code)
}

func integrationService(t *testing.T) *aggs.Service {
	t.Helper()
	if testDB == nil {
		t.Skip("integration test requires a database container")
	}
	reg := registry.Static(
		registry.FieldDef{Key: "team", DisplayName: "Team"},
		registry.FieldDef{Key: "squads", Delimiter: ","},
	)
	return aggs.New(testDB.Pool(), reg, testutil.TestLogger())
}

type issueRow struct {
	key        string
	status     string
	statusCat  string
	priority   string
	assigneeID *string
	assignee   *string
	labels     []string
	fixVers    []string
	points     *float64
	summary    string
	team       string
	createdAt  int64
	resolvedAt *int64
}

func seedIssues(t *testing.T, rows []issueRow) {
	t.Helper()
	ctx := context.Background()
	_, err := testDB.Pool().Exec(ctx, `DELETE FROM "tenant_a".issues`)
	require.NoError(t, err)
	_, err = testDB.Pool().Exec(ctx, `DELETE FROM "tenant_a".issue_statuses`)
	require.NoError(t, err)

	for _, r := range rows {
		if r.labels == nil {
			r.labels = []string{}
		}
		if r.fixVers == nil {
			r.fixVers = []string{}
		}
		custom := "{}"
		if r.team != "" {
			custom = fmt.Sprintf(`{"team": %q}`, r.team)
		}
		_, err := testDB.Pool().Exec(ctx, `
			INSERT INTO "tenant_a".issues
				(id, key, integration_id, ingested_at, project, issue_type, status,
				 status_category, priority, assignee_id, assignee, labels, fix_versions,
				 story_points, summary, custom_fields, issue_created_at,
				 issue_updated_at, issue_resolved_at)
			VALUES ($1, $2, 1, 1000, 'CORE', 'Task', $3, $4, $5, $6, $7, $8, $9,
				$10, $11, $12::jsonb, $13, $13, $14)`,
			uuid.New(), r.key, r.status, r.statusCat, r.priority,
			r.assigneeID, r.assignee, r.labels, r.fixVers,
			r.points, r.summary, custom, r.createdAt, r.resolvedAt,
		)
		require.NoError(t, err)
	}
}

func strp(s string) *string   { return &s }
func f64p(v float64) *float64 { return &v }
func int64p(v int64) *int64   { return &v }

func defaultIssues() []issueRow {
	return []issueRow{
		{key: "CORE-1", status: "Open", statusCat: "TODO", priority: "High",
			assigneeID: strp("11111111-1111-1111-1111-111111111111"), assignee: strp("Ada"),
			labels: []string{"backend"}, points: f64p(3), summary: "login timeout", team: "core",
			createdAt: 100},
		{key: "CORE-2", status: "Open", statusCat: "TODO", priority: "Low",
			assigneeID: strp("11111111-1111-1111-1111-111111111111"), assignee: strp("Ada"),
			labels: []string{"backend", "auth"}, points: f64p(5), summary: "login button misaligned", team: "core",
			createdAt: 100},
		{key: "CORE-3", status: "In Progress", statusCat: "IN_PROGRESS", priority: "High",
			assigneeID: strp("22222222-2222-2222-2222-222222222222"), assignee: strp("Grace"),
			labels: []string{"frontend"}, points: f64p(2), summary: "search timeout on big queries", team: "web",
			createdAt: 100},
		{key: "CORE-4", status: "Done", statusCat: "DONE", priority: "Low",
			labels: []string{}, fixVers: []string{}, points: f64p(8), summary: "cleanup", team: "web",
			createdAt: 100, resolvedAt: int64p(700)},
		{key: "CORE-5", status: "Done", statusCat: "DONE", priority: "High",
			assigneeID: strp("22222222-2222-2222-2222-222222222222"), assignee: strp("Grace"),
			labels: []string{"backend"}, points: f64p(1), summary: "flaky test", team: "core",
			createdAt: 200, resolvedAt: int64p(500)},
	}
}

func buildIssueFilter(t *testing.T, mutate func(b *filters.Builder) *filters.Builder) filters.Filter {
	t.Helper()
	b := filters.NewIssueFilter(testTenant).Integrations("1")
	if mutate != nil {
		b = mutate(b)
	}
	f, err := b.Build()
	require.NoError(t, err)
	return f
}

func TestIntegrationCountAcrossStatus(t *testing.T) {
	svc := integrationService(t)
	seedIssues(t, defaultIssues())

	f := buildIssueFilter(t, func(b *filters.Builder) *filters.Builder {
		return b.Across(filters.FieldStatus)
	})
	page, err := svc.Aggregate(context.Background(), f)
	require.NoError(t, err)

	byKey := map[string]int64{}
	for _, r := range page.Records {
		byKey[r.Key] = r.Count
	}
	assert.Equal(t, int64(2), byKey["Open"])
	assert.Equal(t, int64(1), byKey["In Progress"])
	assert.Equal(t, int64(2), byKey["Done"])
	assert.Equal(t, int64(3), page.TotalCount)
}

func TestIntegrationPaginationWindows(t *testing.T) {
	svc := integrationService(t)
	seedIssues(t, defaultIssues())

	full := buildIssueFilter(t, func(b *filters.Builder) *filters.Builder {
		return b.Across(filters.FieldPriority).SortBy(filters.FieldPriority, filters.Ascending)
	})
	all, err := svc.Aggregate(context.Background(), full)
	require.NoError(t, err)

	// Walking the same ordering one bucket at a time must reproduce the full
	// result, and every window reports the same total.
	var walked []model.AggregationResult
	for skip := 0; skip < int(all.TotalCount); skip++ {
		f := buildIssueFilter(t, func(b *filters.Builder) *filters.Builder {
			return b.Across(filters.FieldPriority).
				SortBy(filters.FieldPriority, filters.Ascending).
				Page(skip, 1)
		})
		page, err := svc.Aggregate(context.Background(), f)
		require.NoError(t, err)
		require.Len(t, page.Records, 1)
		assert.Equal(t, all.TotalCount, page.TotalCount)
		walked = append(walked, page.Records[0])
	}
	assert.Equal(t, all.Records, walked)
}

func TestIntegrationIncludePlusExcludeSameValueMatchesNothing(t *testing.T) {
	svc := integrationService(t)
	seedIssues(t, defaultIssues())

	f := buildIssueFilter(t, func(b *filters.Builder) *filters.Builder {
		return b.Include(filters.FieldStatus, "Open").
			Exclude(filters.FieldStatus, "Open")
	})
	page, err := svc.Aggregate(context.Background(), f)
	require.NoError(t, err)

	// The single synthetic bucket exists but counts zero rows.
	require.Len(t, page.Records, 1)
	assert.Zero(t, page.Records[0].Count)
}

func TestIntegrationPartialMatchOperatorsConjoin(t *testing.T) {
	svc := integrationService(t)
	seedIssues(t, defaultIssues())

	f := buildIssueFilter(t, func(b *filters.Builder) *filters.Builder {
		return b.PartialMatch(filters.FieldSummary, filters.Match{
			Begins: "login", Contains: "timeout",
		})
	})
	page, err := svc.Aggregate(context.Background(), f)
	require.NoError(t, err)

	require.Len(t, page.Records, 1)
	assert.Equal(t, int64(1), page.Records[0].Count)
}

func TestIntegrationUserDimensionReportsDisplayName(t *testing.T) {
	svc := integrationService(t)
	seedIssues(t, defaultIssues())

	f := buildIssueFilter(t, func(b *filters.Builder) *filters.Builder {
		return b.Across(filters.FieldAssignee)
	})
	page, err := svc.Aggregate(context.Background(), f)
	require.NoError(t, err)

	names := map[string]string{}
	for _, r := range page.Records {
		if r.AdditionalKey != nil {
			names[r.Key] = *r.AdditionalKey
		}
	}
	assert.Equal(t, "Ada", names["11111111-1111-1111-1111-111111111111"])
	assert.Equal(t, "Grace", names["22222222-2222-2222-2222-222222222222"])
}

func TestIntegrationStackingSumsToParent(t *testing.T) {
	svc := integrationService(t)
	seedIssues(t, defaultIssues())

	f := buildIssueFilter(t, func(b *filters.Builder) *filters.Builder {
		return b.Across(filters.FieldStatus).Stacks(filters.FieldPriority)
	})
	page, err := svc.Aggregate(context.Background(), f)
	require.NoError(t, err)

	for _, parent := range page.Records {
		var sum int64
		for _, child := range parent.Stacks {
			sum += child.Count
		}
		assert.Equal(t, parent.Count, sum, "stacks of %q must partition the parent", parent.Key)
	}
}

func TestIntegrationCustomFieldFilterAndDimension(t *testing.T) {
	svc := integrationService(t)
	seedIssues(t, defaultIssues())

	f := buildIssueFilter(t, func(b *filters.Builder) *filters.Builder {
		return b.AcrossCustomField("team")
	})
	page, err := svc.Aggregate(context.Background(), f)
	require.NoError(t, err)

	byKey := map[string]int64{}
	for _, r := range page.Records {
		byKey[r.Key] = r.Count
	}
	assert.Equal(t, int64(3), byKey["core"])
	assert.Equal(t, int64(2), byKey["web"])
}

func TestIntegrationResolutionTimePercentiles(t *testing.T) {
	svc := integrationService(t)
	seedIssues(t, defaultIssues())

	f := buildIssueFilter(t, func(b *filters.Builder) *filters.Builder {
		return b.Calculation(filters.CalcResolutionTime).
			Include(filters.FieldStatus, "Done")
	})
	page, err := svc.Aggregate(context.Background(), f)
	require.NoError(t, err)

	require.Len(t, page.Records, 1)
	r := page.Records[0]
	// CORE-4 resolves in 600s, CORE-5 in 300s.
	assert.Equal(t, 300.0, *r.Min)
	assert.Equal(t, 600.0, *r.Max)
	assert.Equal(t, 450.0, *r.Mean)
	assert.Equal(t, int64(2), r.Count)
}

func TestIntegrationVelocityStageTimes(t *testing.T) {
	svc := integrationService(t)
	seedIssues(t, []issueRow{
		{key: "CORE-10", status: "Done", statusCat: "DONE", priority: "High",
			labels: []string{}, fixVers: []string{"1.0"}, createdAt: 0, resolvedAt: int64p(900)},
	})

	ctx := context.Background()
	_, err := testDB.Pool().Exec(ctx, `DELETE FROM "tenant_a".issue_versions`)
	require.NoError(t, err)
	_, err = testDB.Pool().Exec(ctx, `
		INSERT INTO "tenant_a".issue_versions (name, integration_id, released, end_date)
		VALUES ('1.0', 1, TRUE, 2000)`)
	require.NoError(t, err)
	intervals := [][]any{
		// 100s in To Do (unmatched -> Other), 500s in In Progress, 300s in
		// review, then terminal residence that must not be reported.
		{"CORE-10", "To Do", int64(0), int64(100)},
		{"CORE-10", "In Progress", int64(100), int64(600)},
		{"CORE-10", "In Review", int64(600), int64(900)},
		{"CORE-10", "Done", int64(900), nil},
	}
	for _, iv := range intervals {
		_, err := testDB.Pool().Exec(ctx, `
			INSERT INTO "tenant_a".issue_statuses
				(issue_key, integration_id, status, start_time, end_time)
			VALUES ($1, 1, $2, $3, $4)`, iv...)
		require.NoError(t, err)
	}

	cfg := model.VelocityConfig{Stages: []model.Stage{
		{Name: "Development", Order: 1, Event: model.StageEvent{
			Type: model.StageEventStatus, Values: []string{"In Progress"},
		}},
		{Name: "Review", Order: 2, Event: model.StageEvent{
			Type: model.StageEventStatus, Values: []string{"In Review"},
		}},
	}}

	f := buildIssueFilter(t, func(b *filters.Builder) *filters.Builder {
		return b.Calculation(filters.CalcVelocityStageTimes)
	})
	page, err := svc.VelocityStageTimes(context.Background(), f, cfg)
	require.NoError(t, err)

	byStage := map[string]float64{}
	for _, r := range page.Records {
		byStage[r.Key] = *r.Sum
	}
	assert.Equal(t, 500.0, byStage["Development"])
	assert.Equal(t, 300.0, byStage["Review"])
	assert.Equal(t, 100.0, byStage[querybuilder.StageOther])
	_, terminal := byStage[querybuilder.StageIgnoreTerminal]
	assert.False(t, terminal)

	// With a RELEASE stage configured, release time runs from the last
	// non-terminal stage start (In Review at 600) to the released version end
	// date (2000), not from the resolution timestamp.
	cfg.Stages = append(cfg.Stages, model.Stage{
		Name: "RELEASE", Order: 3,
		Event: model.StageEvent{Type: model.StageEventRelease},
	})
	page, err = svc.VelocityStageTimes(context.Background(), f, cfg)
	require.NoError(t, err)

	byStage = map[string]float64{}
	for _, r := range page.Records {
		byStage[r.Key] = *r.Sum
	}
	assert.Equal(t, 1400.0, byStage["RELEASE"])
	assert.Equal(t, 500.0, byStage["Development"])
}

func TestIntegrationDeliveryMetrics(t *testing.T) {
	svc := integrationService(t)
	ctx := context.Background()
	_, err := testDB.Pool().Exec(ctx, `DELETE FROM "tenant_a".pull_requests`)
	require.NoError(t, err)

	prs := [][]any{
		// Two merged release PRs (1h and 3h lead time), one still open.
		{uuid.New(), "release/1.2", int64(0), int64p(3600)},
		{uuid.New(), "release/1.3", int64(0), int64p(10800)},
		{uuid.New(), "release/1.4", int64(0), nil},
		// A feature PR the profile must ignore.
		{uuid.New(), "main", int64(0), int64p(50)},
	}
	for _, pr := range prs {
		_, err := testDB.Pool().Exec(ctx, `
			INSERT INTO "tenant_a".pull_requests
				(id, integration_id, ingested_at, repo, state, source_branch,
				 target_branch, labels, pr_created_at, pr_updated_at, pr_merged_at)
			VALUES ($1, 1, 1000, 'core', 'open', 'feature/x', $2, '{}', $3, $3, $4)`,
			pr...)
		require.NoError(t, err)
	}

	f, err := filters.NewPullRequestFilter(testTenant).
		Integrations("1").
		Calculation(filters.CalcLeadTimeForChanges).
		Build()
	require.NoError(t, err)

	page, err := svc.DeliveryMetrics(context.Background(), f, querybuilder.DoraProfile{
		ReleasePatterns: []string{"release/*"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, page.Count)
	r := page.Records[0]

	// The unmerged release PR counts but does not drag the average.
	assert.Equal(t, int64(3), r.Count)
	require.NotNil(t, r.LeadTime)
	assert.Equal(t, 7200.0, *r.LeadTime)
	require.NotNil(t, r.Band)
	assert.Equal(t, "ELITE", *r.Band)

	// Grouped by repo the same rows band per bucket.
	grouped, err := filters.NewPullRequestFilter(testTenant).
		Integrations("1").
		Calculation(filters.CalcLeadTimeForChanges).
		Across(filters.FieldRepo).
		Build()
	require.NoError(t, err)

	gpage, err := svc.DeliveryMetrics(context.Background(), grouped, querybuilder.DoraProfile{
		ReleasePatterns: []string{"release/*"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, gpage.Count)
	assert.Equal(t, int64(1), gpage.TotalCount)
	assert.Equal(t, "core", gpage.Records[0].Key)
	assert.Equal(t, int64(3), gpage.Records[0].Count)
	assert.Equal(t, "ELITE", *gpage.Records[0].Band)
}
