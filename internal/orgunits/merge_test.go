package orgunits

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlens-io/devlens/internal/filters"
)

func unitWith(sections ...Section) Config {
	return Config{ID: uuid.New(), Name: "Platform", Sections: sections}
}

func TestMergeAdoptsInclusionWhenUnconstrained(t *testing.T) {
	f, err := filters.NewIssueFilter("acme").Build()
	require.NoError(t, err)

	merged, err := Merge(f, unitWith(Section{
		IntegrationID: 1,
		Inclusions:    map[filters.Field][]string{filters.FieldProject: {"CORE", "API"}},
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"API", "CORE"}, merged.Include[filters.FieldProject])
}

func TestMergeIntersectsInclusion(t *testing.T) {
	f, err := filters.NewIssueFilter("acme").
		Include(filters.FieldProject, "CORE", "WEB").
		Build()
	require.NoError(t, err)

	merged, err := Merge(f, unitWith(Section{
		IntegrationID: 1,
		Inclusions:    map[filters.Field][]string{filters.FieldProject: {"CORE", "API"}},
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"CORE"}, merged.Include[filters.FieldProject])
}

func TestMergeDisjointInclusionAnnihilates(t *testing.T) {
	f, err := filters.NewIssueFilter("acme").
		Include(filters.FieldProject, "WEB").
		Build()
	require.NoError(t, err)

	merged, err := Merge(f, unitWith(Section{
		IntegrationID: 1,
		Inclusions:    map[filters.Field][]string{filters.FieldProject: {"CORE"}},
	}))
	require.NoError(t, err)

	// The request asked for projects outside the org unit's slice: the result
	// must match nothing, not fall back to the unit's own scope.
	vals, ok := merged.Include[filters.FieldProject]
	require.True(t, ok)
	assert.NotNil(t, vals)
	assert.Empty(t, vals)
}

func TestMergeSkipsSectionsOutsideIntegrationScope(t *testing.T) {
	f, err := filters.NewIssueFilter("acme").
		Integrations("1").
		Build()
	require.NoError(t, err)

	merged, err := Merge(f, unitWith(
		Section{
			IntegrationID: 1,
			Inclusions:    map[filters.Field][]string{filters.FieldProject: {"CORE"}},
		},
		Section{
			IntegrationID: 2,
			Inclusions:    map[filters.Field][]string{filters.FieldProject: {"OTHER"}},
		},
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"CORE"}, merged.Include[filters.FieldProject])
}

func TestMergeUnscopedFilterCoversAllSections(t *testing.T) {
	f, err := filters.NewIssueFilter("acme").Build()
	require.NoError(t, err)

	merged, err := Merge(f, unitWith(
		Section{
			IntegrationID: 1,
			Inclusions:    map[filters.Field][]string{filters.FieldProject: {"CORE"}},
		},
		Section{
			IntegrationID: 2,
			Inclusions:    map[filters.Field][]string{filters.FieldProject: {"CORE", "API"}},
		},
	))
	require.NoError(t, err)

	// Both sections intersect in; only the common project remains.
	assert.Equal(t, []string{"CORE"}, merged.Include[filters.FieldProject])
}

func TestMergeExclusionsRemoveFieldFromMerge(t *testing.T) {
	f, err := filters.NewIssueFilter("acme").Build()
	require.NoError(t, err)

	cfg := unitWith(Section{
		IntegrationID: 1,
		Inclusions: map[filters.Field][]string{
			filters.FieldProject:  {"CORE"},
			filters.FieldPriority: {"High"},
		},
	})
	cfg.Exclusions = []filters.Field{filters.FieldPriority}

	merged, err := Merge(f, cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"CORE"}, merged.Include[filters.FieldProject])
	_, ok := merged.Include[filters.FieldPriority]
	assert.False(t, ok)
}

func TestMergePartialFillsOnlyUnsetOperators(t *testing.T) {
	f, err := filters.NewIssueFilter("acme").
		PartialMatch(filters.FieldSummary, filters.Match{Begins: "user:"}).
		Build()
	require.NoError(t, err)

	merged, err := Merge(f, unitWith(Section{
		IntegrationID: 1,
		Partial: map[filters.Field]filters.Match{
			filters.FieldSummary: {Begins: "unit:", Contains: "payments"},
		},
	}))
	require.NoError(t, err)

	m := merged.Partial[filters.FieldSummary]
	assert.Equal(t, "user:", m.Begins)
	assert.Equal(t, "payments", m.Contains)
}

func TestMergeUsersIntersectAssignee(t *testing.T) {
	f, err := filters.NewIssueFilter("acme").
		Include(filters.FieldAssignee, "u-1", "u-2").
		Build()
	require.NoError(t, err)

	merged, err := Merge(f, unitWith(Section{
		IntegrationID: 1,
		Users:         []string{"u-2", "u-3"},
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"u-2"}, merged.Include[filters.FieldAssignee])
}

func TestMergeIsIdempotent(t *testing.T) {
	f, err := filters.NewIssueFilter("acme").
		Include(filters.FieldProject, "CORE", "WEB").
		PartialMatch(filters.FieldSummary, filters.Match{Begins: "user:"}).
		Build()
	require.NoError(t, err)

	cfg := unitWith(Section{
		IntegrationID: 1,
		Inclusions:    map[filters.Field][]string{filters.FieldProject: {"CORE"}},
		Partial: map[filters.Field]filters.Match{
			filters.FieldSummary: {Contains: "payments"},
		},
		Users: []string{"u-1"},
	})

	once, err := Merge(f, cfg)
	require.NoError(t, err)
	twice, err := Merge(once, cfg)
	require.NoError(t, err)

	assert.Equal(t, once.Criteria, twice.Criteria)
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	f, err := filters.NewIssueFilter("acme").
		Include(filters.FieldProject, "CORE", "WEB").
		Build()
	require.NoError(t, err)

	_, err = Merge(f, unitWith(Section{
		IntegrationID: 1,
		Inclusions:    map[filters.Field][]string{filters.FieldProject: {"CORE"}},
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"CORE", "WEB"}, f.Include[filters.FieldProject])
}
