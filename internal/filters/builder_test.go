package filters

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64 { return &v }

func TestBuildDefaults(t *testing.T) {
	f, err := NewIssueFilter("acme").Build()
	require.NoError(t, err)

	assert.Equal(t, "acme", f.Tenant)
	assert.Equal(t, DimensionNone, f.Across)
	assert.Equal(t, CalcTicketCount, f.Calculation)
	assert.True(t, f.FilterAcrossValues)
	assert.Equal(t, defaultLimit, f.Limit)
	assert.Zero(t, f.Skip)
}

func TestBuildNormalizesIncludeValues(t *testing.T) {
	f, err := NewIssueFilter("acme").
		Include(FieldStatus, "Open", "Closed", "Open").
		Build()
	require.NoError(t, err)

	assert.Equal(t, []string{"Closed", "Open"}, f.Include[FieldStatus])
}

func TestBuildExclusionWinsOverInclusion(t *testing.T) {
	f, err := NewIssueFilter("acme").
		Include(FieldStatus, "Open", "Closed").
		Exclude(FieldStatus, "Open").
		Build()
	require.NoError(t, err)

	assert.Equal(t, []string{"Closed"}, f.Include[FieldStatus])
}

func TestBuildAnnihilatedInclusionStaysExplicit(t *testing.T) {
	// Excluding every included value must leave a match-nothing constraint,
	// not an unconstrained field.
	f, err := NewIssueFilter("acme").
		Include(FieldStatus, "Open").
		Exclude(FieldStatus, "Open").
		Build()
	require.NoError(t, err)

	vals, ok := f.Include[FieldStatus]
	require.True(t, ok)
	assert.NotNil(t, vals)
	assert.Empty(t, vals)
}

func TestBuildEmptyIncludeIsNoOp(t *testing.T) {
	f, err := NewIssueFilter("acme").Include(FieldStatus).Build()
	require.NoError(t, err)

	_, ok := f.Include[FieldStatus]
	assert.False(t, ok)
}

func TestBuildRejectsUnknownAcross(t *testing.T) {
	_, err := NewIssueFilter("acme").Across(Field("flavor")).Build()
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestBuildRejectsUnsupportedCalculation(t *testing.T) {
	_, err := NewTestRunFilter("acme").Calculation(CalcStoryPoints).Build()
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestBuildRejectsCustomAcrossWithoutKey(t *testing.T) {
	_, err := NewIssueFilter("acme").Across(DimensionCustomField).Build()
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestBuildRejectsStackDuplicatingAcross(t *testing.T) {
	_, err := NewIssueFilter("acme").
		Across(FieldAssignee).
		Stacks(FieldAssignee).
		Build()
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestBuildRejectsEmptyRange(t *testing.T) {
	_, err := NewIssueFilter("acme").
		InRange(FieldCreatedAt, Range{From: i64(100), To: i64(100)}).
		Build()
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestBuildRejectsNonNumericIntegrationID(t *testing.T) {
	_, err := NewIssueFilter("acme").Integrations("jira-prod").Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestBuildDedupesIntegrationIDs(t *testing.T) {
	f, err := NewIssueFilter("acme").Integrations("2", "1", "2").Build()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, f.IntegrationIDs)
}

func TestBuildClampsLimit(t *testing.T) {
	f, err := NewIssueFilter("acme").Page(0, maxLimit+500).Build()
	require.NoError(t, err)
	assert.Equal(t, maxLimit, f.Limit)

	f, err = NewIssueFilter("acme").Page(10, 0).Build()
	require.NoError(t, err)
	assert.Equal(t, defaultLimit, f.Limit)
	assert.Equal(t, 10, f.Skip)
}

func TestBuildRejectsNegativePage(t *testing.T) {
	_, err := NewIssueFilter("acme").Page(-1, 10).Build()
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestBuildDropsUnknownMissingFields(t *testing.T) {
	f, err := NewIssueFilter("acme").
		MissingField(Field("flavor"), true).
		MissingField(FieldResolution, true).
		Build()
	require.NoError(t, err)

	_, ok := f.Missing[Field("flavor")]
	assert.False(t, ok)
	assert.True(t, f.Missing[FieldResolution])
}

func TestBuildZeroPartialMatchDropped(t *testing.T) {
	f, err := NewIssueFilter("acme").PartialMatch(FieldSummary, Match{}).Build()
	require.NoError(t, err)
	assert.Nil(t, f.Partial)
}

func TestBuildOrCarriesSubBuilderErrors(t *testing.T) {
	sub := NewIssueFilter("acme").Integrations("not-a-number")
	_, err := NewIssueFilter("acme").Or(sub).Build()
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestBuildOrNormalized(t *testing.T) {
	sub := NewIssueFilter("acme").Include(FieldPriority, "High", "High")
	f, err := NewIssueFilter("acme").
		Include(FieldStatus, "Open").
		Or(sub).
		Build()
	require.NoError(t, err)

	require.NotNil(t, f.Or)
	assert.Equal(t, []string{"High"}, f.Or.Include[FieldPriority])
}

func TestParseIntegrationID(t *testing.T) {
	id, err := ParseIntegrationID("7")
	require.NoError(t, err)
	assert.Equal(t, 7, id)

	_, err = ParseIntegrationID("seven")
	assert.True(t, errors.Is(err, ErrInvalidFilter))
}
