package aggs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlens-io/devlens/internal/filters"
	"github.com/devlens-io/devlens/internal/model"
	"github.com/devlens-io/devlens/internal/registry"
)

func TestStackFilterPinsParentKey(t *testing.T) {
	f, err := filters.NewIssueFilter("acme").
		Across(filters.FieldStatus).
		Stacks(filters.FieldPriority).
		SortBy(filters.FieldStatus, filters.Ascending).
		Page(10, 25).
		FilterAcrossValues(false).
		Build()
	require.NoError(t, err)

	sub, err := stackFilter(f, model.AggregationResult{Key: "Open"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Open"}, sub.Include[filters.FieldStatus])
	assert.Equal(t, filters.FieldPriority, sub.Across)
	assert.Nil(t, sub.Stacks)
	assert.Nil(t, sub.Sort)
	assert.Zero(t, sub.Skip)
	// Nested bucket sets are always restricted to the pinned parent.
	assert.True(t, sub.FilterAcrossValues)
}

func TestStackFilterNullKeyBucketPinsOnAbsence(t *testing.T) {
	f, err := filters.NewIssueFilter("acme").
		Across(filters.FieldAssignee).
		Stacks(filters.FieldPriority).
		Build()
	require.NoError(t, err)

	sub, err := stackFilter(f, model.AggregationResult{Key: ""})
	require.NoError(t, err)

	_, included := sub.Include[filters.FieldAssignee]
	assert.False(t, included)
	assert.True(t, sub.Missing[filters.FieldAssignee])
}

func TestStackFilterCustomAcrossPinsCustomField(t *testing.T) {
	f, err := filters.NewIssueFilter("acme").
		AcrossCustomField("team").
		Stacks(filters.FieldPriority).
		Build()
	require.NoError(t, err)

	sub, err := stackFilter(f, model.AggregationResult{Key: "core"})
	require.NoError(t, err)

	assert.Equal(t, []string{"core"}, sub.CustomFields["team"])
	assert.Equal(t, filters.FieldPriority, sub.Across)
	assert.Empty(t, sub.CustomAcross)
}

func TestStackFilterCustomStackBecomesAcross(t *testing.T) {
	f, err := filters.NewIssueFilter("acme").
		Across(filters.FieldStatus).
		CustomStacks("team").
		Build()
	require.NoError(t, err)

	sub, err := stackFilter(f, model.AggregationResult{Key: "Open"})
	require.NoError(t, err)

	assert.Equal(t, filters.DimensionCustomField, sub.Across)
	assert.Equal(t, "team", sub.CustomAcross)
	assert.Nil(t, sub.CustomStacks)
}

func TestAggregateFillsStacks(t *testing.T) {
	q := &fakeQuerier{}
	q.reply(func() (pgx.Rows, error) {
		return newFakeRows(
			[]string{"key", "ct", "total_count"},
			[]any{"Open", int64(5), int64(2)},
			[]any{"Closed", int64(3), int64(2)},
		), nil
	})
	// Two nested queries follow, one per parent bucket. Order is not
	// deterministic so both replies carry the same shape.
	nested := func() (pgx.Rows, error) {
		return newFakeRows(
			[]string{"key", "ct", "total_count"},
			[]any{"High", int64(2), int64(1)},
		), nil
	}
	q.reply(nested)
	q.reply(nested)

	svc := newTestService(q, registry.Static())
	f, err := filters.NewIssueFilter("acme").
		Across(filters.FieldStatus).
		Stacks(filters.FieldPriority).
		Build()
	require.NoError(t, err)

	page, err := svc.Aggregate(context.Background(), f)
	require.NoError(t, err)

	require.Len(t, page.Records, 2)
	for _, r := range page.Records {
		require.Len(t, r.Stacks, 1)
		assert.Equal(t, "High", r.Stacks[0].Key)
	}

	// The nested statements pin the parent key and group by the stack
	// dimension.
	require.Len(t, q.queries, 3)
	nestedSQL := q.queries[1]
	assert.Contains(t, nestedSQL, "priority AS agg_key")
	assert.True(t, strings.Contains(nestedSQL, "status = ANY($"))
}

func TestAggregateStackFailureDiscardsEverything(t *testing.T) {
	q := &fakeQuerier{}
	q.reply(func() (pgx.Rows, error) {
		return newFakeRows(
			[]string{"key", "ct", "total_count"},
			[]any{"Open", int64(5), int64(1)},
		), nil
	})
	q.reply(func() (pgx.Rows, error) { return nil, errors.New("nested boom") })

	svc := newTestService(q, registry.Static())
	f, err := filters.NewIssueFilter("acme").
		Across(filters.FieldStatus).
		Stacks(filters.FieldPriority).
		Build()
	require.NoError(t, err)

	page, err := svc.Aggregate(context.Background(), f)
	require.Error(t, err)
	assert.Empty(t, page.Records)
}
