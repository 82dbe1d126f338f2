// Package filters defines the immutable filter value objects consumed by the
// aggregation query compiler. A Filter is constructed through a Builder,
// validated and normalized at construction, and never mutated afterwards.
//
// Each data family (issues, pull requests, defects, test runs, CI/CD
// pipeline runs, generic work items) shares the same filter shape; the
// domain variation lives entirely in the Schema attached at build time.
package filters

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidFilter marks request errors: unknown enum values, incompatible
// across/stacks combinations, malformed ranges. Callers match with errors.Is.
var ErrInvalidFilter = errors.New("filters: invalid filter")

// Field names a filterable or groupable attribute of a data family.
type Field string

// DimensionNone selects no grouping: every calculation returns a single
// synthetic bucket. DimensionCustomField groups by a per-tenant custom field
// named by Criteria.CustomAcross.
const (
	DimensionNone        Field = "none"
	DimensionCustomField Field = "custom_field"
)

// SortOrder is an ORDER BY direction.
type SortOrder string

const (
	Ascending  SortOrder = "ASC"
	Descending SortOrder = "DESC"
)

// SortKey is one entry of an ordered sort specification.
type SortKey struct {
	Field Field
	Order SortOrder
}

// Match holds partial-match operators for a text field. All supplied operators on
// the same field combine with AND.
type Match struct {
	Begins   string `json:"$begins,omitempty"`
	Ends     string `json:"$ends,omitempty"`
	Contains string `json:"$contains,omitempty"`
}

// IsZero reports whether no operator is set.
func (m Match) IsZero() bool {
	return m.Begins == "" && m.Ends == "" && m.Contains == ""
}

// Range is a half-open numeric/time interval; either side may be open.
type Range struct {
	From *int64 `json:"$gt,omitempty"`
	To   *int64 `json:"$lt,omitempty"`
}

// IsZero reports whether both sides are open.
func (r Range) IsZero() bool {
	return r.From == nil && r.To == nil
}

// CalcKind selects the aggregation calculation strategy.
type CalcKind string

const (
	CalcTicketCount        CalcKind = "ticket_count"
	CalcResolutionTime     CalcKind = "resolution_time"
	CalcResponseTime       CalcKind = "response_time"
	CalcBounces            CalcKind = "bounces"
	CalcHops               CalcKind = "hops"
	CalcAge                CalcKind = "age"
	CalcStoryPoints        CalcKind = "story_points"
	CalcVelocityStageTimes CalcKind = "velocity_stage_times_report"
	CalcLeadTimeForChanges CalcKind = "lead_time_for_changes"
	CalcMeanTimeToRecover  CalcKind = "mean_time_to_recover"
)

// Criteria is the common filter shape shared by every data family.
//
// Inclusion/exclusion semantics after normalization:
//   - a field absent from Include is unconstrained;
//   - a field present with a non-empty value list constrains rows to those
//     values;
//   - a field present with an empty (non-nil) list was explicitly constrained
//     and then emptied by exclusion; it matches no rows at all.
type Criteria struct {
	Tenant         string
	IntegrationIDs []int

	// IngestedAt maps each integration to its current snapshot timestamp.
	// Snapshots are independent per integration.
	IngestedAt map[int]int64

	Include map[Field][]string
	Exclude map[Field][]string
	Partial map[Field]Match
	Ranges  map[Field]Range
	Missing map[Field]bool

	// UpdatedRangeByIntegration narrows the updated-at window per
	// integration; integrations without an entry are unconstrained.
	UpdatedRangeByIntegration map[int]Range

	CustomFields        map[string][]string
	ExcludeCustomFields map[string][]string

	Across       Field
	CustomAcross string
	Calculation  CalcKind
	Stacks       []Field
	CustomStacks []string
	Sort         []SortKey

	// FilterAcrossValues controls whether inclusion values on the Across
	// field also restrict which buckets appear (true), or only which rows
	// are counted within buckets computed from all matching rows (false).
	FilterAcrossValues bool

	Unassigned bool
	Summary    string

	Skip  int
	Limit int

	// Or is an alternate predicate set combined with the primary predicates
	// via OR on the primary table.
	Or *Criteria
}

// Filter is a validated, normalized, immutable per-domain filter: the shared
// Criteria plus the Schema of the data family it targets.
type Filter struct {
	Criteria
	schema Schema
}

// Schema returns the data-family schema this filter was built against.
func (f Filter) Schema() Schema {
	return f.schema
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFilter, fmt.Sprintf(format, args...))
}

// ParseIntegrationID parses a caller-supplied integration id. Non-numeric
// ids fail fast as request errors rather than silently defaulting.
func ParseIntegrationID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidf("integration id %q is not numeric", raw)
	}
	return id, nil
}
