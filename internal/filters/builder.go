package filters

import (
	"sort"
)

// Builder accumulates filter settings and produces an immutable Filter.
// Setters never fail; all validation happens in Build so that callers get a
// single error path.
type Builder struct {
	c      Criteria
	schema Schema
	errs   []error
}

// NewBuilder starts a filter for the given data family and tenant.
func NewBuilder(schema Schema, tenant string) *Builder {
	return &Builder{
		schema: schema,
		c: Criteria{
			Tenant:             tenant,
			Across:             DimensionNone,
			Calculation:        CalcTicketCount,
			FilterAcrossValues: true,
			Limit:              defaultLimit,
		},
	}
}

// NewIssueFilter starts a filter over the issue family.
func NewIssueFilter(tenant string) *Builder { return NewBuilder(Issues(), tenant) }

// NewPullRequestFilter starts a filter over the pull-request family.
func NewPullRequestFilter(tenant string) *Builder { return NewBuilder(PullRequests(), tenant) }

// NewDefectFilter starts a filter over the defect family.
func NewDefectFilter(tenant string) *Builder { return NewBuilder(Defects(), tenant) }

// NewTestRunFilter starts a filter over the QA test-run family.
func NewTestRunFilter(tenant string) *Builder { return NewBuilder(TestRuns(), tenant) }

// NewPipelineRunFilter starts a filter over the CI/CD job-instance family.
func NewPipelineRunFilter(tenant string) *Builder { return NewBuilder(PipelineRuns(), tenant) }

// NewWorkItemFilter starts a filter over the generic work-item family.
func NewWorkItemFilter(tenant string) *Builder { return NewBuilder(WorkItems(), tenant) }

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Integrations scopes the filter to the given integration ids, parsed from
// caller-supplied strings. Non-numeric ids are reported at Build.
func (b *Builder) Integrations(raw ...string) *Builder {
	for _, r := range raw {
		id, err := ParseIntegrationID(r)
		if err != nil {
			b.errs = append(b.errs, err)
			continue
		}
		b.c.IntegrationIDs = append(b.c.IntegrationIDs, id)
	}
	return b
}

// Snapshot pins one integration to an ingestion snapshot timestamp.
func (b *Builder) Snapshot(integrationID int, ingestedAt int64) *Builder {
	if b.c.IngestedAt == nil {
		b.c.IngestedAt = map[int]int64{}
	}
	b.c.IngestedAt[integrationID] = ingestedAt
	return b
}

// Include constrains a field to the given values. Calling with no values is
// a no-op, not a constraint.
func (b *Builder) Include(f Field, values ...string) *Builder {
	if len(values) == 0 {
		return b
	}
	if b.c.Include == nil {
		b.c.Include = map[Field][]string{}
	}
	b.c.Include[f] = append(b.c.Include[f], values...)
	return b
}

// Exclude removes rows matching any of the given values for a field.
func (b *Builder) Exclude(f Field, values ...string) *Builder {
	if len(values) == 0 {
		return b
	}
	if b.c.Exclude == nil {
		b.c.Exclude = map[Field][]string{}
	}
	b.c.Exclude[f] = append(b.c.Exclude[f], values...)
	return b
}

// PartialMatch sets the substring operators for a text field.
func (b *Builder) PartialMatch(f Field, m Match) *Builder {
	if b.c.Partial == nil {
		b.c.Partial = map[Field]Match{}
	}
	b.c.Partial[f] = m
	return b
}

// InRange constrains a numeric/time field to a half-open interval.
func (b *Builder) InRange(f Field, r Range) *Builder {
	if b.c.Ranges == nil {
		b.c.Ranges = map[Field]Range{}
	}
	b.c.Ranges[f] = r
	return b
}

// UpdatedRangeFor narrows the updated-at window for a single integration.
func (b *Builder) UpdatedRangeFor(integrationID int, r Range) *Builder {
	if b.c.UpdatedRangeByIntegration == nil {
		b.c.UpdatedRangeByIntegration = map[int]Range{}
	}
	b.c.UpdatedRangeByIntegration[integrationID] = r
	return b
}

// MissingField requires the field to be NULL/absent (true) or present (false).
func (b *Builder) MissingField(f Field, missing bool) *Builder {
	if b.c.Missing == nil {
		b.c.Missing = map[Field]bool{}
	}
	b.c.Missing[f] = missing
	return b
}

// CustomField constrains a per-tenant custom field to the given values.
func (b *Builder) CustomField(key string, values ...string) *Builder {
	if len(values) == 0 {
		return b
	}
	if b.c.CustomFields == nil {
		b.c.CustomFields = map[string][]string{}
	}
	b.c.CustomFields[key] = append(b.c.CustomFields[key], values...)
	return b
}

// ExcludeCustomField removes rows whose custom field matches any value.
func (b *Builder) ExcludeCustomField(key string, values ...string) *Builder {
	if len(values) == 0 {
		return b
	}
	if b.c.ExcludeCustomFields == nil {
		b.c.ExcludeCustomFields = map[string][]string{}
	}
	b.c.ExcludeCustomFields[key] = append(b.c.ExcludeCustomFields[key], values...)
	return b
}

// Across selects the grouping dimension.
func (b *Builder) Across(f Field) *Builder {
	b.c.Across = f
	return b
}

// AcrossCustomField groups by a per-tenant custom field.
func (b *Builder) AcrossCustomField(key string) *Builder {
	b.c.Across = DimensionCustomField
	b.c.CustomAcross = key
	return b
}

// Calculation selects the aggregation strategy.
func (b *Builder) Calculation(k CalcKind) *Builder {
	b.c.Calculation = k
	return b
}

// Stacks sets the nested grouping dimensions, applied one at a time.
func (b *Builder) Stacks(dims ...Field) *Builder {
	b.c.Stacks = append(b.c.Stacks, dims...)
	return b
}

// CustomStacks sets nested grouping by custom-field keys.
func (b *Builder) CustomStacks(keys ...string) *Builder {
	b.c.CustomStacks = append(b.c.CustomStacks, keys...)
	return b
}

// SortBy appends one sort key; call order defines precedence.
func (b *Builder) SortBy(f Field, o SortOrder) *Builder {
	b.c.Sort = append(b.c.Sort, SortKey{Field: f, Order: o})
	return b
}

// Page sets the pagination window.
func (b *Builder) Page(skip, limit int) *Builder {
	b.c.Skip = skip
	b.c.Limit = limit
	return b
}

// FilterAcrossValues controls bucket-set restriction semantics; see
// Criteria.FilterAcrossValues.
func (b *Builder) FilterAcrossValues(v bool) *Builder {
	b.c.FilterAcrossValues = v
	return b
}

// Unassigned restricts to rows with no assignee.
func (b *Builder) Unassigned() *Builder {
	b.c.Unassigned = true
	return b
}

// Summary is shorthand for a contains-match on the summary column.
func (b *Builder) Summary(contains string) *Builder {
	b.c.Summary = contains
	return b
}

// Or attaches an alternate predicate set combined with the primary filter by
// OR. Only inclusion/exclusion/partial/range settings of the sub-builder are
// honored; grouping and pagination come from the primary filter.
func (b *Builder) Or(sub *Builder) *Builder {
	if sub != nil {
		c := sub.c
		b.c.Or = &c
		b.errs = append(b.errs, sub.errs...)
	}
	return b
}

// Build validates and normalizes the accumulated criteria and returns the
// immutable Filter. The builder may not be reused after Build.
func (b *Builder) Build() (Filter, error) {
	if len(b.errs) > 0 {
		return Filter{}, b.errs[0]
	}
	if err := b.validate(); err != nil {
		return Filter{}, err
	}
	c := normalize(b.c, b.schema)
	if c.Or != nil {
		or := normalize(*c.Or, b.schema)
		c.Or = &or
	}
	return Filter{Criteria: c, schema: b.schema}, nil
}

func (b *Builder) validate() error {
	c := b.c
	s := b.schema

	if !s.Supports(c.Calculation) {
		return invalidf("calculation %q is not supported for %s", c.Calculation, s.Name)
	}
	if !s.GroupableBy(c.Across) {
		return invalidf("unknown across dimension %q for %s", c.Across, s.Name)
	}
	if c.Across == DimensionCustomField && c.CustomAcross == "" {
		return invalidf("across=custom_field requires a custom field key")
	}
	if c.CustomAcross != "" && c.Across != DimensionCustomField {
		return invalidf("custom across key set but across is %q", c.Across)
	}
	for _, d := range c.Stacks {
		if d == c.Across {
			return invalidf("stack dimension %q duplicates across", d)
		}
		if !s.GroupableBy(d) {
			return invalidf("unknown stack dimension %q for %s", d, s.Name)
		}
	}
	for f, r := range c.Ranges {
		if _, ok := s.ColumnFor(f); !ok && f != FieldAge {
			return invalidf("unknown range field %q for %s", f, s.Name)
		}
		if r.From != nil && r.To != nil && *r.From >= *r.To {
			return invalidf("range on %q is empty: from %d >= to %d", f, *r.From, *r.To)
		}
	}
	for _, r := range c.UpdatedRangeByIntegration {
		if r.From != nil && r.To != nil && *r.From >= *r.To {
			return invalidf("per-integration updated range is empty")
		}
	}
	if c.Skip < 0 {
		return invalidf("skip must be non-negative")
	}
	if c.Limit < 0 {
		return invalidf("limit must be non-negative")
	}
	return nil
}

// normalize applies the construction-time rules: empty constraint lists mean
// "unconstrained", exclusion wins over inclusion, unrecognized missing-field
// keys are dropped, and value lists are deduplicated and ordered so that the
// compiled statement is deterministic.
func normalize(c Criteria, s Schema) Criteria {
	out := c

	out.Include = map[Field][]string{}
	for f, vals := range c.Include {
		if vals == nil {
			continue // nil inclusion = unconstrained
		}
		if len(vals) == 0 {
			// Already annihilated (e.g. by a previous normalization pass or a
			// Transform); stays a match-nothing constraint.
			out.Include[f] = []string{}
			continue
		}
		kept := dedupeSorted(vals)
		if excl, ok := c.Exclude[f]; ok && len(excl) > 0 {
			kept = subtract(kept, excl)
		}
		// A field that was explicitly constrained and emptied by exclusion
		// keeps its empty entry: it must match no rows, not all rows.
		out.Include[f] = kept
	}
	if len(out.Include) == 0 {
		out.Include = nil
	}

	out.Exclude = map[Field][]string{}
	for f, vals := range c.Exclude {
		if len(vals) == 0 {
			continue
		}
		out.Exclude[f] = dedupeSorted(vals)
	}
	if len(out.Exclude) == 0 {
		out.Exclude = nil
	}

	out.Partial = map[Field]Match{}
	for f, m := range c.Partial {
		if !m.IsZero() {
			out.Partial[f] = m
		}
	}
	if len(out.Partial) == 0 {
		out.Partial = nil
	}

	out.Ranges = map[Field]Range{}
	for f, r := range c.Ranges {
		if !r.IsZero() {
			out.Ranges[f] = r
		}
	}
	if len(out.Ranges) == 0 {
		out.Ranges = nil
	}

	// Unknown missing-field names are a no-op, not an error.
	out.Missing = map[Field]bool{}
	for f, missing := range c.Missing {
		if _, ok := s.ColumnFor(f); ok {
			out.Missing[f] = missing
		}
	}
	if len(out.Missing) == 0 {
		out.Missing = nil
	}

	out.CustomFields = copyNonEmpty(c.CustomFields)
	out.ExcludeCustomFields = copyNonEmpty(c.ExcludeCustomFields)

	if out.Limit == 0 {
		out.Limit = defaultLimit
	}
	if out.Limit > maxLimit {
		out.Limit = maxLimit
	}
	out.IntegrationIDs = dedupeInts(c.IntegrationIDs)
	return out
}

func copyNonEmpty(in map[string][]string) map[string][]string {
	out := map[string][]string{}
	for k, vals := range in {
		if len(vals) > 0 {
			out[k] = dedupeSorted(vals)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func dedupeSorted(vals []string) []string {
	seen := make(map[string]struct{}, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func subtract(vals, minus []string) []string {
	drop := make(map[string]struct{}, len(minus))
	for _, v := range minus {
		drop[v] = struct{}{}
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if _, ok := drop[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

func dedupeInts(vals []int) []int {
	if len(vals) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(vals))
	out := make([]int, 0, len(vals))
	for _, v := range vals {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
