package querybuilder

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/devlens-io/devlens/internal/filters"
	"github.com/devlens-io/devlens/internal/registry"
)

// BuildOptions tunes condition generation for one statement.
type BuildOptions struct {
	// DeferAcrossInclude pulls the inclusion predicate on the across field
	// out of the WHERE clause and returns it separately, so the assembler can
	// attach it as a FILTER clause on the aggregates instead. This implements
	// filterAcrossValues=false: buckets are computed from all matching rows,
	// only the counted rows are restricted.
	DeferAcrossInclude bool
}

// BuildConditions compiles a filter into per-table predicate lists plus the
// shared parameter bag. The returned row filter is non-empty only when
// DeferAcrossInclude extracted the across-field inclusion.
func BuildConditions(ctx context.Context, f filters.Filter, reg registry.Provider, opts BuildOptions) (*ConditionSet, string, error) {
	cs := NewConditionSet(NewParams())
	b := condBuilder{cs: cs, reg: reg, tenant: f.Tenant}
	rowFilter, err := b.apply(ctx, f.Criteria, f.Schema(), "", opts.DeferAcrossInclude)
	if err != nil {
		return nil, "", err
	}
	if f.Or != nil {
		if err := b.applyOr(ctx, *f.Or, f.Schema()); err != nil {
			return nil, "", err
		}
	}
	return cs, rowFilter, nil
}

type condBuilder struct {
	cs     *ConditionSet
	reg    registry.Provider
	tenant string
}

// applyOr builds the alternate predicate set into its own lists, then folds
// each table's list into the primary set as a single OR group. Parameters for
// the alternate set carry an "or_" prefix so the two sets never collide.
func (b condBuilder) applyOr(ctx context.Context, alt filters.Criteria, sch filters.Schema) error {
	sub := condBuilder{cs: NewConditionSet(b.cs.Params()), reg: b.reg, tenant: b.tenant}
	if _, err := sub.apply(ctx, alt, sch, "or_", false); err != nil {
		return err
	}
	for _, t := range sub.cs.Tables() {
		preds := sub.cs.Table(t)
		if len(preds) == 1 {
			b.cs.Add(t, preds[0])
			continue
		}
		b.cs.Add(t, "("+strings.Join(preds, " OR ")+")")
	}
	return nil
}

func (b condBuilder) apply(ctx context.Context, c filters.Criteria, sch filters.Schema, prefix string, deferAcross bool) (string, error) {
	var rowFilter string

	if len(c.IntegrationIDs) > 0 {
		p := prefix + "integration_ids"
		b.cs.Add(filters.TableEntity, "integration_id = ANY(:"+p+")")
		b.cs.Params().Set(p, c.IntegrationIDs)
	}

	if len(c.IngestedAt) > 0 {
		ids := make([]int, 0, len(c.IngestedAt))
		for id := range c.IngestedAt {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		pairs := make([]string, 0, len(ids))
		for i, id := range ids {
			pid := fmt.Sprintf("%sing_id_%d", prefix, i)
			pts := fmt.Sprintf("%sing_ts_%d", prefix, i)
			pairs = append(pairs, "(integration_id = :"+pid+" AND ingested_at = :"+pts+")")
			b.cs.Params().Set(pid, id)
			b.cs.Params().Set(pts, c.IngestedAt[id])
		}
		if len(pairs) == 1 {
			b.cs.Add(filters.TableEntity, pairs[0])
		} else {
			b.cs.Add(filters.TableEntity, "("+strings.Join(pairs, " OR ")+")")
		}
	}

	for _, field := range sortedFields(c.Include) {
		col, ok := sch.ColumnFor(field)
		if !ok {
			return "", invalidFieldErr(sch, field)
		}
		vals := c.Include[field]
		if len(vals) == 0 {
			// Explicitly constrained, then emptied by exclusion.
			b.cs.Add(col.Table, "FALSE")
			continue
		}
		p := prefix + "in_" + string(field)
		sql, err := inclusionSQL(col, p, vals, b.cs.Params())
		if err != nil {
			return "", err
		}
		if deferAcross && prefix == "" && field == c.Across {
			rowFilter = sql
			continue
		}
		b.cs.Add(col.Table, sql)
	}

	for _, field := range sortedFields(c.Exclude) {
		col, ok := sch.ColumnFor(field)
		if !ok {
			return "", invalidFieldErr(sch, field)
		}
		vals := c.Exclude[field]
		p := prefix + "ex_" + string(field)
		sql, err := exclusionSQL(col, p, vals, b.cs.Params())
		if err != nil {
			return "", err
		}
		b.cs.Add(col.Table, sql)
	}

	for _, field := range sortedFields(c.Partial) {
		col, ok := sch.ColumnFor(field)
		if !ok {
			return "", invalidFieldErr(sch, field)
		}
		partialMatchConditions(b.cs, col, col.Table, c.Partial[field], prefix+"pm_"+string(field))
	}

	for _, field := range sortedFields(c.Ranges) {
		col, ok := sch.ColumnFor(field)
		if !ok {
			return "", invalidFieldErr(sch, field)
		}
		expr := col.Name
		if field == filters.FieldAge && sch.CreatedColumn != "" {
			// Age in days relative to the snapshot, not wall-clock now.
			expr = "(ingested_at - " + sch.CreatedColumn + ")/86400"
		}
		r := c.Ranges[field]
		base := prefix + "rg_" + string(field)
		if r.From != nil {
			b.cs.Add(col.Table, expr+" > :"+base+"_start")
			b.cs.Params().Set(base+"_start", *r.From)
		}
		if r.To != nil {
			b.cs.Add(col.Table, expr+" < :"+base+"_end")
			b.cs.Params().Set(base+"_end", *r.To)
		}
	}

	for _, field := range sortedFields(c.Missing) {
		col, ok := sch.ColumnFor(field)
		if !ok {
			return "", invalidFieldErr(sch, field)
		}
		missing := c.Missing[field]
		name := col.Name
		if col.IDName != "" {
			name = col.IDName
		}
		switch {
		case col.Array && missing:
			b.cs.Add(col.Table, "("+name+" IS NULL OR "+name+" = '{}')")
		case col.Array:
			b.cs.Add(col.Table, "("+name+" IS NOT NULL AND "+name+" <> '{}')")
		case missing:
			b.cs.Add(col.Table, name+" IS NULL")
		default:
			b.cs.Add(col.Table, name+" IS NOT NULL")
		}
	}

	if err := b.updatedRanges(c, sch, prefix); err != nil {
		return "", err
	}

	cfFilter, err := b.customFields(ctx, c, sch, prefix, deferAcross)
	if err != nil {
		return "", err
	}
	if cfFilter != "" {
		rowFilter = cfFilter
	}

	if c.Unassigned {
		col, ok := sch.ColumnFor(filters.FieldAssignee)
		if !ok {
			return "", invalidFieldErr(sch, filters.FieldAssignee)
		}
		name := col.Name
		if col.IDName != "" {
			name = col.IDName
		}
		b.cs.Add(col.Table, name+" IS NULL")
	}

	if c.Summary != "" {
		col, ok := sch.ColumnFor(filters.FieldSummary)
		if !ok {
			return "", invalidFieldErr(sch, filters.FieldSummary)
		}
		p := prefix + "summary_q"
		b.cs.Add(col.Table, col.Name+" LIKE :"+p)
		b.cs.Params().Set(p, "%"+escapeLike(c.Summary)+"%")
	}

	return rowFilter, nil
}

// updatedRanges narrows the updated-at window per integration. Integrations
// without an entry stay unconstrained via the trailing catch-all arm.
func (b condBuilder) updatedRanges(c filters.Criteria, sch filters.Schema, prefix string) error {
	if len(c.UpdatedRangeByIntegration) == 0 {
		return nil
	}
	col, ok := sch.ColumnFor(filters.FieldUpdatedAt)
	if !ok {
		return invalidFieldErr(sch, filters.FieldUpdatedAt)
	}
	ids := make([]int, 0, len(c.UpdatedRangeByIntegration))
	for id := range c.UpdatedRangeByIntegration {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	arms := make([]string, 0, len(ids)+1)
	for i, id := range ids {
		r := c.UpdatedRangeByIntegration[id]
		pid := fmt.Sprintf("%supd_id_%d", prefix, i)
		parts := []string{"integration_id = :" + pid}
		b.cs.Params().Set(pid, id)
		if r.From != nil {
			p := fmt.Sprintf("%supd_start_%d", prefix, i)
			parts = append(parts, col.Name+" > :"+p)
			b.cs.Params().Set(p, *r.From)
		}
		if r.To != nil {
			p := fmt.Sprintf("%supd_end_%d", prefix, i)
			parts = append(parts, col.Name+" < :"+p)
			b.cs.Params().Set(p, *r.To)
		}
		arms = append(arms, "("+strings.Join(parts, " AND ")+")")
	}
	pOther := prefix + "upd_other"
	arms = append(arms, "integration_id <> ALL(:"+pOther+")")
	b.cs.Params().Set(pOther, ids)
	b.cs.Add(filters.TableEntity, "("+strings.Join(arms, " OR ")+")")
	return nil
}

// customFields emits JSONB predicates against the family's custom-field
// container, consulting the registry for per-key delimiters. An unknown key
// matches no rows.
func (b condBuilder) customFields(ctx context.Context, c filters.Criteria, sch filters.Schema, prefix string, deferAcross bool) (string, error) {
	if len(c.CustomFields) == 0 && len(c.ExcludeCustomFields) == 0 {
		return "", nil
	}
	if sch.CustomColumn == "" {
		return "", fmt.Errorf("%w: family %s has no custom fields", filters.ErrInvalidFilter, sch.Name)
	}
	var rowFilter string

	keys := sortedKeys(c.CustomFields)
	for i, key := range keys {
		def, ok, err := b.reg.Field(ctx, b.tenant, key)
		if err != nil {
			return "", fmt.Errorf("querybuilder: resolve custom field %q: %w", key, err)
		}
		if !ok {
			b.cs.Add(filters.TableEntity, "FALSE")
			continue
		}
		pk := fmt.Sprintf("%scfk_%d", prefix, i)
		pv := fmt.Sprintf("%scfv_%d", prefix, i)
		b.cs.Params().Set(pk, key)
		b.cs.Params().Set(pv, c.CustomFields[key])
		var sql string
		if def.Delimiter != "" {
			pd := fmt.Sprintf("%scfd_%d", prefix, i)
			b.cs.Params().Set(pd, def.Delimiter)
			sql = "STRING_TO_ARRAY(" + sch.CustomColumn + " ->> :" + pk + ", :" + pd + ") && :" + pv
		} else {
			sql = "(" + sch.CustomColumn + " ->> :" + pk + ") = ANY(:" + pv + ")"
		}
		if deferAcross && prefix == "" && c.Across == filters.DimensionCustomField && key == c.CustomAcross {
			rowFilter = sql
			continue
		}
		b.cs.Add(filters.TableEntity, sql)
	}

	for i, key := range sortedKeys(c.ExcludeCustomFields) {
		def, ok, err := b.reg.Field(ctx, b.tenant, key)
		if err != nil {
			return "", fmt.Errorf("querybuilder: resolve custom field %q: %w", key, err)
		}
		if !ok {
			// Nothing to exclude.
			continue
		}
		pk := fmt.Sprintf("%sxcfk_%d", prefix, i)
		pv := fmt.Sprintf("%sxcfv_%d", prefix, i)
		b.cs.Params().Set(pk, key)
		b.cs.Params().Set(pv, c.ExcludeCustomFields[key])
		// COALESCE keeps rows that lack the key entirely.
		if def.Delimiter != "" {
			pd := fmt.Sprintf("%sxcfd_%d", prefix, i)
			b.cs.Params().Set(pd, def.Delimiter)
			b.cs.Add(filters.TableEntity,
				"NOT COALESCE(STRING_TO_ARRAY("+sch.CustomColumn+" ->> :"+pk+", :"+pd+") && :"+pv+", FALSE)")
		} else {
			b.cs.Add(filters.TableEntity,
				"NOT COALESCE(("+sch.CustomColumn+" ->> :"+pk+") = ANY(:"+pv+"), FALSE)")
		}
	}
	return rowFilter, nil
}

func inclusionSQL(col filters.Column, param string, vals []string, params *Params) (string, error) {
	switch {
	case col.Array:
		params.Set(param, vals)
		return col.Name + " && :" + param, nil
	case col.IDName != "":
		// User-like fields filter on the canonical id, matching the grouping
		// key and org-unit member definitions.
		params.Set(param, vals)
		return col.IDName + "::text = ANY(:" + param + ")", nil
	case col.Upper:
		params.Set(param, upperAll(vals))
		return "UPPER(" + col.Name + ") = ANY(:" + param + ")", nil
	case col.Numeric && !col.Time:
		nums, err := parseInts(col, vals)
		if err != nil {
			return "", err
		}
		params.Set(param, nums)
		return col.Name + " = ANY(:" + param + ")", nil
	case col.Name == "id":
		params.Set(param, vals)
		return col.Name + "::text = ANY(:" + param + ")", nil
	default:
		params.Set(param, vals)
		return col.Name + " = ANY(:" + param + ")", nil
	}
}

func exclusionSQL(col filters.Column, param string, vals []string, params *Params) (string, error) {
	switch {
	case col.Array:
		params.Set(param, vals)
		return "NOT (" + col.Name + " && :" + param + ")", nil
	case col.IDName != "":
		params.Set(param, vals)
		return col.IDName + "::text <> ALL(:" + param + ")", nil
	case col.Upper:
		params.Set(param, upperAll(vals))
		return "UPPER(" + col.Name + ") <> ALL(:" + param + ")", nil
	case col.Numeric && !col.Time:
		nums, err := parseInts(col, vals)
		if err != nil {
			return "", err
		}
		params.Set(param, nums)
		return col.Name + " <> ALL(:" + param + ")", nil
	case col.Name == "id":
		params.Set(param, vals)
		return col.Name + "::text <> ALL(:" + param + ")", nil
	default:
		params.Set(param, vals)
		return col.Name + " <> ALL(:" + param + ")", nil
	}
}

func parseInts(col filters.Column, vals []string) ([]int64, error) {
	out := make([]int64, 0, len(vals))
	for _, v := range vals {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s value %q is not numeric", filters.ErrInvalidFilter, col.Name, v)
		}
		out = append(out, n)
	}
	return out, nil
}

func upperAll(vals []string) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = strings.ToUpper(v)
	}
	return out
}

func invalidFieldErr(sch filters.Schema, f filters.Field) error {
	return fmt.Errorf("%w: field %q not recognized by family %s", filters.ErrInvalidFilter, f, sch.Name)
}

func sortedFields[V any](m map[filters.Field]V) []filters.Field {
	out := make([]filters.Field, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
