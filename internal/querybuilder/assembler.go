package querybuilder

import (
	"context"
	"fmt"
	"strings"

	"github.com/devlens-io/devlens/internal/filters"
	"github.com/devlens-io/devlens/internal/registry"
)

// QualifiedTable returns the tenant-schema-qualified table reference. Tenants
// map to Postgres schemas; the tenant identifier is quoted, table names come
// from the family schemas and are never caller-supplied.
func QualifiedTable(tenant, table string) string {
	return `"` + strings.ReplaceAll(tenant, `"`, `""`) + `".` + table
}

// secondaryTableName maps a logical table family to its physical name, derived
// from the entity table ("issues" -> "issue_statuses").
func secondaryTableName(sch filters.Schema, t filters.TableKind) string {
	singular := strings.TrimSuffix(sch.Table, "s")
	switch t {
	case filters.TableStatuses:
		return singular + "_statuses"
	case filters.TableSprints:
		return singular + "_sprints"
	case filters.TableVersions:
		return singular + "_versions"
	case filters.TableLinks:
		return singular + "_links"
	case filters.TableUsers:
		return "integration_users"
	default:
		return sch.Table
	}
}

// appendExists folds every secondary table's predicates into the entity list
// as a correlated EXISTS, so the main statement only ever selects from the
// entity table. Correlation keys follow the physical model: statuses and
// links correlate on the entity key, sprints on the sprint-id array, versions
// on the fix-version array.
func appendExists(cs *ConditionSet, sch filters.Schema, tenant string) {
	e := sch.Table
	for _, t := range cs.Tables() {
		if t == filters.TableEntity {
			continue
		}
		preds := cs.Table(t)
		tbl := QualifiedTable(tenant, secondaryTableName(sch, t))
		var corr string
		switch t {
		case filters.TableStatuses:
			corr = "sec.issue_key = " + e + ".key AND sec.integration_id = " + e + ".integration_id"
		case filters.TableSprints:
			corr = "sec.sprint_id = ANY(" + e + ".sprint_ids) AND sec.integration_id = " + e + ".integration_id"
		case filters.TableVersions:
			corr = "sec.name = ANY(" + e + ".fix_versions) AND sec.integration_id = " + e + ".integration_id"
		case filters.TableLinks:
			corr = "sec.from_issue_key = " + e + ".key AND sec.integration_id = " + e + ".integration_id"
		case filters.TableUsers:
			corr = "sec.integration_id = " + e + ".integration_id"
		}
		cs.Add(filters.TableEntity,
			"EXISTS (SELECT 1 FROM "+tbl+" sec WHERE "+corr+" AND "+strings.Join(preds, " AND ")+")")
	}
}

// acrossKey resolves the grouping key expressions projected in the base CTE.
// Synthetic aliases (agg_key, agg_extra) avoid clashing with entity columns.
func acrossKey(ctx context.Context, f filters.Filter, reg registry.Provider, params *Params) (keyExpr, extraExpr string, err error) {
	sch := f.Schema()
	if f.Across == filters.DimensionCustomField {
		def, ok, rerr := reg.Field(ctx, f.Tenant, f.CustomAcross)
		if rerr != nil {
			return "", "", fmt.Errorf("querybuilder: resolve across custom field %q: %w", f.CustomAcross, rerr)
		}
		if !ok {
			return "", "", fmt.Errorf("%w: unknown custom field %q", filters.ErrInvalidFilter, f.CustomAcross)
		}
		params.Set("across_cf", f.CustomAcross)
		if def.Delimiter != "" {
			params.Set("across_cf_delim", def.Delimiter)
			return "UNNEST(STRING_TO_ARRAY(" + sch.CustomColumn + " ->> :across_cf, :across_cf_delim))", "", nil
		}
		return sch.CustomColumn + " ->> :across_cf", "", nil
	}

	col, ok := sch.ColumnFor(f.Across)
	if !ok {
		return "", "", fmt.Errorf("%w: cannot group %s by %q", filters.ErrInvalidFilter, sch.Name, f.Across)
	}
	switch {
	case col.Array:
		return "UNNEST(" + col.Name + ")", "", nil
	case col.IDName != "":
		return col.IDName + "::text", col.Name, nil
	default:
		return col.Name, "", nil
	}
}

// metric sort keys accepted in explicit sorts, friendly names included.
var sortableAliases = map[filters.Field]string{
	"ct": "ct", "count": "ct",
	"mn": "mn", "min": "mn",
	"mx": "mx", "max": "mx",
	"mean": "mean",
	"md":   "md", "median": "md",
	"p90": "p90", "p95": "p95",
	"sm": "sm", "sum": "sm",
	"total_story_points": "total_story_points",
}

// orderBy resolves the ORDER BY clause. Explicit sort keys may name the
// across dimension (case-insensitive key ordering), a metric alias or its
// friendly name, or the calculation itself (its primary metric); the default
// orders by the calculation's primary metric descending with the key as
// tie-breaker.
func orderBy(f filters.Filter, proj projection, grouped bool) (string, error) {
	if len(f.Sort) == 0 {
		if !grouped {
			return "", nil
		}
		return " ORDER BY " + proj.sortAlias + " DESC NULLS LAST, agg_key ASC", nil
	}
	parts := make([]string, 0, len(f.Sort))
	for _, sk := range f.Sort {
		ord := string(sk.Order)
		if ord == "" {
			ord = string(filters.Ascending)
		}
		switch {
		case grouped && (sk.Field == f.Across || sk.Field == "key"):
			parts = append(parts, "LOWER(agg_key) "+ord+" NULLS LAST")
		case sk.Field == filters.Field(f.Calculation):
			parts = append(parts, proj.sortAlias+" "+ord+" NULLS LAST")
		default:
			alias, ok := sortableAliases[sk.Field]
			if !ok {
				return "", fmt.Errorf("%w: cannot sort by %q", filters.ErrInvalidFilter, sk.Field)
			}
			parts = append(parts, alias+" "+ord+" NULLS LAST")
		}
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// BuildAggregation compiles a count or percentile aggregation into one
// executable statement: filtered base CTE, grouped aggregates, resolved
// ordering, and pagination with an independent bucket total via
// COUNT(*) OVER().
func BuildAggregation(ctx context.Context, f filters.Filter, reg registry.Provider) (Statement, error) {
	sch := f.Schema()
	switch f.Calculation {
	case filters.CalcVelocityStageTimes, filters.CalcLeadTimeForChanges, filters.CalcMeanTimeToRecover:
		return Statement{}, fmt.Errorf("%w: calculation %q has a dedicated builder", filters.ErrInvalidFilter, f.Calculation)
	}

	cs, rowFilter, err := BuildConditions(ctx, f, reg, BuildOptions{
		DeferAcrossInclude: !f.FilterAcrossValues,
	})
	if err != nil {
		return Statement{}, err
	}
	appendExists(cs, sch, f.Tenant)

	proj, err := calcProjection(sch, f.Calculation, rowFilter)
	if err != nil {
		return Statement{}, err
	}

	grouped := f.Across != filters.DimensionNone
	var keyExpr, extraExpr string
	if grouped {
		keyExpr, extraExpr, err = acrossKey(ctx, f, reg, cs.Params())
		if err != nil {
			return Statement{}, err
		}
	}

	table := QualifiedTable(f.Tenant, sch.Table)

	var b strings.Builder
	b.WriteString("WITH base AS (SELECT ")
	if grouped {
		b.WriteString(keyExpr + " AS agg_key, ")
		if extraExpr != "" {
			b.WriteString(extraExpr + " AS agg_extra, ")
		}
	}
	b.WriteString(sch.Table + ".* FROM " + table)
	b.WriteString(" WHERE " + cs.Where(filters.TableEntity) + ") SELECT ")
	if grouped {
		b.WriteString("agg_key AS key, ")
		if extraExpr != "" {
			b.WriteString("agg_extra AS additional_key, ")
		}
	} else {
		b.WriteString("'all' AS key, ")
	}
	b.WriteString(strings.Join(proj.selects, ", "))
	b.WriteString(", COUNT(*) OVER() AS total_count FROM base")
	if grouped {
		b.WriteString(" GROUP BY agg_key")
		if extraExpr != "" {
			b.WriteString(", agg_extra")
		}
	}

	order, err := orderBy(f, proj, grouped)
	if err != nil {
		return Statement{}, err
	}
	b.WriteString(order)

	cs.Params().Set("page_limit", f.Limit)
	cs.Params().Set("page_skip", f.Skip)
	b.WriteString(" LIMIT :page_limit OFFSET :page_skip")

	return Render(b.String(), cs.Params())
}
