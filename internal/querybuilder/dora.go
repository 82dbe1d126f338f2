package querybuilder

import (
	"context"
	"fmt"
	"strings"

	"github.com/devlens-io/devlens/internal/filters"
	"github.com/devlens-io/devlens/internal/registry"
)

// DORA band thresholds in seconds. Lead time for changes and time to recover
// use different scales.
const (
	LeadTimeElite  = 86400   // one day
	LeadTimeHigh   = 604800  // one week
	LeadTimeMedium = 2419200 // four weeks

	RecoverElite  = 3600 // one hour
	RecoverHigh   = 86400
	RecoverMedium = 604800
)

// DoraProfile describes how deployments and hotfixes are recognized among
// rows of the target family. Patterns use * as a wildcard and match the
// target branch (releases) or source branch (hotfixes); families without
// those columns fall back to the branch column. Labels match via array
// overlap when the family carries a label array.
type DoraProfile struct {
	ReleasePatterns []string
	ReleaseLabels   []string
	HotfixPatterns  []string
	HotfixLabels    []string
}

// LeadTimeBand classifies an average lead time in seconds.
func LeadTimeBand(seconds float64) string {
	switch {
	case seconds <= LeadTimeElite:
		return "ELITE"
	case seconds <= LeadTimeHigh:
		return "HIGH"
	case seconds <= LeadTimeMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// RecoverBand classifies an average recovery time in seconds.
func RecoverBand(seconds float64) string {
	switch {
	case seconds <= RecoverElite:
		return "ELITE"
	case seconds <= RecoverHigh:
		return "HIGH"
	case seconds <= RecoverMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// BuildDoraStatement compiles a lead-time-for-changes or mean-time-to-recover
// query. Each bucket carries the metric averaged over classified rows that
// completed, the total count of classified rows (completed or not), and the
// band. With across none a single row covers all matches; with a real
// dimension the classified rows group and band per bucket, paginated like any
// other aggregation. Rows that never completed widen the count but never drag
// the average.
func BuildDoraStatement(ctx context.Context, f filters.Filter, reg registry.Provider, profile DoraProfile) (Statement, error) {
	sch := f.Schema()
	doneCol, ok := sch.ColumnFor(filters.FieldResolvedAt)
	if !ok || sch.CreatedColumn == "" {
		return Statement{}, fmt.Errorf("%w: family %s cannot compute delivery metrics", filters.ErrInvalidFilter, sch.Name)
	}

	cs, _, err := BuildConditions(ctx, f, reg, BuildOptions{})
	if err != nil {
		return Statement{}, err
	}

	var metricAlias, bandCase string
	switch f.Calculation {
	case filters.CalcLeadTimeForChanges:
		if err := classifyConditions(cs, sch, profile.ReleasePatterns, profile.ReleaseLabels, preferredPatternColumn(sch, filters.FieldTargetBranch), "dora_rel"); err != nil {
			return Statement{}, err
		}
		metricAlias = "lead_time"
		bandCase = bandCaseSQL(LeadTimeElite, LeadTimeHigh, LeadTimeMedium)
	case filters.CalcMeanTimeToRecover:
		if err := classifyConditions(cs, sch, profile.HotfixPatterns, profile.HotfixLabels, preferredPatternColumn(sch, filters.FieldSourceBranch), "dora_fix"); err != nil {
			return Statement{}, err
		}
		metricAlias = "recover_time"
		bandCase = bandCaseSQL(RecoverElite, RecoverHigh, RecoverMedium)
	default:
		return Statement{}, fmt.Errorf("%w: calculation %q is not a delivery metric", filters.ErrInvalidFilter, f.Calculation)
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
	b.WriteString("WITH classified AS (SELECT ")
	if grouped {
		b.WriteString(keyExpr + " AS agg_key, ")
		if extraExpr != "" {
			b.WriteString(extraExpr + " AS agg_extra, ")
		}
	}
	b.WriteString("(" + doneCol.Name + " - " + sch.CreatedColumn + ") AS elapsed, ")
	b.WriteString(doneCol.Name + " IS NOT NULL AS completed")
	b.WriteString(" FROM " + table + " WHERE " + cs.Where(filters.TableEntity))
	b.WriteString("), m AS (SELECT ")
	if grouped {
		b.WriteString("agg_key, ")
		if extraExpr != "" {
			b.WriteString("agg_extra, ")
		}
	}
	b.WriteString("(AVG(elapsed) FILTER (WHERE completed))::double precision AS avg_time, COUNT(*) AS ct FROM classified")
	if grouped {
		b.WriteString(" GROUP BY agg_key")
		if extraExpr != "" {
			b.WriteString(", agg_extra")
		}
	}
	b.WriteString(") SELECT ")
	if grouped {
		b.WriteString("agg_key AS key, ")
		if extraExpr != "" {
			b.WriteString("agg_extra AS additional_key, ")
		}
	}
	b.WriteString("avg_time AS " + metricAlias + ", ct, " + bandCase + " AS band")
	if grouped {
		b.WriteString(", COUNT(*) OVER() AS total_count FROM m")
		b.WriteString(" ORDER BY ct DESC NULLS LAST, agg_key ASC")
		cs.Params().Set("page_limit", f.Limit)
		cs.Params().Set("page_skip", f.Skip)
		b.WriteString(" LIMIT :page_limit OFFSET :page_skip")
	} else {
		b.WriteString(" FROM m")
	}

	return Render(b.String(), cs.Params())
}

// classifyConditions narrows rows to those the profile recognizes. Patterns
// and labels combine with OR: a row qualifies by branch naming or by label.
func classifyConditions(cs *ConditionSet, sch filters.Schema, patterns, labels []string, patternCol string, paramBase string) error {
	var arms []string
	for i, pat := range patterns {
		p := fmt.Sprintf("%s_%d", paramBase, i)
		arms = append(arms, patternCol+" LIKE :"+p)
		cs.Params().Set(p, patternToLike(pat))
	}
	if len(labels) > 0 {
		if col, ok := sch.ColumnFor(filters.FieldLabel); ok && col.Array {
			p := paramBase + "_labels"
			arms = append(arms, col.Name+" && :"+p)
			cs.Params().Set(p, labels)
		}
	}
	if len(arms) == 0 {
		return fmt.Errorf("%w: delivery profile matches nothing", filters.ErrInvalidFilter)
	}
	if len(arms) == 1 {
		cs.Add(filters.TableEntity, arms[0])
		return nil
	}
	cs.Add(filters.TableEntity, "("+strings.Join(arms, " OR ")+")")
	return nil
}

func preferredPatternColumn(sch filters.Schema, preferred filters.Field) string {
	if col, ok := sch.ColumnFor(preferred); ok {
		return col.Name
	}
	if col, ok := sch.ColumnFor(filters.FieldBranch); ok {
		return col.Name
	}
	return "branch"
}

// patternToLike converts a *-wildcard pattern into a LIKE pattern, escaping
// native LIKE metacharacters in the literal parts.
func patternToLike(pat string) string {
	parts := strings.Split(pat, "*")
	for i, p := range parts {
		parts[i] = escapeLike(p)
	}
	return strings.Join(parts, "%")
}

func bandCaseSQL(elite, high, medium int) string {
	return fmt.Sprintf(
		"CASE WHEN avg_time IS NULL THEN NULL"+
			" WHEN avg_time <= %d THEN 'ELITE'"+
			" WHEN avg_time <= %d THEN 'HIGH'"+
			" WHEN avg_time <= %d THEN 'MEDIUM'"+
			" ELSE 'LOW' END",
		elite, high, medium)
}
