package querybuilder

import (
	"fmt"

	"github.com/devlens-io/devlens/internal/filters"
)

// projection is the aggregate SELECT list for one calculation, plus the
// metric alias used when no explicit sort is given.
type projection struct {
	selects   []string
	sortAlias string
}

// aggExpr composes one aggregate select expression. A non-empty rowFilter
// becomes a FILTER clause so deferred across-inclusion restricts what is
// counted without restricting which buckets exist. Metric aggregates are cast
// to double precision for uniform scanning.
func aggExpr(core, rowFilter, alias string, cast bool) string {
	s := core
	if rowFilter != "" {
		s += " FILTER (WHERE " + rowFilter + ")"
	}
	if cast {
		s = "(" + s + ")::double precision"
	}
	return s + " AS " + alias
}

// metricExpr returns the per-row numeric expression a percentile-style
// calculation aggregates over.
func metricExpr(sch filters.Schema, kind filters.CalcKind) (string, error) {
	resolved := ""
	if c, ok := sch.ColumnFor(filters.FieldResolvedAt); ok {
		resolved = c.Name
	}
	switch kind {
	case filters.CalcResolutionTime:
		if resolved == "" || sch.CreatedColumn == "" {
			return "", fmt.Errorf("%w: family %s does not track resolution time", filters.ErrInvalidFilter, sch.Name)
		}
		return "(" + resolved + " - " + sch.CreatedColumn + ")", nil
	case filters.CalcResponseTime:
		return "(first_comment_at - " + sch.CreatedColumn + ")", nil
	case filters.CalcBounces:
		return "bounces", nil
	case filters.CalcHops:
		return "hops", nil
	case filters.CalcAge:
		return "(ingested_at - " + sch.CreatedColumn + ")/86400", nil
	case filters.CalcStoryPoints:
		return "COALESCE(story_points, 0)", nil
	default:
		return "", fmt.Errorf("%w: calculation %q has no metric expression", filters.ErrInvalidFilter, kind)
	}
}

// calcProjection builds the aggregate SELECT list for the calculation kind.
// Velocity stage times and the DORA calculations assemble whole statements of
// their own and never reach here.
func calcProjection(sch filters.Schema, kind filters.CalcKind, rowFilter string) (projection, error) {
	switch kind {
	case filters.CalcTicketCount:
		selects := []string{
			aggExpr("COUNT(DISTINCT "+sch.IDColumn+")", rowFilter, "ct", false),
		}
		if _, ok := sch.ColumnFor(filters.FieldStoryPoints); ok {
			selects = append(selects,
				aggExpr("SUM(COALESCE(story_points, 0))", rowFilter, "total_story_points", true))
		}
		return projection{selects: selects, sortAlias: "ct"}, nil

	case filters.CalcResolutionTime, filters.CalcResponseTime,
		filters.CalcBounces, filters.CalcHops,
		filters.CalcAge, filters.CalcStoryPoints:
		expr, err := metricExpr(sch, kind)
		if err != nil {
			return projection{}, err
		}
		return projection{
			selects: []string{
				aggExpr("MIN("+expr+")", rowFilter, "mn", true),
				aggExpr("MAX("+expr+")", rowFilter, "mx", true),
				aggExpr("AVG("+expr+")", rowFilter, "mean", true),
				aggExpr("PERCENTILE_DISC(0.5) WITHIN GROUP (ORDER BY "+expr+")", rowFilter, "md", true),
				aggExpr("PERCENTILE_CONT(0.9) WITHIN GROUP (ORDER BY "+expr+")", rowFilter, "p90", true),
				aggExpr("PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY "+expr+")", rowFilter, "p95", true),
				aggExpr("COUNT(DISTINCT "+sch.IDColumn+")", rowFilter, "ct", false),
				aggExpr("SUM("+expr+")", rowFilter, "sm", true),
			},
			sortAlias: "md",
		}, nil

	default:
		return projection{}, fmt.Errorf("%w: unsupported calculation %q", filters.ErrInvalidFilter, kind)
	}
}
