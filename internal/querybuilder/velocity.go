package querybuilder

import (
	"context"
	"fmt"
	"strings"

	"github.com/devlens-io/devlens/internal/filters"
	"github.com/devlens-io/devlens/internal/model"
	"github.com/devlens-io/devlens/internal/registry"
)

// Synthetic stage buckets. Time spent in statuses no stage claims lands in
// StageOther; time spent sitting in the terminal status after completion is
// attributed to StageIgnoreTerminal and dropped from the report.
const (
	StageOther          = "Other"
	StageIgnoreTerminal = "Ignore_Terminal_Stage"
)

// BuildVelocityStatement compiles the velocity stage-times report: per stage,
// percentile aggregates over the total seconds each matching issue spent in
// that stage. Status stages attribute status-history intervals; the optional
// release stage measures from the start of the last non-terminal stage to the
// earliest released fix version and only covers issues that have one.
func BuildVelocityStatement(ctx context.Context, f filters.Filter, reg registry.Provider, cfg model.VelocityConfig, now int64) (Statement, error) {
	if err := cfg.Validate(); err != nil {
		return Statement{}, fmt.Errorf("%w: %s", filters.ErrInvalidFilter, err)
	}
	sch := f.Schema()
	fixCol, ok := sch.ColumnFor(filters.FieldFixVersion)
	if !ok {
		return Statement{}, fmt.Errorf("%w: family %s has no fix versions", filters.ErrInvalidFilter, sch.Name)
	}

	cs, _, err := BuildConditions(ctx, f, reg, BuildOptions{})
	if err != nil {
		return Statement{}, err
	}
	appendExists(cs, sch, f.Tenant)

	var caseArms []string
	for i, st := range cfg.Ordered() {
		if st.Event.Type != model.StageEventStatus {
			continue
		}
		pv := fmt.Sprintf("vst_%d", i)
		pn := fmt.Sprintf("vsn_%d", i)
		cs.Params().Set(pv, upperAll(st.Event.Values))
		cs.Params().Set(pn, st.Name)
		caseArms = append(caseArms, "WHEN UPPER(st.status) = ANY(:"+pv+") THEN :"+pn)
	}
	caseArms = append(caseArms,
		"WHEN b.status_category = 'DONE' AND UPPER(st.status) = UPPER(b.status) THEN '"+StageIgnoreTerminal+"'")
	stageCase := "CASE " + strings.Join(caseArms, " ") + " ELSE '" + StageOther + "' END"

	cs.Params().Set("vs_now", now)

	table := QualifiedTable(f.Tenant, sch.Table)
	statuses := QualifiedTable(f.Tenant, secondaryTableName(sch, filters.TableStatuses))

	var b strings.Builder
	b.WriteString("WITH base AS (")
	b.WriteString("SELECT key, integration_id, status, status_category, ")
	b.WriteString(fixCol.Name + " AS fix_versions")
	b.WriteString(" FROM " + table + " WHERE " + cs.Where(filters.TableEntity))
	b.WriteString("), intervals AS (")
	b.WriteString("SELECT b.key, b.integration_id, " + stageCase + " AS stage, st.start_time, ")
	b.WriteString("GREATEST(COALESCE(st.end_time, :vs_now) - st.start_time, 0) AS elapsed")
	b.WriteString(" FROM base b JOIN " + statuses + " st")
	b.WriteString(" ON st.issue_key = b.key AND st.integration_id = b.integration_id")
	b.WriteString("), stage_times AS (")
	b.WriteString("SELECT key, integration_id, stage, SUM(elapsed) AS elapsed")
	b.WriteString(" FROM intervals GROUP BY key, integration_id, stage")

	if rel, ok := cfg.ReleaseStage(); ok {
		// Release time runs from the start of the last non-terminal stage to
		// the earliest released fix version.
		versions := QualifiedTable(f.Tenant, secondaryTableName(sch, filters.TableVersions))
		cs.Params().Set("vs_release", rel.Name)
		b.WriteString(" UNION ALL ")
		b.WriteString("SELECT i.key, i.integration_id, :vs_release AS stage, ")
		b.WriteString("GREATEST(MIN(v.end_date) - MAX(i.start_time), 0) AS elapsed")
		b.WriteString(" FROM intervals i JOIN base b")
		b.WriteString(" ON b.key = i.key AND b.integration_id = i.integration_id")
		b.WriteString(" JOIN " + versions + " v")
		b.WriteString(" ON v.integration_id = i.integration_id AND v.name = ANY(b.fix_versions) AND v.released")
		b.WriteString(" WHERE i.stage <> '" + StageIgnoreTerminal + "'")
		b.WriteString(" GROUP BY i.key, i.integration_id")
	}

	b.WriteString(") SELECT stage AS key, ")
	b.WriteString("(MIN(elapsed))::double precision AS mn, ")
	b.WriteString("(MAX(elapsed))::double precision AS mx, ")
	b.WriteString("(AVG(elapsed))::double precision AS mean, ")
	b.WriteString("(PERCENTILE_DISC(0.5) WITHIN GROUP (ORDER BY elapsed))::double precision AS md, ")
	b.WriteString("(PERCENTILE_CONT(0.9) WITHIN GROUP (ORDER BY elapsed))::double precision AS p90, ")
	b.WriteString("(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY elapsed))::double precision AS p95, ")
	b.WriteString("COUNT(*) AS ct, ")
	b.WriteString("(SUM(elapsed))::double precision AS sm")
	b.WriteString(" FROM stage_times WHERE stage <> '" + StageIgnoreTerminal + "'")
	b.WriteString(" GROUP BY stage ORDER BY mean DESC")

	return Render(b.String(), cs.Params())
}
