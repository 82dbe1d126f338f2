package aggs

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/devlens-io/devlens/internal/model"
)

// mapAggregationRows scans bucket rows by column name, so every calculation
// shares one mapper regardless of which aggregates it projects. Statements
// cast metric aggregates to double precision; the per-page bucket total rides
// along in the total_count window column when present.
func mapAggregationRows(rows pgx.Rows) ([]model.AggregationResult, int64, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []model.AggregationResult
	var total int64

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, 0, fmt.Errorf("aggs: read row: %w", err)
		}
		var r model.AggregationResult
		for i, fd := range fields {
			v := vals[i]
			if v == nil {
				continue
			}
			switch fd.Name {
			case "key":
				r.Key = asString(v)
			case "additional_key":
				s := asString(v)
				r.AdditionalKey = &s
			case "mn":
				r.Min = floatPtr(v)
			case "mx":
				r.Max = floatPtr(v)
			case "mean":
				r.Mean = floatPtr(v)
			case "md":
				r.Median = floatPtr(v)
			case "p90":
				r.P90 = floatPtr(v)
			case "p95":
				r.P95 = floatPtr(v)
			case "ct":
				r.Count = asInt(v)
			case "sm":
				r.Sum = floatPtr(v)
			case "total_story_points":
				r.TotalStoryPoints = floatPtr(v)
			case "lead_time":
				r.LeadTime = floatPtr(v)
			case "recover_time":
				r.RecoverTime = floatPtr(v)
			case "band":
				s := asString(v)
				r.Band = &s
			case "total_count":
				total = asInt(v)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("aggs: iterate rows: %w", err)
	}
	return out, total, nil
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func floatPtr(v any) *float64 {
	f := asFloat(v)
	return &f
}
