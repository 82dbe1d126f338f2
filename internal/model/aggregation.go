// Package model holds the result shapes the aggregation engine produces and
// the velocity stage configuration it consumes.
package model

// AggregationResult is one bucket of a grouped aggregation. For nested
// ("stacked") groupings, Stacks holds one result per sub-bucket; a non-leaf
// result's own statistics are an aggregate over its rows and are not required
// to equal the sum of its stacks.
type AggregationResult struct {
	Key           string  `json:"key"`
	AdditionalKey *string `json:"additional_key,omitempty"`

	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Mean   *float64 `json:"mean,omitempty"`
	Median *float64 `json:"median,omitempty"`
	P90    *float64 `json:"p90,omitempty"`
	P95    *float64 `json:"p95,omitempty"`
	Count  int64    `json:"count"`
	Sum    *float64 `json:"sum,omitempty"`

	TotalTickets     *int64   `json:"total_tickets,omitempty"`
	TotalStoryPoints *float64 `json:"total_story_points,omitempty"`
	LeadTime         *float64 `json:"lead_time,omitempty"`
	RecoverTime      *float64 `json:"recover_time,omitempty"`
	Band             *string  `json:"band,omitempty"`

	Stacks []AggregationResult `json:"stacks,omitempty"`
}

// PaginatedResult wraps one page of records together with the total number of
// matches irrespective of the page window.
type PaginatedResult[T any] struct {
	Records    []T   `json:"records"`
	Count      int   `json:"count"`
	TotalCount int64 `json:"total_count"`
}

// NewPaginatedResult builds a PaginatedResult with Count derived from the
// record slice.
func NewPaginatedResult[T any](records []T, totalCount int64) PaginatedResult[T] {
	return PaginatedResult[T]{
		Records:    records,
		Count:      len(records),
		TotalCount: totalCount,
	}
}
