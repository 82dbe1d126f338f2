package aggs

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/devlens-io/devlens/internal/filters"
	"github.com/devlens-io/devlens/internal/model"
	"github.com/devlens-io/devlens/internal/querybuilder"
)

// applyStacks fills each parent bucket's Stacks with a nested aggregation
// grouped by the first stack dimension. One level of nesting is consumed per
// request; remaining stack dimensions are dropped from the sub-filters.
// Sub-queries run concurrently with bounded parallelism; any failure aborts
// the whole request so callers never see partial nesting.
func (s *Service) applyStacks(ctx context.Context, f filters.Filter, parents []model.AggregationResult) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.stackWorkers)
	for i := range parents {
		g.Go(func() error {
			sub, err := stackFilter(f, parents[i])
			if err != nil {
				return err
			}
			stmt, err := querybuilder.BuildAggregation(ctx, sub, s.reg)
			if err != nil {
				return err
			}
			records, _, err := s.run(ctx, stmt)
			if err != nil {
				return err
			}
			parents[i].Stacks = records
			return nil
		})
	}
	return g.Wait()
}

// stackFilter derives the nested filter for one parent bucket: the parent's
// key becomes an inclusion pin on the across dimension, and the first stack
// dimension becomes the new across.
func stackFilter(f filters.Filter, parent model.AggregationResult) (filters.Filter, error) {
	return f.Transform(func(c *filters.Criteria) {
		switch {
		case c.Across == filters.DimensionCustomField:
			if c.CustomFields == nil {
				c.CustomFields = map[string][]string{}
			}
			c.CustomFields[c.CustomAcross] = []string{parent.Key}
		case c.Across == filters.DimensionNone:
			// Single synthetic bucket, nothing to pin.
		case parent.Key == "":
			// A null-key bucket pins on absence, not on an empty value.
			if c.Missing == nil {
				c.Missing = map[filters.Field]bool{}
			}
			c.Missing[c.Across] = true
		default:
			if c.Include == nil {
				c.Include = map[filters.Field][]string{}
			}
			c.Include[c.Across] = []string{parent.Key}
		}

		if len(c.Stacks) > 0 {
			c.Across = c.Stacks[0]
			c.CustomAcross = ""
		} else {
			c.Across = filters.DimensionCustomField
			c.CustomAcross = c.CustomStacks[0]
		}
		c.Stacks = nil
		c.CustomStacks = nil
		c.Sort = nil
		c.Skip = 0
		c.FilterAcrossValues = true
	})
}
