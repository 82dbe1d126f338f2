// Package aggs executes compiled aggregation statements and maps the result
// rows into bucket values. It owns the stacking engine: nested groupings run
// as concurrent sub-queries derived from the parent filter.
package aggs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/devlens-io/devlens/internal/filters"
	"github.com/devlens-io/devlens/internal/model"
	"github.com/devlens-io/devlens/internal/querybuilder"
	"github.com/devlens-io/devlens/internal/registry"
	"github.com/devlens-io/devlens/internal/storage"
	"github.com/devlens-io/devlens/internal/telemetry"
)

var tracer = otel.Tracer("devlens/aggs")

const (
	defaultRetryAttempts  = 2
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// Querier is the narrow query surface the service needs; *pgxpool.Pool
// satisfies it, tests substitute fakes.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Service compiles, executes, and maps aggregation requests.
type Service struct {
	q      Querier
	reg    registry.Provider
	logger *slog.Logger

	stackWorkers   int
	retryAttempts  int
	retryBaseDelay time.Duration
	now            func() time.Time
	queryDuration  metric.Float64Histogram
}

// Option customizes a Service.
type Option func(*Service)

// WithStackWorkers bounds how many nested stack queries run concurrently.
func WithStackWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.stackWorkers = n
		}
	}
}

// WithRetryPolicy sets how transient statement failures retry: attempts
// beyond the first try, and the base of the backoff.
func WithRetryPolicy(attempts int, baseDelay time.Duration) Option {
	return func(s *Service) {
		if attempts >= 0 {
			s.retryAttempts = attempts
		}
		if baseDelay > 0 {
			s.retryBaseDelay = baseDelay
		}
	}
}

// WithClock overrides the time source; velocity intervals with no end time
// are closed at this instant.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates the aggregation service.
func New(q Querier, reg registry.Provider, logger *slog.Logger, opts ...Option) *Service {
	meter := telemetry.Meter("devlens/aggs")
	dur, _ := meter.Float64Histogram("devlens.aggs.query.duration",
		metric.WithDescription("Time to execute aggregation statements (ms)"),
		metric.WithUnit("ms"),
	)
	s := &Service{
		q:              q,
		reg:            reg,
		logger:         logger,
		stackWorkers:   4,
		retryAttempts:  defaultRetryAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		now:            time.Now,
		queryDuration:  dur,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Aggregate runs a count or percentile aggregation, including one level of
// stacking when the filter requests it. The returned TotalCount is the number
// of buckets matching the filter, independent of the page window.
func (s *Service) Aggregate(ctx context.Context, f filters.Filter) (model.PaginatedResult[model.AggregationResult], error) {
	ctx, span := tracer.Start(ctx, "aggs.aggregate", trace.WithAttributes(
		attribute.String("devlens.tenant", f.Tenant),
		attribute.String("devlens.calculation", string(f.Calculation)),
		attribute.String("devlens.across", string(f.Across)),
	))
	defer span.End()

	var zero model.PaginatedResult[model.AggregationResult]
	switch f.Calculation {
	case filters.CalcVelocityStageTimes:
		return zero, fmt.Errorf("%w: velocity stage times require a stage configuration, use VelocityStageTimes", filters.ErrInvalidFilter)
	case filters.CalcLeadTimeForChanges, filters.CalcMeanTimeToRecover:
		return zero, fmt.Errorf("%w: delivery metrics require a profile, use DeliveryMetrics", filters.ErrInvalidFilter)
	}

	stmt, err := querybuilder.BuildAggregation(ctx, f, s.reg)
	if err != nil {
		return zero, err
	}
	records, total, err := s.run(ctx, stmt)
	if err != nil {
		return zero, err
	}
	if len(f.Stacks) > 0 || len(f.CustomStacks) > 0 {
		if err := s.applyStacks(ctx, f, records); err != nil {
			// Partial nested results are never returned.
			return zero, err
		}
	}
	return model.NewPaginatedResult(records, total), nil
}

// VelocityStageTimes runs the velocity stage-times report against the given
// stage configuration. Stages paginate as a whole (the report is one bucket
// per stage), so TotalCount equals the record count.
func (s *Service) VelocityStageTimes(ctx context.Context, f filters.Filter, cfg model.VelocityConfig) (model.PaginatedResult[model.AggregationResult], error) {
	ctx, span := tracer.Start(ctx, "aggs.velocity_stage_times", trace.WithAttributes(
		attribute.String("devlens.tenant", f.Tenant),
	))
	defer span.End()

	var zero model.PaginatedResult[model.AggregationResult]
	stmt, err := querybuilder.BuildVelocityStatement(ctx, f, s.reg, cfg, s.now().Unix())
	if err != nil {
		return zero, err
	}
	records, _, err := s.run(ctx, stmt)
	if err != nil {
		return zero, err
	}
	return model.NewPaginatedResult(records, int64(len(records))), nil
}

// DeliveryMetrics runs a lead-time-for-changes or mean-time-to-recover
// calculation. With across none the result is a single banded value keyed by
// the calculation name; with a real dimension each bucket bands
// independently.
func (s *Service) DeliveryMetrics(ctx context.Context, f filters.Filter, profile querybuilder.DoraProfile) (model.PaginatedResult[model.AggregationResult], error) {
	ctx, span := tracer.Start(ctx, "aggs.delivery_metrics", trace.WithAttributes(
		attribute.String("devlens.tenant", f.Tenant),
		attribute.String("devlens.calculation", string(f.Calculation)),
	))
	defer span.End()

	var zero model.PaginatedResult[model.AggregationResult]
	stmt, err := querybuilder.BuildDoraStatement(ctx, f, s.reg, profile)
	if err != nil {
		return zero, err
	}
	records, total, err := s.run(ctx, stmt)
	if err != nil {
		return zero, err
	}
	if f.Across == filters.DimensionNone {
		if len(records) == 0 {
			records = []model.AggregationResult{{Key: string(f.Calculation)}}
		} else {
			records[0].Key = string(f.Calculation)
		}
		return model.NewPaginatedResult(records, int64(len(records))), nil
	}
	return model.NewPaginatedResult(records, total), nil
}

// run executes one rendered statement with transient-error retry and maps the
// result set.
func (s *Service) run(ctx context.Context, stmt querybuilder.Statement) ([]model.AggregationResult, int64, error) {
	var (
		records []model.AggregationResult
		total   int64
	)
	start := time.Now()
	err := storage.WithRetry(ctx, s.retryAttempts, s.retryBaseDelay, func() error {
		rows, err := s.q.Query(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return err
		}
		records, total, err = mapAggregationRows(rows)
		return err
	})
	s.queryDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		s.logger.Warn("aggs: statement failed", "error", err)
		return nil, 0, fmt.Errorf("aggs: execute statement: %w", err)
	}
	return records, total, nil
}
