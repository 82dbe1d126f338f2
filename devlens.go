// Package devlens is the public API for embedding the devlens aggregation
// engine: a filter-to-SQL compiler over multi-tenant engineering analytics
// data (issues, pull requests, defects, test runs, CI/CD pipeline runs).
//
// Consumers construct a Client, build a filter for one data family, and run
// an aggregation:
//
//	client, err := devlens.New(devlens.WithLogger(logger))
//	if err != nil { ... }
//	defer client.Close()
//
//	f, err := devlens.NewIssueFilter("acme").
//	    Integrations("1").
//	    Include(devlens.FieldStatus, "In Progress").
//	    Across(devlens.FieldAssignee).
//	    Calculation(devlens.CalcTicketCount).
//	    Build()
//	if err != nil { ... }
//	page, err := client.Aggregate(ctx, f)
//
// The import graph enforces a strict no-cycle rule: devlens (root) imports
// internal/*, but internal/* never imports devlens (root).
package devlens

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/devlens-io/devlens/internal/aggs"
	"github.com/devlens-io/devlens/internal/config"
	"github.com/devlens-io/devlens/internal/filters"
	"github.com/devlens-io/devlens/internal/model"
	"github.com/devlens-io/devlens/internal/orgunits"
	"github.com/devlens-io/devlens/internal/querybuilder"
	"github.com/devlens-io/devlens/internal/registry"
	"github.com/devlens-io/devlens/internal/storage"
	"github.com/devlens-io/devlens/internal/telemetry"
)

// Filter building surface, re-exported so embedding consumers never import
// internal packages.
type (
	Filter            = filters.Filter
	Criteria          = filters.Criteria
	Builder           = filters.Builder
	Field             = filters.Field
	Match             = filters.Match
	Range             = filters.Range
	CalcKind          = filters.CalcKind
	SortOrder         = filters.SortOrder
	AggregationResult = model.AggregationResult
	PaginatedResult   = model.PaginatedResult[model.AggregationResult]
	VelocityConfig    = model.VelocityConfig
	Stage             = model.Stage
	StageEvent        = model.StageEvent
	DoraProfile       = querybuilder.DoraProfile
	OrgUnit           = orgunits.Config
	OrgUnitSection    = orgunits.Section
	FieldDef          = registry.FieldDef
	FieldLoader       = registry.Loader
)

// ErrInvalidFilter marks request errors; match with errors.Is.
var ErrInvalidFilter = filters.ErrInvalidFilter

// Commonly used filter constants, re-exported.
const (
	DimensionNone        = filters.DimensionNone
	DimensionCustomField = filters.DimensionCustomField

	Ascending  = filters.Ascending
	Descending = filters.Descending

	FieldProject    = filters.FieldProject
	FieldIssueType  = filters.FieldIssueType
	FieldStatus     = filters.FieldStatus
	FieldPriority   = filters.FieldPriority
	FieldAssignee   = filters.FieldAssignee
	FieldReporter   = filters.FieldReporter
	FieldLabel      = filters.FieldLabel
	FieldComponent  = filters.FieldComponent
	FieldFixVersion = filters.FieldFixVersion

	CalcTicketCount        = filters.CalcTicketCount
	CalcResolutionTime     = filters.CalcResolutionTime
	CalcResponseTime       = filters.CalcResponseTime
	CalcBounces            = filters.CalcBounces
	CalcHops               = filters.CalcHops
	CalcAge                = filters.CalcAge
	CalcStoryPoints        = filters.CalcStoryPoints
	CalcVelocityStageTimes = filters.CalcVelocityStageTimes
	CalcLeadTimeForChanges = filters.CalcLeadTimeForChanges
	CalcMeanTimeToRecover  = filters.CalcMeanTimeToRecover
)

// Per-family filter builders.
func NewIssueFilter(tenant string) *Builder       { return filters.NewIssueFilter(tenant) }
func NewPullRequestFilter(tenant string) *Builder { return filters.NewPullRequestFilter(tenant) }
func NewDefectFilter(tenant string) *Builder      { return filters.NewDefectFilter(tenant) }
func NewTestRunFilter(tenant string) *Builder     { return filters.NewTestRunFilter(tenant) }
func NewPipelineRunFilter(tenant string) *Builder { return filters.NewPipelineRunFilter(tenant) }
func NewWorkItemFilter(tenant string) *Builder    { return filters.NewWorkItemFilter(tenant) }

// MergeOrgUnit intersects an org unit's filter sections into a filter.
func MergeOrgUnit(f Filter, ou OrgUnit) (Filter, error) {
	return orgunits.Merge(f, ou)
}

// Client is the embeddable aggregation engine. Construct with New(), release
// with Close().
type Client struct {
	cfg          config.Config
	db           *storage.DB
	svc          *aggs.Service
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the client: loads configuration, connects to the database,
// and wires the aggregation service. It does not start any goroutines.
func New(opts ...Option) (*Client, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.stackWorkers > 0 {
		cfg.StackWorkers = o.stackWorkers
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("devlens starting", "version", version)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	loader := o.fieldLoader
	if loader == nil {
		// No loader configured: every custom-field key is unknown, which
		// compiles to match-nothing predicates rather than errors.
		loader = registry.LoaderFunc(func(context.Context, string) ([]registry.FieldDef, error) {
			return nil, nil
		})
	}
	reg := registry.New(loader, cfg.RegistryTTL)

	svc := aggs.New(db.Pool(), reg, logger,
		aggs.WithStackWorkers(cfg.StackWorkers),
		aggs.WithRetryPolicy(cfg.RetryAttempts, cfg.RetryBaseDelay),
	)

	return &Client{
		cfg:          cfg,
		db:           db,
		svc:          svc,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Aggregate runs a count or percentile aggregation, including stacking when
// the filter requests it.
func (c *Client) Aggregate(ctx context.Context, f Filter) (PaginatedResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()
	return c.svc.Aggregate(ctx, f)
}

// VelocityStageTimes runs the velocity stage-times report.
func (c *Client) VelocityStageTimes(ctx context.Context, f Filter, cfg VelocityConfig) (PaginatedResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()
	return c.svc.VelocityStageTimes(ctx, f, cfg)
}

// DeliveryMetrics runs a lead-time-for-changes or mean-time-to-recover
// calculation against the profile. The filter's across dimension groups and
// bands per bucket; across none yields one row keyed by the calculation.
func (c *Client) DeliveryMetrics(ctx context.Context, f Filter, profile DoraProfile) (PaginatedResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()
	return c.svc.DeliveryMetrics(ctx, f, profile)
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.Ping(ctx)
}

// Close releases the database pool and flushes telemetry.
func (c *Client) Close() {
	c.db.Close()
	_ = c.otelShutdown(context.Background())
	c.logger.Info("devlens stopped")
}
