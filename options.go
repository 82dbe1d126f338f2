package devlens

import (
	"log/slog"

	"github.com/devlens-io/devlens/internal/registry"
)

// Option configures a Client at construction time. Options override the
// environment-derived configuration.
type Option func(*resolvedOptions)

type resolvedOptions struct {
	databaseURL  string
	logger       *slog.Logger
	version      string
	fieldLoader  registry.Loader
	stackWorkers int
}

// WithDatabaseURL overrides DATABASE_URL.
func WithDatabaseURL(dsn string) Option {
	return func(o *resolvedOptions) { o.databaseURL = dsn }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithFieldLoader sets the per-tenant custom-field definition loader. Without
// one, every custom-field key is treated as unknown.
func WithFieldLoader(loader FieldLoader) Option {
	return func(o *resolvedOptions) { o.fieldLoader = loader }
}

// WithStackWorkers caps concurrent nested stack sub-queries.
func WithStackWorkers(n int) Option {
	return func(o *resolvedOptions) { o.stackWorkers = n }
}
