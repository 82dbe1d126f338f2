// Package testutil provides shared test infrastructure for integration tests
// that require a Postgres container with tenant schemas provisioned.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartPostgres()
//	    defer tc.Terminate()
//	    testDB, _ = tc.NewTestDB(context.Background(), testutil.TestLogger())
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/devlens-io/devlens/internal/storage"
)

// TestContainer wraps a testcontainers container with a DSN for connecting.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// MustStartPostgres starts a Postgres container. Calls os.Exit(1) on failure
// (suitable for TestMain).
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "devlens",
			"POSTGRES_PASSWORD": "devlens",
			"POSTGRES_DB":       "devlens",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://devlens:devlens@%s:%s/devlens?sslmode=disable", host, port.Port())
	return &TestContainer{Container: container, DSN: dsn}
}

// NewTestDB creates a storage.DB connected to this container.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// ProvisionTenant creates the tenant schema and the analytics tables the
// aggregation layer queries. Production schema provisioning lives in the
// ingestion pipeline; tests provision a minimal equivalent here.
func ProvisionTenant(ctx context.Context, db *storage.DB, tenant string) error {
	q := `"` + strings.ReplaceAll(tenant, `"`, `""`) + `"`
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + q,
		`CREATE TABLE IF NOT EXISTS ` + q + `.issues (
			id UUID PRIMARY KEY,
			key TEXT NOT NULL,
			integration_id INT NOT NULL,
			ingested_at BIGINT NOT NULL,
			project TEXT NOT NULL DEFAULT '',
			issue_type TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			status_category TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT '',
			assignee_id UUID,
			assignee TEXT,
			reporter_id UUID,
			reporter TEXT,
			epic TEXT,
			parent_key TEXT,
			labels TEXT[] NOT NULL DEFAULT '{}',
			components TEXT[] NOT NULL DEFAULT '{}',
			versions TEXT[] NOT NULL DEFAULT '{}',
			fix_versions TEXT[] NOT NULL DEFAULT '{}',
			sprint_ids INT[] NOT NULL DEFAULT '{}',
			resolution TEXT,
			story_points DOUBLE PRECISION,
			bounces INT NOT NULL DEFAULT 0,
			hops INT NOT NULL DEFAULT 0,
			summary TEXT NOT NULL DEFAULT '',
			custom_fields JSONB NOT NULL DEFAULT '{}',
			issue_created_at BIGINT NOT NULL,
			issue_updated_at BIGINT NOT NULL DEFAULT 0,
			issue_due_at BIGINT,
			issue_resolved_at BIGINT,
			first_comment_at BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS ` + q + `.issue_statuses (
			issue_key TEXT NOT NULL,
			integration_id INT NOT NULL,
			status TEXT NOT NULL,
			start_time BIGINT NOT NULL,
			end_time BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS ` + q + `.issue_sprints (
			sprint_id INT NOT NULL,
			integration_id INT NOT NULL,
			name TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT '',
			start_date BIGINT,
			end_date BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS ` + q + `.issue_versions (
			name TEXT NOT NULL,
			integration_id INT NOT NULL,
			released BOOLEAN NOT NULL DEFAULT FALSE,
			start_date BIGINT,
			end_date BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS ` + q + `.issue_links (
			from_issue_key TEXT NOT NULL,
			to_issue_key TEXT NOT NULL,
			integration_id INT NOT NULL,
			relation TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + q + `.pull_requests (
			id UUID PRIMARY KEY,
			integration_id INT NOT NULL,
			ingested_at BIGINT NOT NULL,
			repo TEXT NOT NULL DEFAULT '',
			project TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			source_branch TEXT NOT NULL DEFAULT '',
			target_branch TEXT NOT NULL DEFAULT '',
			creator_id UUID,
			creator TEXT,
			labels TEXT[] NOT NULL DEFAULT '{}',
			pr_created_at BIGINT NOT NULL,
			pr_updated_at BIGINT NOT NULL DEFAULT 0,
			pr_merged_at BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS ` + q + `.defects (
			id UUID PRIMARY KEY,
			integration_id INT NOT NULL,
			ingested_at BIGINT NOT NULL,
			project TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			component TEXT NOT NULL DEFAULT '',
			first_detected_at BIGINT NOT NULL,
			last_detected_at BIGINT NOT NULL DEFAULT 0,
			resolved_at BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS ` + q + `.test_runs (
			id UUID PRIMARY KEY,
			integration_id INT NOT NULL,
			ingested_at BIGINT NOT NULL,
			project TEXT NOT NULL DEFAULT '',
			suite TEXT NOT NULL DEFAULT '',
			test_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			executed_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + q + `.pipeline_runs (
			id UUID PRIMARY KEY,
			integration_id INT NOT NULL,
			ingested_at BIGINT NOT NULL,
			job_name TEXT NOT NULL DEFAULT '',
			job_normalized_full_name TEXT NOT NULL DEFAULT '',
			instance_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			branch TEXT NOT NULL DEFAULT '',
			tags TEXT[] NOT NULL DEFAULT '{}',
			started_at BIGINT NOT NULL,
			finished_at BIGINT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Pool().Exec(ctx, stmt); err != nil {
			return fmt.Errorf("testutil: provision tenant %s: %w", tenant, err)
		}
	}
	return nil
}
