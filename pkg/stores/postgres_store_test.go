package stores

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// setupPostgresStore connects to CLOUDPILOT_TEST_POSTGRES_DSN or skips.
func setupPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := os.Getenv("CLOUDPILOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CLOUDPILOT_TEST_POSTGRES_DSN not set")
	}

	store, err := NewPostgresStore(PostgresConfig{URL: dsn, MaxConns: 4})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	if _, err := store.pool.Exec(ctx, "TRUNCATE remediation_runs, audit_log, deployments"); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewPostgresStore_RequiresURL(t *testing.T) {
	if _, err := NewPostgresStore(PostgresConfig{}); err == nil {
		t.Error("Expected error for empty url")
	}
}

func TestPostgresStore_RemediationRuns(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := store.CreateRemediationRun(ctx, newTestRun("pg-run", now)); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	stale := newTestRun("pg-stale", now.Add(-2*time.Hour))
	if err := store.CreateRemediationRun(ctx, stale); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	run, err := store.ClaimRemediationRun(ctx, "pg-run", now)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if run.Status != engine.RemediationInProgress {
		t.Errorf("Expected in_progress, got %s", run.Status)
	}
	if _, err := store.ClaimRemediationRun(ctx, "pg-run", now); !errors.Is(err, ErrRunConsumed) {
		t.Errorf("Expected ErrRunConsumed, got %v", err)
	}

	n, err := store.ExpireRemediationRuns(ctx, now)
	if err != nil {
		t.Fatalf("failed to expire runs: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 expired run, got %d", n)
	}
	expired, err := store.GetRemediationRun(ctx, "pg-stale")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if expired.Status != engine.RemediationExpired {
		t.Errorf("Expected expired document status, got %s", expired.Status)
	}

	runs, err := store.ListRemediationRuns(ctx, RunFilter{Status: engine.RemediationExpired})
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "pg-stale" {
		t.Errorf("Expected pg-stale only, got %d runs", len(runs))
	}
}

func TestPostgresStore_AuditAndDeployments(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	entry := &AuditEntry{Action: AuditRequestProcessed, Actor: "alice", RequestID: "req-1", Outcome: "success"}
	if err := store.AppendAudit(ctx, entry); err != nil {
		t.Fatalf("failed to append audit entry: %v", err)
	}
	if entry.ID == 0 {
		t.Error("Expected audit entry ID to be set")
	}
	entries, err := store.ListAuditEntries(ctx, AuditFilter{Actor: "alice"})
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 entry, got %d", len(entries))
	}

	d := &Deployment{ID: "dep-1", RequestID: "req-1", Action: "create", ResourceType: "s3", Status: "success"}
	if err := store.RecordDeployment(ctx, d); err != nil {
		t.Fatalf("failed to record deployment: %v", err)
	}
	deployments, err := store.ListDeployments(ctx, 0, 0)
	if err != nil {
		t.Fatalf("failed to list deployments: %v", err)
	}
	if len(deployments) != 1 || deployments[0].ResourceType != "s3" {
		t.Errorf("Unexpected deployments: %+v", deployments)
	}
}
