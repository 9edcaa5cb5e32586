package stores

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// PostgresStore implements the Store interface on PostgreSQL.
type PostgresStore struct {
	url      string
	maxConns int32
	pool     *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// PostgresConfig holds PostgreSQL store configuration.
type PostgresConfig struct {
	URL      string
	MaxConns int32
}

// NewPostgresStore creates a new PostgreSQL store instance.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	return &PostgresStore{url: cfg.URL, maxConns: cfg.MaxConns}, nil
}

// Init opens the connection pool.
func (s *PostgresStore) Init(ctx context.Context) error {
	config, err := pgxpool.ParseConfig(s.url)
	if err != nil {
		return fmt.Errorf("failed to parse database URL: %w", err)
	}
	if s.maxConns > 0 {
		config.MaxConns = s.maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.pool = pool
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Migrate runs the embedded migrations.
func (s *PostgresStore) Migrate(_ context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// CreateRemediationRun stores a new run.
func (s *PostgresStore) CreateRemediationRun(ctx context.Context, run *engine.RemediationRun) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode remediation run: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO remediation_runs (
			run_id, request_id, owner_id, status, attempts, max_attempts,
			document, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.RunID, run.RequestID, run.OwnerID, string(run.Status), run.Attempts, run.MaxAttempts,
		doc, run.ExpiresAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create remediation run: %w", err)
	}
	return nil
}

// GetRemediationRun retrieves a run by ID.
func (s *PostgresStore) GetRemediationRun(ctx context.Context, runID string) (*engine.RemediationRun, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM remediation_runs WHERE run_id = $1`, runID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("remediation run", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get remediation run: %w", err)
	}
	return decodeRun(doc)
}

// ClaimRemediationRun locks the run row and marks it in_progress.
func (s *PostgresStore) ClaimRemediationRun(ctx context.Context, runID string, now time.Time) (*engine.RemediationRun, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var doc []byte
	err = tx.QueryRow(ctx, `SELECT document FROM remediation_runs WHERE run_id = $1 FOR UPDATE`, runID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("remediation run", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get remediation run: %w", err)
	}
	run, err := decodeRun(doc)
	if err != nil {
		return nil, err
	}

	claimErr := Claimable(run, now)
	switch {
	case claimErr == nil:
		run.Status = engine.RemediationInProgress
	case errors.Is(claimErr, ErrRunExpired) && run.Status != engine.RemediationExpired:
		run.Status = engine.RemediationExpired
	default:
		return run, claimErr
	}
	run.UpdatedAt = now

	if err := updatePostgresRun(ctx, tx, run); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return run, claimErr
}

// UpdateRemediationRun persists the run as decided by the engine.
func (s *PostgresStore) UpdateRemediationRun(ctx context.Context, run *engine.RemediationRun) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := updatePostgresRun(ctx, tx, run); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func updatePostgresRun(ctx context.Context, tx pgx.Tx, run *engine.RemediationRun) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode remediation run: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE remediation_runs
		SET status = $1, attempts = $2, max_attempts = $3, document = $4, expires_at = $5, updated_at = $6
		WHERE run_id = $7`,
		string(run.Status), run.Attempts, run.MaxAttempts, doc, run.ExpiresAt, run.UpdatedAt, run.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to update remediation run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("remediation run", run.RunID)
	}
	return nil
}

// ListRemediationRuns lists runs, newest first.
func (s *PostgresStore) ListRemediationRuns(ctx context.Context, filter RunFilter) ([]*engine.RemediationRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT document
		FROM remediation_runs
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR request_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		string(filter.Status), filter.RequestID, limitOrDefault(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list remediation runs: %w", err)
	}
	defer rows.Close()

	runs := []*engine.RemediationRun{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan remediation run: %w", err)
		}
		run, err := decodeRun(doc)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remediation runs: %w", err)
	}
	return runs, nil
}

// ExpireRemediationRuns marks every pending run past its TTL as expired.
func (s *PostgresStore) ExpireRemediationRuns(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE remediation_runs
		SET status = $1,
		    updated_at = $2,
		    document = jsonb_set(jsonb_set(document, '{status}', to_jsonb($1::text)), '{updated_at}', to_jsonb($2::timestamptz))
		WHERE status = $3 AND expires_at < $2`,
		string(engine.RemediationExpired), now, string(engine.RemediationPendingApproval),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire remediation runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AppendAudit appends an entry to the audit trail and sets its ID.
func (s *PostgresStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	details, err := encodeDetails(entry.Details)
	if err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO audit_log (action, actor, target_id, request_id, outcome, details, ip_address, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		entry.Action, entry.Actor, entry.TargetID, entry.RequestID, entry.Outcome,
		details, entry.IPAddress, entry.Timestamp,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries lists audit entries, newest first.
func (s *PostgresStore) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, action, actor, target_id, request_id, outcome, details, ip_address, timestamp
		FROM audit_log
		WHERE ($1 = '' OR action = $1)
		  AND ($2 = '' OR actor = $2)
		  AND ($3 = '' OR request_id = $3)
		ORDER BY id DESC
		LIMIT $4 OFFSET $5`,
		filter.Action, filter.Actor, filter.RequestID, limitOrDefault(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		var details []byte
		err := rows.Scan(
			&entry.ID, &entry.Action, &entry.Actor, &entry.TargetID, &entry.RequestID,
			&entry.Outcome, &details, &entry.IPAddress, &entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if entry.Details, err = decodeDetails(details); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}

// RecordDeployment stores a deployment record.
func (s *PostgresStore) RecordDeployment(ctx context.Context, d *Deployment) error {
	details, err := encodeDetails(d.Details)
	if err != nil {
		return err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO deployments (
			id, request_id, requester_id, environment, action, resource_type,
			resource_name, region, execution_path, status, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.RequestID, d.RequesterID, d.Environment, d.Action, d.ResourceType,
		d.ResourceName, d.Region, d.ExecutionPath, d.Status, details, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record deployment: %w", err)
	}
	return nil
}

// ListDeployments lists deployments, newest first.
func (s *PostgresStore) ListDeployments(ctx context.Context, limit, offset int) ([]*Deployment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, request_id, requester_id, environment, action, resource_type,
		       resource_name, region, execution_path, status, details, created_at
		FROM deployments
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`,
		limitOrDefault(limit), offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	deployments := []*Deployment{}
	for rows.Next() {
		d := &Deployment{}
		var details []byte
		err := rows.Scan(
			&d.ID, &d.RequestID, &d.RequesterID, &d.Environment, &d.Action, &d.ResourceType,
			&d.ResourceName, &d.Region, &d.ExecutionPath, &d.Status, &details, &d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		if d.Details, err = decodeDetails(details); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}
	return deployments, nil
}
