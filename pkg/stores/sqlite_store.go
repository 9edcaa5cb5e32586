package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/cloudpilot/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// every connection to :memory: opens its own database
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}

// CreateRemediationRun stores a new run.
func (s *SQLiteStore) CreateRemediationRun(ctx context.Context, run *engine.RemediationRun) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode remediation run: %w", err)
	}

	query := `
		INSERT INTO remediation_runs (
			run_id, request_id, owner_id, status, attempts, max_attempts,
			document, expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		run.RunID,
		run.RequestID,
		run.OwnerID,
		string(run.Status),
		run.Attempts,
		run.MaxAttempts,
		string(doc),
		run.ExpiresAt.UTC(),
		run.CreatedAt.UTC(),
		run.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create remediation run: %w", err)
	}

	return nil
}

// GetRemediationRun retrieves a run by ID.
func (s *SQLiteStore) GetRemediationRun(ctx context.Context, runID string) (*engine.RemediationRun, error) {
	return getSQLiteRun(ctx, s.db, runID)
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func getSQLiteRun(ctx context.Context, q sqliteQuerier, runID string) (*engine.RemediationRun, error) {
	var doc string
	err := q.QueryRowContext(ctx, `SELECT document FROM remediation_runs WHERE run_id = ?`, runID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("remediation run", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get remediation run: %w", err)
	}
	return decodeRun([]byte(doc))
}

func updateSQLiteRun(ctx context.Context, q sqliteQuerier, run *engine.RemediationRun) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode remediation run: %w", err)
	}

	query := `
		UPDATE remediation_runs
		SET status = ?, attempts = ?, max_attempts = ?, document = ?, expires_at = ?, updated_at = ?
		WHERE run_id = ?
	`

	result, err := q.ExecContext(ctx, query,
		string(run.Status),
		run.Attempts,
		run.MaxAttempts,
		string(doc),
		run.ExpiresAt.UTC(),
		run.UpdatedAt.UTC(),
		run.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to update remediation run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound("remediation run", run.RunID)
	}
	return nil
}

// ClaimRemediationRun marks a pending run in_progress inside a transaction.
func (s *SQLiteStore) ClaimRemediationRun(ctx context.Context, runID string, now time.Time) (*engine.RemediationRun, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	run, err := getSQLiteRun(ctx, tx, runID)
	if err != nil {
		return nil, err
	}

	if claimErr := Claimable(run, now); claimErr != nil {
		if errors.Is(claimErr, ErrRunExpired) && run.Status != engine.RemediationExpired {
			run.Status = engine.RemediationExpired
			run.UpdatedAt = now
			if err := updateSQLiteRun(ctx, tx, run); err != nil {
				return nil, err
			}
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("failed to commit transaction: %w", err)
			}
		}
		return run, claimErr
	}

	run.Status = engine.RemediationInProgress
	run.UpdatedAt = now
	if err := updateSQLiteRun(ctx, tx, run); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return run, nil
}

// UpdateRemediationRun persists the run as decided by the engine.
func (s *SQLiteStore) UpdateRemediationRun(ctx context.Context, run *engine.RemediationRun) error {
	return updateSQLiteRun(ctx, s.db, run)
}

// ListRemediationRuns lists runs, newest first.
func (s *SQLiteStore) ListRemediationRuns(ctx context.Context, filter RunFilter) ([]*engine.RemediationRun, error) {
	query := `
		SELECT document
		FROM remediation_runs
		WHERE (? = '' OR status = ?)
		  AND (? = '' OR request_id = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	status := string(filter.Status)
	rows, err := s.db.QueryContext(ctx, query,
		status, status,
		filter.RequestID, filter.RequestID,
		limitOrDefault(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list remediation runs: %w", err)
	}
	defer rows.Close()

	runs := []*engine.RemediationRun{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan remediation run: %w", err)
		}
		run, err := decodeRun([]byte(doc))
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
func (s *SQLiteStore) ExpireRemediationRuns(ctx context.Context, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT document FROM remediation_runs WHERE status = ?`, string(engine.RemediationPendingApproval))
	if err != nil {
		return 0, fmt.Errorf("failed to query pending runs: %w", err)
	}

	var expired []*engine.RemediationRun
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan remediation run: %w", err)
		}
		run, err := decodeRun([]byte(doc))
		if err != nil {
			rows.Close()
			return 0, err
		}
		if run.IsExpired(now) {
			expired = append(expired, run)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("error iterating remediation runs: %w", err)
	}
	rows.Close()

	for _, run := range expired {
		run.Status = engine.RemediationExpired
		run.UpdatedAt = now
		if err := updateSQLiteRun(ctx, tx, run); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int64(len(expired)), nil
}

// AppendAudit appends an entry to the audit trail and sets its ID.
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	details, err := encodeDetails(entry.Details)
	if err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_log (action, actor, target_id, request_id, outcome, details, ip_address, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.RequestID,
		entry.Outcome,
		details,
		entry.IPAddress,
		entry.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry id: %w", err)
	}
	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries, newest first.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, request_id, outcome, details, ip_address, timestamp
		FROM audit_log
		WHERE (? = '' OR action = ?)
		  AND (? = '' OR actor = ?)
		  AND (? = '' OR request_id = ?)
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.Action, filter.Action,
		filter.Actor, filter.Actor,
		filter.RequestID, filter.RequestID,
		limitOrDefault(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		var details string
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.RequestID,
			&entry.Outcome,
			&details,
			&entry.IPAddress,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if entry.Details, err = decodeDetails([]byte(details)); err != nil {
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
func (s *SQLiteStore) RecordDeployment(ctx context.Context, d *Deployment) error {
	details, err := encodeDetails(d.Details)
	if err != nil {
		return err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO deployments (
			id, request_id, requester_id, environment, action, resource_type,
			resource_name, region, execution_path, status, details, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		d.ID,
		d.RequestID,
		d.RequesterID,
		d.Environment,
		d.Action,
		d.ResourceType,
		d.ResourceName,
		d.Region,
		d.ExecutionPath,
		d.Status,
		details,
		d.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record deployment: %w", err)
	}

	return nil
}

// ListDeployments lists deployments, newest first.
func (s *SQLiteStore) ListDeployments(ctx context.Context, limit, offset int) ([]*Deployment, error) {
	query := `
		SELECT id, request_id, requester_id, environment, action, resource_type,
		       resource_name, region, execution_path, status, details, created_at
		FROM deployments
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limitOrDefault(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	deployments := []*Deployment{}
	for rows.Next() {
		d := &Deployment{}
		var details string
		err := rows.Scan(
			&d.ID,
			&d.RequestID,
			&d.RequesterID,
			&d.Environment,
			&d.Action,
			&d.ResourceType,
			&d.ResourceName,
			&d.Region,
			&d.ExecutionPath,
			&d.Status,
			&details,
			&d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		if d.Details, err = decodeDetails([]byte(details)); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}

	return deployments, nil
}
