// Package stores persists remediation runs, the audit trail and the
// deployment log.
//
// Two backends implement Store: SQLiteStore (modernc.org/sqlite, WAL mode)
// for single-node installs and PostgresStore (pgx connection pool) for
// shared deployments. Both embed their schema and apply it with
// golang-migrate.
//
// Remediation runs are stored as a JSON document next to the columns they
// are filtered on. ClaimRemediationRun moves a pending run to in_progress in
// a single transaction so an approval executes a run at most once; a run
// whose TTL elapsed is persisted as expired instead.
package stores
