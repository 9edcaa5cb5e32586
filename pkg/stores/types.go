package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRunExpired is returned when a remediation run's TTL has elapsed.
	ErrRunExpired = errors.New("remediation run expired")

	// ErrAttemptsExhausted is returned when a run reached its attempt ceiling.
	ErrAttemptsExhausted = errors.New("remediation attempts exhausted")

	// ErrRunConsumed is returned when a run was already decided or is being executed.
	ErrRunConsumed = errors.New("remediation run already consumed")
)

// Audit actions written by the API and CLI.
const (
	AuditRequestProcessed    = "request.processed"
	AuditRemediationApproved = "remediation.approved"
	AuditRemediationDenied   = "remediation.denied"
	AuditRemediationExpired  = "remediation.expired"
	AuditLogin               = "auth.login"
)

// AuditEntry represents an audit trail entry.
type AuditEntry struct {
	ID        int64                  `json:"id"`
	Action    string                 `json:"action"`
	Actor     string                 `json:"actor"`
	TargetID  string                 `json:"target_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Outcome   string                 `json:"outcome,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// AuditFilter selects audit entries. Empty fields match everything.
type AuditFilter struct {
	Action    string
	Actor     string
	RequestID string
	Limit     int
	Offset    int
}

// Deployment records a successful mutating action.
type Deployment struct {
	ID            string                 `json:"id"`
	RequestID     string                 `json:"request_id"`
	RequesterID   string                 `json:"requester_id"`
	Environment   string                 `json:"environment"`
	Action        string                 `json:"action"`
	ResourceType  string                 `json:"resource_type"`
	ResourceName  string                 `json:"resource_name,omitempty"`
	Region        string                 `json:"region,omitempty"`
	ExecutionPath string                 `json:"execution_path,omitempty"`
	Status        string                 `json:"status"`
	Details       map[string]interface{} `json:"details,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// RunFilter selects remediation runs. Empty fields match everything.
type RunFilter struct {
	Status    engine.RemediationStatus
	RequestID string
	Limit     int
	Offset    int
}

// RunStore persists remediation runs offered for approval.
type RunStore interface {
	CreateRemediationRun(ctx context.Context, run *engine.RemediationRun) error
	GetRemediationRun(ctx context.Context, runID string) (*engine.RemediationRun, error)

	// ClaimRemediationRun marks a pending run in_progress so that only one
	// decision executes it. It fails with ErrRunExpired, ErrRunConsumed or
	// ErrAttemptsExhausted; an expired run is persisted as expired.
	ClaimRemediationRun(ctx context.Context, runID string, now time.Time) (*engine.RemediationRun, error)

	// UpdateRemediationRun persists the run as decided by the engine.
	UpdateRemediationRun(ctx context.Context, run *engine.RemediationRun) error

	ListRemediationRuns(ctx context.Context, filter RunFilter) ([]*engine.RemediationRun, error)

	// ExpireRemediationRuns marks every pending run past its TTL as expired.
	ExpireRemediationRuns(ctx context.Context, now time.Time) (int64, error)
}

// AuditLog is the append-only audit trail.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// DeploymentLog records successful mutating actions.
type DeploymentLog interface {
	RecordDeployment(ctx context.Context, d *Deployment) error
	ListDeployments(ctx context.Context, limit, offset int) ([]*Deployment, error)
}

// Store defines the interface for the persistence layer.
type Store interface {
	RunStore
	AuditLog
	DeploymentLog

	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Close() error
}

var _ engine.RunRecorder = Store(nil)

// Claimable reports why a run cannot be decided at now, or nil.
func Claimable(run *engine.RemediationRun, now time.Time) error {
	switch {
	case run.Status == engine.RemediationExpired:
		return ErrRunExpired
	case run.Status.IsTerminal() || run.Status == engine.RemediationInProgress:
		return ErrRunConsumed
	case run.IsExpired(now):
		return ErrRunExpired
	case run.MaxAttempts > 0 && run.Attempts >= run.MaxAttempts:
		return ErrAttemptsExhausted
	}
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

func encodeDetails(details map[string]interface{}) (string, error) {
	if details == nil {
		return "{}", nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("failed to encode details: %w", err)
	}
	return string(data), nil
}

func decodeDetails(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var details map[string]interface{}
	if err := json.Unmarshal(data, &details); err != nil {
		return nil, fmt.Errorf("failed to decode details: %w", err)
	}
	if len(details) == 0 {
		return nil, nil
	}
	return details, nil
}

func decodeRun(data []byte) (*engine.RemediationRun, error) {
	run := &engine.RemediationRun{}
	if err := json.Unmarshal(data, run); err != nil {
		return nil, fmt.Errorf("failed to decode remediation run: %w", err)
	}
	return run, nil
}
