// Package service runs provisioning requests and remediation decisions
// against the orchestrator and records them in the audit and deployment logs.
// The HTTP API and the CLI share it.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudpilot/pkg/engine"
	"github.com/openfroyo/cloudpilot/pkg/stores"
	"github.com/openfroyo/cloudpilot/pkg/telemetry"
)

// ErrForbidden is returned when an actor decides a run owned by someone else.
var ErrForbidden = errors.New("remediation run belongs to another requester")

// Orchestrator is the subset of engine.Orchestrator the service drives.
type Orchestrator interface {
	ProcessRequest(ctx context.Context, payload *engine.RequestPayload) (*engine.WorkflowContext, error)
	ExecuteRemediationWithResume(ctx context.Context, run *engine.RemediationRun, approved bool) (*engine.RemediationResumeResult, error)
	ImprovePrompt(ctx context.Context, text, environment, region string) (*engine.PromptImprovement, error)
}

// RequestTracker is notified before a request enters the orchestrator.
type RequestTracker interface {
	RequestStarted(requestID string)
}

// Actor identifies who triggered an operation.
type Actor struct {
	Name      string
	IPAddress string

	// Privileged actors may decide runs they do not own.
	Privileged bool
}

// Decision is an approve or deny on a remediation run.
type Decision struct {
	RunID    string
	Approved bool
	Note     string
}

// DecisionResult is the persisted run plus the engine outcome.
type DecisionResult struct {
	Run    *engine.RemediationRun          `json:"run"`
	Result *engine.RemediationResumeResult `json:"result,omitempty"`
}

// Service wires the orchestrator to the store.
type Service struct {
	orch    Orchestrator
	store   stores.Store
	tracker RequestTracker
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a service. tracker may be nil.
func New(orch Orchestrator, store stores.Store, tracker RequestTracker, logger zerolog.Logger) *Service {
	return &Service{
		orch:    orch,
		store:   store,
		tracker: tracker,
		logger:  logger.With().Str("component", "service").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Process runs a provisioning request and records it.
func (s *Service) Process(ctx context.Context, actor Actor, payload *engine.RequestPayload) (*engine.WorkflowContext, error) {
	if payload == nil {
		return nil, engine.NewValidationError("request payload is required", nil).WithCode(engine.ErrCodeMalformedRequest)
	}
	if strings.TrimSpace(payload.RequestID) == "" {
		payload.RequestID = engine.NewRequestID()
	}
	if actor.Name != "" {
		payload.RequesterID = actor.Name
	}
	if s.tracker != nil {
		s.tracker.RequestStarted(payload.RequestID)
	}

	wf, err := s.orch.ProcessRequest(ctx, payload)
	if err != nil {
		s.audit(ctx, &stores.AuditEntry{
			Action:    stores.AuditRequestProcessed,
			Actor:     actor.Name,
			RequestID: payload.RequestID,
			Outcome:   "rejected",
			Details:   map[string]interface{}{"error": err.Error()},
			IPAddress: actor.IPAddress,
		})
		return nil, err
	}

	res := wf.ExecutionResult
	details := map[string]interface{}{
		"state":       string(wf.CurrentState),
		"environment": wf.Environment,
	}
	if wf.Intent != nil {
		details["action"] = string(wf.Intent.Action)
		details["resource_type"] = wf.Intent.ResourceType
	}
	if res != nil {
		details["execution_path"] = string(res.ExecutionPath)
		details["requires_input"] = res.RequiresInput
		if res.Error != "" {
			details["error"] = res.Error
		}
	}
	if wf.RemediationRun != nil {
		details["remediation_run_id"] = wf.RemediationRun.RunID
	}
	s.audit(ctx, &stores.AuditEntry{
		Action:    stores.AuditRequestProcessed,
		Actor:     actor.Name,
		TargetID:  wf.RequestID,
		RequestID: wf.RequestID,
		Outcome:   outcomeOf(res),
		Details:   details,
		IPAddress: actor.IPAddress,
	})

	s.recordDeployment(ctx, wf.RequestID, wf.RequesterID, wf.Environment, wf.Intent, res, nil)
	return wf, nil
}

// ImprovePrompt proposes a better-structured request text.
func (s *Service) ImprovePrompt(ctx context.Context, text, environment, region string) (*engine.PromptImprovement, error) {
	return s.orch.ImprovePrompt(ctx, text, environment, region)
}

// GetRun returns a run the actor may see.
func (s *Service) GetRun(ctx context.Context, actor Actor, runID string) (*engine.RemediationRun, error) {
	run, err := s.store.GetRemediationRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !canAccess(actor, run) {
		return nil, ErrForbidden
	}
	return run, nil
}

// Decide claims the run, hands it to the orchestrator and persists the result.
func (s *Service) Decide(ctx context.Context, actor Actor, d Decision) (*DecisionResult, error) {
	logger := telemetry.ForRequest(s.logger, "", d.RunID).With().Str("actor", actor.Name).Logger()

	existing, err := s.store.GetRemediationRun(ctx, d.RunID)
	if err != nil {
		return nil, err
	}
	if !canAccess(actor, existing) {
		return nil, ErrForbidden
	}

	run, err := s.store.ClaimRemediationRun(ctx, d.RunID, s.now())
	if err != nil {
		action := stores.AuditRemediationDenied
		if d.Approved {
			action = stores.AuditRemediationApproved
		}
		if errors.Is(err, stores.ErrRunExpired) {
			action = stores.AuditRemediationExpired
		}
		s.audit(ctx, &stores.AuditEntry{
			Action:    action,
			Actor:     actor.Name,
			TargetID:  d.RunID,
			RequestID: existing.RequestID,
			Outcome:   "rejected",
			Details:   map[string]interface{}{"error": err.Error()},
			IPAddress: actor.IPAddress,
		})
		logger.Warn().Err(err).Msg("Remediation run not claimable")
		return nil, err
	}

	result, execErr := s.orch.ExecuteRemediationWithResume(ctx, run, d.Approved)

	// A decision that did not move the run leaves it open for another one.
	if run.Status == engine.RemediationInProgress {
		run.Status = engine.RemediationPendingApproval
		run.UpdatedAt = s.now()
	}
	if err := s.store.UpdateRemediationRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist remediation run %s: %w", run.RunID, err)
	}

	action := stores.AuditRemediationDenied
	if d.Approved {
		action = stores.AuditRemediationApproved
	}
	details := map[string]interface{}{
		"status":   string(run.Status),
		"attempts": run.Attempts,
	}
	if run.Plan != nil {
		details["rule_id"] = run.Plan.RuleID
	}
	if d.Note != "" {
		details["note"] = d.Note
	}
	if execErr != nil {
		details["error"] = execErr.Error()
	} else if result != nil && result.Error != "" {
		details["error"] = result.Error
	}
	s.audit(ctx, &stores.AuditEntry{
		Action:    action,
		Actor:     actor.Name,
		TargetID:  run.RunID,
		RequestID: run.RequestID,
		Outcome:   string(run.Status),
		Details:   details,
		IPAddress: actor.IPAddress,
	})

	if execErr != nil {
		return &DecisionResult{Run: run, Result: result}, execErr
	}

	if result != nil && result.ExecutionResult != nil {
		snapshot := run.RequestSnapshot
		s.recordDeployment(ctx, run.RequestID, snapshot.RequesterID, snapshot.Environment, result.Intent, result.ExecutionResult, map[string]interface{}{
			"remediation_run_id": run.RunID,
		})
	}

	logger.Info().Bool("approved", d.Approved).Str("status", string(run.Status)).Msg("Remediation decided")
	return &DecisionResult{Run: run, Result: result}, nil
}

// ExpireRuns marks overdue pending runs as expired.
func (s *Service) ExpireRuns(ctx context.Context, actor Actor) (int64, error) {
	n, err := s.store.ExpireRemediationRuns(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.audit(ctx, &stores.AuditEntry{
			Action:    stores.AuditRemediationExpired,
			Actor:     actor.Name,
			Outcome:   "expired",
			Details:   map[string]interface{}{"count": n},
			IPAddress: actor.IPAddress,
		})
	}
	return n, nil
}

// ListRuns lists remediation runs.
func (s *Service) ListRuns(ctx context.Context, filter stores.RunFilter) ([]*engine.RemediationRun, error) {
	return s.store.ListRemediationRuns(ctx, filter)
}

// ListAudit lists audit entries.
func (s *Service) ListAudit(ctx context.Context, filter stores.AuditFilter) ([]*stores.AuditEntry, error) {
	return s.store.ListAuditEntries(ctx, filter)
}

// ListDeployments lists recorded deployments.
func (s *Service) ListDeployments(ctx context.Context, limit, offset int) ([]*stores.Deployment, error) {
	return s.store.ListDeployments(ctx, limit, offset)
}

// RecordLogin audits a login attempt.
func (s *Service) RecordLogin(ctx context.Context, actor Actor, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	s.audit(ctx, &stores.AuditEntry{
		Action:    stores.AuditLogin,
		Actor:     actor.Name,
		Outcome:   outcome,
		IPAddress: actor.IPAddress,
	})
}

// Ready checks the store.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}

func (s *Service) recordDeployment(ctx context.Context, requestID, requester, environment string, intent *engine.Intent, res *engine.ExecutionResult, extra map[string]interface{}) {
	if res == nil || !res.Success || res.RequiresInput {
		return
	}
	action := res.Action
	resourceType := res.ResourceType
	resourceName := res.ResourceName
	region := res.Region
	if intent != nil {
		if action == "" {
			action = intent.Action
		}
		if resourceType == "" {
			resourceType = intent.ResourceType
		}
		if resourceName == "" {
			resourceName = intent.ResourceName
		}
		if region == "" {
			region = intent.Region
		}
	}
	if !action.IsMutating() && action != engine.ActionDeploy {
		return
	}

	details := map[string]interface{}{}
	if res.FinalOutcome != "" {
		details["final_outcome"] = res.FinalOutcome
	}
	if res.AutoHealed {
		details["auto_healed"] = true
	}
	for k, v := range extra {
		details[k] = v
	}

	d := &stores.Deployment{
		ID:            uuid.NewString(),
		RequestID:     requestID,
		RequesterID:   requester,
		Environment:   environment,
		Action:        string(action),
		ResourceType:  resourceType,
		ResourceName:  resourceName,
		Region:        region,
		ExecutionPath: string(res.ExecutionPath),
		Status:        "completed",
		Details:       details,
		CreatedAt:     s.now(),
	}
	if err := s.store.RecordDeployment(ctx, d); err != nil {
		logger := telemetry.ForRequest(s.logger, requestID, "")
		logger.Error().Err(err).Msg("Failed to record deployment")
	}
}

func (s *Service) audit(ctx context.Context, entry *stores.AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("action", entry.Action).Msg("Failed to append audit entry")
	}
}

func canAccess(actor Actor, run *engine.RemediationRun) bool {
	return actor.Privileged || run.OwnerID == "" || run.OwnerID == actor.Name
}

func outcomeOf(res *engine.ExecutionResult) string {
	switch {
	case res == nil:
		return "failed"
	case res.RequiresInput:
		return "needs_input"
	case res.Pending:
		return "pending"
	case res.Success:
		return "success"
	default:
		return "failed"
	}
}

// RedactRun returns a copy of the run without the snapshot's credentials.
func RedactRun(run *engine.RemediationRun) *engine.RemediationRun {
	if run == nil {
		return nil
	}
	out := *run
	out.RequestSnapshot.Credentials = out.RequestSnapshot.Credentials.Redacted()
	if len(out.RequestSnapshot.InputVariables) > 0 {
		vars := make(map[string]interface{}, len(out.RequestSnapshot.InputVariables))
		for k, v := range out.RequestSnapshot.InputVariables {
			if engine.IsCredentialVariable(k) {
				v = "****"
			}
			vars[k] = v
		}
		out.RequestSnapshot.InputVariables = vars
	}
	return &out
}
