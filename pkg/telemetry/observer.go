package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// Observer turns workflow notifications into metrics, log lines and
// published events. It implements engine.Observer.
type Observer struct {
	metrics *Metrics
	events  *EventPublisher
	logger  zerolog.Logger
}

var _ engine.Observer = (*Observer)(nil)

// NewObserver returns an observer. metrics and events may be nil.
func NewObserver(metrics *Metrics, events *EventPublisher, logger zerolog.Logger) *Observer {
	if metrics == nil {
		metrics = &Metrics{}
	}
	if events == nil {
		events = NewEventPublisher(EventsConfig{})
	}
	return &Observer{
		metrics: metrics,
		events:  events,
		logger:  logger.With().Str("component", "telemetry").Logger(),
	}
}

// RequestStarted records a request entering the workflow. Callers pair it
// with the RequestFinished notification the orchestrator sends.
func (o *Observer) RequestStarted(requestID string) {
	o.metrics.RecordRequestStarted()
	o.logger.Debug().Str("request_id", requestID).Msg("Request started")
}

// PhaseChanged implements engine.Observer.
func (o *Observer) PhaseChanged(requestID, phase, status, detail string) {
	o.metrics.RecordPhase(phase, status)
	o.publish(Event{
		Type:      EventTypePhaseChanged,
		RequestID: requestID,
		Phase:     phase,
		Status:    status,
		Message:   detail,
	})
}

// StageFinished implements engine.Observer.
func (o *Observer) StageFinished(requestID, stage string, success bool, duration time.Duration) {
	o.metrics.RecordStage(stage, success, duration)

	status, level := "success", EventLevelInfo
	if !success {
		status, level = "failure", EventLevelWarning
	}
	o.publish(Event{
		Type:      EventTypeStageFinished,
		RequestID: requestID,
		Phase:     stage,
		Status:    status,
		Level:     level,
		Message:   fmt.Sprintf("Stage %s finished: %s", stage, status),
		Data:      map[string]interface{}{"duration": duration.Seconds()},
	})
}

// RequestFinished implements engine.Observer.
func (o *Observer) RequestFinished(requestID, state string, duration time.Duration) {
	o.metrics.RecordRequestFinished(state, duration)
	o.logger.Info().
		Str("request_id", requestID).
		Str("state", state).
		Dur("duration", duration).
		Msg("Request finished")

	level := EventLevelInfo
	if state == string(engine.StateFailed) {
		level = EventLevelError
	}
	o.publish(Event{
		Type:      EventTypeRequestFinished,
		RequestID: requestID,
		Status:    state,
		Level:     level,
		Message:   fmt.Sprintf("Request finished in state %s", state),
		Data:      map[string]interface{}{"duration": duration.Seconds()},
	})
}

// RemediationEvent implements engine.Observer.
func (o *Observer) RemediationEvent(requestID, runID, outcome string) {
	o.metrics.RecordRemediation(outcome)

	level := EventLevelInfo
	switch outcome {
	case engine.RemediationOutcomeFailed, engine.RemediationOutcomeAutoHealFailed:
		level = EventLevelError
	case engine.RemediationOutcomeApprovalRequested, engine.RemediationOutcomeExpired:
		level = EventLevelWarning
	}
	o.publish(Event{
		Type:      EventTypeRemediation,
		RequestID: requestID,
		RunID:     runID,
		Status:    outcome,
		Level:     level,
		Message:   fmt.Sprintf("Remediation %s", outcome),
	})
}

func (o *Observer) publish(event Event) {
	if err := o.events.Publish(event); err != nil {
		o.logger.Warn().Err(err).Str("type", event.Type).Msg("Failed to publish event")
	}
}

// InstrumentPolicy wraps a policy engine so that violations are counted and published.
func (o *Observer) InstrumentPolicy(next engine.PolicyEngine) engine.PolicyEngine {
	return &instrumentedPolicy{next: next, observer: o}
}

type instrumentedPolicy struct {
	next     engine.PolicyEngine
	observer *Observer
}

func (p *instrumentedPolicy) EvaluateRequest(ctx context.Context, input engine.PolicyInput) (*engine.PolicyResult, error) {
	result, err := p.next.EvaluateRequest(ctx, input)
	if err != nil || result == nil {
		return result, err
	}

	for _, v := range result.Violations {
		p.observer.metrics.RecordPolicyViolation(input.Environment, v.Policy)
		p.observer.publish(Event{
			Type:    EventTypePolicyViolation,
			Level:   EventLevelError,
			Message: v.Message,
			Data: map[string]interface{}{
				"policy":      v.Policy,
				"environment": input.Environment,
				"resource":    v.Resource,
			},
		})
	}
	p.observer.metrics.RecordPolicyWarnings(input.Environment, len(result.Warnings))
	return result, nil
}

// InstrumentValidator wraps an outcome validator so that checks are counted.
func (o *Observer) InstrumentValidator(next engine.OutcomeValidator) engine.OutcomeValidator {
	return &instrumentedValidator{next: next, observer: o}
}

type instrumentedValidator struct {
	next     engine.OutcomeValidator
	observer *Observer
}

func (v *instrumentedValidator) Validate(ctx context.Context, intent *engine.Intent, result *engine.ExecutionResult) *engine.OutcomeValidation {
	validation := v.next.Validate(ctx, intent, result)
	if validation == nil || !validation.Performed {
		return validation
	}

	for _, check := range validation.Checks {
		v.observer.metrics.RecordValidationCheck(validation.ResourceType, string(check.Status))
	}
	v.observer.publish(Event{
		Type:    EventTypeValidationResult,
		Message: fmt.Sprintf("%d passed, %d failed, %d pending", validation.Summary.Passed, validation.Summary.Failed, validation.Summary.Pending),
		Data: map[string]interface{}{
			"resource_type": validation.ResourceType,
			"identifier":    validation.Identifier,
		},
	})
	return validation
}
