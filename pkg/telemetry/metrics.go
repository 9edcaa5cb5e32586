package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the provisioning workflow.
// A disabled instance accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	requestsStarted  prometheus.Counter
	requestsFinished *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	activeRequests   prometheus.Gauge

	stagesFinished *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec

	phaseTransitions *prometheus.CounterVec

	remediationEvents *prometheus.CounterVec

	validationChecks *prometheus.CounterVec

	policyViolations *prometheus.CounterVec
	policyWarnings   *prometheus.CounterVec

	breakerState *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		requestsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_started_total",
				Help:      "Total number of provisioning requests started",
			},
		),
		requestsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_finished_total",
				Help:      "Total number of provisioning requests by final workflow state",
			},
			[]string{"state"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of provisioning requests in seconds",
				Buckets:   buckets,
			},
			[]string{"state"},
		),
		activeRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_requests",
				Help:      "Number of requests currently being processed",
			},
		),
		stagesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_stages_total",
				Help:      "Total number of execution pipeline stage attempts by outcome",
			},
			[]string{"stage", "outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_duration_seconds",
				Help:      "Duration of execution pipeline stages in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),
		phaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_transitions_total",
				Help:      "Total number of workflow phase status changes",
			},
			[]string{"phase", "status"},
		),
		remediationEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remediation_events_total",
				Help:      "Total number of remediation events by outcome",
			},
			[]string{"outcome"},
		),
		validationChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_checks_total",
				Help:      "Total number of outcome validation checks by status",
			},
			[]string{"resource_type", "status"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of blocking policy violations",
			},
			[]string{"environment", "policy"},
		),
		policyWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_warnings_total",
				Help:      "Total number of non-blocking policy findings",
			},
			[]string{"environment"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state of remote services (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
	}

	registry.MustRegister(
		m.requestsStarted,
		m.requestsFinished,
		m.requestDuration,
		m.activeRequests,
		m.stagesFinished,
		m.stageDuration,
		m.phaseTransitions,
		m.remediationEvents,
		m.validationChecks,
		m.policyViolations,
		m.policyWarnings,
		m.breakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m, nil
}

// RecordRequestStarted records a request entering the workflow.
func (m *Metrics) RecordRequestStarted() {
	if m.registry == nil {
		return
	}
	m.requestsStarted.Inc()
	m.activeRequests.Inc()
}

// RecordRequestFinished records a request leaving the workflow in state.
func (m *Metrics) RecordRequestFinished(state string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.requestsFinished.WithLabelValues(state).Inc()
	m.requestDuration.WithLabelValues(state).Observe(duration.Seconds())
	m.activeRequests.Dec()
}

// RecordStage records one execution pipeline stage attempt.
func (m *Metrics) RecordStage(stage string, success bool, duration time.Duration) {
	if m.registry == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.stagesFinished.WithLabelValues(stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordPhase records a workflow phase status change.
func (m *Metrics) RecordPhase(phase, status string) {
	if m.registry == nil {
		return
	}
	m.phaseTransitions.WithLabelValues(phase, status).Inc()
}

// RecordRemediation records a remediation event.
func (m *Metrics) RecordRemediation(outcome string) {
	if m.registry == nil {
		return
	}
	m.remediationEvents.WithLabelValues(outcome).Inc()
}

// RecordValidationCheck records one outcome validation check.
func (m *Metrics) RecordValidationCheck(resourceType, status string) {
	if m.registry == nil {
		return
	}
	m.validationChecks.WithLabelValues(resourceType, status).Inc()
}

// RecordPolicyViolation records a blocking policy violation.
func (m *Metrics) RecordPolicyViolation(environment, policy string) {
	if m.registry == nil {
		return
	}
	m.policyViolations.WithLabelValues(environment, policy).Inc()
}

// RecordPolicyWarnings records non-blocking policy findings.
func (m *Metrics) RecordPolicyWarnings(environment string, count int) {
	if m.registry == nil || count <= 0 {
		return
	}
	m.policyWarnings.WithLabelValues(environment).Add(float64(count))
}

// SetBreakerState records a circuit breaker transition. It matches the
// remote.Options.OnStateChange signature.
func (m *Metrics) SetBreakerState(service, _, to string) {
	if m.registry == nil {
		return
	}
	value := 0.0
	switch to {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.breakerState.WithLabelValues(service).Set(value)
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
