// Package telemetry provides logging, tracing, metrics and workflow events.
//
// # Logging
//
// Logger wraps zerolog. Components receive Logger.Zerolog() in their
// constructors and derive a child with a "component" field.
//
//	logger, _ := telemetry.NewLogger(cfg.Logging)
//	parser := nlu.NewParser(client, logger.Zerolog())
//
// # Tracing
//
// NewTracer installs an OpenTelemetry provider as the global one; the
// orchestrator, pipeline, validator and remote clients start their spans
// through it. Exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
// Metrics registers Prometheus collectors on a private registry; the API
// serves Handler() on /metrics. Recorded series cover requests by final
// state, pipeline stage attempts, phase transitions, remediation outcomes,
// validation checks, policy findings and circuit breaker state.
//
// # Events
//
// EventPublisher fans workflow events out to subscribers in publish order.
// The websocket endpoint subscribes with FilterByRequestID to stream the
// phases of one request.
//
// # Observer
//
// Observer implements engine.Observer and feeds metrics and events. Its
// InstrumentPolicy and InstrumentValidator decorators count policy findings
// and validation checks.
package telemetry
