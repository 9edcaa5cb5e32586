package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a workflow progress notification.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Type is one of the EventType constants.
	Type string `json:"type"`

	RequestID string `json:"request_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`

	// Phase and Status are set for phase and stage events.
	Phase  string `json:"phase,omitempty"`
	Status string `json:"status,omitempty"`

	Message string                 `json:"message"`
	Level   string                 `json:"level"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Event types published by the workflow observer.
const (
	EventTypePhaseChanged     = "phase.changed"
	EventTypeStageFinished    = "stage.finished"
	EventTypeRequestFinished  = "request.finished"
	EventTypeRemediation      = "remediation.event"
	EventTypePolicyViolation  = "policy.violation"
	EventTypeValidationResult = "validation.result"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events. It runs on the delivery goroutine and must not block.
type EventSubscriber func(event Event)

// EventFilter reports whether a subscriber wants an event.
type EventFilter func(event Event) bool

type subscription struct {
	id     uint64
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans workflow events out to subscribers in publish order.
// In async mode a single goroutine delivers from a bounded queue.
type EventPublisher struct {
	enabled bool
	queue   chan Event

	mu     sync.RWMutex
	subs   []subscription
	nextID uint64

	stopOnce sync.Once
	stop     chan struct{}
	drained  chan struct{}
}

// NewEventPublisher creates a publisher. A disabled one accepts and drops everything.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	ep := &EventPublisher{
		enabled: cfg.Enabled,
		stop:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	if !cfg.Enabled || !cfg.EnableAsync {
		close(ep.drained)
		return ep
	}

	size := cfg.BufferSize
	if size <= 0 {
		size = 1000
	}
	ep.queue = make(chan Event, size)
	go ep.run()
	return ep
}

// Publish stamps the event and hands it to subscribers, directly or through
// the queue. It fails when the queue is full or the publisher was shut down.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}
	select {
	case <-ep.stop:
		return errors.New("event publisher stopped")
	default:
	}
	select {
	case ep.queue <- event:
		return nil
	default:
		return fmt.Errorf("event queue full, dropped %s", event.Type)
	}
}

// Subscribe registers fn and returns its removal func. A nil filter
// receives every event.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) func() {
	ep.mu.Lock()
	id := ep.nextID
	ep.nextID++
	ep.subs = append(ep.subs, subscription{id: id, fn: fn, filter: filter})
	ep.mu.Unlock()

	return func() {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		for i, s := range ep.subs {
			if s.id == id {
				ep.subs = append(ep.subs[:i:i], ep.subs[i+1:]...)
				return
			}
		}
	}
}

func (ep *EventPublisher) run() {
	defer close(ep.drained)
	for {
		select {
		case event := <-ep.queue:
			ep.deliver(event)
		case <-ep.stop:
			for {
				select {
				case event := <-ep.queue:
					ep.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, s := range ep.subs {
		if s.filter == nil || s.filter(event) {
			s.fn(event)
		}
	}
}

// Shutdown stops accepting events and waits for the queue to drain.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.stopOnce.Do(func() { close(ep.stop) })
	select {
	case <-ep.drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// FilterByType passes events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(event Event) bool {
		_, ok := set[event.Type]
		return ok
	}
}

// FilterByRequestID passes the events of one request.
func FilterByRequestID(requestID string) EventFilter {
	return func(event Event) bool {
		return event.RequestID == requestID
	}
}
