package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one telemetry event emitted by the remediation pipeline.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated remediation run, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Target is the remote stack identity, if applicable.
	Target string `json:"target,omitempty"`

	// AttemptNumber is the associated deployment attempt, if applicable.
	AttemptNumber int `json:"attempt_number,omitempty"`

	// ResourceID is the associated template resource, if applicable.
	ResourceID string `json:"resource_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event type constants.
const (
	EventTypeRunStarted       = "run.started"
	EventTypeRunCompleted     = "run.completed"
	EventTypeRunFailed        = "run.failed"
	EventTypeAttemptStarted   = "attempt.started"
	EventTypeAttemptCompleted = "attempt.completed"
	EventTypeIssueDetected    = "issue.detected"
	EventTypeFixApplied       = "fix.applied"
	EventTypePolicyViolation  = "policy.violation"
	EventTypeStackStateChange = "stack.state_changed"
)

// Event severity constants.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles delivered events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates an event publisher with the given
// configuration. A disabled publisher drops everything silently.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, target string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "orchestrator",
		RunID:   runID,
		Target:  target,
		Message: fmt.Sprintf("Run %s started against %s", runID, target),
		Level:   EventLevelInfo,
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID string, success bool, attempts int, duration time.Duration) error {
	level := EventLevelInfo
	eventType := EventTypeRunCompleted
	if !success {
		level = EventLevelError
		eventType = EventTypeRunFailed
	}
	return ep.Publish(Event{
		Type:    eventType,
		Source:  "orchestrator",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed, success=%t after %d attempts", runID, success, attempts),
		Level:   level,
		Data: map[string]interface{}{
			"success":  success,
			"attempts": attempts,
			"duration": duration.Seconds(),
		},
	})
}

// PublishAttemptCompleted publishes an attempt completed event.
func (ep *EventPublisher) PublishAttemptCompleted(runID string, attempt int, status, stackState string) error {
	level := EventLevelInfo
	if status != "SUCCEEDED" {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:          EventTypeAttemptCompleted,
		Source:        "orchestrator",
		RunID:         runID,
		AttemptNumber: attempt,
		Message:       fmt.Sprintf("Attempt %d finished with status %s", attempt, status),
		Level:         level,
		Data: map[string]interface{}{
			"status":      status,
			"stack_state": stackState,
		},
	})
}

// PublishFixApplied publishes a fix applied event.
func (ep *EventPublisher) PublishFixApplied(runID, resourceID, kind, description string) error {
	return ep.Publish(Event{
		Type:       EventTypeFixApplied,
		Source:     "fixer",
		RunID:      runID,
		ResourceID: resourceID,
		Message:    description,
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"kind": kind,
		},
	})
}

// PublishIssueDetected publishes an issue detected event.
func (ep *EventPublisher) PublishIssueDetected(runID, resourceID, kind, severity, description string) error {
	level := EventLevelWarning
	if severity == "HIGH" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:       EventTypeIssueDetected,
		Source:     "analyzer",
		RunID:      runID,
		ResourceID: resourceID,
		Message:    description,
		Level:      level,
		Data: map[string]interface{}{
			"kind":     kind,
			"severity": severity,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(resourceID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypePolicyViolation,
		Source:     "policy-engine",
		ResourceID: resourceID,
		Message:    fmt.Sprintf("Policy %s violated by %s: %s", policyName, resourceID, reason),
		Level:      EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// PublishStackStateChange publishes a stack state transition observed
// while polling.
func (ep *EventPublisher) PublishStackStateChange(runID, target, oldState, newState string) error {
	return ep.Publish(Event{
		Type:    EventTypeStackStateChange,
		Source:  "gateway",
		RunID:   runID,
		Target:  target,
		Message: fmt.Sprintf("Stack %s moved from %s to %s", target, oldState, newState),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"old_state": oldState,
			"new_state": newState,
		},
	})
}

// Subscribe adds a new event subscriber with an optional filter.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

// processEvents delivers buffered events asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			// Drain before shutting down.
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events at or above a
// minimum level.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows specific event types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
