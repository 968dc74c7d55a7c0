package telemetry

import (
	"context"
	"testing"
	"time"
)

func syncPublisher(t *testing.T) *EventPublisher {
	t.Helper()
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}
	return ep
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	ep := syncPublisher(t)

	var received []Event
	ep.Subscribe(func(e Event) { received = append(received, e) }, nil)

	if err := ep.PublishRunStarted("run-1", "orders-stack"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("received = %d, want 1", len(received))
	}

	e := received[0]
	if e.Type != EventTypeRunStarted {
		t.Errorf("type = %s", e.Type)
	}
	if e.RunID != "run-1" || e.Target != "orders-stack" {
		t.Errorf("event = %+v", e)
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Error("id and timestamp not defaulted")
	}
}

func TestSubscriberFilter(t *testing.T) {
	ep := syncPublisher(t)

	var fixes int
	ep.Subscribe(func(Event) { fixes++ }, FilterByType(EventTypeFixApplied))

	_ = ep.PublishFixApplied("run-1", "Queue", "deployment-failure", "renamed Queue")
	_ = ep.PublishRunStarted("run-1", "orders-stack")

	if fixes != 1 {
		t.Errorf("filtered subscriber saw %d events, want 1", fixes)
	}
}

func TestGlobalLevelFilter(t *testing.T) {
	ep := syncPublisher(t)
	ep.AddFilter(FilterByLevel(EventLevelError))

	var received int
	ep.Subscribe(func(Event) { received++ }, nil)

	// run.completed with success is info, run.failed is error.
	_ = ep.PublishRunCompleted("run-1", true, 1, time.Second)
	_ = ep.PublishRunCompleted("run-2", false, 3, time.Second)

	if received != 1 {
		t.Errorf("received = %d, want the failed run only", received)
	}
}

func TestFilterByRunID(t *testing.T) {
	ep := syncPublisher(t)

	var received int
	ep.Subscribe(func(Event) { received++ }, FilterByRunID("run-1"))

	_ = ep.PublishAttemptCompleted("run-1", 1, "FAILED", "CREATE_FAILED")
	_ = ep.PublishAttemptCompleted("run-2", 1, "SUCCEEDED", "CREATE_COMPLETE")

	if received != 1 {
		t.Errorf("received = %d, want 1", received)
	}
}

func TestDisabledPublisherDropsEverything(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}

	var received int
	ep.Subscribe(func(Event) { received++ }, nil)

	if err := ep.PublishRunStarted("run-1", "orders-stack"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if received != 0 {
		t.Errorf("disabled publisher delivered %d events", received)
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestAsyncPublisherDeliversBeforeShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10, EnableAsync: true})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}

	received := make(chan Event, 10)
	ep.Subscribe(func(e Event) { received <- e }, nil)

	_ = ep.PublishPolicyViolation("Bucket", "unencrypted-bucket", "no SSE configured")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case e := <-received:
		if e.Type != EventTypePolicyViolation {
			t.Errorf("type = %s", e.Type)
		}
	default:
		t.Error("event lost during shutdown")
	}
}
