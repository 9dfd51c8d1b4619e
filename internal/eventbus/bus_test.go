package eventbus

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// testHandler is a configurable handler for testing.
type testHandler struct {
	id       string
	handles  []EventType
	priority int
	fn       func(ctx context.Context, event *Event, result *Result) error
}

func (h *testHandler) ID() string           { return h.id }
func (h *testHandler) Handles() []EventType { return h.handles }
func (h *testHandler) Priority() int        { return h.priority }

func (h *testHandler) Handle(ctx context.Context, event *Event, result *Result) error {
	if h.fn != nil {
		return h.fn(ctx, event, result)
	}
	return nil
}

func TestDispatchNoHandlers(t *testing.T) {
	bus := New(zerolog.Nop())
	result, err := bus.Dispatch(context.Background(), &Event{Type: EventLoopIdle, ProjectID: "p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Handled) != 0 {
		t.Errorf("expected no handlers, got %v", result.Handled)
	}
}

func TestDispatchNilEvent(t *testing.T) {
	bus := New(zerolog.Nop())
	if _, err := bus.Dispatch(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}

func TestDispatchStampsTime(t *testing.T) {
	bus := New(zerolog.Nop())
	ev := &Event{Type: EventLoopIdle}
	if _, err := bus.Dispatch(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if ev.At.IsZero() {
		t.Error("expected At to be set")
	}
}

func TestDispatchMatchingHandlers(t *testing.T) {
	bus := New(zerolog.Nop())
	var called []string

	bus.Register(&testHandler{
		id:       "agent",
		handles:  []EventType{EventAgentStarted, EventAgentCompleted},
		priority: 10,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			called = append(called, "agent")
			return nil
		},
	})
	bus.Register(&testHandler{
		id:       "status",
		handles:  []EventType{EventItemStatusChanged},
		priority: 10,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			called = append(called, "status")
			return nil
		},
	})

	if _, err := bus.Dispatch(context.Background(), &Event{Type: EventAgentStarted}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "agent" {
		t.Errorf("expected [agent], got %v", called)
	}
}

func TestDispatchPriorityOrder(t *testing.T) {
	bus := New(zerolog.Nop())
	var order []string
	for _, h := range []struct {
		name string
		prio int
	}{{"low", 100}, {"high", 1}, {"medium", 50}} {
		name := h.name
		bus.Register(&testHandler{
			id:       name,
			handles:  []EventType{EventPhaseChanged},
			priority: h.prio,
			fn: func(ctx context.Context, event *Event, result *Result) error {
				order = append(order, name)
				return nil
			},
		})
	}

	if _, err := bus.Dispatch(context.Background(), &Event{Type: EventPhaseChanged}); err != nil {
		t.Fatal(err)
	}
	want := []string{"high", "medium", "low"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, order)
	}
}

func TestDispatchHandlerErrorDoesNotStopChain(t *testing.T) {
	var logBuf bytes.Buffer
	bus := New(zerolog.New(&logBuf))
	secondCalled := false

	bus.Register(&testHandler{
		id:       "failing",
		handles:  []EventType{EventItemEscalated},
		priority: 1,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			return errors.New("sink down")
		},
	})
	bus.Register(&testHandler{
		id:       "second",
		handles:  []EventType{EventItemEscalated},
		priority: 2,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			secondCalled = true
			return nil
		},
	})

	result, err := bus.Dispatch(context.Background(), &Event{Type: EventItemEscalated})
	if err != nil {
		t.Fatalf("handler errors must not surface: %v", err)
	}
	if !secondCalled {
		t.Error("expected second handler to run after failure")
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "sink down") {
		t.Errorf("unexpected warnings: %v", result.Warnings)
	}
	if len(result.Handled) != 1 || result.Handled[0] != "second" {
		t.Errorf("unexpected handled list: %v", result.Handled)
	}
	if !strings.Contains(logBuf.String(), "event handler failed") {
		t.Errorf("expected failure to be logged, got %q", logBuf.String())
	}
}

func TestDispatchCancelledContext(t *testing.T) {
	bus := New(zerolog.Nop())
	bus.Register(&testHandler{id: "x", handles: []EventType{EventLoopIdle}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := bus.Dispatch(ctx, &Event{Type: EventLoopIdle}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPublishSwallowsFailures(t *testing.T) {
	bus := New(zerolog.Nop())
	bus.Register(&testHandler{
		id:      "boom",
		handles: []EventType{EventAgentCompleted},
		fn: func(ctx context.Context, event *Event, result *Result) error {
			return errors.New("boom")
		},
	})
	bus.Publish(context.Background(), &Event{Type: EventAgentCompleted})

	var nilBus *Bus
	nilBus.Publish(context.Background(), &Event{Type: EventAgentCompleted})
}

func TestParseEventTypes(t *testing.T) {
	all, err := ParseEventTypes(nil)
	if err != nil || len(all) != len(AllEventTypes) {
		t.Fatalf("expected all types, got %v (%v)", all, err)
	}
	star, err := ParseEventTypes([]string{"*"})
	if err != nil || len(star) != len(AllEventTypes) {
		t.Fatalf("expected all types for *, got %v (%v)", star, err)
	}
	got, err := ParseEventTypes([]string{"AgentStarted", "ItemEscalated"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != EventAgentStarted || got[1] != EventItemEscalated {
		t.Errorf("unexpected types: %v", got)
	}
	_, err = ParseEventTypes([]string{"SessionStart"})
	var unknown *UnknownEventTypeError
	if !errors.As(err, &unknown) || unknown.Name != "SessionStart" {
		t.Errorf("expected UnknownEventTypeError, got %v", err)
	}
}

func TestIsAgentEvent(t *testing.T) {
	if !EventAgentStarted.IsAgentEvent() || EventPhaseChanged.IsAgentEvent() {
		t.Error("IsAgentEvent misclassified")
	}
}
