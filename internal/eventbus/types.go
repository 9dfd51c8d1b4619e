package eventbus

import (
	"time"

	"github.com/beadforge/forge/internal/types"
)

// EventType identifies an event flowing through the bus.
type EventType string

const (
	// Work item lifecycle.
	EventItemStatusChanged EventType = "ItemStatusChanged"
	EventItemEscalated     EventType = "ItemEscalated"

	// Worker lifecycle.
	EventAgentStarted   EventType = "AgentStarted"
	EventAgentCompleted EventType = "AgentCompleted"
	EventAgentOutput    EventType = "AgentOutput"

	// Orchestrator loop.
	EventPhaseChanged EventType = "PhaseChanged"
	EventLoopIdle     EventType = "LoopIdle"
)

// AllEventTypes lists every event type in a stable order.
var AllEventTypes = []EventType{
	EventItemStatusChanged,
	EventItemEscalated,
	EventAgentStarted,
	EventAgentCompleted,
	EventAgentOutput,
	EventPhaseChanged,
	EventLoopIdle,
}

// IsAgentEvent returns true for worker lifecycle events.
func (t EventType) IsAgentEvent() bool {
	switch t {
	case EventAgentStarted, EventAgentCompleted, EventAgentOutput:
		return true
	}
	return false
}

// ParseEventTypes converts names to event types, rejecting unknown ones.
// An empty list or "*" selects every type.
func ParseEventTypes(names []string) ([]EventType, error) {
	if len(names) == 0 || (len(names) == 1 && names[0] == "*") {
		return append([]EventType(nil), AllEventTypes...), nil
	}
	out := make([]EventType, 0, len(names))
	for _, n := range names {
		et := EventType(n)
		known := false
		for _, k := range AllEventTypes {
			if k == et {
				known = true
				break
			}
		}
		if !known {
			return nil, &UnknownEventTypeError{Name: n}
		}
		out = append(out, et)
	}
	return out, nil
}

// UnknownEventTypeError reports an event name that is not recognized.
type UnknownEventTypeError struct {
	Name string
}

func (e *UnknownEventTypeError) Error() string {
	return "eventbus: unknown event type " + e.Name
}

// Event is a status broadcast from the orchestrator. Fields are populated
// based on Type.
type Event struct {
	Type      EventType    `json:"type"`
	ProjectID string       `json:"project_id"`
	ItemID    string       `json:"item_id,omitempty"`
	Phase     string       `json:"phase,omitempty"`
	Attempt   int          `json:"attempt,omitempty"`
	OldStatus types.Status `json:"old_status,omitempty"`
	NewStatus types.Status `json:"new_status,omitempty"`
	Role      string       `json:"role,omitempty"`
	ExitCode  *int         `json:"exit_code,omitempty"`
	Output    string       `json:"output,omitempty"`
	Message   string       `json:"message,omitempty"`
	At        time.Time    `json:"at"`
}

// Result aggregates handler responses for an event.
type Result struct {
	Handled  []string `json:"handled,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}
