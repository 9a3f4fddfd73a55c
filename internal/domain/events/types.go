package events

// EventType defines the type of event pushed to live subscribers
type EventType string

const (
	// Run Events
	RunStarted   EventType = "run.started"
	RunUpdated   EventType = "run.updated"
	RunCompleted EventType = "run.completed"

	// Step Events
	StepCompleted EventType = "step.completed"
	StepFailed    EventType = "step.failed"

	// Inbox Events
	AttentionChanged EventType = "attention.changed"
)

// String returns the string representation of the event type
func (e EventType) String() string {
	return string(e)
}

// IsKnown reports whether the type belongs to the closed event vocabulary
func (e EventType) IsKnown() bool {
	switch e {
	case RunStarted, RunUpdated, RunCompleted, StepCompleted, StepFailed, AttentionChanged:
		return true
	default:
		return false
	}
}

// Event is a typed notification scoped to one organization
type Event struct {
	Type EventType              `json:"type"`
	Data map[string]interface{} `json:"data"`
}
