// File: api/schemas/events.go
package schemas

import (
	"time"
)

// EventType identifies a notification pushed onto the event bus. Consumers
// (UI, logging, metrics) subscribe to the types they care about; the core
// never depends on any particular consumer.
type EventType string

const (
	EventSessionStarted     EventType = "session.started"
	EventSessionCompleted   EventType = "session.completed"
	EventSessionFailed      EventType = "session.failed"
	EventSessionPaused      EventType = "session.paused"
	EventSessionResumed     EventType = "session.resumed"
	EventSessionCancelled   EventType = "session.cancelled"
	EventStepCompleted      EventType = "step.completed"
	EventStepFailed         EventType = "step.failed"
	EventAdaptationApplied  EventType = "adaptation.applied"
	EventHelpRequested      EventType = "help.requested"
	EventDegradationChanged EventType = "degradation.changed"
)

// Event is the envelope carried on the bus.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// DegradationChange is the payload of EventDegradationChanged. It is emitted
// exactly once per overall-level change, not once per health check.
type DegradationChange struct {
	Previous DegradationLevel `json:"previous"`
	Current  DegradationLevel `json:"current"`
	Reason   string           `json:"reason,omitempty"`
}
