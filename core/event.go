package core

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies the payload carried by an Event.
type EventKind string

const (
	EventStarted              EventKind = "started"
	EventClarificationRequest EventKind = "clarification_request"
	EventStatusProgress       EventKind = "status_progress"
	EventMessage              EventKind = "message"
	EventCompleted            EventKind = "completed"
	EventCancelled            EventKind = "cancelled"
	EventError                EventKind = "error"

	EventCancelAcknowledged EventKind = "cancel_acknowledged"
	EventNotFound           EventKind = "not_found"
	EventInvalidState       EventKind = "invalid_state"

	// EventSessionUpdated answers lifecycle requests.
	EventSessionUpdated EventKind = "session_updated"
)

// IsTerminal reports whether the kind ends an execute stream.
func (k EventKind) IsTerminal() bool {
	return k == EventCompleted || k == EventCancelled || k == EventError
}

// Event is the unit streamed back to callers. After emission it should be
// treated as immutable. Optional fields are pointers so absence can be
// distinguished from zero values.
type Event struct {
	ID           string         `json:"id"`
	TaskID       string         `json:"task_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	Kind         EventKind      `json:"kind"`
	Timestamp    time.Time      `json:"timestamp"`
	Content      string         `json:"content,omitempty"`
	Progress     *float64       `json:"progress,omitempty"`
	Stage        string         `json:"stage,omitempty"`
	Partial      *bool          `json:"partial,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NewEvent creates a bare event of the given kind bound to a task.
// Prefer the helper constructors for common kinds.
func NewEvent(kind EventKind, taskID, sessionID string) Event {
	return Event{
		ID:        NewID(),
		TaskID:    taskID,
		SessionID: sessionID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

// NewProgressEvent creates a status_progress event.
func NewProgressEvent(taskID, sessionID string, progress float64, stage, status string) Event {
	e := NewEvent(EventStatusProgress, taskID, sessionID)
	e.Progress = &progress
	e.Stage = stage
	e.Content = status
	return e
}

// NewMessageEvent creates a message event. Partial marks a streamed fragment.
func NewMessageEvent(taskID, sessionID, content string, partial bool) Event {
	e := NewEvent(EventMessage, taskID, sessionID)
	e.Content = content
	e.Partial = &partial
	return e
}

// NewErrorEvent creates an event carrying the code and message derived from err.
func NewErrorEvent(kind EventKind, taskID, sessionID string, err error) Event {
	e := NewEvent(kind, taskID, sessionID)
	e.ErrorCode = ErrorCode(err)
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	return e
}

// NewID generates a new unique identifier for events and tasks.
func NewID() string { return uuid.NewString() }

// IsPartial reports whether this event is a streamed fragment.
func (e Event) IsPartial() bool { return e.Partial != nil && *e.Partial }

// IsTerminal reports whether the event ends an execute stream.
func (e Event) IsTerminal() bool { return e.Kind.IsTerminal() }

// UnixSeconds returns the timestamp as fractional seconds since Unix epoch.
func (e Event) UnixSeconds() float64 { return float64(e.Timestamp.UnixNano()) / 1e9 }
