// Package event defines the events exchanged between session runners and the
// orchestrator, together with a small synchronous Bus used to deliver them.
// Runners never touch orchestrator state directly: every cross-session
// interaction travels through one of these events.
package event

import (
	"time"

	"github.com/casewise/ccc/internal/session"
)

// Event type identifiers. Convention: "category.action".
const (
	TypeSessionStateChanged = "session.state_changed"
	TypeSessionOutput       = "session.output"
	TypeSessionFileCreated  = "session.file_created"
	TypeWorkflowStarted     = "workflow.started"
	TypeWorkflowCompleted   = "workflow.completed"
)

// Event is implemented by every event published on the Bus.
type Event interface {
	// EventType returns the string identifier for this event type.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// SessionStateChanged is emitted by a session runner on every status
// transition. Snapshot is an owned copy: handlers may read it freely without
// racing the runner's live state.
type SessionStateChanged struct {
	baseEvent
	SessionID string
	TaskName  string
	Status    session.Status
	Snapshot  *session.State
}

// NewSessionStateChanged creates a SessionStateChanged from a state snapshot.
func NewSessionStateChanged(snapshot *session.State) SessionStateChanged {
	return SessionStateChanged{
		baseEvent: newBaseEvent(TypeSessionStateChanged),
		SessionID: snapshot.SessionID,
		TaskName:  snapshot.TaskName,
		Status:    snapshot.Status,
		Snapshot:  snapshot,
	}
}

// SessionOutput is emitted for every line the worker process writes to
// stdout or stderr. Stream is "stdout" or "stderr".
type SessionOutput struct {
	baseEvent
	SessionID string
	Stream    string
	Line      string
}

// NewSessionOutput creates a SessionOutput event.
func NewSessionOutput(sessionID, stream, line string) SessionOutput {
	return SessionOutput{
		baseEvent: newBaseEvent(TypeSessionOutput),
		SessionID: sessionID,
		Stream:    stream,
		Line:      line,
	}
}

// SessionFileCreated is emitted when the workspace scan discovers a file the
// session has not produced before. Path is relative to the session workspace.
type SessionFileCreated struct {
	baseEvent
	SessionID string
	Path      string
}

// NewSessionFileCreated creates a SessionFileCreated event.
func NewSessionFileCreated(sessionID, path string) SessionFileCreated {
	return SessionFileCreated{
		baseEvent: newBaseEvent(TypeSessionFileCreated),
		SessionID: sessionID,
		Path:      path,
	}
}

// WorkflowStarted is emitted when the orchestrator begins executing a workflow.
type WorkflowStarted struct {
	baseEvent
	Workflow  string
	TaskCount int
	Parallel  bool
}

// NewWorkflowStarted creates a WorkflowStarted event.
func NewWorkflowStarted(workflow string, taskCount int, parallel bool) WorkflowStarted {
	return WorkflowStarted{
		baseEvent: newBaseEvent(TypeWorkflowStarted),
		Workflow:  workflow,
		TaskCount: taskCount,
		Parallel:  parallel,
	}
}

// WorkflowCompleted is emitted when a workflow finishes, successfully or not.
type WorkflowCompleted struct {
	baseEvent
	Workflow string
	Success  bool
	Duration time.Duration
}

// NewWorkflowCompleted creates a WorkflowCompleted event.
func NewWorkflowCompleted(workflow string, success bool, duration time.Duration) WorkflowCompleted {
	return WorkflowCompleted{
		baseEvent: newBaseEvent(TypeWorkflowCompleted),
		Workflow:  workflow,
		Success:   success,
		Duration:  duration,
	}
}
