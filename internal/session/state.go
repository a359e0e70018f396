// Package session defines the per-session state machine: the status
// lifecycle of one attempt to execute a task via an external worker process,
// plus JSON persistence of that state to the session's workspace.
//
// A State is owned exclusively by its runner while the session is running.
// Other components only ever see snapshots produced by Clone, delivered
// through events.
package session

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusPending indicates the session exists but has not been started.
	StatusPending Status = "pending"

	// StatusStarting indicates the worker process is being launched.
	StatusStarting Status = "starting"

	// StatusRunning indicates the worker process is executing.
	StatusRunning Status = "running"

	// StatusCompleted indicates the worker exited with code zero.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the worker failed to launch, exited non-zero,
	// or exceeded its timeout.
	StatusFailed Status = "failed"

	// StatusTerminated indicates the session was stopped externally.
	StatusTerminated Status = "terminated"

	// StatusRetry marks a failed session that has been re-armed for another
	// attempt. It is transient: ArmRetry moves the session straight back to
	// starting, so persisted snapshots rarely carry this value.
	StatusRetry Status = "retry"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if this status ends the current attempt.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTerminated
}

// ErrInvalidTransition is returned when a status transition would move the
// session backward. Transitions are forward-only with a single exception:
// the failed -> starting retry edge.
var ErrInvalidTransition = errors.New("invalid session status transition")

// transitions maps each status to the statuses reachable from it.
var transitions = map[Status][]Status{
	StatusPending:  {StatusStarting, StatusFailed, StatusTerminated},
	StatusStarting: {StatusRunning, StatusFailed, StatusTerminated},
	StatusRunning:  {StatusCompleted, StatusFailed, StatusTerminated},
	StatusFailed:   {StatusRetry, StatusStarting}, // retry edge
	StatusRetry:    {StatusStarting},
}

// State is the complete mutable state of one session. Field names and JSON
// tags are the persisted snapshot schema and must round-trip losslessly.
type State struct {
	SessionID string `json:"session_id"`
	TaskName  string `json:"task_name"`
	Component string `json:"component"`
	Status    Status `json:"status"`
	Workspace string `json:"workspace"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	PID         int        `json:"pid,omitempty"`

	TaskDescription string            `json:"task_description,omitempty"`
	InputSpec       map[string]string `json:"input_spec,omitempty"`

	ProgressPercent int      `json:"progress_percent"`
	CurrentActivity string   `json:"current_activity"`
	FilesCreated    []string `json:"files_created"`
	FilesModified   []string `json:"files_modified"`

	ErrorCount int    `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`

	ExecutionSeconds float64 `json:"execution_time_seconds"`
}

// NewState creates a pending session state.
func NewState(sessionID, taskName, component, workspace string, maxRetries int) *State {
	return &State{
		SessionID:       sessionID,
		TaskName:        taskName,
		Component:       component,
		Status:          StatusPending,
		Workspace:       workspace,
		CreatedAt:       time.Now(),
		CurrentActivity: "Initializing",
		FilesCreated:    []string{},
		FilesModified:   []string{},
		MaxRetries:      maxRetries,
	}
}

// Transition moves the session to a new status, enforcing the forward-only
// rule. Illegal transitions (e.g. completed -> running) are rejected with
// ErrInvalidTransition and leave the state untouched.
func (s *State) Transition(to Status) error {
	if s.Status == to {
		return nil
	}
	for _, allowed := range transitions[s.Status] {
		if allowed == to {
			s.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
}

// MarkStarted transitions to running and records the start timestamp.
func (s *State) MarkStarted() error {
	if err := s.Transition(StatusRunning); err != nil {
		return err
	}
	now := time.Now()
	s.StartedAt = &now
	s.CurrentActivity = "Running"
	return nil
}

// MarkCompleted transitions to completed or failed, records the completion
// timestamp, and fixes the execution duration.
func (s *State) MarkCompleted(success bool) error {
	target := StatusCompleted
	if !success {
		target = StatusFailed
	}
	if err := s.Transition(target); err != nil {
		return err
	}
	now := time.Now()
	s.CompletedAt = &now
	if s.StartedAt != nil {
		s.ExecutionSeconds = now.Sub(*s.StartedAt).Seconds()
	}
	return nil
}

// RecordError increments the error count and stores the message as the most
// recent error. It does not change the status.
func (s *State) RecordError(msg string) {
	s.ErrorCount++
	s.LastError = msg
}

// UpdateProgress sets the progress indicators, clamping percent to [0, 100].
func (s *State) UpdateProgress(percent int, activity string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	s.ProgressPercent = percent
	s.CurrentActivity = activity
}

// AddFileCreated records a workspace-relative path in FilesCreated, keeping
// the list ordered and deduplicated. Returns true if the path was new.
func (s *State) AddFileCreated(path string) bool {
	for _, existing := range s.FilesCreated {
		if existing == path {
			return false
		}
	}
	s.FilesCreated = append(s.FilesCreated, path)
	return true
}

// AddFileModified records a workspace-relative path in FilesModified,
// keeping the list ordered and deduplicated. Returns true if the path was new.
func (s *State) AddFileModified(path string) bool {
	for _, existing := range s.FilesModified {
		if existing == path {
			return false
		}
	}
	s.FilesModified = append(s.FilesModified, path)
	return true
}

// ShouldRetry reports whether a failed session has retry budget left.
// It requires at least one recorded error so a session that somehow failed
// without producing an error is not respun forever on an empty diagnosis.
func (s *State) ShouldRetry() bool {
	return s.Status == StatusFailed &&
		s.RetryCount < s.MaxRetries &&
		s.ErrorCount > 0
}

// ArmRetry re-arms a failed session for another attempt: the retry counter is
// incremented and the status moves back to starting through the retry edge.
// Timestamps and duration of the prior attempt are reset; the error history
// (ErrorCount, LastError) is kept so the new attempt knows what went wrong.
func (s *State) ArmRetry() error {
	if s.Status != StatusFailed {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, s.Status)
	}
	s.Status = StatusStarting
	s.RetryCount++
	s.StartedAt = nil
	s.CompletedAt = nil
	s.ExecutionSeconds = 0
	s.ProgressPercent = 0
	s.CurrentActivity = fmt.Sprintf("Retry attempt %d", s.RetryCount)
	return nil
}

// Clone returns a deep copy of the state, safe to hand to other goroutines.
func (s *State) Clone() *State {
	out := *s
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	out.FilesCreated = append([]string(nil), s.FilesCreated...)
	out.FilesModified = append([]string(nil), s.FilesModified...)
	if s.InputSpec != nil {
		out.InputSpec = make(map[string]string, len(s.InputSpec))
		for k, v := range s.InputSpec {
			out.InputSpec[k] = v
		}
	}
	return &out
}
