package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/casewise/ccc/internal/session"
)

// Notification levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notification is a human-readable note kept in the orchestrator state for
// status displays.
type Notification struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// EventRecord is a compact audit entry for an important event.
type EventRecord struct {
	Time      time.Time `json:"time"`
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// State is the orchestrator's persisted aggregate view over all sessions.
// It is plain data; the orchestrator serializes access with its own mutex.
type State struct {
	OrchestratorID string    `json:"orchestrator_id"`
	WorkspaceRoot  string    `json:"workspace_root"`
	StartedAt      time.Time `json:"started_at"`

	ActiveSessions    []string `json:"active_sessions"`
	CompletedSessions []string `json:"completed_sessions"`
	FailedSessions    []string `json:"failed_sessions"`

	// SessionStates maps session id to the latest state snapshot.
	SessionStates map[string]*session.State `json:"session_states"`

	CurrentWorkflow string `json:"current_workflow,omitempty"`

	TotalSessionsCreated int `json:"total_sessions_created"`
	TotalTasksCompleted  int `json:"total_tasks_completed"`
	TotalTasksFailed     int `json:"total_tasks_failed"`
	ErrorCount           int `json:"error_count"`

	Notifications   []Notification `json:"notifications"`
	ImportantEvents []EventRecord  `json:"important_events"`

	maxNotifications int
	maxEvents        int
}

// NewState creates an empty orchestrator state. The ring sizes bound the
// notification and event histories; older entries fall off the front.
func NewState(id, root string, maxNotifications, maxEvents int) *State {
	return &State{
		OrchestratorID:    id,
		WorkspaceRoot:     root,
		StartedAt:         time.Now(),
		ActiveSessions:    []string{},
		CompletedSessions: []string{},
		FailedSessions:    []string{},
		SessionStates:     make(map[string]*session.State),
		Notifications:     []Notification{},
		ImportantEvents:   []EventRecord{},
		maxNotifications:  maxNotifications,
		maxEvents:         maxEvents,
	}
}

// AddNotification appends a notification, dropping the oldest beyond the cap.
func (s *State) AddNotification(level, format string, args ...any) {
	s.Notifications = append(s.Notifications, Notification{
		Time:    time.Now(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	})
	if s.maxNotifications > 0 && len(s.Notifications) > s.maxNotifications {
		s.Notifications = s.Notifications[len(s.Notifications)-s.maxNotifications:]
	}
}

// AddEvent appends an event record, dropping the oldest beyond the cap.
func (s *State) AddEvent(eventType, sessionID, detail string) {
	s.ImportantEvents = append(s.ImportantEvents, EventRecord{
		Time:      time.Now(),
		Type:      eventType,
		SessionID: sessionID,
		Detail:    detail,
	})
	if s.maxEvents > 0 && len(s.ImportantEvents) > s.maxEvents {
		s.ImportantEvents = s.ImportantEvents[len(s.ImportantEvents)-s.maxEvents:]
	}
}

// setSessionBucket moves a session id into the bucket matching its status.
func (s *State) setSessionBucket(id string, status session.Status) {
	s.ActiveSessions = removeString(s.ActiveSessions, id)
	s.CompletedSessions = removeString(s.CompletedSessions, id)
	s.FailedSessions = removeString(s.FailedSessions, id)

	switch status {
	case session.StatusCompleted:
		s.CompletedSessions = append(s.CompletedSessions, id)
	case session.StatusFailed, session.StatusTerminated:
		s.FailedSessions = append(s.FailedSessions, id)
	default:
		s.ActiveSessions = append(s.ActiveSessions, id)
	}
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

// SaveTo writes the state atomically to the given path.
func (s *State) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal orchestrator state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write orchestrator state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace orchestrator state: %w", err)
	}
	return nil
}

// LoadState reads a previously saved orchestrator state. Ring caps must be
// re-applied by the caller since they come from configuration, not the file.
func LoadState(path string, maxNotifications, maxEvents int) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read orchestrator state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse orchestrator state %s: %w", path, err)
	}
	if st.SessionStates == nil {
		st.SessionStates = make(map[string]*session.State)
	}
	st.maxNotifications = maxNotifications
	st.maxEvents = maxEvents
	return &st, nil
}

// Summary renders a short multi-line status text.
func (s *State) Summary() string {
	ids := make([]string, 0, len(s.SessionStates))
	for id := range s.SessionStates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := fmt.Sprintf("Orchestrator %s\n", s.OrchestratorID)
	out += fmt.Sprintf("  uptime: %s\n", time.Since(s.StartedAt).Round(time.Second))
	out += fmt.Sprintf("  sessions: %d active, %d completed, %d failed\n",
		len(s.ActiveSessions), len(s.CompletedSessions), len(s.FailedSessions))
	if s.CurrentWorkflow != "" {
		out += fmt.Sprintf("  workflow: %s\n", s.CurrentWorkflow)
	}
	for _, id := range ids {
		st := s.SessionStates[id]
		out += fmt.Sprintf("  %s [%s] %s (%d%%)\n",
			id, st.Status, st.TaskName, st.ProgressPercent)
	}
	return out
}
