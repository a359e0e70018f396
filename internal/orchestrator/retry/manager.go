// Package retry tracks retry scheduling for sessions.
//
// The session state machine decides whether a failed session is eligible for
// another attempt; this package makes sure the orchestrator schedules at most
// one retry per failed attempt even when several state-change events for the
// same failure arrive close together.
package retry

import (
	"sync"
)

// SessionState tracks the retry history of one session.
type SessionState struct {
	SessionID string `json:"session_id"`
	// Scheduled is the highest attempt number a retry has been scheduled
	// for. Attempt n is the retry following the n-th failure, 1-based.
	Scheduled int    `json:"scheduled"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	Succeeded bool   `json:"succeeded,omitempty"`
}

// Manager manages retry scheduling state. Safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*SessionState
}

// NewManager creates an empty retry manager.
func NewManager() *Manager {
	return &Manager{states: make(map[string]*SessionState)}
}

// MarkScheduled claims the retry slot for the given attempt of a session.
// It returns true exactly once per (session, attempt) pair; duplicate events
// for the same failure get false and must not schedule another retry.
func (m *Manager) MarkScheduled(sessionID string, attempt int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[sessionID]
	if !ok {
		state = &SessionState{SessionID: sessionID}
		m.states[sessionID] = state
	}
	if state.Succeeded || attempt <= state.Scheduled {
		return false
	}
	state.Scheduled = attempt
	return true
}

// RecordAttempt records the outcome of an attempt. A success closes the
// session for further retries.
func (m *Manager) RecordAttempt(sessionID string, success bool, lastError string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[sessionID]
	if !ok {
		state = &SessionState{SessionID: sessionID}
		m.states[sessionID] = state
	}
	state.Attempts++
	if success {
		state.Succeeded = true
	} else {
		state.LastError = lastError
	}
}

// State returns a copy of the session's retry state, or nil if untracked.
func (m *Manager) State(sessionID string) *SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[sessionID]
	if !ok {
		return nil
	}
	out := *state
	return &out
}
