package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StateFileName is the snapshot file written into each session workspace.
const StateFileName = "session_state.json"

// StatePath returns the snapshot path for a session workspace directory.
func StatePath(workspace string) string {
	return filepath.Join(workspace, StateFileName)
}

// Save writes the state snapshot to {workspace}/session_state.json. The
// write is atomic: data goes to a temporary file first, then is renamed into
// place, so a crash mid-write never leaves a truncated snapshot.
func (s *State) Save() error {
	return s.SaveTo(StatePath(s.Workspace))
}

// SaveTo writes the state snapshot to an explicit path.
func (s *State) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load reads a state snapshot from disk and validates its status value.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	switch s.Status {
	case StatusPending, StatusStarting, StatusRunning,
		StatusCompleted, StatusFailed, StatusTerminated, StatusRetry:
	default:
		return nil, fmt.Errorf("unknown session status %q in %s", s.Status, path)
	}
	if s.FilesCreated == nil {
		s.FilesCreated = []string{}
	}
	if s.FilesModified == nil {
		s.FilesModified = []string{}
	}
	return &s, nil
}

// Discover walks a sessions root directory and loads every session snapshot
// found one level down ({root}/{sessionID}/session_state.json). Unreadable
// snapshots are skipped; Discover is used for post-restart inspection where
// a partially written directory should not hide the healthy sessions.
func Discover(root string) ([]*State, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions root: %w", err)
	}

	var states []*State
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		s, err := Load(filepath.Join(root, entry.Name(), StateFileName))
		if err != nil {
			continue
		}
		states = append(states, s)
	}
	return states, nil
}
