package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Consolidation reports the outcome of gathering session outputs into one
// directory.
type Consolidation struct {
	// Dir is the destination directory.
	Dir string `json:"dir"`
	// Copied maps session id to the workspace-relative paths copied for it.
	Copied map[string][]string `json:"copied"`
	// Errors lists per-session problems; a consolidation succeeds partially
	// rather than failing on the first bad session.
	Errors []string `json:"errors,omitempty"`
}

// ConsolidateResults copies the output files of the given sessions into
// destDir, one subdirectory per session, preserving workspace-relative
// paths. Worker logs and the state file stay behind. Unknown session ids and
// unreadable files are recorded in the result's Errors.
func (o *Orchestrator) ConsolidateResults(sessionIDs []string, destDir string) (*Consolidation, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create consolidation directory: %w", err)
	}

	out := &Consolidation{
		Dir:    destDir,
		Copied: make(map[string][]string),
	}

	for _, id := range sessionIDs {
		o.mu.Lock()
		st, ok := o.state.SessionStates[id]
		var files []string
		var workspaceRoot string
		if ok {
			files = append([]string(nil), st.FilesCreated...)
			workspaceRoot = st.Workspace
		}
		o.mu.Unlock()

		if !ok {
			out.Errors = append(out.Errors, fmt.Sprintf("unknown session %s", id))
			continue
		}

		for _, rel := range files {
			src := filepath.Join(workspaceRoot, filepath.FromSlash(rel))
			dst := filepath.Join(destDir, id, filepath.FromSlash(rel))
			if err := copyFile(src, dst); err != nil {
				out.Errors = append(out.Errors, fmt.Sprintf("%s: %s: %v", id, rel, err))
				continue
			}
			out.Copied[id] = append(out.Copied[id], rel)
		}
	}

	o.mu.Lock()
	o.state.AddEvent("results.consolidated", "", fmt.Sprintf("%d sessions into %s", len(sessionIDs), destDir))
	o.persistLocked()
	o.mu.Unlock()

	o.logger.Info("results consolidated",
		"sessions", len(sessionIDs), "dest", destDir, "errors", len(out.Errors))
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	outFile, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(outFile, in); err != nil {
		outFile.Close()
		os.Remove(tmp)
		return err
	}
	if err := outFile.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
