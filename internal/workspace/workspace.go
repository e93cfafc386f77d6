// Package workspace implements the single process-wide current-workspace
// value: deriving a stable id from a directory path and gating deletion
// behind explicit confirmation (spec.md §4.7).
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/storage"
)

// State is the current workspace's id/name/path triple.
type State struct {
	ID   string
	Name string
	Path string
}

// Manager holds the process-wide current workspace and derives ids from
// filesystem paths. Reads observe the most recently completed write; there
// is no long-held lock.
type Manager struct {
	mu      sync.RWMutex
	current *State
	backend storage.Backend
}

func New(backend storage.Backend) *Manager {
	return &Manager{backend: backend}
}

// DeriveID computes a stable short hash of the absolute, normalized path.
// Identical paths (including ones that normalize to the same canonical
// form) always yield the same id.
func DeriveID(path string) (string, error) {
	if path == "" {
		return "", mnemoerr.New(mnemoerr.Validation, "workspace path must not be empty", nil)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", mnemoerr.Wrap(mnemoerr.Validation, "workspace: could not resolve absolute path", err, map[string]any{"path": path})
	}
	normalized := filepath.Clean(abs)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16], nil
}

// Set validates the path is an existing directory, derives its id, and
// makes it the current workspace.
func (m *Manager) Set(path string) (State, error) {
	if path == "" {
		return State{}, mnemoerr.New(mnemoerr.Validation, "workspace path must not be empty", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return State{}, mnemoerr.Wrap(mnemoerr.Validation, "workspace: path does not exist", err, map[string]any{"path": path})
	}
	if !info.IsDir() {
		return State{}, mnemoerr.New(mnemoerr.Validation, "workspace: path is not a directory", map[string]any{"path": path})
	}

	id, err := DeriveID(path)
	if err != nil {
		return State{}, err
	}
	abs, _ := filepath.Abs(path)
	s := State{ID: id, Name: filepath.Base(abs), Path: abs}

	m.mu.Lock()
	m.current = &s
	m.mu.Unlock()
	return s, nil
}

// Get returns the current workspace, or the zero value if none is set.
func (m *Manager) Get() (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return State{}, false
	}
	return *m.current, true
}

// Clear unsets the current workspace.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

// Delete removes all persisted data for a workspace. Confirm must be true
// or the call fails with ConfirmationRequired (spec.md §7). Clears the
// current workspace if it matches the deleted id.
func (m *Manager) Delete(ctx context.Context, workspaceID string, confirm bool) (storage.WorkspaceDeletionResult, error) {
	if !confirm {
		return storage.WorkspaceDeletionResult{}, mnemoerr.New(mnemoerr.ConfirmationReq, "workspace deletion requires explicit confirmation", map[string]any{"workspace_id": workspaceID})
	}

	result, err := m.backend.DeleteWorkspace(ctx, workspaceID)
	if err != nil {
		return storage.WorkspaceDeletionResult{}, mnemoerr.Wrap(mnemoerr.Storage, "workspace: delete failed", err, nil)
	}

	m.mu.Lock()
	if m.current != nil && m.current.ID == workspaceID {
		m.current = nil
	}
	m.mu.Unlock()

	return result, nil
}
