package workspace

import (
	"context"
	"sync"

	relayerrors "github.com/helplink/chat-relay/internal/errors"
)

// MemoryDirectory is an in-memory Directory for tests and dev mode.
// Thread-safe.
type MemoryDirectory struct {
	mu         sync.RWMutex
	workspaces map[string]*Workspace
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{workspaces: make(map[string]*Workspace)}
}

// Add registers a workspace. Replaces any existing entry with the same id.
func (d *MemoryDirectory) Add(ws *Workspace) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *ws
	d.workspaces[ws.ID] = &cp
}

func (d *MemoryDirectory) FindByID(_ context.Context, id string) (*Workspace, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ws, ok := d.workspaces[id]
	if !ok {
		return nil, relayerrors.ErrNotFound
	}
	cp := *ws
	return &cp, nil
}

func (d *MemoryDirectory) FindAll(_ context.Context) ([]*Workspace, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Workspace, 0, len(d.workspaces))
	for _, ws := range d.workspaces {
		cp := *ws
		out = append(out, &cp)
	}
	return out, nil
}

// MemorySettings is an in-memory SettingsStore for tests and dev mode.
type MemorySettings struct {
	mu       sync.RWMutex
	settings map[string]string // workspaceID + "\x00" + key
}

// NewMemorySettings creates an empty in-memory settings store.
func NewMemorySettings() *MemorySettings {
	return &MemorySettings{settings: make(map[string]string)}
}

// Set stores a setting value for a workspace.
func (s *MemorySettings) Set(workspaceID, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[workspaceID+"\x00"+key] = value
}

func (s *MemorySettings) GetStringSetting(_ context.Context, workspaceID, key, def string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.settings[workspaceID+"\x00"+key]; ok {
		return v
	}
	return def
}
