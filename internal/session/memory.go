package session

import (
	"context"
	"sync"

	relayerrors "github.com/helplink/chat-relay/internal/errors"
)

// MemoryRepository is an in-memory Repository for tests and dev mode.
// Thread-safe.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*ChatSession
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*ChatSession)}
}

func (r *MemoryRepository) Create(_ context.Context, s *ChatSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) Save(_ context.Context, s *ChatSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return relayerrors.ErrNotFound
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (*ChatSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, relayerrors.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) FindByChannelID(_ context.Context, channelID string) (*ChatSession, error) {
	if channelID == "" {
		return nil, relayerrors.ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.ChannelID == channelID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, relayerrors.ErrNotFound
}

func (r *MemoryRepository) FindByWorkspaceID(_ context.Context, workspaceID string) ([]*ChatSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ChatSession
	for _, s := range r.sessions {
		if s.WorkspaceID == workspaceID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}
