package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayerrors "github.com/helplink/chat-relay/internal/errors"
)

func TestNewID(t *testing.T) {
	id := NewID()
	assert.Len(t, id, 32)
	assert.NotContains(t, id, "-")
	assert.NotEqual(t, id, NewID())
}

func TestMemoryRepository_CreateAndFind(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	sess := &ChatSession{
		ID:          "sess1",
		WorkspaceID: "ws1",
		Status:      StatusActive,
		StartedAt:   time.Now(),
	}
	require.NoError(t, repo.Create(ctx, sess))

	found, err := repo.FindByID(ctx, "sess1")
	require.NoError(t, err)
	assert.Equal(t, "ws1", found.WorkspaceID)

	// Returned records are copies: mutating them must not leak back.
	found.ChannelID = "C-MUTATED"
	again, err := repo.FindByID(ctx, "sess1")
	require.NoError(t, err)
	assert.Empty(t, again.ChannelID)
}

func TestMemoryRepository_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, relayerrors.ErrNotFound)
}

func TestMemoryRepository_FindByChannelID(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &ChatSession{ID: "s1", WorkspaceID: "ws1"}))
	require.NoError(t, repo.Create(ctx, &ChatSession{ID: "s2", WorkspaceID: "ws1", ChannelID: "C1"}))

	found, err := repo.FindByChannelID(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "s2", found.ID)

	// An empty channel id must never match the unprovisioned session.
	_, err = repo.FindByChannelID(ctx, "")
	assert.ErrorIs(t, err, relayerrors.ErrNotFound)
}

func TestMemoryRepository_Save(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &ChatSession{ID: "s1", Status: StatusActive}))

	sess, err := repo.FindByID(ctx, "s1")
	require.NoError(t, err)
	sess.Status = StatusClosed
	sess.EndedAt = time.Now()
	require.NoError(t, repo.Save(ctx, sess))

	found, err := repo.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, found.Status)
	assert.False(t, found.EndedAt.IsZero())
}

func TestMemoryRepository_FindByWorkspaceID(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &ChatSession{ID: "s1", WorkspaceID: "ws1"}))
	require.NoError(t, repo.Create(ctx, &ChatSession{ID: "s2", WorkspaceID: "ws2"}))
	require.NoError(t, repo.Create(ctx, &ChatSession{ID: "s3", WorkspaceID: "ws1"}))

	found, err := repo.FindByWorkspaceID(ctx, "ws1")
	require.NoError(t, err)
	assert.Len(t, found, 2)
}
