package workspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayerrors "github.com/helplink/chat-relay/internal/errors"
)

func TestMemoryDirectory(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := context.Background()

	dir.Add(&Workspace{ID: "ws1", Name: "Acme", ServiceType: ServiceSlack, SlackBotToken: "xoxb"})
	dir.Add(&Workspace{ID: "ws2", Name: "Globex", ServiceType: ServiceMattermost})

	ws, err := dir.FindByID(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", ws.Name)

	// Returned records are copies.
	ws.Name = "mutated"
	again, err := dir.FindByID(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", again.Name)

	all, err := dir.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = dir.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, relayerrors.ErrNotFound)
}

func TestMemorySettings(t *testing.T) {
	s := NewMemorySettings()
	ctx := context.Background()

	assert.Equal(t, "auto", s.GetStringSetting(ctx, "ws1", SettingPresenceDetection, "auto"))

	s.Set("ws1", SettingPresenceDetection, "manual")
	assert.Equal(t, "manual", s.GetStringSetting(ctx, "ws1", SettingPresenceDetection, "auto"))

	// Settings are scoped per workspace.
	assert.Equal(t, "auto", s.GetStringSetting(ctx, "ws2", SettingPresenceDetection, "auto"))
}
