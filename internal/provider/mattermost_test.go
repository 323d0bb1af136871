package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayerrors "github.com/helplink/chat-relay/internal/errors"
	"github.com/helplink/chat-relay/internal/workspace"
)

func newTestMattermostAdapter(t *testing.T, handler http.HandlerFunc) *MattermostAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewMattermostAdapter(&workspace.Workspace{
		ID:               "ws2",
		MattermostURL:    srv.URL,
		MattermostToken:  "session-token",
		MattermostTeamID: "team1",
		SelectedChannel:  "staff-channel",
	}, NewBotRegistry(), zerolog.Nop())
}

func TestMattermostCreateChannel(t *testing.T) {
	var gotBody map[string]string
	var gotAuth string
	a := newTestMattermostAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v4/channels", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(mmChannel{ID: "ch123", Name: gotBody["name"]})
	})

	id, err := a.CreateChannel(context.Background(), "Chat-Bob.Smith-AB12")
	require.NoError(t, err)
	assert.Equal(t, "ch123", id)
	assert.Equal(t, "Bearer session-token", gotAuth)
	assert.Equal(t, "chat-bob-smith-ab12", gotBody["name"])
	assert.Equal(t, "team1", gotBody["team_id"])
	assert.Equal(t, "O", gotBody["type"])
}

func TestMattermostCreateChannel_NoTeam(t *testing.T) {
	a := NewMattermostAdapter(&workspace.Workspace{
		ID: "ws2", MattermostURL: "https://mm", MattermostToken: "t",
	}, NewBotRegistry(), zerolog.Nop())

	_, err := a.CreateChannel(context.Background(), "chat-x")
	assert.ErrorIs(t, err, relayerrors.ErrConfiguration)
}

func TestMattermostSendMessage_PrefixesDisplayName(t *testing.T) {
	var gotBody map[string]string
	a := newTestMattermostAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v4/posts", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("{}"))
	})

	err := a.SendMessage(context.Background(), "ch123", "hello", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "ch123", gotBody["channel_id"])
	assert.Equal(t, "**Alice**: hello", gotBody["message"])
}

func TestMattermostSendMessage_FlattensRichEnvelope(t *testing.T) {
	var gotBody map[string]string
	a := newTestMattermostAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte("{}"))
	})

	encoded := RichMessage{Sections: []Section{{Title: "Heading", Text: "body"}}}.Encode()
	err := a.SendMessage(context.Background(), "ch123", encoded, "")
	require.NoError(t, err)
	assert.Equal(t, "#### Heading\nbody", gotBody["message"])
}

func TestMattermostSendMessage_DeliveryFailure(t *testing.T) {
	a := newTestMattermostAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(apiError{ID: "api.post.forbidden", Message: "no access"})
	})

	err := a.SendMessage(context.Background(), "ch123", "hi", "")
	var pe *relayerrors.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "mattermost", pe.Provider)
	assert.Contains(t, pe.Error(), "no access")
}

func TestMattermostAuthenticate_RegistersBotUser(t *testing.T) {
	a := newTestMattermostAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v4/users/me", r.URL.Path)
		json.NewEncoder(w).Encode(mmUser{ID: "bot-user", Username: "relay-bot", IsBot: true})
	})

	id, err := a.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bot-user", id)
	assert.True(t, a.bots.IsBot("bot-user"))
}

func TestMattermostIsWorkspaceOnline(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     bool
	}{
		{"online member", []string{"offline", "online"}, true},
		{"away counts as present", []string{"away"}, true},
		{"everyone offline", []string{"offline", "dnd"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestMattermostAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/api/v4/users/me":
					json.NewEncoder(w).Encode(mmUser{ID: "bot-user"})
				case "/api/v4/channels/staff-channel/members":
					members := make([]map[string]string, 0, len(tt.statuses)+1)
					members = append(members, map[string]string{"user_id": "bot-user"})
					for i := range tt.statuses {
						members = append(members, map[string]string{"user_id": string(rune('a' + i))})
					}
					json.NewEncoder(w).Encode(members)
				case "/api/v4/users/status/ids":
					statuses := make([]map[string]string, 0, len(tt.statuses))
					for i, s := range tt.statuses {
						statuses = append(statuses, map[string]string{
							"user_id": string(rune('a' + i)),
							"status":  s,
						})
					}
					json.NewEncoder(w).Encode(statuses)
				default:
					t.Fatalf("unexpected path %s", r.URL.Path)
				}
			})

			online, err := a.IsWorkspaceOnline(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, online)
		})
	}
}

func TestMattermostIsWorkspaceOnline_FailsClosed(t *testing.T) {
	a := newTestMattermostAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	online, err := a.IsWorkspaceOnline(context.Background())
	require.NoError(t, err)
	assert.False(t, online)
}
