package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	relayerrors "github.com/helplink/chat-relay/internal/errors"
	"github.com/helplink/chat-relay/internal/workspace"
)

// MattermostAdapter talks to one Mattermost server through its REST API v4
// with a session token. The event stream lives in mattermost_stream.go.
type MattermostAdapter struct {
	serverURL       string
	token           string
	teamID          string
	selectedChannel string
	bots            *BotRegistry
	logger          zerolog.Logger
	http            *http.Client

	// wsDialer is swappable in tests (mattermost_stream.go).
	wsDialer streamDialer
}

// NewMattermostAdapter creates an adapter bound to the workspace's server
// URL, session token, and team.
func NewMattermostAdapter(ws *workspace.Workspace, bots *BotRegistry, logger zerolog.Logger) *MattermostAdapter {
	return &MattermostAdapter{
		serverURL:       strings.TrimRight(ws.MattermostURL, "/"),
		token:           ws.MattermostToken,
		teamID:          ws.MattermostTeamID,
		selectedChannel: ws.SelectedChannel,
		bots:            bots,
		logger:          logger.With().Str("component", "mattermost.adapter").Str("workspace", ws.ID).Logger(),
		http:            &http.Client{Timeout: 15 * time.Second},
		wsDialer:        dialMattermostSocket,
	}
}

// apiError is the Mattermost error envelope.
type apiError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Status  int    `json:"status_code"`
}

func (a *MattermostAdapter) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s body: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.serverURL+"/api/v4"+path, reader)
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var ae apiError
		_ = json.NewDecoder(resp.Body).Decode(&ae)
		if ae.Message == "" {
			ae.Message = resp.Status
		}
		return fmt.Errorf("%s (%s)", ae.Message, ae.ID)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return nil
}

type mmChannel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

type mmUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsBot    bool   `json:"is_bot"`
}

func (a *MattermostAdapter) ListChannels(ctx context.Context) ([]Channel, error) {
	if a.teamID == "" {
		return nil, fmt.Errorf("%w: no Mattermost team selected", relayerrors.ErrConfiguration)
	}
	var chans []mmChannel
	if err := a.do(ctx, http.MethodGet, "/teams/"+a.teamID+"/channels", nil, &chans); err != nil {
		return nil, relayerrors.NewProviderError("mattermost", "channels.list", err)
	}
	out := make([]Channel, 0, len(chans))
	for _, ch := range chans {
		out = append(out, Channel{ID: ch.ID, Name: ch.Name})
	}
	return out, nil
}

func (a *MattermostAdapter) CreateChannel(ctx context.Context, name string) (string, error) {
	if a.teamID == "" {
		return "", fmt.Errorf("%w: no Mattermost team selected for channel creation", relayerrors.ErrConfiguration)
	}
	slug := Slugify(name)
	var ch mmChannel
	err := a.do(ctx, http.MethodPost, "/channels", map[string]string{
		"team_id":      a.teamID,
		"name":         slug,
		"display_name": slug,
		"type":         "O",
	}, &ch)
	if err != nil {
		return "", relayerrors.NewProviderError("mattermost", "channels.create", err)
	}
	return ch.ID, nil
}

func (a *MattermostAdapter) JoinChannel(ctx context.Context, channelID string) {
	me, err := a.me(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Str("channel", channelID).Msg("join channel failed resolving own identity")
		return
	}
	err = a.do(ctx, http.MethodPost, "/channels/"+channelID+"/members", map[string]string{
		"user_id": me.ID,
	}, nil)
	if err == nil || strings.Contains(err.Error(), "already") {
		return
	}
	a.logger.Warn().Err(err).Str("channel", channelID).Msg("join channel failed")
}

func (a *MattermostAdapter) SendMessage(ctx context.Context, channelID, content, displayName string) error {
	// Rich messages arrive pre-flattened to markdown by the formatters;
	// anything still carrying the neutral envelope gets flattened here.
	if rich, ok := ParseRichMessage(content); ok {
		content = richToMarkdown(rich)
	}
	if displayName != "" {
		content = fmt.Sprintf("**%s**: %s", displayName, content)
	}

	err := a.do(ctx, http.MethodPost, "/posts", map[string]string{
		"channel_id": channelID,
		"message":    content,
	}, nil)
	if err != nil {
		return relayerrors.NewProviderError("mattermost", "posts.create", err)
	}
	return nil
}

// Authenticate verifies the session token and returns the bot's user id.
func (a *MattermostAdapter) Authenticate(ctx context.Context) (string, error) {
	me, err := a.me(ctx)
	if err != nil {
		return "", relayerrors.NewProviderError("mattermost", "users.me", err)
	}
	a.bots.RegisterBotUser(me.ID)
	return me.ID, nil
}

func (a *MattermostAdapter) me(ctx context.Context) (*mmUser, error) {
	var me mmUser
	if err := a.do(ctx, http.MethodGet, "/users/me", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// IsWorkspaceOnline checks status of the human members of the selected
// channel's team. Fail-closed: any query failure reports offline.
func (a *MattermostAdapter) IsWorkspaceOnline(ctx context.Context) (bool, error) {
	me, err := a.me(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("presence identity lookup failed, assuming offline")
		return false, nil
	}

	var members []struct {
		UserID string `json:"user_id"`
	}
	// Selected channel membership approximates "staff for this workspace".
	var ids []string
	if err := a.do(ctx, http.MethodGet, "/channels/"+a.selectedChannelID(ctx)+"/members", nil, &members); err != nil {
		a.logger.Warn().Err(err).Msg("presence member lookup failed, assuming offline")
		return false, nil
	}
	for _, m := range members {
		if m.UserID == me.ID || a.bots.IsBot(m.UserID) {
			continue
		}
		ids = append(ids, m.UserID)
	}
	if len(ids) == 0 {
		return false, nil
	}

	var statuses []struct {
		UserID string `json:"user_id"`
		Status string `json:"status"`
	}
	if err := a.do(ctx, http.MethodPost, "/users/status/ids", ids, &statuses); err != nil {
		a.logger.Warn().Err(err).Msg("presence status lookup failed, assuming offline")
		return false, nil
	}
	for _, s := range statuses {
		if s.Status == "online" || s.Status == "away" {
			return true, nil
		}
	}
	return false, nil
}

// selectedChannelID resolves the team's staff channel. The workspace
// stores the channel id directly; fall back to the team's default channel
// when unset.
func (a *MattermostAdapter) selectedChannelID(ctx context.Context) string {
	if ch := a.selectedChannel; ch != "" {
		return ch
	}
	var town mmChannel
	if err := a.do(ctx, http.MethodGet, "/teams/"+a.teamID+"/channels/name/town-square", nil, &town); err == nil {
		return town.ID
	}
	return ""
}

func richToMarkdown(m RichMessage) string {
	var sb strings.Builder
	for _, s := range m.Sections {
		if s.Title != "" {
			fmt.Fprintf(&sb, "#### %s\n", s.Title)
		}
		if s.Text != "" {
			sb.WriteString(s.Text)
			sb.WriteString("\n")
		}
		for _, f := range s.Fields {
			fmt.Fprintf(&sb, "**%s:** %s\n", f.Label, f.Value)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
