package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	relayerrors "github.com/helplink/chat-relay/internal/errors"
	"github.com/helplink/chat-relay/internal/workspace"
)

// SlackAdapter talks to one Slack workspace through the Web API. Every
// call constructs a short-lived client scoped to the bot token, so there
// is no shared client to mutate.
type SlackAdapter struct {
	token           string
	selectedChannel string
	workspaceID     string
	bots            *BotRegistry
	logger          zerolog.Logger

	// newClient is swappable in tests.
	newClient func(token string) slackClient
}

// slackClient is the Web API surface the adapter uses.
type slackClient interface {
	CreateConversationContext(ctx context.Context, params slack.CreateConversationParams) (*slack.Channel, error)
	JoinConversationContext(ctx context.Context, channelID string) (*slack.Channel, string, []string, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetUsersInConversationContext(ctx context.Context, params *slack.GetUsersInConversationParameters) ([]string, string, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	GetUserPresenceContext(ctx context.Context, user string) (*slack.UserPresence, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

// NewSlackAdapter creates an adapter bound to the workspace's bot token.
func NewSlackAdapter(ws *workspace.Workspace, bots *BotRegistry, logger zerolog.Logger) *SlackAdapter {
	return &SlackAdapter{
		token:           ws.SlackBotToken,
		selectedChannel: ws.SelectedChannel,
		workspaceID:     ws.ID,
		bots:            bots,
		logger:          logger.With().Str("component", "slack.adapter").Str("workspace", ws.ID).Logger(),
		newClient: func(token string) slackClient {
			return slack.New(token)
		},
	}
}

func (a *SlackAdapter) client() slackClient {
	return a.newClient(a.token)
}

func (a *SlackAdapter) ListChannels(ctx context.Context) ([]Channel, error) {
	chans, _, err := a.client().GetConversationsContext(ctx, &slack.GetConversationsParameters{
		ExcludeArchived: true,
		Limit:           200,
	})
	if err != nil {
		return nil, relayerrors.NewProviderError("slack", "conversations.list", err)
	}
	out := make([]Channel, 0, len(chans))
	for _, ch := range chans {
		out = append(out, Channel{ID: ch.ID, Name: ch.Name})
	}
	return out, nil
}

func (a *SlackAdapter) CreateChannel(ctx context.Context, name string) (string, error) {
	ch, err := a.client().CreateConversationContext(ctx, slack.CreateConversationParams{
		ChannelName: Slugify(name),
	})
	if err != nil {
		return "", relayerrors.NewProviderError("slack", "conversations.create", err)
	}
	return ch.ID, nil
}

func (a *SlackAdapter) JoinChannel(ctx context.Context, channelID string) {
	_, _, _, err := a.client().JoinConversationContext(ctx, channelID)
	if err == nil {
		return
	}
	// The bot may already be in the channel, or the channel type may not
	// support explicit joins. Neither should block the message send.
	msg := err.Error()
	if strings.Contains(msg, "already_in_channel") || strings.Contains(msg, "method_not_supported_for_channel_type") {
		return
	}
	a.logger.Warn().Err(err).Str("channel", channelID).Msg("join channel failed")
}

func (a *SlackAdapter) SendMessage(ctx context.Context, channelID, content, displayName string) error {
	var opts []slack.MsgOption

	// The formatters hand back serialized rich messages through the same
	// string path as visitor text. Sniff before falling back to plain.
	if rich, ok := ParseRichMessage(content); ok {
		opts = append(opts, slack.MsgOptionBlocks(richToBlocks(rich)...))
	} else {
		opts = append(opts, slack.MsgOptionText(content, false))
	}
	if displayName != "" {
		opts = append(opts, slack.MsgOptionUsername(displayName))
	}

	if _, _, err := a.client().PostMessageContext(ctx, channelID, opts...); err != nil {
		return relayerrors.NewProviderError("slack", "chat.postMessage", err)
	}
	return nil
}

// Authenticate verifies the bot token and returns the bot's own user id.
func (a *SlackAdapter) Authenticate(ctx context.Context) (string, error) {
	resp, err := a.client().AuthTestContext(ctx)
	if err != nil {
		return "", relayerrors.NewProviderError("slack", "auth.test", err)
	}
	a.bots.RegisterBotUser(resp.UserID)
	return resp.UserID, nil
}

// IsWorkspaceOnline checks presence of the human members of the selected
// channel. Any failure reports offline rather than an error surfacing to
// the visitor.
func (a *SlackAdapter) IsWorkspaceOnline(ctx context.Context) (bool, error) {
	if a.selectedChannel == "" {
		return false, nil
	}
	api := a.client()

	members, _, err := api.GetUsersInConversationContext(ctx, &slack.GetUsersInConversationParameters{
		ChannelID: a.selectedChannel,
		Limit:     100,
	})
	if err != nil {
		a.logger.Warn().Err(err).Msg("presence member lookup failed, assuming offline")
		return false, nil
	}

	for _, member := range members {
		if a.bots.IsBot(member) {
			continue
		}
		user, err := api.GetUserInfoContext(ctx, member)
		if err != nil || user.IsBot {
			continue
		}
		presence, err := api.GetUserPresenceContext(ctx, member)
		if err != nil {
			continue
		}
		if presence.Presence == "active" {
			return true, nil
		}
	}
	return false, nil
}

// richToBlocks converts the neutral rich message into Block Kit blocks.
func richToBlocks(m RichMessage) []slack.Block {
	var blocks []slack.Block
	for _, s := range m.Sections {
		if s.Title != "" {
			blocks = append(blocks, slack.NewSectionBlock(
				slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*%s*", s.Title), false, false),
				nil, nil,
			))
		}
		if s.Text != "" {
			blocks = append(blocks, slack.NewSectionBlock(
				slack.NewTextBlockObject(slack.MarkdownType, s.Text, false, false),
				nil, nil,
			))
		}
		if len(s.Fields) > 0 {
			fields := make([]*slack.TextBlockObject, 0, len(s.Fields))
			for _, f := range s.Fields {
				fields = append(fields, slack.NewTextBlockObject(
					slack.MarkdownType,
					fmt.Sprintf("*%s:*\n%s", f.Label, f.Value),
					false, false,
				))
			}
			blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))
		}
	}
	return blocks
}
