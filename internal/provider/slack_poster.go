package provider

import (
	"context"

	"github.com/slack-go/slack"

	relayerrors "github.com/helplink/chat-relay/internal/errors"
)

// SlackWarningPoster is the bare Slack posting primitive the no-response
// tracker uses. It builds a fresh client per call scoped to the supplied
// bot token.
type SlackWarningPoster struct {
	// post is swappable in tests.
	post func(ctx context.Context, token, channelID, text string) error
}

// NewSlackWarningPoster creates the production poster.
func NewSlackWarningPoster() *SlackWarningPoster {
	return &SlackWarningPoster{
		post: func(ctx context.Context, token, channelID, text string) error {
			api := slack.New(token)
			_, _, err := api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
			return err
		},
	}
}

// PostWarning posts a plain-text warning to the channel.
func (p *SlackWarningPoster) PostWarning(ctx context.Context, botToken, channelID, text string) error {
	if err := p.post(ctx, botToken, channelID, text); err != nil {
		return relayerrors.NewProviderError("slack", "chat.postMessage", err)
	}
	return nil
}
