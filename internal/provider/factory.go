package provider

import (
	"fmt"

	"github.com/rs/zerolog"

	relayerrors "github.com/helplink/chat-relay/internal/errors"
	"github.com/helplink/chat-relay/internal/workspace"
)

// Factory resolves the adapter variant for a workspace and validates the
// service-type-specific credentials before any provider call is made.
type Factory struct {
	bots   *BotRegistry
	logger zerolog.Logger
}

// NewFactory creates an adapter factory. The bot registry is shared with
// the Slack event listener so both filter the same identities.
func NewFactory(bots *BotRegistry, logger zerolog.Logger) *Factory {
	return &Factory{
		bots:   bots,
		logger: logger.With().Str("component", "provider.factory").Logger(),
	}
}

// Resolve returns the adapter for the workspace's configured service type.
// Missing credentials and unrecognized service types fail here, not at the
// first provider call.
func (f *Factory) Resolve(ws *workspace.Workspace) (Adapter, error) {
	if ws == nil {
		return nil, fmt.Errorf("%w: workspace is nil", relayerrors.ErrConfiguration)
	}

	switch ws.ServiceType {
	case workspace.ServiceSlack:
		if ws.SlackBotToken == "" {
			return nil, fmt.Errorf("%w: workspace %s has no Slack bot token", relayerrors.ErrConfiguration, ws.ID)
		}
		return NewSlackAdapter(ws, f.bots, f.logger), nil

	case workspace.ServiceMattermost:
		if ws.MattermostURL == "" || ws.MattermostToken == "" {
			return nil, fmt.Errorf("%w: workspace %s is missing Mattermost server URL or session token",
				relayerrors.ErrConfiguration, ws.ID)
		}
		return NewMattermostAdapter(ws, f.bots, f.logger), nil

	default:
		return nil, fmt.Errorf("%w: unsupported service type %q for workspace %s",
			relayerrors.ErrConfiguration, ws.ServiceType, ws.ID)
	}
}
