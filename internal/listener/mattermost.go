package listener

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helplink/chat-relay/internal/provider"
	"github.com/helplink/chat-relay/internal/workspace"
)

// AdapterResolver selects the provider adapter for a workspace.
type AdapterResolver interface {
	Resolve(ws *workspace.Workspace) (provider.Adapter, error)
}

// MattermostListeners runs one event-stream listener per Mattermost
// workspace, forwarding staff posts through the same resolve/deliver path
// as the Slack listener.
type MattermostListeners struct {
	workspaces workspace.Directory
	adapters   AdapterResolver
	resolver   SessionResolver
	sink       StaffSink
	observer   MessageObserver
	logger     zerolog.Logger
}

// NewMattermostListeners creates the listener group.
func NewMattermostListeners(
	workspaces workspace.Directory,
	adapters AdapterResolver,
	resolver SessionResolver,
	sink StaffSink,
	observer MessageObserver,
	logger zerolog.Logger,
) *MattermostListeners {
	return &MattermostListeners{
		workspaces: workspaces,
		adapters:   adapters,
		resolver:   resolver,
		sink:       sink,
		observer:   observer,
		logger:     logger.With().Str("component", "mattermost.listener").Logger(),
	}
}

// Run starts a stream per configured Mattermost workspace and blocks
// until ctx is cancelled. Workspaces that fail to resolve are skipped.
func (m *MattermostListeners) Run(ctx context.Context) error {
	all, err := m.workspaces.FindAll(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, ws := range all {
		if ws.ServiceType != workspace.ServiceMattermost {
			continue
		}
		adapter, err := m.adapters.Resolve(ws)
		if err != nil {
			m.logger.Warn().Err(err).Str("workspace", ws.ID).Msg("skipping workspace with invalid credentials")
			continue
		}
		source, ok := adapter.(provider.EventSource)
		if !ok {
			continue
		}

		wsID := ws.ID
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.logger.Info().Str("workspace", wsID).Msg("mattermost listener starting")
			_ = source.SetupMessageListener(ctx, m.handlerFor(ctx))
		}()
	}
	wg.Wait()
	return nil
}

func (m *MattermostListeners) handlerFor(ctx context.Context) provider.InboundHandler {
	return func(msg provider.InboundMessage) {
		sess, err := m.resolver.FindSessionByChannel(ctx, msg.ChannelID)
		if err != nil {
			m.logger.Debug().Str("channel", msg.ChannelID).Msg("post in channel with no session")
			return
		}

		m.observer.TrackMessage(sess.ID, false)

		delivered := m.sink.DeliverStaffMessage(sess.ID, msg.Text, msg.UserID)
		if delivered == 0 {
			m.logger.Warn().
				Str("session", sess.ID).
				Str("channel", msg.ChannelID).
				Msg("staff post had no connected recipient, dropped")
			return
		}
		m.logger.Info().
			Str("session", sess.ID).
			Int("recipients", delivered).
			Msg("staff post relayed")
	}
}
