// Package listener subscribes to provider event streams and forwards
// staff messages into the relay.
package listener

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/helplink/chat-relay/internal/provider"
	"github.com/helplink/chat-relay/internal/session"
)

// SessionResolver maps a provider channel back to its chat session.
type SessionResolver interface {
	FindSessionByChannel(ctx context.Context, channelID string) (*session.ChatSession, error)
}

// StaffSink delivers a staff message to the visitor connections registered
// for a session, returning how many received it.
type StaffSink interface {
	DeliverStaffMessage(sessionID, text, sender string) int
}

// MessageObserver is notified of staff replies so warning timers disarm.
type MessageObserver interface {
	TrackMessage(sessionID string, fromVisitor bool)
}

// SlackListener is the always-on Slack event receiver. It owns the Socket
// Mode connection for the service's primary Slack workspace and routes
// staff messages back to visitor sockets.
type SlackListener struct {
	api      *slack.Client
	socket   *socketmode.Client
	resolver SessionResolver
	sink     StaffSink
	observer MessageObserver
	bots     *provider.BotRegistry
	logger   zerolog.Logger
	selfID   string
}

// NewSlackListener creates the listener from bot and app-level tokens.
func NewSlackListener(
	botToken, appToken string,
	resolver SessionResolver,
	sink StaffSink,
	observer MessageObserver,
	bots *provider.BotRegistry,
	logger zerolog.Logger,
) *SlackListener {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	return &SlackListener{
		api:      api,
		socket:   socketmode.New(api),
		resolver: resolver,
		sink:     sink,
		observer: observer,
		bots:     bots,
		logger:   logger.With().Str("component", "slack.listener").Logger(),
	}
}

// Run starts the Socket Mode event loop. Blocks until ctx is cancelled.
func (l *SlackListener) Run(ctx context.Context) error {
	if resp, err := l.api.AuthTestContext(ctx); err == nil {
		l.selfID = resp.UserID
		l.bots.RegisterBotUser(resp.UserID)
		l.logger.Info().Str("bot_user_id", resp.UserID).Msg("slack bot identity resolved")
	} else {
		l.logger.Warn().Err(err).Msg("auth test failed, self-message filtering degraded")
	}

	go func() {
		for evt := range l.socket.Events {
			l.handleEvent(ctx, evt)
		}
	}()

	l.logger.Info().Msg("starting Slack Socket Mode connection")
	if err := l.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("socket mode error: %w", err)
	}
	return nil
}

func (l *SlackListener) handleEvent(ctx context.Context, evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		l.logger.Debug().Str("type", string(evt.Type)).Msg("unhandled event type")
		return
	}
	// Slack requires the ack within 3 seconds.
	if evt.Request != nil {
		l.socket.Ack(*evt.Request)
	}

	apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok || apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	l.handleMessage(ctx, ev)
}

// handleMessage routes one staff message. Bot-authored and join-system
// messages are ignored; messages for sessions with no live sockets are
// logged and dropped, never queued.
func (l *SlackListener) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	if ev.User == "" || ev.BotID != "" || ev.SubType != "" {
		return
	}
	if ev.User == l.selfID || l.bots.IsBot(ev.User) {
		return
	}

	sess, err := l.resolver.FindSessionByChannel(ctx, ev.Channel)
	if err != nil {
		l.logger.Debug().Str("channel", ev.Channel).Msg("message in channel with no session")
		return
	}

	l.observer.TrackMessage(sess.ID, false)

	delivered := l.sink.DeliverStaffMessage(sess.ID, ev.Text, ev.User)
	if delivered == 0 {
		l.logger.Warn().
			Str("session", sess.ID).
			Str("channel", ev.Channel).
			Msg("staff message had no connected recipient, dropped")
		return
	}
	l.logger.Info().
		Str("session", sess.ID).
		Int("recipients", delivered).
		Msg("staff message relayed")
}
