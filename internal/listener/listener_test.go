package listener

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayerrors "github.com/helplink/chat-relay/internal/errors"
	"github.com/helplink/chat-relay/internal/provider"
	"github.com/helplink/chat-relay/internal/session"
)

type fakeResolver struct {
	byChannel map[string]*session.ChatSession
}

func (r *fakeResolver) FindSessionByChannel(_ context.Context, channelID string) (*session.ChatSession, error) {
	sess, ok := r.byChannel[channelID]
	if !ok {
		return nil, relayerrors.ErrNotFound
	}
	return sess, nil
}

type fakeSink struct {
	mu        sync.Mutex
	delivered []string
	count     int
}

func (s *fakeSink) DeliverStaffMessage(sessionID, text, sender string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, sessionID+"|"+text+"|"+sender)
	return s.count
}

type fakeObserver struct {
	mu      sync.Mutex
	tracked []string
}

func (o *fakeObserver) TrackMessage(sessionID string, fromVisitor bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	suffix := ":staff"
	if fromVisitor {
		suffix = ":visitor"
	}
	o.tracked = append(o.tracked, sessionID+suffix)
}

func newListenerFixture(sinkCount int) (*SlackListener, *fakeResolver, *fakeSink, *fakeObserver) {
	resolver := &fakeResolver{byChannel: map[string]*session.ChatSession{
		"C123": {ID: "sess1", WorkspaceID: "ws1", ChannelID: "C123", Status: session.StatusActive},
	}}
	sink := &fakeSink{count: sinkCount}
	observer := &fakeObserver{}
	l := NewSlackListener("xoxb-test", "xapp-test", resolver, sink, observer, provider.NewBotRegistry(), zerolog.Nop())
	l.selfID = "USELF"
	return l, resolver, sink, observer
}

func TestHandleMessage_RelaysStaffMessage(t *testing.T) {
	l, _, sink, observer := newListenerFixture(1)

	l.handleMessage(context.Background(), &slackevents.MessageEvent{
		User:    "USTAFF",
		Channel: "C123",
		Text:    "how can I help?",
	})

	require.Equal(t, []string{"sess1|how can I help?|USTAFF"}, sink.delivered)
	assert.Equal(t, []string{"sess1:staff"}, observer.tracked)
}

func TestHandleMessage_DropsWithoutRecipients(t *testing.T) {
	l, _, sink, observer := newListenerFixture(0)

	// No live sockets: delivery is attempted once, nothing is queued.
	l.handleMessage(context.Background(), &slackevents.MessageEvent{
		User:    "USTAFF",
		Channel: "C123",
		Text:    "anyone there?",
	})

	assert.Len(t, sink.delivered, 1)
	// The reply still disarms the no-response timer.
	assert.Equal(t, []string{"sess1:staff"}, observer.tracked)
}

func TestHandleMessage_IgnoresBotsAndSystemMessages(t *testing.T) {
	tests := []struct {
		name string
		ev   *slackevents.MessageEvent
	}{
		{"own message", &slackevents.MessageEvent{User: "USELF", Channel: "C123", Text: "x"}},
		{"bot message", &slackevents.MessageEvent{User: "U1", BotID: "B1", Channel: "C123", Text: "x"}},
		{"no author", &slackevents.MessageEvent{Channel: "C123", Text: "x"}},
		{"channel join subtype", &slackevents.MessageEvent{User: "U1", SubType: "channel_join", Channel: "C123"}},
		{"edited message subtype", &slackevents.MessageEvent{User: "U1", SubType: "message_changed", Channel: "C123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, sink, observer := newListenerFixture(1)
			l.handleMessage(context.Background(), tt.ev)
			assert.Empty(t, sink.delivered)
			assert.Empty(t, observer.tracked)
		})
	}
}

func TestHandleMessage_IgnoresRegisteredBots(t *testing.T) {
	l, _, sink, _ := newListenerFixture(1)
	l.bots.RegisterBotUser("UOTHERBOT")

	l.handleMessage(context.Background(), &slackevents.MessageEvent{
		User:    "UOTHERBOT",
		Channel: "C123",
		Text:    "automated notice",
	})
	assert.Empty(t, sink.delivered)
}

func TestHandleMessage_UnknownChannel(t *testing.T) {
	l, _, sink, observer := newListenerFixture(1)

	l.handleMessage(context.Background(), &slackevents.MessageEvent{
		User:    "USTAFF",
		Channel: "C-UNRELATED",
		Text:    "hi",
	})
	assert.Empty(t, sink.delivered)
	assert.Empty(t, observer.tracked)
}

func TestMattermostHandler_RelaysStaffPost(t *testing.T) {
	resolver := &fakeResolver{byChannel: map[string]*session.ChatSession{
		"mmch1": {ID: "sess2", WorkspaceID: "ws2", ChannelID: "mmch1", Status: session.StatusActive},
	}}
	sink := &fakeSink{count: 1}
	observer := &fakeObserver{}
	m := NewMattermostListeners(nil, nil, resolver, sink, observer, zerolog.Nop())

	handler := m.handlerFor(context.Background())
	handler(provider.InboundMessage{ChannelID: "mmch1", Text: "on it", UserID: "staff-1"})

	assert.Equal(t, []string{"sess2|on it|staff-1"}, sink.delivered)
	assert.Equal(t, []string{"sess2:staff"}, observer.tracked)
}

func TestMattermostHandler_UnknownChannel(t *testing.T) {
	resolver := &fakeResolver{byChannel: map[string]*session.ChatSession{}}
	sink := &fakeSink{count: 1}
	m := NewMattermostListeners(nil, nil, resolver, sink, &fakeObserver{}, zerolog.Nop())

	m.handlerFor(context.Background())(provider.InboundMessage{ChannelID: "nope", Text: "x", UserID: "u"})
	assert.Empty(t, sink.delivered)
}
