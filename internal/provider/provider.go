// Package provider abstracts the chat backends (Slack, Mattermost) behind
// one capability surface: channel lifecycle, message send/format, presence.
package provider

import (
	"context"
	"regexp"
	"strings"
	"sync"
)

// Channel is a provider-native conversation container.
type Channel struct {
	ID   string
	Name string
}

// MessageContext carries the fixed field set the formatting methods render:
// session identity, the visitor's first message, and where/when it came from.
type MessageContext struct {
	SessionID    string
	FirstMessage string
	VisitorEmail string
	VisitorName  string
	ReferringPage string
	Location     string
	LocalTime    string

	// ChannelID and ChannelName identify the freshly provisioned channel
	// (welcome and notification messages only).
	ChannelID   string
	ChannelName string
}

// Adapter is the uniform capability surface over one provider. An adapter
// is bound to a single workspace's credentials at construction; it holds
// no mutable client state, so concurrent calls cannot cross-contaminate
// credentials.
type Adapter interface {
	ListChannels(ctx context.Context) ([]Channel, error)

	// CreateChannel creates a provider channel. The name is slugified
	// before sending. Returns the provider channel id.
	CreateChannel(ctx context.Context, name string) (string, error)

	// JoinChannel ensures the bot identity is a member of the channel.
	// Best-effort: "already a member" responses are success, any other
	// failure is logged and swallowed so it never blocks a send.
	JoinChannel(ctx context.Context, channelID string)

	// SendMessage posts content to a channel. Content is either plain text
	// or a provider-native serialized rich message produced by the Format*
	// methods; the Slack path sniffs for the latter.
	SendMessage(ctx context.Context, channelID, content, displayName string) error

	// Format* are pure: same inputs produce byte-identical output.
	FormatWelcomeMessage(mc MessageContext) string
	FormatNotificationMessage(mc MessageContext) string
	FormatOfflineMessage(mc MessageContext) string
}

// PresenceChecker is the optional presence capability. Adapters without it
// are treated as offline by callers.
type PresenceChecker interface {
	// IsWorkspaceOnline reports whether at least one non-bot member of the
	// workspace's selected channel is active. Fail-closed: any query
	// failure reports false.
	IsWorkspaceOnline(ctx context.Context) (bool, error)
}

// InboundMessage is a staff message received from a provider event stream.
type InboundMessage struct {
	ChannelID string
	Text      string
	UserID    string
}

// InboundHandler receives staff messages from a provider event stream.
type InboundHandler func(msg InboundMessage)

// EventSource is the optional real-time event stream capability
// (Mattermost; Slack events arrive through the dedicated listener).
type EventSource interface {
	// SetupMessageListener starts the provider event stream and forwards
	// filtered staff messages to handler until ctx is cancelled.
	SetupMessageListener(ctx context.Context, handler InboundHandler) error
}

// Authenticator is the optional capability to verify credentials and
// resolve the bot's own identity.
type Authenticator interface {
	Authenticate(ctx context.Context) (userID string, err error)
}

var slugPattern = regexp.MustCompile(`[^a-z0-9-_]+`)

// Slugify lowercases a channel name and replaces runs of characters
// outside [a-z0-9-_] with a single dash.
func Slugify(name string) string {
	return slugPattern.ReplaceAllString(strings.ToLower(name), "-")
}

// BotRegistry tracks known bot user ids so presence queries and event
// filtering can exclude them. Shared between adapters and the Slack event
// listener. Thread-safe.
type BotRegistry struct {
	mu  sync.RWMutex
	ids map[string]bool
}

// NewBotRegistry creates an empty registry.
func NewBotRegistry() *BotRegistry {
	return &BotRegistry{ids: make(map[string]bool)}
}

// RegisterBotUser records a bot user id.
func (r *BotRegistry) RegisterBotUser(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[id] = true
}

// IsBot reports whether id belongs to a registered bot.
func (r *BotRegistry) IsBot(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ids[id]
}
