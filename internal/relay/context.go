package relay

import (
	"strings"
	"time"

	"github.com/helplink/chat-relay/internal/provider"
	"github.com/helplink/chat-relay/internal/session"
)

// RequestContext carries the transport-level hints used when formatting
// the welcome message. CurrentPage, when the widget supplies it, overrides
// the Referer header.
type RequestContext struct {
	Referer     string
	CurrentPage string
}

// VisitorInfo is the optional identity the widget sends with a message.
// A non-nil empty Email is an explicit sign-out: it clears the stored
// identity for the session.
type VisitorInfo struct {
	Email *string
	Name  string
}

func (rc RequestContext) referringPage() string {
	if rc.CurrentPage != "" {
		return rc.CurrentPage
	}
	return rc.Referer
}

// buildMessageContext assembles the fixed field set the provider
// formatters render.
func (s *Service) buildMessageContext(sess *session.ChatSession, text, email, name string, rc RequestContext) provider.MessageContext {
	return provider.MessageContext{
		SessionID:     sess.ID,
		FirstMessage:  text,
		VisitorEmail:  email,
		VisitorName:   name,
		ReferringPage: rc.referringPage(),
		Location:      s.cfg.LocationLabel,
		LocalTime:     s.now().UTC().Add(s.cfg.LocalTimeOffset).Format("3:04 PM"),
	}
}

// channelName builds the deterministic provider channel name: the
// identity's local-part plus the first 8 characters of the session id, or
// just the session-id prefix for anonymous visitors.
func channelName(sess *session.ChatSession, email string) string {
	prefix := sess.ID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	if email == "" {
		return "chat-" + prefix
	}
	local := email
	if at := strings.Index(email, "@"); at > 0 {
		local = email[:at]
	}
	return "chat-" + provider.Slugify(local) + "-" + prefix
}

// elapsedSince is used by log context on session close.
func elapsedSince(start time.Time, now time.Time) time.Duration {
	if start.IsZero() {
		return 0
	}
	return now.Sub(start)
}
