// Package relay orchestrates chat sessions: creation, first-message
// channel provisioning, bidirectional message routing, and presence.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	relayerrors "github.com/helplink/chat-relay/internal/errors"
	"github.com/helplink/chat-relay/internal/metrics"
	"github.com/helplink/chat-relay/internal/provider"
	"github.com/helplink/chat-relay/internal/session"
	"github.com/helplink/chat-relay/internal/workspace"
)

// AdapterResolver selects the provider adapter for a workspace.
type AdapterResolver interface {
	Resolve(ws *workspace.Workspace) (provider.Adapter, error)
}

// MessageObserver is notified of relayed messages so response tracking
// can arm and clear timers. Implemented by the no-response tracker.
type MessageObserver interface {
	TrackMessage(sessionID string, fromVisitor bool)
	ClearSession(sessionID string)
}

// Config holds relay tunables.
type Config struct {
	// LocationLabel is the fixed location string shown in staff notices.
	LocationLabel string

	// LocalTimeOffset shifts UTC to the visitor-facing local time shown
	// in staff notices.
	LocalTimeOffset time.Duration
}

// DefaultConfig returns the stock relay configuration.
func DefaultConfig() Config {
	return Config{
		LocationLabel:   "Ho Chi Minh City, Vietnam",
		LocalTimeOffset: 7 * time.Hour,
	}
}

// Service is the relay core. All chat-session records are mutated only
// through its methods.
type Service struct {
	cfg        Config
	sessions   session.Repository
	workspaces workspace.Directory
	settings   workspace.SettingsStore
	adapters   AdapterResolver
	observer   MessageObserver
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	now func() time.Time

	// provisioning serializes first-message channel creation per session,
	// so two near-simultaneous first messages cannot create two channels.
	mu           sync.Mutex
	provisioning map[string]*sync.Mutex
}

// New creates the relay service. observer and m may be nil.
func New(
	cfg Config,
	sessions session.Repository,
	workspaces workspace.Directory,
	settings workspace.SettingsStore,
	adapters AdapterResolver,
	observer MessageObserver,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Service {
	if cfg.LocationLabel == "" {
		cfg = DefaultConfig()
	}
	return &Service{
		cfg:          cfg,
		sessions:     sessions,
		workspaces:   workspaces,
		settings:     settings,
		adapters:     adapters,
		observer:     observer,
		metrics:      m,
		logger:       logger.With().Str("component", "relay").Logger(),
		now:          time.Now,
		provisioning: make(map[string]*sync.Mutex),
	}
}

// StartChat validates the workspace and creates an active session with no
// channel yet.
func (s *Service) StartChat(ctx context.Context, workspaceID string) (*session.ChatSession, error) {
	ws, err := s.workspaces.FindByID(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", workspaceID, err)
	}

	sess := &session.ChatSession{
		ID:          session.NewID(),
		WorkspaceID: ws.ID,
		Status:      session.StatusActive,
		StartedAt:   s.now(),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Info().
		Str("session", sess.ID).
		Str("workspace", ws.ID).
		Msg("chat session started")
	return sess, nil
}

// SendMessage relays a visitor message into the session's provider
// channel, provisioning the channel on the first message.
func (s *Service) SendMessage(ctx context.Context, sessionID, text string, rc RequestContext, info *VisitorInfo) error {
	sess, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}

	email, name, err := s.applyIdentity(ctx, sess, info)
	if err != nil {
		return err
	}

	ws, err := s.workspaces.FindByID(ctx, sess.WorkspaceID)
	if err != nil {
		return fmt.Errorf("workspace %s: %w", sess.WorkspaceID, err)
	}
	adapter, err := s.adapters.Resolve(ws)
	if err != nil {
		return err
	}

	if sess.ChannelID == "" {
		if err := s.provisionChannel(ctx, sess, ws, adapter, text, email, name, rc); err != nil {
			return err
		}
	}

	adapter.JoinChannel(ctx, sess.ChannelID)

	displayName := email
	if displayName == "" {
		displayName = "Anonymous visitor"
	}
	if err := adapter.SendMessage(ctx, sess.ChannelID, text, displayName); err != nil {
		s.logger.Error().Err(err).Str("session", sess.ID).Msg("visitor message delivery failed")
		return fmt.Errorf("%w: %v", relayerrors.ErrMessageDelivery, err)
	}

	s.metrics.RecordRelayed(string(ws.ServiceType), "outbound")
	if s.observer != nil {
		s.observer.TrackMessage(sess.ID, true)
	}
	return nil
}

// applyIdentity handles visitor identity: an explicitly empty email
// clears the stored one; a new email is stored once. Returns the
// effective email and name for this message.
func (s *Service) applyIdentity(ctx context.Context, sess *session.ChatSession, info *VisitorInfo) (string, string, error) {
	if info == nil {
		return sess.VisitorEmail, "", nil
	}
	if info.Email != nil && *info.Email == "" {
		if sess.VisitorEmail != "" {
			sess.VisitorEmail = ""
			if err := s.sessions.Save(ctx, sess); err != nil {
				return "", "", fmt.Errorf("clearing visitor identity: %w", err)
			}
		}
		return "", info.Name, nil
	}
	if info.Email != nil && sess.VisitorEmail == "" {
		sess.VisitorEmail = *info.Email
		if err := s.sessions.Save(ctx, sess); err != nil {
			return "", "", fmt.Errorf("storing visitor identity: %w", err)
		}
	}
	if info.Email != nil {
		return *info.Email, info.Name, nil
	}
	return sess.VisitorEmail, info.Name, nil
}

// provisionChannel runs the first-message block: create the channel, send
// the welcome notice, and notify the staff channel. Failures leave the
// session without a channel id.
func (s *Service) provisionChannel(
	ctx context.Context,
	sess *session.ChatSession,
	ws *workspace.Workspace,
	adapter provider.Adapter,
	text, email, name string,
	rc RequestContext,
) error {
	lock := s.provisionLock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	// Another call may have provisioned while this one waited.
	current, err := s.sessions.FindByID(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("session %s: %w", sess.ID, err)
	}
	if current.ChannelID != "" {
		sess.ChannelID = current.ChannelID
		return nil
	}

	channelID, err := adapter.CreateChannel(ctx, channelName(sess, email))
	if err != nil {
		s.logger.Error().Err(err).Str("session", sess.ID).Msg("channel creation failed")
		return fmt.Errorf("%w: %v", relayerrors.ErrChannelCreation, err)
	}

	mc := s.buildMessageContext(sess, text, email, name, rc)
	mc.ChannelID = channelID
	mc.ChannelName = channelName(sess, email)

	if err := adapter.SendMessage(ctx, channelID, adapter.FormatWelcomeMessage(mc), ""); err != nil {
		s.logger.Error().Err(err).Str("session", sess.ID).Msg("welcome message failed")
		return fmt.Errorf("%w: %v", relayerrors.ErrChannelCreation, err)
	}

	if ws.SelectedChannel != "" && ws.SelectedChannel != channelID {
		if err := adapter.SendMessage(ctx, ws.SelectedChannel, adapter.FormatNotificationMessage(mc), ""); err != nil {
			s.logger.Error().Err(err).Str("session", sess.ID).Msg("staff notification failed")
			return fmt.Errorf("%w: %v", relayerrors.ErrChannelCreation, err)
		}
	}

	// Commit the channel id only after the notices landed.
	sess.ChannelID = channelID
	if err := s.sessions.Save(ctx, sess); err != nil {
		sess.ChannelID = ""
		return fmt.Errorf("%w: persisting channel id: %v", relayerrors.ErrChannelCreation, err)
	}

	s.metrics.RecordChannelProvisioned(string(ws.ServiceType))
	s.logger.Info().
		Str("session", sess.ID).
		Str("channel", channelID).
		Msg("channel provisioned")
	return nil
}

func (s *Service) provisionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.provisioning[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.provisioning[sessionID] = lock
	}
	return lock
}

// EndChatSession closes the session and best-effort posts a closing
// notice. The status transition is committed before the notice, and is
// not rolled back if the notice fails.
func (s *Service) EndChatSession(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}

	sess.Status = session.StatusClosed
	sess.EndedAt = s.now()
	if err := s.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}

	if s.observer != nil {
		s.observer.ClearSession(sess.ID)
	}

	s.mu.Lock()
	delete(s.provisioning, sess.ID)
	s.mu.Unlock()

	s.logger.Info().
		Str("session", sess.ID).
		Dur("duration", elapsedSince(sess.StartedAt, s.now())).
		Msg("chat session closed")

	if sess.ChannelID == "" {
		return nil
	}
	ws, err := s.workspaces.FindByID(ctx, sess.WorkspaceID)
	if err != nil {
		return nil
	}
	adapter, err := s.adapters.Resolve(ws)
	if err != nil {
		return nil
	}
	if err := adapter.SendMessage(ctx, sess.ChannelID, "The visitor has left the chat.", ""); err != nil {
		s.logger.Warn().Err(err).Str("session", sess.ID).Msg("closing notice failed")
		return fmt.Errorf("%w: %v", relayerrors.ErrMessageDelivery, err)
	}
	return nil
}

// HandleOfflineMessage records a terminal offline session and sends one
// formatted message to the workspace's pre-selected staff channel.
// Offline sessions never get a channel of their own.
func (s *Service) HandleOfflineMessage(ctx context.Context, workspaceID, email, message, name string, rc RequestContext) error {
	ws, err := s.workspaces.FindByID(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("workspace %s: %w", workspaceID, err)
	}
	if ws.SelectedChannel == "" {
		return fmt.Errorf("%w: workspace %s has no staff channel selected for offline messages",
			relayerrors.ErrConfiguration, ws.ID)
	}
	adapter, err := s.adapters.Resolve(ws)
	if err != nil {
		return err
	}

	sess := &session.ChatSession{
		ID:           session.NewID(),
		WorkspaceID:  ws.ID,
		VisitorEmail: email,
		Status:       session.StatusOffline,
		StartedAt:    s.now(),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return fmt.Errorf("creating offline session: %w", err)
	}

	mc := s.buildMessageContext(sess, message, email, name, rc)
	if err := adapter.SendMessage(ctx, ws.SelectedChannel, adapter.FormatOfflineMessage(mc), ""); err != nil {
		s.logger.Error().Err(err).Str("session", sess.ID).Msg("offline message delivery failed")
		return fmt.Errorf("%w: %v", relayerrors.ErrMessageDelivery, err)
	}

	s.metrics.RecordRelayed(string(ws.ServiceType), "offline")
	s.logger.Info().
		Str("session", sess.ID).
		Str("workspace", ws.ID).
		Msg("offline message relayed")
	return nil
}

// IsWorkspaceOnline reports staff availability. Workspaces with manual
// presence detection are always online; otherwise the adapter's presence
// capability decides, and every failure path degrades to offline.
func (s *Service) IsWorkspaceOnline(ctx context.Context, workspaceID string) bool {
	mode := s.settings.GetStringSetting(ctx, workspaceID, workspace.SettingPresenceDetection, "auto")
	if mode == "manual" {
		return true
	}

	ws, err := s.workspaces.FindByID(ctx, workspaceID)
	if err != nil {
		return false
	}
	adapter, err := s.adapters.Resolve(ws)
	if err != nil {
		return false
	}
	checker, ok := adapter.(provider.PresenceChecker)
	if !ok {
		return false
	}
	online, err := checker.IsWorkspaceOnline(ctx)
	if err != nil {
		return false
	}
	return online
}

// FindSessionByChannel resolves the session bound to a provider channel.
// Used by the event listeners to route staff messages.
func (s *Service) FindSessionByChannel(ctx context.Context, channelID string) (*session.ChatSession, error) {
	return s.sessions.FindByChannelID(ctx, channelID)
}
