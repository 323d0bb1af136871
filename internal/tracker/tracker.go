// Package tracker escalates warnings to staff when a visitor message goes
// unanswered past a configured delay.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helplink/chat-relay/internal/metrics"
	"github.com/helplink/chat-relay/internal/session"
	"github.com/helplink/chat-relay/internal/workspace"
)

// WarningPoster posts a no-response warning into a provider channel.
// The production implementation is the Slack posting primitive; warnings
// do not route through the generic adapter abstraction.
type WarningPoster interface {
	PostWarning(ctx context.Context, botToken, channelID, text string) error
}

// state is the per-session tracking record.
type state struct {
	lastVisitorAt time.Time
	replied       bool
	warnings      int
	cancel        chan struct{} // non-nil while a timer is armed
}

// Tracker is the per-session no-response timer state machine. All state
// is in-memory and lost on restart.
type Tracker struct {
	sessions   session.Repository
	workspaces workspace.Directory
	settings   workspace.SettingsStore
	poster     WarningPoster
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	now func() time.Time

	mu     sync.Mutex
	states map[string]*state
	closed bool
	wg     sync.WaitGroup
}

// New creates a tracker. m may be nil.
func New(
	sessions session.Repository,
	workspaces workspace.Directory,
	settings workspace.SettingsStore,
	poster WarningPoster,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Tracker {
	return &Tracker{
		sessions:   sessions,
		workspaces: workspaces,
		settings:   settings,
		poster:     poster,
		metrics:    m,
		logger:     logger.With().Str("component", "tracker").Logger(),
		now:        time.Now,
		states:     make(map[string]*state),
	}
}

// TrackMessage records a relayed message. Staff replies (fromVisitor =
// false) disarm the warning cycle; visitor messages arm it when the
// workspace policy asks for warnings.
func (t *Tracker) TrackMessage(sessionID string, fromVisitor bool) {
	if !fromVisitor {
		t.markReplied(sessionID)
		return
	}
	t.trackVisitorMessage(sessionID)
}

// markReplied flags the session as answered and cancels any armed timer.
// Safe to call when nothing is tracked.
func (t *Tracker) markReplied(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[sessionID]
	if !ok {
		return
	}
	st.replied = true
	if st.cancel != nil {
		close(st.cancel)
		st.cancel = nil
	}
}

func (t *Tracker) trackVisitorMessage(sessionID string) {
	ctx := context.Background()

	sess, err := t.sessions.FindByID(ctx, sessionID)
	if err != nil || sess.Status != session.StatusActive || sess.ChannelID == "" {
		return
	}

	action := t.settings.GetStringSetting(ctx, sess.WorkspaceID, workspace.SettingNoResponseAction, "none")
	delay := ParseDelay(t.settings.GetStringSetting(ctx, sess.WorkspaceID, workspace.SettingNoResponseDelay, "30sec"))

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	st, ok := t.states[sessionID]
	if !ok {
		st = &state{}
		t.states[sessionID] = st
	}
	st.lastVisitorAt = t.now()
	st.replied = false
	if st.cancel != nil {
		close(st.cancel)
		st.cancel = nil
	}

	if action != "send warning" {
		return
	}

	cancel := make(chan struct{})
	st.cancel = cancel
	t.wg.Add(1)
	go t.run(sessionID, delay, cancel)
}

// run is the repeating warning task for one armed session. It reposts a
// warning every delay until cancelled or told to stop.
func (t *Tracker) run(sessionID string, delay time.Duration, cancel chan struct{}) {
	defer t.wg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-cancel:
			return
		case <-timer.C:
			if !t.fire(sessionID, cancel) {
				return
			}
			timer.Reset(delay)
		}
	}
}

// fire sends one warning. Returns false when the cycle should stop: the
// session is no longer tracked, a staff reply arrived, or the warning
// cannot be delivered at all.
func (t *Tracker) fire(sessionID string, cancel chan struct{}) bool {
	t.mu.Lock()
	st, ok := t.states[sessionID]
	if !ok || st.replied || st.cancel != cancel {
		t.mu.Unlock()
		return false
	}
	elapsed := t.now().Sub(st.lastVisitorAt)
	st.warnings++
	count := st.warnings
	t.mu.Unlock()

	ctx, cancelCtx := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCtx()

	sess, err := t.sessions.FindByID(ctx, sessionID)
	if err != nil || sess.Status != session.StatusActive || sess.ChannelID == "" {
		return false
	}
	ws, err := t.workspaces.FindByID(ctx, sess.WorkspaceID)
	if err != nil {
		return false
	}
	if ws.SlackBotToken == "" {
		t.logger.Warn().Str("session", sessionID).Msg("no Slack credential for warning, disarming")
		return false
	}

	text := fmt.Sprintf("The visitor has been waiting %s without a reply.", FormatElapsed(elapsed))
	if err := t.poster.PostWarning(ctx, ws.SlackBotToken, sess.ChannelID, text); err != nil {
		// Best-effort: log and keep the cadence going.
		t.logger.Warn().Err(err).Str("session", sessionID).Msg("warning delivery failed")
	} else {
		t.metrics.RecordWarning()
		t.logger.Info().
			Str("session", sessionID).
			Int("warnings", count).
			Msg("no-response warning sent")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok = t.states[sessionID]
	return ok && !st.replied && st.cancel == cancel
}

// ClearSession cancels any armed timer and purges all per-session state.
// Idempotent.
func (t *Tracker) ClearSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[sessionID]
	if !ok {
		return
	}
	if st.cancel != nil {
		close(st.cancel)
	}
	delete(t.states, sessionID)
}

// Shutdown cancels every armed timer and waits for the warning tasks to
// drain. Called from the process lifecycle hook.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	t.closed = true
	for id, st := range t.states {
		if st.cancel != nil {
			close(st.cancel)
		}
		delete(t.states, id)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

// ParseDelay maps the configured delay setting to a duration. Unrecognized
// values fall back to 30 seconds.
func ParseDelay(s string) time.Duration {
	switch s {
	case "30sec":
		return 30 * time.Second
	case "1min":
		return time.Minute
	case "2min":
		return 2 * time.Minute
	case "5min":
		return 5 * time.Minute
	default:
		return 30 * time.Second
	}
}

// FormatElapsed renders a waiting duration: "N seconds" under a minute,
// "M:SS minutes" from there on.
func FormatElapsed(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 60 {
		return fmt.Sprintf("%d seconds", secs)
	}
	return fmt.Sprintf("%d:%02d minutes", secs/60, secs%60)
}
