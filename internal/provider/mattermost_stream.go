package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// streamReconnectDelay is the fixed backoff between reconnect attempts.
// No upper retry bound: a long-lived service keeps trying forever.
const streamReconnectDelay = 5 * time.Second

// streamConn is the part of a websocket connection the stream uses.
type streamConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// streamDialer opens an authenticated event-stream connection.
type streamDialer func(ctx context.Context, serverURL, token string) (streamConn, error)

// dialMattermostSocket connects to the Mattermost websocket endpoint and
// performs the authentication challenge.
func dialMattermostSocket(ctx context.Context, serverURL, token string) (streamConn, error) {
	wsURL := serverURL + "/api/v4/websocket"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}

	err = conn.WriteJSON(map[string]any{
		"seq":    1,
		"action": "authentication_challenge",
		"data":   map[string]string{"token": token},
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// mmEvent is the websocket event envelope.
type mmEvent struct {
	Event string `json:"event"`
	Data  struct {
		Post string `json:"post"`
	} `json:"data"`
}

// mmPost is the post payload embedded as a JSON string inside the event.
type mmPost struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Message   string `json:"message"`
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
}

var systemMessageMarkers = []string{
	"added to the channel",
	"joined the channel",
	"left the channel",
}

// SetupMessageListener runs the Mattermost event stream, forwarding staff
// posts to handler. Blocks until ctx is cancelled, reconnecting on every
// error or close with a fixed backoff.
func (a *MattermostAdapter) SetupMessageListener(ctx context.Context, handler InboundHandler) error {
	ownID, err := a.Authenticate(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("event stream identity lookup failed, filtering on registry only")
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := a.wsDialer(ctx, a.serverURL, a.token)
		if err != nil {
			a.logger.Warn().Err(err).Msg("event stream connect failed, retrying")
			if !sleepCtx(ctx, streamReconnectDelay) {
				return nil
			}
			continue
		}

		a.logger.Info().Msg("mattermost event stream connected")
		a.readStream(ctx, conn, ownID, handler)
		conn.Close()

		if !sleepCtx(ctx, streamReconnectDelay) {
			return nil
		}
	}
}

// readStream consumes events until the connection errors or ctx ends.
func (a *MattermostAdapter) readStream(ctx context.Context, conn streamConn, ownID string, handler InboundHandler) {
	// Unblock the read when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn().Err(err).Msg("event stream read error, reconnecting")
			}
			return
		}

		var evt mmEvent
		if err := json.Unmarshal(raw, &evt); err != nil || evt.Event != "posted" {
			continue
		}
		var post mmPost
		if err := json.Unmarshal([]byte(evt.Data.Post), &post); err != nil {
			continue
		}
		if !a.shouldForward(post, ownID) {
			continue
		}
		handler(InboundMessage{
			ChannelID: post.ChannelID,
			Text:      post.Message,
			UserID:    post.UserID,
		})
	}
}

// shouldForward applies the staff-post filter: not the adapter's own
// identity, not a registered bot, not a membership system message.
func (a *MattermostAdapter) shouldForward(post mmPost, ownID string) bool {
	if post.UserID == "" || post.UserID == ownID || a.bots.IsBot(post.UserID) {
		return false
	}
	if strings.HasPrefix(post.Type, "system_") {
		return false
	}
	for _, marker := range systemMessageMarkers {
		if strings.Contains(post.Message, marker) {
			return false
		}
	}
	return true
}

// sleepCtx waits d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
