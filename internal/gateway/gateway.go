// Package gateway maps browser websocket connections to chat sessions and
// fans staff messages out to the right visitors.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/helplink/chat-relay/internal/metrics"
	"github.com/helplink/chat-relay/internal/relay"
)

// ChatService is the relay surface the gateway drives.
type ChatService interface {
	SendMessage(ctx context.Context, sessionID, text string, rc relay.RequestContext, info *relay.VisitorInfo) error
}

// clientFrame is an inbound frame from the widget.
type clientFrame struct {
	Type        string    `json:"type"` // "register" | "message"
	SessionID   string    `json:"session_id"`
	Message     string    `json:"message,omitempty"`
	UserInfo    *userInfo `json:"user_info,omitempty"`
	CurrentPage string    `json:"current_page,omitempty"`
}

type userInfo struct {
	Email *string `json:"email"`
	Name  string  `json:"name"`
}

// ServerFrame is an outbound frame to the widget.
type ServerFrame struct {
	Type      string `json:"type"` // "ack" | "staff_message" | "error"
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Sender    string `json:"sender,omitempty"`
}

// client is one live widget connection.
type client struct {
	id        string
	sessionID string
	send      func(ServerFrame)
}

// Gateway owns the connection registry: conn-id to session-id and the
// session-id to connections fan-out table. Destroyed bindings never
// outlive their connection.
type Gateway struct {
	svc      ChatService
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     map[string]*client
	bySession map[string]map[string]*client
}

// New creates a gateway. m may be nil.
func New(svc ChatService, m *metrics.Metrics, logger zerolog.Logger) *Gateway {
	return &Gateway{
		svc:     svc,
		metrics: m,
		logger:  logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			// The widget runs on arbitrary customer origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:     make(map[string]*client),
		bySession: make(map[string]map[string]*client),
	}
}

// Handler returns the /ws upgrade handler.
func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			g.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		g.serve(r.Context(), ws)
	}
}

func (g *Gateway) serve(ctx context.Context, ws *websocket.Conn) {
	var writeMu sync.Mutex
	c := &client{
		id: uuid.New().String(),
		send: func(f ServerFrame) {
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := ws.WriteJSON(f); err != nil {
				g.logger.Debug().Err(err).Msg("socket write failed")
			}
		},
	}

	g.addConn(c)
	g.metrics.SocketConnected(1)
	defer func() {
		g.dropConn(c.id)
		g.metrics.SocketConnected(-1)
		ws.Close()
	}()

	for {
		var frame clientFrame
		if err := ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug().Err(err).Str("conn", c.id).Msg("socket closed")
			}
			return
		}
		g.handleFrame(ctx, c, frame)
	}
}

// handleFrame processes one inbound frame. Delivery failures are reported
// back on the originating connection as an error frame, never thrown to
// the transport.
func (g *Gateway) handleFrame(ctx context.Context, c *client, frame clientFrame) {
	switch frame.Type {
	case "register":
		if frame.SessionID == "" {
			c.send(ServerFrame{Type: "error", Message: "session_id is required"})
			return
		}
		g.bind(c, frame.SessionID)
		c.send(ServerFrame{Type: "ack", SessionID: frame.SessionID})

	case "message":
		sessionID := frame.SessionID
		if sessionID == "" {
			sessionID = c.sessionID
		}
		if sessionID == "" {
			c.send(ServerFrame{Type: "error", Message: "register a session before sending"})
			return
		}

		var info *relay.VisitorInfo
		if frame.UserInfo != nil {
			info = &relay.VisitorInfo{Email: frame.UserInfo.Email, Name: frame.UserInfo.Name}
		}
		rc := relay.RequestContext{CurrentPage: frame.CurrentPage}

		if err := g.svc.SendMessage(ctx, sessionID, frame.Message, rc, info); err != nil {
			g.logger.Warn().Err(err).Str("session", sessionID).Msg("socket message delivery failed")
			c.send(ServerFrame{Type: "error", SessionID: sessionID, Message: "message could not be delivered"})
			return
		}
		c.send(ServerFrame{Type: "ack", SessionID: sessionID})

	default:
		c.send(ServerFrame{Type: "error", Message: "unknown frame type"})
	}
}

func (g *Gateway) addConn(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[c.id] = c
}

// bind records the connection for a session. A connection tracks one
// session at a time; a session may have any number of connections.
func (g *Gateway) bind(c *client, sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c.sessionID != "" && c.sessionID != sessionID {
		g.unbindLocked(c)
	}
	c.sessionID = sessionID
	set, ok := g.bySession[sessionID]
	if !ok {
		set = make(map[string]*client)
		g.bySession[sessionID] = set
	}
	set[c.id] = c
}

func (g *Gateway) unbindLocked(c *client) {
	if set, ok := g.bySession[c.sessionID]; ok {
		delete(set, c.id)
		if len(set) == 0 {
			delete(g.bySession, c.sessionID)
		}
	}
	c.sessionID = ""
}

func (g *Gateway) dropConn(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.conns[connID]
	if !ok {
		return
	}
	if c.sessionID != "" {
		g.unbindLocked(c)
	}
	delete(g.conns, connID)
}

// DeliverStaffMessage fans a staff message out to every connection
// registered for the session. Returns how many connections received it;
// zero means the message was dropped.
func (g *Gateway) DeliverStaffMessage(sessionID, text, sender string) int {
	g.mu.Lock()
	targets := make([]*client, 0, 1)
	for _, c := range g.bySession[sessionID] {
		targets = append(targets, c)
	}
	g.mu.Unlock()

	for _, c := range targets {
		c.send(ServerFrame{
			Type:      "staff_message",
			SessionID: sessionID,
			Message:   text,
			Sender:    sender,
		})
	}
	if len(targets) > 0 {
		g.metrics.RecordRelayed("gateway", "inbound")
	}
	return len(targets)
}

// Shutdown drops every binding. Sockets themselves are closed by the
// HTTP server shutdown.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns = make(map[string]*client)
	g.bySession = make(map[string]map[string]*client)
}
