package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayerrors "github.com/helplink/chat-relay/internal/errors"
	"github.com/helplink/chat-relay/internal/health"
	"github.com/helplink/chat-relay/internal/relay"
	"github.com/helplink/chat-relay/internal/session"
)

type fakeChatService struct {
	startErr   error
	sendErr    error
	endErr     error
	offlineErr error
	online     bool

	lastSession string
	lastMessage string
	lastInfo    *relay.VisitorInfo
	lastRC      relay.RequestContext
}

func (s *fakeChatService) StartChat(_ context.Context, workspaceID string) (*session.ChatSession, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	return &session.ChatSession{ID: "abc123", WorkspaceID: workspaceID, Status: session.StatusActive}, nil
}

func (s *fakeChatService) SendMessage(_ context.Context, sessionID, text string, rc relay.RequestContext, info *relay.VisitorInfo) error {
	s.lastSession = sessionID
	s.lastMessage = text
	s.lastRC = rc
	s.lastInfo = info
	return s.sendErr
}

func (s *fakeChatService) EndChatSession(_ context.Context, sessionID string) error {
	s.lastSession = sessionID
	return s.endErr
}

func (s *fakeChatService) HandleOfflineMessage(_ context.Context, workspaceID, email, message, name string, rc relay.RequestContext) error {
	s.lastMessage = message
	return s.offlineErr
}

func (s *fakeChatService) IsWorkspaceOnline(context.Context, string) bool {
	return s.online
}

func newTestServer(svc ChatService) *Server {
	handlers := NewHandlers(svc, zerolog.Nop())
	return NewServer(ServerConfig{}, handlers, health.NewChecker(zerolog.Nop()), nil, zerolog.Nop())
}

func postJSON(t *testing.T, s *Server, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, out))
}

func TestStartChat(t *testing.T) {
	svc := &fakeChatService{}
	s := newTestServer(svc)

	resp := postJSON(t, s, "/api/v1/chat/start", map[string]string{"workspace_id": "ws1"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var body startChatResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, "abc123", body.SessionID)
}

func TestStartChat_Validation(t *testing.T) {
	s := newTestServer(&fakeChatService{})

	resp := postJSON(t, s, "/api/v1/chat/start", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartChat_UnknownWorkspace(t *testing.T) {
	svc := &fakeChatService{startErr: relayerrors.ErrNotFound}
	s := newTestServer(svc)

	resp := postJSON(t, s, "/api/v1/chat/start", map[string]string{"workspace_id": "bad"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var problem ProblemDetail
	decodeBody(t, resp, &problem)
	assert.Equal(t, "not_found", problem.Type)
	assert.Equal(t, http.StatusNotFound, problem.Status)
}

func TestSendMessage(t *testing.T) {
	svc := &fakeChatService{}
	s := newTestServer(svc)

	email := "alice@example.com"
	resp := postJSON(t, s, "/api/v1/chat/message", map[string]any{
		"session_id":   "abc123",
		"message":      "hello",
		"current_page": "https://shop.example.com",
		"user_info":    map[string]any{"email": email, "name": "Alice"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "abc123", svc.lastSession)
	assert.Equal(t, "hello", svc.lastMessage)
	assert.Equal(t, "https://shop.example.com", svc.lastRC.CurrentPage)
	require.NotNil(t, svc.lastInfo)
	require.NotNil(t, svc.lastInfo.Email)
	assert.Equal(t, email, *svc.lastInfo.Email)
}

func TestSendMessage_RefererHeader(t *testing.T) {
	svc := &fakeChatService{}
	s := newTestServer(svc)

	b, _ := json.Marshal(map[string]string{"session_id": "abc", "message": "hi"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/message", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Referer", "https://ref.example.com/pricing")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://ref.example.com/pricing", svc.lastRC.Referer)
}

func TestSendMessage_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"not found", relayerrors.ErrNotFound, http.StatusNotFound, "not_found"},
		{"configuration", relayerrors.ErrConfiguration, http.StatusUnprocessableEntity, "configuration_error"},
		{"channel creation", relayerrors.ErrChannelCreation, http.StatusBadGateway, "channel_creation_failed"},
		{"delivery", relayerrors.ErrMessageDelivery, http.StatusBadGateway, "message_delivery_failed"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeChatService{sendErr: tt.err})
			resp := postJSON(t, s, "/api/v1/chat/message", map[string]string{
				"session_id": "abc", "message": "hi",
			})
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var problem ProblemDetail
			decodeBody(t, resp, &problem)
			assert.Equal(t, tt.wantType, problem.Type)
			// Raw error text never reaches the widget.
			assert.NotContains(t, problem.Detail, "boom")
		})
	}
}

func TestSendMessage_Validation(t *testing.T) {
	s := newTestServer(&fakeChatService{})

	resp := postJSON(t, s, "/api/v1/chat/message", map[string]string{"session_id": "abc"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOfflineMessage(t *testing.T) {
	svc := &fakeChatService{}
	s := newTestServer(svc)

	resp := postJSON(t, s, "/api/v1/chat/offline", map[string]string{
		"workspace_id": "ws1",
		"email":        "carol@example.com",
		"message":      "call me back",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "call me back", svc.lastMessage)
}

func TestOfflineMessage_RequiresIdentity(t *testing.T) {
	s := newTestServer(&fakeChatService{})

	resp := postJSON(t, s, "/api/v1/chat/offline", map[string]string{
		"workspace_id": "ws1",
		"message":      "anonymous offline",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOfflineMessage_NoStaffChannel(t *testing.T) {
	s := newTestServer(&fakeChatService{offlineErr: relayerrors.ErrConfiguration})

	resp := postJSON(t, s, "/api/v1/chat/offline", map[string]string{
		"workspace_id": "ws1", "email": "a@b.c", "message": "hi",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestEndChat(t *testing.T) {
	svc := &fakeChatService{}
	s := newTestServer(svc)

	resp := postJSON(t, s, "/api/v1/chat/end", map[string]string{"session_id": "abc123"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc123", svc.lastSession)
}

func TestOnlineStatus(t *testing.T) {
	svc := &fakeChatService{online: true}
	s := newTestServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/online?workspace_id=ws1", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]bool
	decodeBody(t, resp, &body)
	assert.True(t, body["online"])
}

func TestOnlineStatus_RequiresWorkspace(t *testing.T) {
	s := newTestServer(&fakeChatService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/online", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLiveness(t *testing.T) {
	s := newTestServer(&fakeChatService{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestReadiness(t *testing.T) {
	checker := health.NewChecker(zerolog.Nop())
	checker.Register("postgres", func(context.Context) health.Status { return health.StatusOK })
	s := NewServer(ServerConfig{}, NewHandlers(&fakeChatService{}, zerolog.Nop()), checker, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadiness_DependencyDown(t *testing.T) {
	checker := health.NewChecker(zerolog.Nop())
	checker.Register("postgres", func(context.Context) health.Status { return health.StatusDown })
	s := NewServer(ServerConfig{}, NewHandlers(&fakeChatService{}, zerolog.Nop()), checker, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
