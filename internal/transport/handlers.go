package transport

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	relayerrors "github.com/helplink/chat-relay/internal/errors"
	"github.com/helplink/chat-relay/internal/health"
	"github.com/helplink/chat-relay/internal/relay"
	"github.com/helplink/chat-relay/internal/session"
)

// ChatService is the relay surface the HTTP handlers drive.
type ChatService interface {
	StartChat(ctx context.Context, workspaceID string) (*session.ChatSession, error)
	SendMessage(ctx context.Context, sessionID, text string, rc relay.RequestContext, info *relay.VisitorInfo) error
	EndChatSession(ctx context.Context, sessionID string) error
	HandleOfflineMessage(ctx context.Context, workspaceID, email, message, name string, rc relay.RequestContext) error
	IsWorkspaceOnline(ctx context.Context, workspaceID string) bool
}

// ProblemDetail is the RFC 7807 style error body.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Handlers holds dependencies for the widget API handlers.
type Handlers struct {
	svc    ChatService
	logger zerolog.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(svc ChatService, logger zerolog.Logger) *Handlers {
	return &Handlers{
		svc:    svc,
		logger: logger.With().Str("component", "handlers").Logger(),
	}
}

type startChatRequest struct {
	WorkspaceID string `json:"workspace_id"`
}

type startChatResponse struct {
	SessionID string `json:"session_id"`
}

// StartChat handles POST /api/v1/chat/start.
func (h *Handlers) StartChat(c *fiber.Ctx) error {
	var req startChatRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.WorkspaceID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_workspace", "Bad Request",
			"workspace_id is required")
	}

	sess, err := h.svc.StartChat(c.Context(), req.WorkspaceID)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(startChatResponse{SessionID: sess.ID})
}

type userInfoPayload struct {
	Email *string `json:"email"`
	Name  string  `json:"name"`
}

type sendMessageRequest struct {
	SessionID   string           `json:"session_id"`
	Message     string           `json:"message"`
	UserInfo    *userInfoPayload `json:"user_info"`
	CurrentPage string           `json:"current_page"`
}

// SendMessage handles POST /api/v1/chat/message.
func (h *Handlers) SendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.SessionID == "" || req.Message == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_fields", "Bad Request",
			"session_id and message are required")
	}

	rc := relay.RequestContext{
		Referer:     c.Get(fiber.HeaderReferer),
		CurrentPage: req.CurrentPage,
	}
	var info *relay.VisitorInfo
	if req.UserInfo != nil {
		info = &relay.VisitorInfo{Email: req.UserInfo.Email, Name: req.UserInfo.Name}
	}

	if err := h.svc.SendMessage(c.Context(), req.SessionID, req.Message, rc, info); err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(fiber.Map{"status": "sent"})
}

type offlineMessageRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Email       string `json:"email"`
	Message     string `json:"message"`
	Name        string `json:"name"`
	CurrentPage string `json:"current_page"`
}

// OfflineMessage handles POST /api/v1/chat/offline.
func (h *Handlers) OfflineMessage(c *fiber.Ctx) error {
	var req offlineMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.WorkspaceID == "" || req.Email == "" || req.Message == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_fields", "Bad Request",
			"workspace_id, email and message are required")
	}

	rc := relay.RequestContext{
		Referer:     c.Get(fiber.HeaderReferer),
		CurrentPage: req.CurrentPage,
	}
	if err := h.svc.HandleOfflineMessage(c.Context(), req.WorkspaceID, req.Email, req.Message, req.Name, rc); err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(fiber.Map{"status": "sent"})
}

type endChatRequest struct {
	SessionID string `json:"session_id"`
}

// EndChat handles POST /api/v1/chat/end.
func (h *Handlers) EndChat(c *fiber.Ctx) error {
	var req endChatRequest
	if err := c.BodyParser(&req); err != nil || req.SessionID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"session_id is required")
	}
	if err := h.svc.EndChatSession(c.Context(), req.SessionID); err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(fiber.Map{"status": "closed"})
}

// OnlineStatus handles GET /api/v1/chat/online.
func (h *Handlers) OnlineStatus(c *fiber.Ctx) error {
	workspaceID := c.Query("workspace_id")
	if workspaceID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_workspace", "Bad Request",
			"workspace_id is required")
	}
	online := h.svc.IsWorkspaceOnline(c.Context(), workspaceID)
	return c.JSON(fiber.Map{"online": online})
}

// Liveness handles GET /health.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness returns the GET /ready handler.
func (h *Handlers) Readiness(checker *health.Checker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		results := checker.RunAll(c.Context())
		for _, s := range results {
			if s == health.StatusDown {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status": "not_ready",
					"checks": results,
				})
			}
		}
		return c.JSON(fiber.Map{"status": "ready", "checks": results})
	}
}

// mapError translates relay errors to problem responses. Internal error
// text is logged but never echoed for provider failures.
func (h *Handlers) mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, relayerrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound,
			"not_found", "Not Found",
			"The requested session or workspace does not exist")
	case errors.Is(err, relayerrors.ErrConfiguration):
		h.logger.Warn().Err(err).Msg("configuration error")
		return problemResponse(c, fiber.StatusUnprocessableEntity,
			"configuration_error", "Unprocessable Entity",
			"The workspace is not configured for this operation")
	case errors.Is(err, relayerrors.ErrChannelCreation):
		h.logger.Error().Err(err).Msg("channel creation failed")
		return problemResponse(c, fiber.StatusBadGateway,
			"channel_creation_failed", "Bad Gateway",
			"Could not open a conversation with the team")
	case errors.Is(err, relayerrors.ErrMessageDelivery):
		h.logger.Error().Err(err).Msg("message delivery failed")
		return problemResponse(c, fiber.StatusBadGateway,
			"message_delivery_failed", "Bad Gateway",
			"The message could not be delivered")
	default:
		h.logger.Error().Err(err).Msg("unexpected relay error")
		return problemResponse(c, fiber.StatusInternalServerError,
			"internal_error", "Internal Server Error",
			"An internal error occurred")
	}
}

func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
