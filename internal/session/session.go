// Package session holds the chat-session record linking an anonymous
// visitor to a workspace and, once provisioned, a provider channel.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a chat session. Sessions are never
// deleted, only status-transitioned.
type Status string

const (
	StatusActive  Status = "active"
	StatusClosed  Status = "closed"
	StatusOffline Status = "offline"
)

// ChatSession binds a visitor to a workspace. The channel id stays empty
// until the first message provisions a provider channel. Offline sessions
// never get a channel.
type ChatSession struct {
	ID           string
	WorkspaceID  string
	ChannelID    string
	VisitorEmail string
	Status       Status
	StartedAt    time.Time
	EndedAt      time.Time
}

// NewID generates an opaque, caller-unguessable session id: a UUID with
// the dashes stripped, 32 hex characters.
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Repository persists chat sessions.
type Repository interface {
	Create(ctx context.Context, s *ChatSession) error
	Save(ctx context.Context, s *ChatSession) error
	FindByID(ctx context.Context, id string) (*ChatSession, error)
	FindByChannelID(ctx context.Context, channelID string) (*ChatSession, error)
	FindByWorkspaceID(ctx context.Context, workspaceID string) ([]*ChatSession, error)
}
