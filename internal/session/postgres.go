package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	relayerrors "github.com/helplink/chat-relay/internal/errors"
)

// PostgresRepository persists chat sessions in Postgres.
type PostgresRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewPostgresRepository creates a repository backed by the given database.
func NewPostgresRepository(db *sql.DB, logger zerolog.Logger) *PostgresRepository {
	return &PostgresRepository{
		db:     db,
		logger: logger.With().Str("component", "session.repo").Logger(),
	}
}

// Migrate creates the session table if it does not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chat_sessions (
			id            TEXT PRIMARY KEY,
			workspace_id  TEXT NOT NULL,
			channel_id    TEXT,
			visitor_email TEXT,
			status        TEXT NOT NULL,
			started_at    TIMESTAMPTZ NOT NULL,
			ended_at      TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS chat_sessions_channel_idx ON chat_sessions (channel_id);
		CREATE INDEX IF NOT EXISTS chat_sessions_workspace_idx ON chat_sessions (workspace_id);
	`)
	if err != nil {
		return fmt.Errorf("migrating chat_sessions: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, s *ChatSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, workspace_id, channel_id, visitor_email, status, started_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)
	`, s.ID, s.WorkspaceID, s.ChannelID, s.VisitorEmail, string(s.Status), s.StartedAt)
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", s.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Save(ctx context.Context, s *ChatSession) error {
	var endedAt *time.Time
	if !s.EndedAt.IsZero() {
		endedAt = &s.EndedAt
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE chat_sessions
		SET channel_id = NULLIF($2, ''),
		    visitor_email = NULLIF($3, ''),
		    status = $4,
		    ended_at = $5
		WHERE id = $1
	`, s.ID, s.ChannelID, s.VisitorEmail, string(s.Status), endedAt)
	if err != nil {
		return fmt.Errorf("updating session %s: %w", s.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return relayerrors.ErrNotFound
	}
	return nil
}

const sessionColumns = `
	id, workspace_id,
	COALESCE(channel_id, ''),
	COALESCE(visitor_email, ''),
	status, started_at, COALESCE(ended_at, 'epoch'::timestamptz)`

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*ChatSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM chat_sessions
		WHERE id = $1
	`, id)
	return scanSession(row)
}

func (r *PostgresRepository) FindByChannelID(ctx context.Context, channelID string) (*ChatSession, error) {
	if channelID == "" {
		return nil, relayerrors.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM chat_sessions
		WHERE channel_id = $1
	`, channelID)
	return scanSession(row)
}

func (r *PostgresRepository) FindByWorkspaceID(ctx context.Context, workspaceID string) ([]*ChatSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM chat_sessions
		WHERE workspace_id = $1
		ORDER BY started_at
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions for workspace %s: %w", workspaceID, err)
	}
	defer rows.Close()

	var out []*ChatSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*ChatSession, error) {
	var s ChatSession
	var status string
	err := row.Scan(
		&s.ID,
		&s.WorkspaceID,
		&s.ChannelID,
		&s.VisitorEmail,
		&status,
		&s.StartedAt,
		&s.EndedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relayerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	s.Status = Status(status)
	if s.EndedAt.Unix() == 0 {
		s.EndedAt = time.Time{}
	}
	return &s, nil
}
