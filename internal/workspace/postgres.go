package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	relayerrors "github.com/helplink/chat-relay/internal/errors"
)

// PostgresDirectory reads workspaces from Postgres. The workspace rows are
// written by the install/settings surfaces outside the relay core.
type PostgresDirectory struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewPostgresDirectory creates a directory backed by the given database.
func NewPostgresDirectory(db *sql.DB, logger zerolog.Logger) *PostgresDirectory {
	return &PostgresDirectory{
		db:     db,
		logger: logger.With().Str("component", "workspace.directory").Logger(),
	}
}

// Migrate creates the workspace tables if they do not exist. The rows are
// written by the install/settings surfaces; the relay only reads them.
func (d *PostgresDirectory) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS workspaces (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL DEFAULT '',
			service_type       TEXT NOT NULL,
			slack_bot_token    TEXT,
			mattermost_url     TEXT,
			mattermost_token   TEXT,
			mattermost_team_id TEXT,
			selected_channel   TEXT
		);
		CREATE TABLE IF NOT EXISTS workspace_settings (
			workspace_id TEXT NOT NULL,
			key          TEXT NOT NULL,
			value        TEXT NOT NULL,
			PRIMARY KEY (workspace_id, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("migrating workspace tables: %w", err)
	}
	return nil
}

const workspaceColumns = `
	id, name, service_type,
	COALESCE(slack_bot_token, ''),
	COALESCE(mattermost_url, ''),
	COALESCE(mattermost_token, ''),
	COALESCE(mattermost_team_id, ''),
	COALESCE(selected_channel, '')`

func (d *PostgresDirectory) FindByID(ctx context.Context, id string) (*Workspace, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+workspaceColumns+`
		FROM workspaces
		WHERE id = $1
	`, id)

	ws, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relayerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying workspace %s: %w", id, err)
	}
	return ws, nil
}

func (d *PostgresDirectory) FindAll(ctx context.Context) ([]*Workspace, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+workspaceColumns+`
		FROM workspaces
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying workspaces: %w", err)
	}
	defer rows.Close()

	var out []*Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workspace: %w", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row rowScanner) (*Workspace, error) {
	var ws Workspace
	var serviceType string
	if err := row.Scan(
		&ws.ID,
		&ws.Name,
		&serviceType,
		&ws.SlackBotToken,
		&ws.MattermostURL,
		&ws.MattermostToken,
		&ws.MattermostTeamID,
		&ws.SelectedChannel,
	); err != nil {
		return nil, err
	}
	ws.ServiceType = ServiceType(serviceType)
	return &ws, nil
}

// PostgresSettings resolves per-workspace settings from the external
// attribute-value table. Lookup failures degrade to the default value.
type PostgresSettings struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewPostgresSettings creates a settings store backed by the given database.
func NewPostgresSettings(db *sql.DB, logger zerolog.Logger) *PostgresSettings {
	return &PostgresSettings{
		db:     db,
		logger: logger.With().Str("component", "workspace.settings").Logger(),
	}
}

func (s *PostgresSettings) GetStringSetting(ctx context.Context, workspaceID, key, def string) string {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value
		FROM workspace_settings
		WHERE workspace_id = $1 AND key = $2
	`, workspaceID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def
	}
	if err != nil {
		s.logger.Warn().Err(err).
			Str("workspace", workspaceID).
			Str("key", key).
			Msg("setting lookup failed, using default")
		return def
	}
	return value
}
