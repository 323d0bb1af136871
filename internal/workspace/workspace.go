// Package workspace models a tenant's connected chat backend and the
// read-mostly directories the relay core consumes.
package workspace

import "context"

// ServiceType identifies which chat backend a workspace is connected to.
type ServiceType string

const (
	ServiceSlack      ServiceType = "slack"
	ServiceMattermost ServiceType = "mattermost"
)

// Workspace is one tenant's chat backend configuration: a Slack team or a
// Mattermost server/team pairing, plus the single channel staff chose for
// notifications.
type Workspace struct {
	ID          string
	Name        string
	ServiceType ServiceType

	// Slack credentials.
	SlackBotToken string

	// Mattermost credentials.
	MattermostURL    string
	MattermostToken  string
	MattermostTeamID string

	// SelectedChannel is the staff notification channel. Offline messages
	// and new-chat notifications are posted here.
	SelectedChannel string
}

// Directory is read access to workspaces. Writes (install flows, settings
// UI) happen outside the relay core.
type Directory interface {
	FindByID(ctx context.Context, id string) (*Workspace, error)
	FindAll(ctx context.Context) ([]*Workspace, error)
}

// Setting keys the relay core reads. Backed externally by an
// attribute-value store; the core treats it as a typed key-value lookup.
const (
	SettingPresenceDetection = "presence_detection" // "auto" | "manual"
	SettingNoResponseAction  = "no_response_action" // "send warning" | "none"
	SettingNoResponseDelay   = "no_response_delay"  // "30sec" | "1min" | "2min" | "5min"
)

// SettingsStore resolves per-workspace string settings with a default.
type SettingsStore interface {
	GetStringSetting(ctx context.Context, workspaceID, key, def string) string
}
