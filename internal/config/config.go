package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP widget API
	HTTPListenAddr string `envconfig:"HTTP_LISTEN_ADDR" default:":8080"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS"`

	// Realtime websocket endpoint (separate stdlib server)
	WSListenAddr string `envconfig:"WS_LISTEN_ADDR" default:":8081"`

	// Storage: "postgres" or "memory" (dev/tests)
	StoreBackend string `envconfig:"STORE_BACKEND" default:"postgres"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`

	// Slack event listener (Socket Mode) for the primary Slack workspace.
	// Optional: without tokens the service runs with Mattermost listeners
	// and the HTTP surface only.
	SlackBotToken string `envconfig:"SLACK_BOT_TOKEN"`
	SlackAppToken string `envconfig:"SLACK_APP_TOKEN"` // xapp- token for Socket Mode

	// Staff-notice context shown in welcome/offline messages.
	LocationLabel   string        `envconfig:"LOCATION_LABEL" default:"Ho Chi Minh City, Vietnam"`
	LocalTimeOffset time.Duration `envconfig:"LOCAL_TIME_OFFSET" default:"7h"`
}

// SlackEnabled returns true if the Socket Mode listener can start.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// UsePostgres returns true if the Postgres backend is selected.
func (c *Config) UsePostgres() bool {
	return strings.EqualFold(c.StoreBackend, "postgres")
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if c.UsePostgres() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
