package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/helplink/chat-relay/internal/config"
	"github.com/helplink/chat-relay/internal/gateway"
	"github.com/helplink/chat-relay/internal/health"
	"github.com/helplink/chat-relay/internal/listener"
	"github.com/helplink/chat-relay/internal/metrics"
	"github.com/helplink/chat-relay/internal/provider"
	"github.com/helplink/chat-relay/internal/relay"
	"github.com/helplink/chat-relay/internal/session"
	"github.com/helplink/chat-relay/internal/tracker"
	"github.com/helplink/chat-relay/internal/transport"
	"github.com/helplink/chat-relay/internal/workspace"
)

func main() {
	_ = godotenv.Load()

	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("http_addr", cfg.HTTPListenAddr).
		Str("ws_addr", cfg.WSListenAddr).
		Str("store", cfg.StoreBackend).
		Bool("slack_listener", cfg.SlackEnabled()).
		Msg("starting chat relay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	checker := health.NewChecker(logger)
	m := metrics.New()

	// Storage
	var (
		sessions   session.Repository
		workspaces workspace.Directory
		settings   workspace.SettingsStore
	)
	if cfg.UsePostgres() {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open database")
		}
		defer db.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			logger.Warn().Err(err).Msg("database not reachable yet")
		}
		pingCancel()

		sessionRepo := session.NewPostgresRepository(db, logger)
		workspaceDir := workspace.NewPostgresDirectory(db, logger)

		migrateCtx, migrateCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := workspaceDir.Migrate(migrateCtx); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		if err := sessionRepo.Migrate(migrateCtx); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		migrateCancel()

		sessions = sessionRepo
		workspaces = workspaceDir
		settings = workspace.NewPostgresSettings(db, logger)

		checker.Register("postgres", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.StatusDown
			}
			return health.StatusOK
		})
	} else {
		memDir := workspace.NewMemoryDirectory()
		memSettings := workspace.NewMemorySettings()
		// Dev convenience: expose the listener workspace as "dev".
		if cfg.SlackEnabled() {
			memDir.Add(&workspace.Workspace{
				ID:            "dev",
				Name:          "Development",
				ServiceType:   workspace.ServiceSlack,
				SlackBotToken: cfg.SlackBotToken,
			})
		}
		sessions = session.NewMemoryRepository()
		workspaces = memDir
		settings = memSettings
	}

	bots := provider.NewBotRegistry()
	factory := provider.NewFactory(bots, logger)

	trk := tracker.New(sessions, workspaces, settings, provider.NewSlackWarningPoster(), m, logger)

	relaySvc := relay.New(relay.Config{
		LocationLabel:   cfg.LocationLabel,
		LocalTimeOffset: cfg.LocalTimeOffset,
	}, sessions, workspaces, settings, factory, trk, m, logger)

	gw := gateway.New(relaySvc, m, logger)

	var wg sync.WaitGroup

	// Slack event listener (optional)
	if cfg.SlackEnabled() {
		slackListener := listener.NewSlackListener(
			cfg.SlackBotToken, cfg.SlackAppToken,
			relaySvc, gw, trk, bots, logger,
		)
		checker.Register("slack", func(ctx context.Context) health.Status {
			if _, err := slack.New(cfg.SlackBotToken).AuthTestContext(ctx); err != nil {
				return health.StatusDown
			}
			return health.StatusOK
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := slackListener.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("slack listener error")
			}
		}()
	} else {
		logger.Info().Msg("Slack listener not configured — skipping")
	}

	// Mattermost event listeners, one per configured workspace
	mmListeners := listener.NewMattermostListeners(workspaces, factory, relaySvc, gw, trk, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mmListeners.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("mattermost listeners error")
		}
	}()

	// Widget HTTP API
	handlers := transport.NewHandlers(relaySvc, logger)
	apiServer := transport.NewServer(transport.ServerConfig{
		ListenAddr:  cfg.HTTPListenAddr,
		CORSOrigins: cfg.CORSOrigins,
	}, handlers, checker, m, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("widget API server error")
		}
	}()

	// Realtime websocket endpoint on its own stdlib server
	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", gw.Handler())
	wsServer := &http.Server{
		Addr:        cfg.WSListenAddr,
		Handler:     wsMux,
		ReadTimeout: 0, // websocket connections are long-lived
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Str("addr", cfg.WSListenAddr).Msg("websocket server starting")
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("websocket server error")
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("widget API shutdown error")
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("websocket server shutdown error")
	}

	gw.Shutdown()
	trk.Shutdown()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("chat relay stopped")
}
