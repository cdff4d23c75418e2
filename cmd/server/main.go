package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/groundtruth-ai/restaurant-chat/internal/cache"
	"github.com/groundtruth-ai/restaurant-chat/internal/chat"
	"github.com/groundtruth-ai/restaurant-chat/internal/chatlog"
	"github.com/groundtruth-ai/restaurant-chat/internal/config"
	"github.com/groundtruth-ai/restaurant-chat/internal/logger"
	"github.com/groundtruth-ai/restaurant-chat/internal/metrics"
	"github.com/groundtruth-ai/restaurant-chat/internal/notify"
	"github.com/groundtruth-ai/restaurant-chat/internal/privacy"
	"github.com/groundtruth-ai/restaurant-chat/internal/security"
	"github.com/groundtruth-ai/restaurant-chat/internal/server"
	"github.com/groundtruth-ai/restaurant-chat/internal/settings"
	"github.com/groundtruth-ai/restaurant-chat/internal/websocket"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.String("health-check", "", "Check the server at this base URL and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("restaurant-chat %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck != "" {
		performHealthCheck(*healthCheck)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(loggerConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting restaurant chat",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := build(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer app.cleanup()

	if *configPath != "" {
		err := config.Watch(*configPath, func(newConfig *config.Config) {
			app.chat.UpdateConfig(newConfig.Chat)
			if err := log.SetLevel(newConfig.Logging.Level); err != nil {
				log.Warn("Keeping current log level", zap.Error(err))
			}
			log.Info("Configuration reloaded",
				zap.String("log_level", newConfig.Logging.Level),
				zap.Strings("escalation_keywords", newConfig.Chat.EscalationKeywords))
		}, func(err error) {
			log.Warn("Ignoring configuration change", zap.Error(err))
		})
		if err != nil {
			log.Warn("Configuration hot reload disabled", zap.Error(err))
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- app.server.Start(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := app.server.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
		}
		cancel()

		log.Info("Server shutdown complete")
	}
}

func loggerConfig(cfg *config.Config) logger.Config {
	lc := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		lc.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}
	return lc
}

// application holds the wired services
type application struct {
	server  *server.Server
	chat    *chat.Service
	closers []func() error
}

func (a *application) cleanup() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// build wires stores, the masking engine and the HTTP server. Redis and
// PostgreSQL are used when their URLs are configured; otherwise state is
// kept in memory.
func build(cfg *config.Config, log *logger.Logger) (*application, error) {
	app := &application{}

	defaults, err := privacy.ConfigFromNames(cfg.Privacy.Detectors)
	if err != nil {
		return nil, err
	}

	var (
		settingsStore settings.Store = settings.NewMemoryStore(defaults)
		notifications notify.Store   = notify.NewMemoryStore(cfg.Notifications.MaxKept)
		conversations chatlog.Store  = chatlog.NewMemoryStore()
	)

	if cfg.Redis.URL != "" {
		client, err := cache.NewClient(cfg.Redis, log.Logger)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, client.Close)

		settingsStore = settings.NewRedisStore(client, cfg.Redis.KeyPrefix, defaults, log.Logger)
		notifications = notify.NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Notifications.MaxKept)
	} else {
		log.Warn("No Redis URL configured, settings and notifications are kept in memory")
	}

	if cfg.Database.URL != "" {
		store, err := chatlog.NewPostgresStore(cfg.Database, log.Logger)
		if err != nil {
			app.cleanup()
			return nil, err
		}
		app.closers = append(app.closers, store.Close)
		conversations = store
	} else {
		log.Warn("No database URL configured, conversations are kept in memory")
	}

	detector, err := privacy.New(cfg.Privacy, settings.Provider(settingsStore, defaults, log.Logger), log.WithComponent("privacy"))
	if err != nil {
		app.cleanup()
		return nil, err
	}

	hub := websocket.NewHub(cfg.WebSocket, log.Logger)
	notifier := notify.NewNotifier(notifications, hub, log.Logger)

	if cfg.Upstream.ChatURL == "" {
		log.Warn("No upstream chat URL configured, chat replies will fail")
	}

	chatMetrics := metrics.New(prometheus.DefaultRegisterer)
	chatMetrics.Initialize()

	app.chat = chat.NewService(conversations, detector, chat.NewHTTPResponder(cfg.Upstream), cfg.Chat, chat.Options{
		Notifier: notifier,
		Metrics:  chatMetrics,
		Events:   hub,
	}, log.WithComponent("chat"))

	app.server, err = server.New(cfg, log, server.Deps{
		Detector:      detector,
		Settings:      settingsStore,
		Chat:          app.chat,
		Conversations: conversations,
		Notifications: notifications,
		Hub:           hub,
		Limiter:       security.NewRateLimiter(cfg.RateLimit),
		Metrics:       chatMetrics,
	})
	if err != nil {
		app.cleanup()
		return nil, err
	}

	return app, nil
}

// performHealthCheck performs a health check against a running server
func performHealthCheck(baseURL string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
}
