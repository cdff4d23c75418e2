package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/groundtruth-ai/restaurant-chat/internal/chat"
	"github.com/groundtruth-ai/restaurant-chat/internal/chatlog"
	"github.com/groundtruth-ai/restaurant-chat/internal/config"
	"github.com/groundtruth-ai/restaurant-chat/internal/logger"
	"github.com/groundtruth-ai/restaurant-chat/internal/metrics"
	"github.com/groundtruth-ai/restaurant-chat/internal/notify"
	"github.com/groundtruth-ai/restaurant-chat/internal/privacy"
	"github.com/groundtruth-ai/restaurant-chat/internal/security"
	"github.com/groundtruth-ai/restaurant-chat/internal/settings"
	"github.com/groundtruth-ai/restaurant-chat/internal/web"
	"github.com/groundtruth-ai/restaurant-chat/internal/websocket"
)

const version = "0.1.0"

// Deps are the collaborators the server routes to
type Deps struct {
	Detector      *privacy.Detector
	Settings      settings.Store
	Chat          *chat.Service
	Conversations chatlog.Store
	Notifications notify.Store
	Hub           *websocket.Hub
	Limiter       *security.RateLimiter
	Metrics       *metrics.ChatMetrics
	// Gatherer backs /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
}

// Server is the HTTP front of the chat service
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	deps     Deps
	router   *mux.Router
	server   *http.Server
	upstream *url.URL
	proxy    *httputil.ReverseProxy

	started       time.Time
	totalRequests atomic.Int64
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, deps Deps) (*Server, error) {
	switch {
	case deps.Detector == nil:
		return nil, errors.New("privacy detector is required")
	case deps.Settings == nil:
		return nil, errors.New("settings store is required")
	case deps.Chat == nil:
		return nil, errors.New("chat service is required")
	case deps.Conversations == nil:
		return nil, errors.New("conversation store is required")
	case deps.Notifications == nil:
		return nil, errors.New("notification store is required")
	case deps.Hub == nil:
		return nil, errors.New("websocket hub is required")
	}
	if deps.Limiter == nil {
		deps.Limiter = security.NewRateLimiter(cfg.RateLimit)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("server"),
		deps:    deps,
		router:  mux.NewRouter(),
		started: time.Now(),
	}

	if cfg.Upstream.BaseURL != "" {
		target, err := url.Parse(cfg.Upstream.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream base URL: %w", err)
		}
		s.upstream = target
		s.proxy = s.newUpstreamProxy(target)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	dashboard := web.DashboardHandler(s.config.Server.DashboardDir)
	s.router.HandleFunc("/", dashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", dashboard).Methods(http.MethodGet)

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.deps.Hub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware)

	pii := api.PathPrefix("/pii").Subrouter()
	pii.HandleFunc("/mask", s.handleMask).Methods(http.MethodPost)
	pii.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	pii.HandleFunc("/statistics", s.handleStatistics).Methods(http.MethodPost)
	pii.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	pii.HandleFunc("/config", s.handleUpdateConfig).Methods(http.MethodPut)
	pii.HandleFunc("/config", s.handleResetConfig).Methods(http.MethodDelete)

	conversations := api.PathPrefix("/conversations").Subrouter()
	conversations.HandleFunc("", s.handleListConversations).Methods(http.MethodGet)
	conversations.HandleFunc("", s.handleCreateConversation).Methods(http.MethodPost)
	conversations.HandleFunc("", s.handleClearConversations).Methods(http.MethodDelete)
	conversations.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	conversations.HandleFunc("/statistics", s.handleConversationStatistics).Methods(http.MethodGet)
	conversations.HandleFunc("/metrics/masking", s.handleMaskingMetrics).Methods(http.MethodGet)
	conversations.HandleFunc("/{id}", s.handleGetConversation).Methods(http.MethodGet)
	conversations.Handle("/{id}/messages", s.rateLimitMiddleware(http.HandlerFunc(s.handleSendMessage))).Methods(http.MethodPost)
	conversations.HandleFunc("/{id}/messages/{messageID}/rating", s.handleRateMessage).Methods(http.MethodPost)
	conversations.HandleFunc("/{id}/end", s.handleEndConversation).Methods(http.MethodPost)

	notifications := api.PathPrefix("/notifications").Subrouter()
	notifications.HandleFunc("", s.handleListNotifications).Methods(http.MethodGet)
	notifications.HandleFunc("/unread", s.handleUnreadCount).Methods(http.MethodGet)
	notifications.HandleFunc("/read-all", s.handleMarkAllRead).Methods(http.MethodPost)
	notifications.HandleFunc("/{id}/read", s.handleMarkRead).Methods(http.MethodPost)

	if s.upstream != nil {
		upstream := s.router.PathPrefix("/upstream").Subrouter()
		upstream.Use(s.loggingMiddleware)
		upstream.Use(s.privacyMiddleware)
		upstream.PathPrefix("/").HandlerFunc(s.handleUpstreamProxy)
	}
}

// Start serves HTTP until Stop is called. The hub and background routines
// stop when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting restaurant chat server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("privacy_enabled", s.config.Privacy.Enabled),
		zap.String("upstream", s.config.Upstream.BaseURL),
	)

	go s.deps.Hub.Run(ctx)
	s.deps.Limiter.StartCleanupRoutine(ctx)
	go s.publishSystemStatus(ctx, 30*time.Second)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping restaurant chat server")
	return s.server.Shutdown(ctx)
}

func (s *Server) publishSystemStatus(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.deps.Hub.PublishSystemStatus(s.systemStatus(ctx))
		}
	}
}

func (s *Server) systemStatus(ctx context.Context) websocket.SystemStatusEvent {
	return websocket.SystemStatusEvent{
		Status:        "operational",
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		TotalRequests: s.totalRequests.Load(),
		ActiveRules:   len(s.deps.Detector.Snapshot(ctx).EnabledCategories()),
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	snapshot := s.deps.Detector.Snapshot(r.Context())

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":              "restaurant-chat",
		"version":           version,
		"privacy_enabled":   s.config.Privacy.Enabled,
		"enabled_detectors": snapshot.EnabledCategories(),
		"websocket_enabled": s.config.WebSocket.Enabled,
		"upstream_proxy":    s.upstream != nil,
		"uptime":            time.Since(s.started).Round(time.Second).String(),
		"websocket_clients": s.deps.Hub.GetStats().ActiveConnections,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
