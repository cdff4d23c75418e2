package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Privacy       PrivacyConfig       `yaml:"privacy" mapstructure:"privacy"`
	Logging       LoggingConfig       `yaml:"logging" mapstructure:"logging"`
	Upstream      UpstreamConfig      `yaml:"upstream" mapstructure:"upstream"`
	WebSocket     WebSocketConfig     `yaml:"websocket" mapstructure:"websocket"`
	Redis         RedisConfig         `yaml:"redis" mapstructure:"redis"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" mapstructure:"rate_limit"`
	Notifications NotificationsConfig `yaml:"notifications" mapstructure:"notifications"`
	Chat          ChatConfig          `yaml:"chat" mapstructure:"chat"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	DashboardDir string        `yaml:"dashboard_dir" mapstructure:"dashboard_dir"`
}

// PrivacyConfig contains PII detection and masking configuration.
// Detectors names the categories enabled by default ("all" or category names);
// admins override individual flags at runtime through the settings store.
type PrivacyConfig struct {
	Enabled         bool                  `yaml:"enabled" mapstructure:"enabled"`
	Detectors       []string              `yaml:"detectors" mapstructure:"detectors"`
	HeaderScrubbing HeaderScrubbingConfig `yaml:"header_scrubbing" mapstructure:"header_scrubbing"`
}

// HeaderScrubbingConfig controls redaction of sensitive HTTP headers
type HeaderScrubbingConfig struct {
	Enabled              bool     `yaml:"enabled" mapstructure:"enabled"`
	Headers              []string `yaml:"headers" mapstructure:"headers"`
	PreserveUpstreamAuth bool     `yaml:"preserve_upstream_auth" mapstructure:"preserve_upstream_auth"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Path     string `yaml:"path" mapstructure:"path"`
		MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
		MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
		Compress bool   `yaml:"compress" mapstructure:"compress"`
	} `yaml:"file" mapstructure:"file"`
}

// UpstreamConfig contains the text-generation relay configuration.
// BaseURL is reverse proxied under /upstream; ChatURL receives chat prompts.
type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	ChatURL string        `yaml:"chat_url" mapstructure:"chat_url"`
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size" mapstructure:"max_message_size"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Username        string        `yaml:"username" mapstructure:"username"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Events          struct {
		BroadcastRequests      bool `yaml:"broadcast_requests" mapstructure:"broadcast_requests"`
		BroadcastDetections    bool `yaml:"broadcast_detections" mapstructure:"broadcast_detections"`
		BroadcastNotifications bool `yaml:"broadcast_notifications" mapstructure:"broadcast_notifications"`
		BroadcastSystem        bool `yaml:"broadcast_system" mapstructure:"broadcast_system"`
		BroadcastConnections   bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
	} `yaml:"events" mapstructure:"events"`
}

// RedisConfig configures the Redis-backed settings and notification stores.
// An empty URL selects in-memory stores.
type RedisConfig struct {
	URL            string `yaml:"url" mapstructure:"url"`
	MaxConnections int    `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int    `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	KeyPrefix      string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// DatabaseConfig configures the PostgreSQL conversation log.
// An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL             string        `yaml:"url" mapstructure:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// RateLimitConfig limits chat message submissions per client
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Burst          int  `yaml:"burst" mapstructure:"burst"`
}

// NotificationsConfig configures the admin notification feed
type NotificationsConfig struct {
	MaxKept int `yaml:"max_kept" mapstructure:"max_kept"`
}

// ChatConfig configures the customer chat flow
type ChatConfig struct {
	EscalationKeywords []string `yaml:"escalation_keywords" mapstructure:"escalation_keywords"`
	DefaultOutlet      string   `yaml:"default_outlet" mapstructure:"default_outlet"`
	SystemPrompt       string   `yaml:"system_prompt" mapstructure:"system_prompt"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			DashboardDir: "web",
		},
		Privacy: PrivacyConfig{
			Enabled:   true,
			Detectors: []string{"all"},
			HeaderScrubbing: HeaderScrubbingConfig{
				Enabled:              true,
				Headers:              []string{"authorization", "x-api-key", "cookie"},
				PreserveUpstreamAuth: true,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Upstream: UpstreamConfig{
			Timeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  100,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingInterval:    54 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  512,
			AllowedOrigins:  []string{"*"},
		},
		Redis: RedisConfig{
			MaxConnections: 10,
			MinIdleConns:   2,
			KeyPrefix:      "restaurant_chat",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 30,
			Burst:          10,
		},
		Notifications: NotificationsConfig{
			MaxKept: 50,
		},
		Chat: ChatConfig{
			EscalationKeywords: []string{"human", "agent", "supervisor", "manager", "person", "representative"},
			DefaultOutlet:      "Online Chat",
			SystemPrompt: "You are the customer service assistant for our restaurants. " +
				"Answer questions about menus, orders, opening hours, locations and reservations. " +
				"Some sensitive information may be masked with asterisks for privacy.",
		},
	}

	cfg.Logging.File.Path = "logs/restaurant-chat.log"
	cfg.Logging.File.MaxSize = 100 // MB
	cfg.Logging.File.MaxAge = 30   // days
	cfg.Logging.File.Compress = true

	cfg.WebSocket.Events.BroadcastRequests = true
	cfg.WebSocket.Events.BroadcastDetections = true
	cfg.WebSocket.Events.BroadcastNotifications = true
	cfg.WebSocket.Events.BroadcastSystem = true
	cfg.WebSocket.Events.BroadcastConnections = true

	return cfg
}
