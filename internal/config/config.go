package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envBound lists keys that can be set from the environment without
// appearing in a config file
var envBound = []string{
	"server.port",
	"logging.level",
	"logging.format",
	"redis.url",
	"database.url",
	"upstream.base_url",
	"upstream.chat_url",
	"upstream.api_key",
	"websocket.username",
	"websocket.password",
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/restaurant-chat/")
	v.AddConfigPath("$HOME/.restaurant-chat/")

	// Environment variable overrides
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envBound {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	return v
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Privacy.Enabled && len(config.Privacy.Detectors) == 0 {
		return fmt.Errorf("privacy is enabled but no detectors are configured")
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.RateLimit.RequestsPerMin)
	}

	if config.Notifications.MaxKept <= 0 {
		return fmt.Errorf("invalid notifications.max_kept: %d", config.Notifications.MaxKept)
	}

	return nil
}

// Watch reloads the configuration file on change and hands every valid
// version to callback. Invalid edits are reported through onError.
func Watch(configPath string, callback func(*Config), onError func(error)) error {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			onError(fmt.Errorf("failed to unmarshal %s: %w", e.Name, err))
			return
		}

		if err := validateConfig(newConfig); err != nil {
			onError(fmt.Errorf("invalid configuration in %s: %w", e.Name, err))
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
