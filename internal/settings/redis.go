package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/groundtruth-ai/restaurant-chat/internal/cache"
	"github.com/groundtruth-ai/restaurant-chat/internal/privacy"
)

// RedisStore persists the override document in a single Redis key
type RedisStore struct {
	client   *redis.Client
	key      string
	defaults privacy.MaskingConfig
	logger   *zap.Logger
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *redis.Client, keyPrefix string, defaults privacy.MaskingConfig, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client:   client,
		key:      cache.Key(keyPrefix, "pii_config", "v1"),
		defaults: defaults,
		logger:   logger,
	}
}

// Get returns the defaults merged with the stored overrides. A corrupt
// document is removed and the defaults are returned.
func (s *RedisStore) Get(ctx context.Context) (privacy.MaskingConfig, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return s.defaults, nil
	}
	if err != nil {
		return s.defaults, fmt.Errorf("failed to load masking config: %w", err)
	}

	cfg, err := merge(s.defaults, data)
	if err != nil {
		s.logger.Error("Discarding corrupt masking config", zap.String("key", s.key), zap.Error(err))
		s.client.Del(ctx, s.key)
		return s.defaults, nil
	}

	return cfg, nil
}

// Set stores cfg
func (s *RedisStore) Set(ctx context.Context, cfg privacy.MaskingConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode masking config: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save masking config: %w", err)
	}

	s.logger.Info("PII masking config saved",
		zap.Any("enabled", cfg.EnabledCategories()))
	return nil
}

// Reset stores and returns the defaults
func (s *RedisStore) Reset(ctx context.Context) (privacy.MaskingConfig, error) {
	if err := s.Set(ctx, s.defaults); err != nil {
		return s.defaults, err
	}
	return s.defaults, nil
}
