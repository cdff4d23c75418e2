// Package settings persists the admin-controlled PII masking configuration.
// Stores hold overrides only; reads always merge them onto the defaults so a
// category missing from the stored document keeps its default flag.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/groundtruth-ai/restaurant-chat/internal/privacy"
)

// Store exposes the masking configuration to the admin surface
type Store interface {
	// Get returns the defaults merged with persisted overrides
	Get(ctx context.Context) (privacy.MaskingConfig, error)
	// Set persists a complete configuration
	Set(ctx context.Context, cfg privacy.MaskingConfig) error
	// Reset persists and returns the defaults
	Reset(ctx context.Context) (privacy.MaskingConfig, error)
}

// merge decodes an override document onto defaults
func merge(defaults privacy.MaskingConfig, overrides []byte) (privacy.MaskingConfig, error) {
	merged := defaults
	if err := json.Unmarshal(overrides, &merged); err != nil {
		return defaults, fmt.Errorf("failed to decode masking config: %w", err)
	}
	return merged, nil
}

// MemoryStore keeps the override document in process memory
type MemoryStore struct {
	defaults privacy.MaskingConfig
	mu       sync.RWMutex
	stored   []byte
}

// NewMemoryStore creates an in-memory store with the given defaults
func NewMemoryStore(defaults privacy.MaskingConfig) *MemoryStore {
	return &MemoryStore{defaults: defaults}
}

// Get returns the defaults merged with the stored overrides
func (s *MemoryStore) Get(ctx context.Context) (privacy.MaskingConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stored == nil {
		return s.defaults, nil
	}
	return merge(s.defaults, s.stored)
}

// Set stores cfg
func (s *MemoryStore) Set(ctx context.Context, cfg privacy.MaskingConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode masking config: %w", err)
	}

	s.mu.Lock()
	s.stored = data
	s.mu.Unlock()
	return nil
}

// Reset stores and returns the defaults
func (s *MemoryStore) Reset(ctx context.Context) (privacy.MaskingConfig, error) {
	if err := s.Set(ctx, s.defaults); err != nil {
		return s.defaults, err
	}
	return s.defaults, nil
}

// Provider adapts a Store into the per-call configuration source used by the
// masking callers. Store failures are logged and the defaults are used.
func Provider(store Store, defaults privacy.MaskingConfig, logger *zap.Logger) privacy.ConfigSource {
	return func(ctx context.Context) privacy.MaskingConfig {
		cfg, err := store.Get(ctx)
		if err != nil {
			logger.Error("Failed to load PII config, using defaults", zap.Error(err))
			return defaults
		}
		return cfg
	}
}
