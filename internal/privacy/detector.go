package privacy

import (
	"context"
	"fmt"
	"strings"

	"github.com/groundtruth-ai/restaurant-chat/internal/config"
	"github.com/groundtruth-ai/restaurant-chat/internal/logger"
	"go.uber.org/zap"
)

// ConfigSource returns the masking configuration snapshot to use for one call
type ConfigSource func(ctx context.Context) MaskingConfig

// Detector applies the masking engine at service boundaries. It resolves the
// configuration snapshot per call and logs what was found, never the values.
type Detector struct {
	source ConfigSource
	logger *logger.Logger
	config config.PrivacyConfig
}

// New creates a new detector. When source is nil the rules named in
// cfg.Detectors are used for every call.
func New(cfg config.PrivacyConfig, source ConfigSource, log *logger.Logger) (*Detector, error) {
	defaults, err := ConfigFromNames(cfg.Detectors)
	if err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	if source == nil {
		source = func(context.Context) MaskingConfig { return defaults }
	}

	log.Info("Privacy detector initialized",
		zap.Int("total_rules", len(registry)),
		zap.Int("enabled_rules", len(defaults.EnabledCategories())),
	)

	return &Detector{
		source: source,
		logger: log,
		config: cfg,
	}, nil
}

// ConfigFromNames builds a MaskingConfig enabling the named categories.
// "all" enables every rule.
func ConfigFromNames(names []string) (MaskingConfig, error) {
	var cfg MaskingConfig
	for _, name := range names {
		if strings.EqualFold(name, "all") {
			cfg = DefaultMaskingConfig()
			continue
		}

		category, ok := ParseCategory(name)
		if !ok {
			return MaskingConfig{}, fmt.Errorf("unknown detector: %s", name)
		}
		cfg = cfg.With(category, true)
	}
	return cfg, nil
}

// Snapshot returns the masking configuration in effect for ctx
func (d *Detector) Snapshot(ctx context.Context) MaskingConfig {
	return d.source(ctx)
}

// Enabled reports whether masking is switched on
func (d *Detector) Enabled() bool {
	return d.config.Enabled
}

// ProcessText masks text with the current configuration snapshot
func (d *Detector) ProcessText(ctx context.Context, text string) MaskResult {
	if !d.config.Enabled {
		return MaskResult{
			MaskedText: text,
			Detections: []Detection{},
		}
	}

	result := Mask(text, d.source(ctx))
	if result.HasPII {
		counts := make(map[Category]int)
		for _, detection := range result.Detections {
			counts[detection.Type]++
		}
		d.logger.Debug("PII detected and masked",
			zap.Int("count", len(result.Detections)),
			zap.Any("by_type", counts),
		)
	}

	return result
}

// ProcessHeadersForContext scrubs sensitive headers. When forUpstream is set
// and upstream auth preservation is on, auth headers pass through untouched.
func (d *Detector) ProcessHeadersForContext(headers map[string][]string, forUpstream bool) map[string][]string {
	if !d.config.Enabled || !d.config.HeaderScrubbing.Enabled {
		return headers
	}

	processed := make(map[string][]string, len(headers))
	for key, values := range headers {
		if !d.isSensitiveHeader(key) {
			processed[key] = values
			continue
		}

		if forUpstream && d.config.HeaderScrubbing.PreserveUpstreamAuth && IsAuthHeader(key) {
			processed[key] = values
			d.logger.Debug("Auth header preserved for upstream", zap.String("header", key))
			continue
		}

		processed[key] = []string{"[REDACTED]"}
		d.logger.Debug("Header scrubbed", zap.String("header", key))
	}

	return processed
}

func (d *Detector) isSensitiveHeader(header string) bool {
	headerLower := strings.ToLower(header)
	for _, sensitive := range d.config.HeaderScrubbing.Headers {
		if strings.Contains(headerLower, strings.ToLower(sensitive)) {
			return true
		}
	}
	return false
}

// IsAuthHeader checks if a header is used for authentication
func IsAuthHeader(header string) bool {
	headerLower := strings.ToLower(header)
	for _, auth := range []string{"authorization", "x-api-key", "x-auth-token", "bearer"} {
		if strings.Contains(headerLower, auth) {
			return true
		}
	}
	return false
}
