package privacy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundtruth-ai/restaurant-chat/internal/config"
	"github.com/groundtruth-ai/restaurant-chat/internal/logger"
)

func testPrivacyConfig() config.PrivacyConfig {
	return config.PrivacyConfig{
		Enabled:   true,
		Detectors: []string{"all"},
		HeaderScrubbing: config.HeaderScrubbingConfig{
			Enabled:              true,
			Headers:              []string{"authorization", "x-api-key", "cookie"},
			PreserveUpstreamAuth: true,
		},
	}
}

func TestDetector(t *testing.T) {
	log := logger.NewNop()

	t.Run("UnknownDetector", func(t *testing.T) {
		cfg := testPrivacyConfig()
		cfg.Detectors = []string{"phone", "passport"}
		_, err := New(cfg, nil, log)
		assert.Error(t, err)
	})

	t.Run("StaticDetectors", func(t *testing.T) {
		cfg := testPrivacyConfig()
		cfg.Detectors = []string{"email"}
		detector, err := New(cfg, nil, log)
		require.NoError(t, err)

		result := detector.ProcessText(context.Background(), "jane.doe@example.com 90210")
		assert.Equal(t, "ja***@example.com 90210", result.MaskedText)
	})

	t.Run("SourceSnapshotPerCall", func(t *testing.T) {
		snapshot := DefaultMaskingConfig()
		source := func(context.Context) MaskingConfig { return snapshot }
		detector, err := New(testPrivacyConfig(), source, log)
		require.NoError(t, err)

		assert.Equal(t, "90***", detector.ProcessText(context.Background(), "90210").MaskedText)

		snapshot = snapshot.With(CategoryZipCode, false)
		assert.Equal(t, "90210", detector.ProcessText(context.Background(), "90210").MaskedText)
		assert.False(t, detector.Snapshot(context.Background()).Enabled(CategoryZipCode))
	})

	t.Run("PrivacyDisabled", func(t *testing.T) {
		cfg := testPrivacyConfig()
		cfg.Enabled = false
		detector, err := New(cfg, nil, log)
		require.NoError(t, err)

		assert.False(t, detector.Enabled())

		result := detector.ProcessText(context.Background(), "555-123-4567")
		assert.False(t, result.HasPII)
		assert.Equal(t, "555-123-4567", result.MaskedText)
	})

	t.Run("Headers", func(t *testing.T) {
		detector, err := New(testPrivacyConfig(), nil, log)
		require.NoError(t, err)

		headers := map[string][]string{
			"Authorization": {"Bearer secret"},
			"Cookie":        {"session=abc"},
			"Content-Type":  {"application/json"},
		}

		local := detector.ProcessHeadersForContext(headers, false)
		assert.Equal(t, []string{"[REDACTED]"}, local["Authorization"])
		assert.Equal(t, []string{"[REDACTED]"}, local["Cookie"])
		assert.Equal(t, []string{"application/json"}, local["Content-Type"])

		upstream := detector.ProcessHeadersForContext(headers, true)
		assert.Equal(t, []string{"Bearer secret"}, upstream["Authorization"])
		assert.Equal(t, []string{"[REDACTED]"}, upstream["Cookie"])
	})
}

func TestConfigFromNames(t *testing.T) {
	cfg, err := ConfigFromNames([]string{"phone", "ZIP_CODE"})
	require.NoError(t, err)
	assert.True(t, cfg.EnablePhoneMasking)
	assert.True(t, cfg.EnableZipCodeMasking)
	assert.False(t, cfg.EnableEmailMasking)

	all, err := ConfigFromNames([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaskingConfig(), all)
}
