package settings

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/groundtruth-ai/restaurant-chat/internal/privacy"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "test", privacy.DefaultMaskingConfig(), zap.NewNop()), mr
}

func TestStores(t *testing.T) {
	ctx := context.Background()

	stores := map[string]func(t *testing.T) Store{
		"Memory": func(t *testing.T) Store { return NewMemoryStore(privacy.DefaultMaskingConfig()) },
		"Redis": func(t *testing.T) Store {
			store, _ := newRedisStore(t)
			return store
		},
	}

	for name, build := range stores {
		t.Run(name, func(t *testing.T) {
			store := build(t)

			cfg, err := store.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, privacy.DefaultMaskingConfig(), cfg)

			updated := privacy.DefaultMaskingConfig().
				With(privacy.CategoryDOB, false).
				With(privacy.CategoryZipCode, false)
			require.NoError(t, store.Set(ctx, updated))

			cfg, err = store.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, updated, cfg)

			reset, err := store.Reset(ctx)
			require.NoError(t, err)
			assert.Equal(t, privacy.DefaultMaskingConfig(), reset)

			cfg, err = store.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, privacy.DefaultMaskingConfig(), cfg)
		})
	}
}

func TestPartialOverridesMergeOntoDefaults(t *testing.T) {
	ctx := context.Background()

	t.Run("Redis", func(t *testing.T) {
		store, mr := newRedisStore(t)
		require.NoError(t, mr.Set("test:pii_config:v1", `{"enableZipCodeMasking":false}`))

		cfg, err := store.Get(ctx)
		require.NoError(t, err)
		assert.False(t, cfg.EnableZipCodeMasking)
		assert.True(t, cfg.EnablePhoneMasking)
		assert.True(t, cfg.EnableDOBMasking)
	})

	t.Run("Merge", func(t *testing.T) {
		cfg, err := merge(privacy.DefaultMaskingConfig(), []byte(`{"enableEmailMasking":false}`))
		require.NoError(t, err)
		assert.False(t, cfg.EnableEmailMasking)
		assert.True(t, cfg.EnableSSNMasking)

		cfg, err = merge(privacy.DefaultMaskingConfig(), []byte(`not json`))
		assert.Error(t, err)
		assert.Equal(t, privacy.DefaultMaskingConfig(), cfg)
	})
}

func TestRedisStoreDiscardsCorruptDocument(t *testing.T) {
	store, mr := newRedisStore(t)
	require.NoError(t, mr.Set("test:pii_config:v1", `{broken`))

	cfg, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, privacy.DefaultMaskingConfig(), cfg)
	assert.False(t, mr.Exists("test:pii_config:v1"))
}

func TestProvider(t *testing.T) {
	ctx := context.Background()

	store, mr := newRedisStore(t)
	require.NoError(t, store.Set(ctx, privacy.MaskingConfig{EnablePhoneMasking: true}))

	defaults := privacy.DefaultMaskingConfig()
	source := Provider(store, defaults, zap.NewNop())
	assert.Equal(t, privacy.MaskingConfig{EnablePhoneMasking: true}, source(ctx))

	// store failures fall back to the defaults
	mr.Close()
	assert.Equal(t, defaults, source(ctx))
}
