package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailpost/billing/pkg/config"
)

type chargeConfig struct {
	Timeout time.Duration `env:"TEST_CHARGE_TIMEOUT" envDefault:"30s"`
	Retries int           `env:"TEST_CHARGE_RETRIES" envDefault:"5"`
}

type cachedConfig struct {
	Currency string `env:"TEST_CACHED_CURRENCY" envDefault:"USD"`
}

type requiredConfig struct {
	WebhookSecret string `env:"TEST_REQUIRED_WEBHOOK_SECRET,required"`
}

type fileConfig struct {
	Plans []string `env:"TEST_FILE_PLANS" envSeparator:","`
	Trial int      `env:"TEST_FILE_TRIAL_DAYS"`
}

func TestLoad(t *testing.T) {
	t.Run("reads variables and defaults", func(t *testing.T) {
		t.Setenv("TEST_CHARGE_RETRIES", "7")

		var cfg chargeConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, 30*time.Second, cfg.Timeout)
		assert.Equal(t, 7, cfg.Retries)
	})

	t.Run("caches per type", func(t *testing.T) {
		t.Setenv("TEST_CACHED_CURRENCY", "EUR")
		var first cachedConfig
		require.NoError(t, config.Load(&first))

		t.Setenv("TEST_CACHED_CURRENCY", "GBP")
		var second cachedConfig
		require.NoError(t, config.Load(&second))
		assert.Equal(t, "EUR", second.Currency)

		fresh, err := config.Parse[cachedConfig]()
		require.NoError(t, err)
		assert.Equal(t, "GBP", fresh.Currency)

		config.ResetCache()
		require.NoError(t, config.Load(&second))
		assert.Equal(t, "GBP", second.Currency)
	})

	t.Run("missing required value can be retried", func(t *testing.T) {
		var cfg requiredConfig
		assert.ErrorIs(t, config.Load(&cfg), config.ErrParsingConfig)

		t.Setenv("TEST_REQUIRED_WEBHOOK_SECRET", "whsec_1")
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "whsec_1", cfg.WebhookSecret)
	})

	t.Run("nil pointer", func(t *testing.T) {
		var cfg *chargeConfig
		assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
		assert.Panics(t, func() { config.MustLoad(cfg) })
	})
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TEST_FILE_PLANS=basic,premium\nTEST_FILE_TRIAL_DAYS=14\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("TEST_FILE_PLANS")
		_ = os.Unsetenv("TEST_FILE_TRIAL_DAYS")
	})
	t.Setenv("TEST_FILE_TRIAL_DAYS", "7")

	require.NoError(t, config.LoadEnv(path))
	cfg, err := config.Parse[fileConfig]()
	require.NoError(t, err)
	assert.Equal(t, []string{"basic", "premium"}, cfg.Plans)
	assert.Equal(t, 7, cfg.Trial, "existing variables win over the file")

	assert.ErrorIs(t, config.LoadEnv(filepath.Join(dir, "missing.env")), config.ErrLoadingEnvFile)
	assert.Panics(t, func() { config.MustLoadEnv(filepath.Join(dir, "missing.env")) })
}
