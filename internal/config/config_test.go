package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("REGISTRY_URL", "https://example.com/exec")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load(false)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.PreferIPv4)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, ":8080", cfg.WebAddr)
	assert.Equal(t, 180*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 60*time.Second, cfg.SyncInterval)
	assert.Equal(t, 2500*time.Millisecond, cfg.ThumbnailDelay)
	assert.Equal(t, 15*time.Second, cfg.QuotaCooldown)
	assert.Equal(t, 4, cfg.MaxConcurrent)
	assert.Equal(t, "https://generativelanguage.googleapis.com", cfg.GeminiBaseURL)
	assert.Equal(t, "v1beta", cfg.GeminiAPIVersion)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("WALLET_SYNC_SECONDS", "30")
	t.Setenv("THUMBNAIL_DELAY_MS", "100")
	t.Setenv("QUOTA_COOLDOWN_SECONDS", "5")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(false)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.ThumbnailDelay)
	assert.Equal(t, 5*time.Second, cfg.QuotaCooldown)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRequiredVars(t *testing.T) {
	t.Run("gemini key", func(t *testing.T) {
		setRequired(t)
		t.Setenv("GEMINI_API_KEY", "")
		_, err := Load(false)
		assert.ErrorContains(t, err, "GEMINI_API_KEY")
	})

	t.Run("registry url", func(t *testing.T) {
		setRequired(t)
		t.Setenv("REGISTRY_URL", "")
		_, err := Load(false)
		assert.ErrorContains(t, err, "REGISTRY_URL")
	})

	t.Run("telegram token only for the bot", func(t *testing.T) {
		setRequired(t)

		_, err := Load(false)
		assert.NoError(t, err)

		_, err = Load(true)
		assert.ErrorContains(t, err, "TELEGRAM_BOT_TOKEN")
	})
}
