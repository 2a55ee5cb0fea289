package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("GIN_MODE", "")
	t.Setenv("AFFILIATE_COMMISSION_PENCE", "")
	t.Setenv("AFFILIATE_MINIMUM_PAYOUT_PENCE", "")
	t.Setenv("TRIAL_LENGTH", "")
	t.Setenv("SECURE_COOKIES", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(500), cfg.Programme.CommissionPence)
	assert.Equal(t, int64(2500), cfg.Programme.MinimumPayoutPence)
	assert.Equal(t, 7*24*time.Hour, cfg.Programme.TrialLength)
	assert.Equal(t, 24*time.Hour, cfg.Programme.ClickDedupWindow)
	assert.Equal(t, 15, cfg.Humanizer.PollAttempts)
	assert.False(t, cfg.SecureCookies)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("GIN_MODE", "release")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("HUMANIZER_FALLBACK", "yes")
	t.Setenv("CLICK_DEDUP_WINDOW", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Release())
	assert.True(t, cfg.SecureCookies)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 1, cfg.RateLimit.Capacity)
	assert.True(t, cfg.Humanizer.Fallback)
	assert.Equal(t, 24*time.Hour, cfg.Programme.ClickDedupWindow)
}
