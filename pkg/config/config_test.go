package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Address:            ":8080",
		Environment:        EnvDevelopment,
		JWTSecret:          strings.Repeat("s", 32),
		DatabasePath:       ":memory:",
		RedisAddr:          "localhost:6379",
		GoogleClientID:     "google-client",
		GoogleClientSecret: "google-secret",
		RedirectURI:        "https://app.example.com/auth/callback",
		CallbackBase:       "https://sync.example.com",
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing jwt secret", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.JWTSecret = ""
		assert.ErrorContains(t, cfg.Validate(), "JWT_SECRET")
	})

	t.Run("short jwt secret", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.JWTSecret = "too-short"
		assert.ErrorContains(t, cfg.Validate(), "32 bytes")
	})

	t.Run("bad environment", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.Environment = "staging"
		assert.ErrorContains(t, cfg.Validate(), "ENVIRONMENT")
	})

	t.Run("no providers", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.GoogleClientID = ""
		cfg.GoogleClientSecret = ""
		assert.ErrorContains(t, cfg.Validate(), "at least one OAuth provider")
	})

	t.Run("partial apple credentials", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.AppleClientID = "com.example.app"
		cfg.AppleTeamID = "TEAM"
		assert.ErrorContains(t, cfg.Validate(), "APPLE_KEY_ID")
	})

	t.Run("production requires origins", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.Environment = EnvProduction
		require.ErrorContains(t, cfg.Validate(), "ALLOWED_ORIGINS")

		cfg.AllowedOrigins = []string{"https://app.example.com"}
		assert.NoError(t, cfg.Validate())
	})
}

func TestSplitOrigins(t *testing.T) {
	t.Parallel()

	assert.Nil(t, splitOrigins(""))
	assert.Equal(t,
		[]string{"https://a.example.com", "https://b.example.com"},
		splitOrigins(" https://a.example.com , https://b.example.com/ ,"))
}

func TestCallbackURL(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.CallbackBase = "https://sync.example.com/"
	assert.Equal(t, "https://sync.example.com/api/auth/oauth/callback", cfg.CallbackURL())
}

func TestLoad(t *testing.T) {
	t.Setenv("JWT_SECRET", strings.Repeat("k", 40))
	t.Setenv("ENVIRONMENT", EnvDevelopment)
	t.Setenv("GOOGLE_CLIENT_ID", "cid")
	t.Setenv("GOOGLE_CLIENT_SECRET", "csecret")
	t.Setenv("OAUTH_REDIRECT_URI", "https://app.example.com/cb")
	t.Setenv("OAUTH_CALLBACK_BASE", "https://sync.example.com")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, "cid", cfg.GoogleClientID)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.AllowedOrigins)
	assert.False(t, cfg.IsProduction())
	assert.True(t, cfg.GoogleConfigured())
	assert.False(t, cfg.AppleConfigured())
}
