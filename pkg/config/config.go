// Package config loads and validates the server configuration from the
// environment via viper, and centralizes the policy knobs (session and
// OAuth lifetimes, retention windows, sync limits) that the rest of the
// code reads as constants.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment names. Anything that is not production gets the relaxed
// localhost CORS policy.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Policy constants shared across subsystems. These are deliberately not
// configurable: they encode product decisions, not deployment choices.
const (
	// SessionTokenTTL is the lifetime of an issued session token.
	SessionTokenTTL = 7 * 24 * time.Hour

	// OAuthStateTTL bounds how long a login attempt may take between the
	// /auth/*/start redirect and the provider callback.
	OAuthStateTTL = 10 * time.Minute

	// OAuthResultTTL bounds how long a completed login result waits in the
	// mailbox for the client to poll it. Matches the state TTL.
	OAuthResultTTL = 10 * time.Minute

	// StorageQuotaBytes and TaskSizeEstimate define the per-user cap on
	// live tasks: quota_bytes / task_size_estimate. Only new-task inserts
	// are rejected for quota; updates and deletes never are.
	StorageQuotaBytes = 50 << 20 // 50 MiB
	TaskSizeEstimate  = 5 << 10  // 5 KiB ciphertext guess

	// MaxPushBatch is the largest number of operations accepted in a
	// single push request.
	MaxPushBatch = 100

	// MaxBlobBytes bounds the encrypted_blob field of a push operation.
	// Nonce and checksum are small fixed-size strings in practice; 1 KiB
	// leaves generous headroom.
	MaxBlobBytes  = 256 << 10
	MaxFieldBytes = 1 << 10

	// DefaultPullLimit and MaxPullLimit bound pull pagination.
	DefaultPullLimit = 50
	MaxPullLimit     = 100

	// Retention windows for the scheduled cleanup job.
	TombstoneRetention   = 30 * 24 * time.Hour
	ConflictRetention    = 90 * 24 * time.Hour
	StaleDeviceRetention = 180 * 24 * time.Hour
	CleanupInterval      = 24 * time.Hour
)

// Config is the validated runtime configuration.
type Config struct {
	// Address the HTTP server listens on.
	Address string

	// Environment is "production" or "development".
	Environment string

	// JWTSecret signs session tokens (HS256). Required, min 32 bytes.
	JWTSecret string

	// DatabasePath is the SQLite database file. ":memory:" works for tests.
	DatabasePath string

	// RedisAddr is the host:port of the Redis instance backing OAuth state,
	// sessions, and rate limiting. RedisPassword may be empty.
	RedisAddr     string
	RedisPassword string

	// Google OAuth client. Secret is required because Google's token
	// endpoint still expects one even with PKCE.
	GoogleClientID     string
	GoogleClientSecret string

	// Apple Sign In credentials. The private key is the PKCS#8 PEM from
	// the developer portal; the client secret is derived from it per
	// exchange. All four must be set together, or none.
	AppleClientID   string
	AppleTeamID     string
	AppleKeyID      string
	ApplePrivateKey string

	// RedirectURI is the client-side page the callback hands results to.
	// CallbackBase is the externally visible base URL of this server,
	// used to build the provider redirect_uri.
	RedirectURI  string
	CallbackBase string

	// AllowedOrigins is the CORS allow-list for production. Development
	// additionally accepts localhost on any port.
	AllowedOrigins []string
}

// envBindings maps viper keys to the environment variables they load from.
var envBindings = map[string]string{
	"address":              "ADDRESS",
	"environment":          "ENVIRONMENT",
	"jwt_secret":           "JWT_SECRET",
	"database_path":        "DATABASE_PATH",
	"redis_addr":           "REDIS_ADDR",
	"redis_password":       "REDIS_PASSWORD",
	"google_client_id":     "GOOGLE_CLIENT_ID",
	"google_client_secret": "GOOGLE_CLIENT_SECRET",
	"apple_client_id":      "APPLE_CLIENT_ID",
	"apple_team_id":        "APPLE_TEAM_ID",
	"apple_key_id":         "APPLE_KEY_ID",
	"apple_private_key":    "APPLE_PRIVATE_KEY",
	"oauth_redirect_uri":   "OAUTH_REDIRECT_URI",
	"oauth_callback_base":  "OAUTH_CALLBACK_BASE",
	"allowed_origins":      "ALLOWED_ORIGINS",
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("address", ":8080")
	v.SetDefault("environment", EnvDevelopment)
	v.SetDefault("database_path", "gsd-sync.db")
	v.SetDefault("redis_addr", "localhost:6379")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	cfg := &Config{
		Address:            v.GetString("address"),
		Environment:        v.GetString("environment"),
		JWTSecret:          v.GetString("jwt_secret"),
		DatabasePath:       v.GetString("database_path"),
		RedisAddr:          v.GetString("redis_addr"),
		RedisPassword:      v.GetString("redis_password"),
		GoogleClientID:     v.GetString("google_client_id"),
		GoogleClientSecret: v.GetString("google_client_secret"),
		AppleClientID:      v.GetString("apple_client_id"),
		AppleTeamID:        v.GetString("apple_team_id"),
		AppleKeyID:         v.GetString("apple_key_id"),
		ApplePrivateKey:    v.GetString("apple_private_key"),
		RedirectURI:        v.GetString("oauth_redirect_uri"),
		CallbackBase:       v.GetString("oauth_callback_base"),
		AllowedOrigins:     splitOrigins(v.GetString("allowed_origins")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitOrigins parses a comma-separated origin list, trimming whitespace
// and dropping empty entries.
func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, strings.TrimRight(o, "/"))
		}
	}
	return origins
}

// Validate checks the invariants the rest of the code relies on.
func (c *Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}

	if c.Environment != EnvProduction && c.Environment != EnvDevelopment {
		errs = append(errs, fmt.Errorf("ENVIRONMENT must be %q or %q, got %q",
			EnvProduction, EnvDevelopment, c.Environment))
	}

	if c.RedirectURI == "" {
		errs = append(errs, errors.New("OAUTH_REDIRECT_URI is required"))
	}
	if c.CallbackBase == "" {
		errs = append(errs, errors.New("OAUTH_CALLBACK_BASE is required"))
	}

	if c.GoogleConfigured() && c.GoogleClientSecret == "" {
		errs = append(errs, errors.New("GOOGLE_CLIENT_SECRET is required when GOOGLE_CLIENT_ID is set"))
	}

	appleSet := 0
	for _, s := range []string{c.AppleClientID, c.AppleTeamID, c.AppleKeyID, c.ApplePrivateKey} {
		if s != "" {
			appleSet++
		}
	}
	if appleSet != 0 && appleSet != 4 {
		errs = append(errs, errors.New(
			"APPLE_CLIENT_ID, APPLE_TEAM_ID, APPLE_KEY_ID, and APPLE_PRIVATE_KEY must all be set together"))
	}

	if !c.GoogleConfigured() && !c.AppleConfigured() {
		errs = append(errs, errors.New("at least one OAuth provider must be configured"))
	}

	if c.IsProduction() && len(c.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("ALLOWED_ORIGINS is required in production"))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether the server runs with production policies.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GoogleConfigured reports whether Google login is available.
func (c *Config) GoogleConfigured() bool {
	return c.GoogleClientID != ""
}

// AppleConfigured reports whether Apple login is available.
func (c *Config) AppleConfigured() bool {
	return c.AppleClientID != "" && c.AppleTeamID != "" && c.AppleKeyID != "" && c.ApplePrivateKey != ""
}

// MaxLiveTasks is the per-user live-task ceiling derived from the
// storage quota.
func (c *Config) MaxLiveTasks() int {
	return StorageQuotaBytes / TaskSizeEstimate
}

// CallbackURL returns the redirect_uri registered with both providers.
// The provider is recovered from the state record, so a single callback
// endpoint serves Google and Apple.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.CallbackBase, "/") + "/api/auth/oauth/callback"
}
