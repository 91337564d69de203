package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/api"
	v1 "github.com/vscarpenter/gsd-task-manager-sub001/pkg/api/v1"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/auth"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/cleanup"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/config"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/cryptoutil"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/kv"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/logger"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/oidc"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/ratelimit"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/storage"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/storage/sqlite"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync API server",
	Long:  `Starts the sync API server, the scheduled retention cleanup, and listens for HTTP requests.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Ensure server is shutdown gracefully on Ctrl+C / SIGTERM.
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	store, err := sqlite.NewStore(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnf("closing database: %v", err)
		}
	}()

	kvClient, err := kv.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := kvClient.Close(); err != nil {
			logger.Warnf("closing redis client: %v", err)
		}
	}()

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		return err
	}

	sessions := kv.NewSessionStore(kvClient)
	tokens := auth.NewTokenService(cfg.JWTSecret, sessions)
	flow := auth.NewFlow(providers, kv.NewOAuthStore(kvClient), tokens, store, cfg)
	engine := sync.NewService(store, cfg.MaxLiveTasks())
	limiter := ratelimit.New(kvClient, ratelimit.DefaultPolicies())

	go cleanup.New(store).Schedule(ctx, config.CleanupInterval)

	handler := api.NewHandler(v1.Deps{
		Config:   cfg,
		Store:    store,
		Flow:     flow,
		Tokens:   tokens,
		Engine:   engine,
		Limiter:  limiter,
		Sessions: sessions,
	})
	return api.Serve(ctx, cfg.Address, handler)
}

// buildProviders discovers the configured OIDC providers. Discovery
// needs the network, so a provider outage surfaces at startup, not on
// the first login.
func buildProviders(ctx context.Context, cfg *config.Config) (map[string]oidc.Provider, error) {
	providers := make(map[string]oidc.Provider)

	if cfg.GoogleConfigured() {
		p, err := oidc.NewGoogleProvider(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.CallbackURL())
		if err != nil {
			return nil, fmt.Errorf("configuring Google provider: %w", err)
		}
		providers[storage.ProviderGoogle] = p
	}

	if cfg.AppleConfigured() {
		signer, err := cryptoutil.NewAppleSecretSigner(cfg.AppleTeamID, cfg.AppleClientID, cfg.AppleKeyID, cfg.ApplePrivateKey)
		if err != nil {
			return nil, fmt.Errorf("loading Apple signing key: %w", err)
		}
		p, err := oidc.NewAppleProvider(ctx, cfg.AppleClientID, signer, cfg.CallbackURL())
		if err != nil {
			return nil, fmt.Errorf("configuring Apple provider: %w", err)
		}
		providers[storage.ProviderApple] = p
	}

	logger.Infof("Configured %d OAuth provider(s)", len(providers))
	return providers, nil
}
