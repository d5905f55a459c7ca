package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/target/vidrelay/config"
	"github.com/target/vidrelay/internal/bootstrap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		slog.ErrorContext(ctx, "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
	logger := bootstrap.InitLogger(cfg.Observability.Logging)

	if err := run(ctx, &cfg, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		stop()
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	logStartupInfo(ctx, logger, cfg)

	redisClient, err := bootstrap.ConnectRedis(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() {
			if cerr := redisClient.Close(); cerr != nil {
				logger.ErrorContext(ctx, "close redis failed", "error", cerr)
			}
		}()
	}

	store, err := bootstrap.NewCredentialStore(ctx, bootstrap.CredentialStoreConfig{
		Redis:     redisClient,
		KeyPrefix: cfg.Redis.KeyPrefix,
		Seed:      cfg.Auth.OAuth.RefreshToken,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	sources, err := bootstrap.NewSourceRouter(ctx, cfg.S3, logger)
	if err != nil {
		return err
	}
	destination, err := bootstrap.NewDestinationClient(cfg.Destination)
	if err != nil {
		return err
	}
	exchanger, err := bootstrap.NewTokenExchanger(cfg.Auth.OAuth)
	if err != nil {
		return err
	}

	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      cfg,
		Sources:     sources,
		SourceCheck: sources,
		Destination: destination,
		Exchanger:   exchanger,
		Store:       store,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	server := bootstrap.NewHTTPServer(bootstrap.HTTPServerConfig{
		Config:   cfg.HTTP,
		APIKeys:  cfg.Auth.APIKeys,
		Services: services,
		Logger:   logger,
	})

	return bootstrap.Run(ctx, bootstrap.RunConfig{
		Server:          server,
		Services:        services,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		Logger:          logger,
	})
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting vidrelay",
		"addr", cfg.HTTP.Addr,
		"dev", cfg.IsDev,
		"destination", cfg.Destination.SessionURL,
		"max_attempts", cfg.Relay.MaxAttempts,
		"s3_sources", cfg.S3.Enabled,
		"redis_credentials", cfg.Redis.Enabled,
		"oauth_client", cfg.Auth.OAuth.HasClient(),
		"api_keys", len(cfg.Auth.APIKeys),
		"metrics", cfg.Observability.Metrics.IsEnabled(),
	)
}
