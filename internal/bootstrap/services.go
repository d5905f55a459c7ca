package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/vidrelay/config"
	"github.com/target/vidrelay/internal/core"
	"github.com/target/vidrelay/internal/data"
	domainjob "github.com/target/vidrelay/internal/domain/job"
	"github.com/target/vidrelay/internal/observability/notify/slack"
	"github.com/target/vidrelay/internal/observability/statsd"
	"github.com/target/vidrelay/internal/service"
	"github.com/target/vidrelay/internal/service/failurenotifier"
)

// ServiceContainer holds the application services.
type ServiceContainer struct {
	Uploads       *service.UploadService
	Sweeper       *service.SweeperService
	Registry      *data.MemoryJobRegistry
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	// MetricsSink is nil when metrics are disabled.
	MetricsSink     statsd.Sink
	statsdClient    *statsd.Client
	FailureNotifier *failurenotifier.Service
}

// Close releases the metrics connection.
func (o ObservabilityContainer) Close() error {
	if o.statsdClient == nil {
		return nil
	}
	return o.statsdClient.Close()
}

// Destination negotiates sessions and accepts uploads.
type Destination interface {
	core.SessionNegotiator
	core.Uploader
}

// ServiceDeps groups the adapters the services are built on.
type ServiceDeps struct {
	Config      *config.AppConfig
	Sources     core.SourceFetcher    // Required
	SourceCheck service.SourceSupport // Optional
	Destination Destination           // Required
	Exchanger   core.TokenExchanger   // Optional
	Store       core.CredentialStore  // Optional
	Logger      *slog.Logger
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	var out ObservabilityContainer
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  logger,
		})
		if err != nil {
			logger.Error("failed to initialise statsd client", "error", err)
		} else {
			out.statsdClient = client
			out.MetricsSink = client
		}
	}
	out.FailureNotifier = buildFailureNotifier(logger, cfg.Notifications)
	return out
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	opts := failurenotifier.Options{Logger: logger, Timeout: cfg.Timeout}
	if !cfg.Enabled || !cfg.Slack.Enabled {
		return failurenotifier.NewService(opts)
	}

	client, err := slack.NewClient(slack.Config{
		WebhookURL:   cfg.Slack.WebhookURL,
		Channel:      cfg.Slack.Channel,
		Username:     cfg.Slack.Username,
		Timeout:      cfg.Timeout,
		RetryLimit:   cfg.RetryLimit,
		JobURLPrefix: cfg.Slack.JobURLPrefix,
	})
	if err != nil {
		logger.Error("failed to initialise slack notifier", "error", err)
		return failurenotifier.NewService(opts)
	}
	opts.Sinks = []failurenotifier.SinkRegistration{{Name: "slack", Sink: client}}
	return failurenotifier.NewService(opts)
}

// NewServices wires the upload pipeline from cfg and the supplied adapters.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	if deps.Sources == nil || deps.Destination == nil {
		return ServiceContainer{}, errors.New("source and destination adapters are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	obs := buildObservability(logger, cfg.Observability)

	registry := data.NewMemoryJobRegistry(data.JobRegistryOptions{Retention: cfg.Relay.Retention})

	sizes, err := service.NewSizeResolver(service.SizeResolverOptions{
		Source:       deps.Sources,
		ProbeTimeout: cfg.Relay.ProbeTimeout,
		Logger:       logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("size resolver: %w", err)
	}
	relay, err := service.NewRelay(service.RelayOptions{
		Source:          deps.Sources,
		Uploader:        deps.Destination,
		IdleTimeout:     cfg.Relay.SourceIdleTimeout,
		ResponseTimeout: cfg.Destination.ResponseTimeout,
		Logger:          logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("relay: %w", err)
	}
	policy, err := domainjob.NewBackoffPolicy(cfg.Relay.MaxAttempts, cfg.Relay.BackoffBase, cfg.Relay.BackoffCap)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("backoff policy: %w", err)
	}
	retrier, err := service.NewRetrier(service.RetrierOptions{Policy: policy, Logger: logger})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("retrier: %w", err)
	}

	credentials := service.NewCredentialResolver(service.CredentialResolverOptions{
		Exchanger: deps.Exchanger,
		Store:     deps.Store,
		Client:    service.OAuthClient{ID: cfg.Auth.OAuth.ClientID, Secret: cfg.Auth.OAuth.ClientSecret},
		Logger:    logger,
	})

	uploads, err := service.NewUploadService(service.UploadServiceOptions{
		Registry:    registry,
		Credentials: credentials,
		Pipeline: service.UploadPipeline{
			Sizes:      sizes,
			Negotiator: deps.Destination,
			Relay:      relay,
			Retrier:    retrier,
			Sources:    deps.SourceCheck,
		},
		Observability: service.UploadObservability{
			Logger:   logger,
			Metrics:  obs.MetricsSink,
			Notifier: obs.FailureNotifier,
		},
		DefaultContentType: cfg.Relay.DefaultContentType,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("upload service: %w", err)
	}

	sweeper, err := service.NewSweeperService(service.SweeperServiceOptions{
		Registry: registry,
		Interval: cfg.Relay.SweepInterval,
		Logger:   logger,
		Metrics:  obs.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("sweeper: %w", err)
	}

	return ServiceContainer{
		Uploads:       uploads,
		Sweeper:       sweeper,
		Registry:      registry,
		Observability: obs,
	}, nil
}
