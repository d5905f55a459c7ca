package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/target/vidrelay/config"
	"github.com/target/vidrelay/internal/adapters/oauth"
	"github.com/target/vidrelay/internal/adapters/resumable"
	"github.com/target/vidrelay/internal/adapters/source"
	"github.com/target/vidrelay/internal/core"
)

// NewS3Client loads the default AWS credential chain and builds an S3 client.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// NewSourceRouter wires the HTTP fetcher and, when enabled, the S3 fetcher.
func NewSourceRouter(ctx context.Context, cfg config.S3Config, logger *slog.Logger) (*source.Router, error) {
	httpSource := source.NewHTTPSource(nil)
	if !cfg.Enabled {
		return source.NewRouter(httpSource, nil), nil
	}

	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.InfoContext(ctx, "s3 sources enabled", "region", cfg.Region, "endpoint", cfg.Endpoint)
	}
	return source.NewRouter(httpSource, source.NewS3Source(client)), nil
}

// NewDestinationClient builds the resumable-upload client for the destination.
func NewDestinationClient(cfg config.DestinationConfig) (*resumable.Client, error) {
	client, err := resumable.NewClient(resumable.ClientOptions{
		SessionURL:       cfg.SessionURL,
		ResultIDPath:     cfg.ResultIDPath,
		NegotiateTimeout: cfg.NegotiateTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build destination client: %w", err)
	}
	return client, nil
}

// NewTokenExchanger builds the OAuth refresh grant exchanger.
//
//nolint:ireturn // callers only need the port.
func NewTokenExchanger(cfg config.OAuthConfig) (core.TokenExchanger, error) {
	ex, err := oauth.NewExchanger(oauth.ExchangerConfig{TokenURL: cfg.TokenURL, Scopes: cfg.Scopes})
	if err != nil {
		return nil, fmt.Errorf("build token exchanger: %w", err)
	}
	return ex, nil
}
