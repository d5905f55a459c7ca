package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/target/vidrelay/internal/core"
	apperrors "github.com/target/vidrelay/internal/errors"
)

// CredentialInput carries every credential a creation request may present.
type CredentialInput struct {
	// BearerToken comes from the request's Authorization header.
	BearerToken  string
	AccessToken  string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// OAuthClient identifies the configured OAuth client used with the stored refresh token.
type OAuthClient struct {
	ID     string
	Secret string
}

// CredentialResolverOptions groups dependencies for CredentialResolver.
type CredentialResolverOptions struct {
	Exchanger core.TokenExchanger  // Optional: without it only direct tokens resolve
	Store     core.CredentialStore // Optional: stored refresh token
	Client    OAuthClient          // Optional: required for the stored token path
	Logger    *slog.Logger
}

// CredentialResolver picks the destination access token for a new job.
type CredentialResolver struct {
	exchanger core.TokenExchanger
	store     core.CredentialStore
	client    OAuthClient
	logger    *slog.Logger
}

// NewCredentialResolver constructs a CredentialResolver.
func NewCredentialResolver(opts CredentialResolverOptions) *CredentialResolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialResolver{
		exchanger: opts.Exchanger,
		store:     opts.Store,
		client:    opts.Client,
		logger:    logger.With("component", "credential_resolver"),
	}
}

// Resolve returns an access token, trying in order: the bearer header, the
// body access_token, body refresh credentials, then the stored refresh token
// with the configured client. Partial body refresh credentials are ignored.
func (r *CredentialResolver) Resolve(ctx context.Context, in CredentialInput) (string, error) {
	if tok := strings.TrimSpace(in.BearerToken); tok != "" {
		return tok, nil
	}
	if tok := strings.TrimSpace(in.AccessToken); tok != "" {
		return tok, nil
	}

	req := core.TokenExchangeRequest{
		ClientID:     strings.TrimSpace(in.ClientID),
		ClientSecret: strings.TrimSpace(in.ClientSecret),
		RefreshToken: strings.TrimSpace(in.RefreshToken),
	}
	if req.ClientID != "" && req.ClientSecret != "" && req.RefreshToken != "" {
		return r.exchange(ctx, req, "request")
	}

	return r.resolveStored(ctx)
}

func (r *CredentialResolver) resolveStored(ctx context.Context) (string, error) {
	if r.store == nil || r.client.ID == "" || r.client.Secret == "" {
		return "", missingAuth()
	}
	refresh, err := r.store.RefreshToken(ctx)
	if err != nil {
		return "", apperrors.Unauthorized(apperrors.ReasonAuthExchangeFailed, "failed to read stored refresh token", err)
	}
	if refresh == "" {
		return "", missingAuth()
	}
	return r.exchange(ctx, core.TokenExchangeRequest{
		ClientID:     r.client.ID,
		ClientSecret: r.client.Secret,
		RefreshToken: refresh,
	}, "stored")
}

func (r *CredentialResolver) exchange(ctx context.Context, req core.TokenExchangeRequest, origin string) (string, error) {
	if r.exchanger == nil {
		return "", missingAuth()
	}
	tok, err := r.exchanger.Exchange(ctx, req)
	if err != nil {
		r.logger.WarnContext(ctx, "refresh token exchange failed", "origin", origin, "error", err)
		return "", apperrors.Unauthorized(apperrors.ReasonAuthExchangeFailed, "refresh token exchange failed", err)
	}
	return tok, nil
}

func missingAuth() error {
	return apperrors.Unauthorized(apperrors.ReasonMissingAuth,
		"no destination credential: send a bearer token, access_token, or refresh credentials", nil)
}
