// Package oauth exchanges OAuth2 refresh tokens for destination access tokens.
package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/target/vidrelay/internal/core"
)

// expiryLeeway is subtracted from token expiry before a cached token is reused.
const expiryLeeway = time.Minute

// ExchangerConfig holds configuration for the refresh grant.
type ExchangerConfig struct {
	TokenURL   string
	Scopes     []string
	HTTPClient *http.Client // Optional, defaults to a client with a 30s timeout
	// Now is used for cache expiry; defaults to time.Now.
	Now func() time.Time
}

// Exchanger implements core.TokenExchanger with the OAuth2 refresh_token grant.
// Concurrent exchanges for the same client and refresh token share one request,
// and access tokens are reused until shortly before they expire.
type Exchanger struct {
	tokenURL   string
	scopes     []string
	httpClient *http.Client
	now        func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]*oauth2.Token
}

// NewExchanger creates a new Exchanger.
func NewExchanger(cfg ExchangerConfig) (*Exchanger, error) {
	if cfg.TokenURL == "" {
		return nil, errors.New("token URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Exchanger{
		tokenURL:   cfg.TokenURL,
		scopes:     cfg.Scopes,
		httpClient: httpClient,
		now:        now,
		cache:      make(map[string]*oauth2.Token),
	}, nil
}

// Exchange returns an access token for the given refresh credential.
func (e *Exchanger) Exchange(ctx context.Context, req core.TokenExchangeRequest) (string, error) {
	if req.ClientID == "" || req.ClientSecret == "" {
		return "", errors.New("client id and client secret are required")
	}
	if req.RefreshToken == "" {
		return "", errors.New("refresh token is required")
	}

	key := cacheKey(req)
	if tok := e.cached(key); tok != nil {
		return tok.AccessToken, nil
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		return e.refresh(ctx, req)
	})
	if err != nil {
		return "", err
	}
	tok, _ := v.(*oauth2.Token)
	e.store(key, tok)
	return tok.AccessToken, nil
}

func (e *Exchanger) refresh(ctx context.Context, req core.TokenExchangeRequest) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		Scopes:       e.scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  e.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	// the shared request must not be canceled by the first caller leaving
	ctx = context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, e.httpClient)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: req.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token exchange: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("refresh token exchange: empty access token")
	}
	return tok, nil
}

func (e *Exchanger) cached(key string) *oauth2.Token {
	e.mu.Lock()
	defer e.mu.Unlock()
	tok, ok := e.cache[key]
	if !ok {
		return nil
	}
	if tok.Expiry.IsZero() || e.now().Add(expiryLeeway).After(tok.Expiry) {
		delete(e.cache, key)
		return nil
	}
	return tok
}

func (e *Exchanger) store(key string, tok *oauth2.Token) {
	if tok == nil || tok.Expiry.IsZero() {
		return
	}
	e.mu.Lock()
	e.cache[key] = tok
	e.mu.Unlock()
}

func cacheKey(req core.TokenExchangeRequest) string {
	sum := sha256.Sum256([]byte(req.ClientID + "\x00" + req.ClientSecret + "\x00" + req.RefreshToken))
	return hex.EncodeToString(sum[:])
}

var _ core.TokenExchanger = (*Exchanger)(nil)
