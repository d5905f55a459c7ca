package config

import "strings"

const defaultTokenURL = "https://oauth2.googleapis.com/token"

// OAuthConfig contains the OAuth client used to exchange refresh tokens for access tokens.
// ClientID/ClientSecret are only needed for the stored refresh token path; callers may
// also supply their own client credentials per request.
type OAuthConfig struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	TokenURL     string   `env:"TOKEN_URL"     envDefault:"https://oauth2.googleapis.com/token"`
	Scopes       []string `env:"SCOPES"        envDefault:"https://www.googleapis.com/auth/youtube.upload" envSeparator:" "`
	// RefreshToken seeds the credential store at startup when set.
	RefreshToken string `env:"REFRESH_TOKEN"`
}

// HasClient reports whether a usable OAuth client is configured.
func (c *OAuthConfig) HasClient() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// APIKeys guards the upload API. Empty disables the check (development only).
	APIKeys []string `env:"API_KEYS" envSeparator:","`

	// OAuth token exchange configuration.
	OAuth OAuthConfig `envPrefix:"OAUTH_"`
}

// Sanitize trims configured keys and drops blanks.
func (a *AuthConfig) Sanitize() {
	keys := a.APIKeys[:0]
	for _, k := range a.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	a.APIKeys = keys

	a.OAuth.ClientID = strings.TrimSpace(a.OAuth.ClientID)
	a.OAuth.ClientSecret = strings.TrimSpace(a.OAuth.ClientSecret)
	a.OAuth.RefreshToken = strings.TrimSpace(a.OAuth.RefreshToken)
	if a.OAuth.TokenURL = strings.TrimSpace(a.OAuth.TokenURL); a.OAuth.TokenURL == "" {
		a.OAuth.TokenURL = defaultTokenURL
	}
}
