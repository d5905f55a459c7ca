package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/vidrelay/internal/core"
)

func newTokenServer(t *testing.T, hits *atomic.Int32, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "stored-refresh", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExchanger_Exchange(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, &hits, http.StatusOK,
		`{"access_token":"access-1","token_type":"Bearer","expires_in":3600}`)

	ex, err := NewExchanger(ExchangerConfig{TokenURL: srv.URL, Scopes: []string{"upload"}})
	require.NoError(t, err)

	req := core.TokenExchangeRequest{ClientID: "client", ClientSecret: "secret", RefreshToken: "stored-refresh"}
	tok, err := ex.Exchange(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)

	tok, err = ex.Exchange(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
	assert.Equal(t, int32(1), hits.Load(), "second call is served from cache")
}

func TestExchanger_ExpiredCacheRefreshes(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, &hits, http.StatusOK,
		`{"access_token":"access-1","token_type":"Bearer","expires_in":3600}`)

	now := time.Now()
	ex, err := NewExchanger(ExchangerConfig{TokenURL: srv.URL, Now: func() time.Time { return now }})
	require.NoError(t, err)

	req := core.TokenExchangeRequest{ClientID: "client", ClientSecret: "secret", RefreshToken: "stored-refresh"}
	_, err = ex.Exchange(context.Background(), req)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = ex.Exchange(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestExchanger_Failure(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, &hits, http.StatusBadRequest, `{"error":"invalid_grant"}`)

	ex, err := NewExchanger(ExchangerConfig{TokenURL: srv.URL})
	require.NoError(t, err)

	_, err = ex.Exchange(context.Background(), core.TokenExchangeRequest{
		ClientID: "client", ClientSecret: "secret", RefreshToken: "stored-refresh",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestExchanger_RequiresInputs(t *testing.T) {
	_, err := NewExchanger(ExchangerConfig{})
	require.Error(t, err)

	ex, err := NewExchanger(ExchangerConfig{TokenURL: "http://127.0.0.1:1/token"})
	require.NoError(t, err)
	_, err = ex.Exchange(context.Background(), core.TokenExchangeRequest{ClientID: "c"})
	require.Error(t, err)
	_, err = ex.Exchange(context.Background(), core.TokenExchangeRequest{ClientID: "c", ClientSecret: "s"})
	require.Error(t, err)
}
