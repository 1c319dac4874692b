package zoom

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(&Config{
		AccountID:    "acc-1",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		APIURL:       srv.URL,
		AuthURL:      srv.URL + "/oauth/token",
	})
	require.NoError(t, err)
	return client, srv
}

func TestTokenSource_CachesToken(t *testing.T) {
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "client-1", user)
		require.Equal(t, "secret-1", pass)
		require.Equal(t, "account_credentials", r.URL.Query().Get("grant_type"))
		require.Equal(t, "acc-1", r.URL.Query().Get("account_id"))

		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-1","token_type":"bearer","expires_in":3600}`))
	})

	client, _ := newTestClient(t, mux)
	ctx := context.Background()

	tok, err := client.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	tok2, err := client.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok2)
	assert.Equal(t, int32(1), calls.Load(), "second call must hit the cache")
}

func TestTokenSource_RefreshForcesExchange(t *testing.T) {
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			w.Write([]byte(`{"access_token":"tok-1","expires_in":3600}`))
		} else {
			w.Write([]byte(`{"access_token":"tok-2","expires_in":3600}`))
		}
	})

	client, _ := newTestClient(t, mux)
	ctx := context.Background()

	tok, err := client.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	tok, err = client.RefreshAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTokenSource_ExchangeError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":4111,"message":"invalid client"}`))
	})

	client, _ := newTestClient(t, mux)

	_, err := client.AccessToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenExchange)
}
