package drive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSource_SignsAssertion(t *testing.T) {
	keyPEM, key := testKeyPEM(t)

	var tokenURL string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.PostForm.Get("grant_type"))

		parsed, err := jwt.Parse(r.PostForm.Get("assertion"), func(tok *jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}))
		require.NoError(t, err)

		claims := parsed.Claims.(jwt.MapClaims)
		assert.Equal(t, "svc@archive.test", claims["iss"])
		assert.Equal(t, DefaultScope, claims["scope"])
		assert.Equal(t, tokenURL, claims["aud"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"signed-token","token_type":"Bearer","expires_in":3600}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	tokenURL = srv.URL + "/token"

	client, err := New(&Config{
		ClientEmail:  "svc@archive.test",
		PrivateKey:   keyPEM,
		RootFolderID: "root",
		APIURL:       srv.URL,
		UploadURL:    srv.URL + "/upload",
		TokenURL:     tokenURL,
	})
	require.NoError(t, err)

	token, err := client.tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "signed-token", token)
}

func TestTokenSource_CachesUntilExpiry(t *testing.T) {
	keyPEM, _ := testKeyPEM(t)

	var exchanges atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := New(&Config{
		ClientEmail:  "svc@archive.test",
		PrivateKey:   keyPEM,
		RootFolderID: "root",
		APIURL:       srv.URL,
		TokenURL:     srv.URL + "/token",
	})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := client.tokens.Token(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), exchanges.Load())

	_, err = client.tokens.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), exchanges.Load())
}

func TestTokenSource_ExchangeFails(t *testing.T) {
	keyPEM, _ := testKeyPEM(t)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"invalid_grant"}}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := New(&Config{
		ClientEmail:  "svc@archive.test",
		PrivateKey:   keyPEM,
		RootFolderID: "root",
		APIURL:       srv.URL,
		TokenURL:     srv.URL + "/token",
	})
	require.NoError(t, err)

	_, err = client.tokens.Token(context.Background())
	require.ErrorIs(t, err, ErrTokenExchange)
}

func TestNew_RejectsBadKey(t *testing.T) {
	_, err := New(&Config{
		ClientEmail:  "svc@archive.test",
		PrivateKey:   "not a pem block",
		RootFolderID: "root",
	})
	require.Error(t, err)
}
