package drive

import (
	"context"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/imroc/req/v3"
)

const (
	// tokenExpirySkew refreshes the cached token this long before its
	// declared expiry so a long chunked upload never rides a dying token.
	tokenExpirySkew = 60 * time.Second

	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionTTL   = time.Hour
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// tokenSource exchanges a signed service-account assertion for an access
// token and caches it until shortly before expiry.
type tokenSource struct {
	cfg    *Config
	client *req.Client
	key    *rsa.PrivateKey

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenSource(cfg *Config, client *req.Client) (*tokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("drive: parse private key: %w", err)
	}

	return &tokenSource{
		cfg:    cfg,
		client: client,
		key:    key,
	}, nil
}

// Token returns the cached access token, refreshing it when expired or about
// to expire.
func (t *tokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.expiresAt) {
		return t.token, nil
	}

	return t.refreshLocked(ctx)
}

// Refresh discards the cached token and fetches a new one.
func (t *tokenSource) Refresh(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.token = ""
	return t.refreshLocked(ctx)
}

func (t *tokenSource) refreshLocked(ctx context.Context) (string, error) {
	assertion, err := t.signAssertion(time.Now())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}

	var tok tokenResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type": jwtBearerGrant,
			"assertion":  assertion,
		}).
		SetSuccessResult(&tok).
		Post(t.cfg.TokenURL)

	if err := handleAPIError(resp, err, "oauth token"); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}

	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token", ErrTokenExchange)
	}

	t.token = tok.AccessToken
	t.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenExpirySkew)
	return t.token, nil
}

func (t *tokenSource) signAssertion(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":   t.cfg.ClientEmail,
		"scope": t.cfg.Scope,
		"aud":   t.cfg.TokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionTTL).Unix(),
	}

	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(t.key)
}
