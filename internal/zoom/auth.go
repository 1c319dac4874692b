package zoom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/imroc/req/v3"
)

// tokenExpirySkew refreshes the cached token this long before its declared
// expiry so the pipeline never races a dying token on a long transfer.
const tokenExpirySkew = 60 * time.Second

// tokenSource lazily exchanges the account credentials for an access token
// and caches it until shortly before expiry.
type tokenSource struct {
	cfg    *Config
	client *req.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenSource(cfg *Config, client *req.Client) *tokenSource {
	return &tokenSource{
		cfg:    cfg,
		client: client,
	}
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

// Refresh discards the cached token and fetches a new one. Used after the
// provider rejects a request with 401/403.
func (t *tokenSource) Refresh(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.token = ""
	return t.refreshLocked(ctx)
}

func (t *tokenSource) refreshLocked(ctx context.Context) (string, error) {
	var tok tokenResponse

	resp, err := t.client.R().
		SetContext(ctx).
		SetBasicAuth(t.cfg.ClientID, t.cfg.ClientSecret).
		SetQueryParam("grant_type", "account_credentials").
		SetQueryParam("account_id", t.cfg.AccountID).
		SetSuccessResult(&tok).
		Post(t.cfg.AuthURL)

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
