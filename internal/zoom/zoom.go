// Package zoom is the client for the conferencing provider: server-to-server
// OAuth, recordings lookup/listing, and webhook signature primitives.
package zoom

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/aulacast/aulacast/internal/utils"
	"github.com/aulacast/aulacast/internal/version"
	"github.com/imroc/req/v3"
)

var userAgent = fmt.Sprintf("%s/%s (%s; %s)", version.AppName, version.Version, runtime.GOOS, runtime.GOARCH)

// Client talks to the provider's REST API.
type Client struct {
	cfg    *Config
	http   *req.Client
	tokens *tokenSource
}

func New(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := req.C().
		SetBaseURL(cfg.APIURL).
		SetTimeout(30 * time.Second).
		SetUserAgent(userAgent).
		SetJsonMarshal(utils.JSONMarshal).
		SetJsonUnmarshal(utils.JSONUnmarshal).
		SetCommonErrorResult(&APIError{})

	// The token endpoint lives on a different host, so it gets its own bare client.
	authClient := req.C().
		SetTimeout(30 * time.Second).
		SetUserAgent(userAgent).
		SetJsonMarshal(utils.JSONMarshal).
		SetJsonUnmarshal(utils.JSONUnmarshal).
		SetCommonErrorResult(&APIError{})

	return &Client{
		cfg:    cfg,
		http:   client,
		tokens: newTokenSource(cfg, authClient),
	}, nil
}

// AccessToken returns a valid bearer token for API and download requests.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	return c.tokens.Token(ctx)
}

// RefreshAccessToken forces a new token after an auth rejection.
func (c *Client) RefreshAccessToken(ctx context.Context) (string, error) {
	return c.tokens.Refresh(ctx)
}
