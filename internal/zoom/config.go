package zoom

import (
	"fmt"
	"log/slog"

	"github.com/aulacast/aulacast/internal/utils"
)

const (
	DefaultAPIURL  = "https://api.zoom.us/v2"
	DefaultAuthURL = "https://zoom.us/oauth/token"
)

// Config holds the server-to-server OAuth app credentials and webhook settings.
type Config struct {
	AccountID    string `mapstructure:"account_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`

	// WebhookSecret signs inbound event notifications. When empty all
	// webhook events are ignored.
	WebhookSecret string `mapstructure:"webhook_secret"`

	// WebhookSkipVerify disables signature verification. Testing only.
	WebhookSkipVerify bool `mapstructure:"webhook_skip_verify"`

	// APIURL and AuthURL are overridable for tests.
	APIURL  string `mapstructure:"api_url"`
	AuthURL string `mapstructure:"auth_url"`
}

func (c *Config) Validate() error {
	if c.AccountID == "" {
		return fmt.Errorf("zoom: account_id is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("zoom: client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("zoom: client_secret is required")
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.AuthURL == "" {
		c.AuthURL = DefaultAuthURL
	}
	return nil
}

func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("account_id", utils.MaskSecret(c.AccountID)),
		slog.String("client_id", utils.MaskSecret(c.ClientID)),
		slog.String("client_secret", utils.MaskSecret(c.ClientSecret)),
		slog.String("webhook_secret", utils.MaskSecret(c.WebhookSecret)),
		slog.Bool("webhook_skip_verify", c.WebhookSkipVerify),
		slog.String("api_url", c.APIURL),
	)
}
