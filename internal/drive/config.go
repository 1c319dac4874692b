package drive

import (
	"fmt"
	"log/slog"

	"github.com/aulacast/aulacast/internal/utils"
)

const (
	DefaultAPIURL    = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3"
	DefaultTokenURL  = "https://oauth2.googleapis.com/token"
	DefaultViewerURL = "https://drive.google.com"
	DefaultScope     = "https://www.googleapis.com/auth/drive"
)

// Config holds the service-account credentials and the archive root.
type Config struct {
	// ClientEmail and PrivateKey come from the service-account key file.
	// PrivateKey is the PEM block, newlines included.
	ClientEmail string `mapstructure:"client_email"`
	PrivateKey  string `mapstructure:"private_key"`

	// RootFolderID is the folder every course archive hangs off.
	RootFolderID string `mapstructure:"root_folder_id"`

	// Scope requested in the token grant.
	Scope string `mapstructure:"scope"`

	// Endpoint overrides, used by tests.
	APIURL    string `mapstructure:"api_url"`
	UploadURL string `mapstructure:"upload_url"`
	TokenURL  string `mapstructure:"token_url"`
	ViewerURL string `mapstructure:"viewer_url"`
}

func (c *Config) Validate() error {
	if c.ClientEmail == "" {
		return fmt.Errorf("drive: client_email is required")
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("drive: private_key is required")
	}
	if c.RootFolderID == "" {
		return fmt.Errorf("drive: root_folder_id is required")
	}
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.UploadURL == "" {
		c.UploadURL = DefaultUploadURL
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.ViewerURL == "" {
		c.ViewerURL = DefaultViewerURL
	}
	return nil
}

func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("client_email", c.ClientEmail),
		slog.String("private_key", utils.MaskSecret(c.PrivateKey)),
		slog.String("root_folder_id", c.RootFolderID),
		slog.String("api_url", c.APIURL),
	)
}
