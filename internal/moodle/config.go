package moodle

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/aulacast/aulacast/internal/utils"
)

const defaultServicePath = "/webservice/rest/server.php"

// Config points at a Moodle site's REST web service.
type Config struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`

	// ServicePath overrides the REST endpoint path, for proxied sites.
	ServicePath string `mapstructure:"service_path"`
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("moodle: base_url is required")
	}
	if c.Token == "" {
		return fmt.Errorf("moodle: token is required")
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.ServicePath == "" {
		c.ServicePath = defaultServicePath
	}
	return nil
}

func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("base_url", c.BaseURL),
		slog.String("token", utils.MaskSecret(c.Token)),
	)
}
