// Package server wires the HTTP surface: webhook admission, the admin
// endpoints, and the background jobs around the ingest service.
package server

import (
	"fmt"
	"log/slog"

	"github.com/aulacast/aulacast/internal/drive"
	"github.com/aulacast/aulacast/internal/ingest"
	"github.com/aulacast/aulacast/internal/moodle"
	"github.com/aulacast/aulacast/internal/utils"
	"github.com/aulacast/aulacast/internal/zoom"
)

const (
	DefaultAddr           = ":8080"
	DefaultDBPath         = "data/aulacast.db"
	DefaultAdminRateLimit = "60-M"
)

// Config is the full daemon configuration.
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`

	// AdminToken protects /admin/*. Empty disables auth (local use only).
	AdminToken string `mapstructure:"admin_token"`

	// AdminRateLimit is a ulule/limiter formatted rate, e.g. "60-M".
	AdminRateLimit string `mapstructure:"admin_rate_limit"`

	DBPath string `mapstructure:"db_path"`

	Zoom   zoom.Config        `mapstructure:"zoom"`
	Moodle moodle.Config      `mapstructure:"moodle"`
	Drive  drive.Config       `mapstructure:"drive"`
	Ingest ingest.Config      `mapstructure:"ingest"`
	Alerts ingest.AlertConfig `mapstructure:"alerts"`
}

func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultAddr
	}
	if c.AdminRateLimit == "" {
		c.AdminRateLimit = DefaultAdminRateLimit
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if err := c.Zoom.Validate(); err != nil {
		return err
	}
	if err := c.Moodle.Validate(); err != nil {
		return err
	}
	if err := c.Drive.Validate(); err != nil {
		return err
	}
	if err := c.Alerts.Validate(); err != nil {
		return err
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("server: cert_file and key_file must be set together")
	}
	return nil
}

func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("http_addr", c.HTTPAddr),
		slog.String("db_path", c.DBPath),
		slog.String("admin_token", utils.MaskSecret(c.AdminToken)),
		slog.String("downloads_dir", c.Ingest.DownloadsDir),
		slog.Any("zoom", &c.Zoom),
		slog.Any("moodle", &c.Moodle),
		slog.Any("drive", &c.Drive),
		slog.Any("alerts", &c.Alerts),
	)
}
