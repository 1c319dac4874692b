package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aulacast/aulacast/internal/backoff"
	"github.com/aulacast/aulacast/internal/ingest"
	"github.com/aulacast/aulacast/internal/server"
	"github.com/aulacast/aulacast/internal/utils"
	"github.com/aulacast/aulacast/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "aulacast",
	Short:   "AulaCast recording ingestion service",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		config, err := loadConfig()
		if err != nil {
			return err
		}

		if err := setupLogging(viper.GetString("LOG_FILE")); err != nil {
			return err
		}

		slog.Info("aulacast", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)

		downloadsDir, err := utils.ResolvePath(config.Ingest.DownloadsDir)
		if err != nil {
			return fmt.Errorf("resolve downloads dir: %w", err)
		}
		config.Ingest.DownloadsDir = downloadsDir
		if err := utils.EnsureDir(downloadsDir); err != nil {
			return fmt.Errorf("ensure downloads dir: %w", err)
		}

		// One daemon per downloads dir; two would race each other's
		// partial files.
		lock := flock.New(filepath.Join(config.Ingest.DownloadsDir, ".aulacast.lock"))
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("downloads dir lock: %w", err)
		}
		if !locked {
			return fmt.Errorf("another instance holds %s", lock.Path())
		}
		defer lock.Unlock()

		ingest.SweepDownloads(config.Ingest.DownloadsDir, ingest.DefaultSweepAge)

		srv, err := server.New(config)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		if err := srv.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("server start", "error", err)
			return err
		}
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig builds the daemon config from the environment. A .env file in
// the working directory is honored first, never overriding real env vars.
func loadConfig() (*server.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	viper.AutomaticEnv()

	viper.SetDefault("HTTP_ADDR", server.DefaultAddr)
	viper.SetDefault("DB_PATH", server.DefaultDBPath)
	viper.SetDefault("DOWNLOADS_DIR", "downloads")
	viper.SetDefault("MAX_RETRIES_DOWNLOAD", backoff.DefaultAttempts)
	viper.SetDefault("MAX_RETRIES_UPLOAD", backoff.DefaultAttempts)
	viper.SetDefault("INITIAL_BACKOFF_MS", int64(backoff.DefaultBase/time.Millisecond))
	viper.SetDefault("MAX_BACKOFF_MS", int64(backoff.DefaultMax/time.Millisecond))
	viper.SetDefault("CHUNK_SIZE_MB", 32)
	viper.SetDefault("MIN_EXPECTED_SIZE_MB", 1)
	viper.SetDefault("PREPUBLISH_DELAY_MS", int64(ingest.DefaultPrepublishDelay/time.Millisecond))
	viper.SetDefault("COURSES_CACHE_MS", int64(ingest.DefaultCoursesCacheTTL/time.Millisecond))
	viper.SetDefault("WAKEUP_HOUR", ingest.DefaultWakeupHour)

	config := &server.Config{
		HTTPAddr:   viper.GetString("HTTP_ADDR"),
		CertFile:   viper.GetString("TLS_CERT_FILE"),
		KeyFile:    viper.GetString("TLS_KEY_FILE"),
		AdminToken: viper.GetString("ADMIN_TOKEN"),
		DBPath:     viper.GetString("DB_PATH"),
	}

	config.Zoom.AccountID = viper.GetString("ZOOM_ACCOUNT_ID")
	config.Zoom.ClientID = viper.GetString("ZOOM_CLIENT_ID")
	config.Zoom.ClientSecret = viper.GetString("ZOOM_CLIENT_SECRET")
	config.Zoom.WebhookSecret = viper.GetString("WEBHOOK_SECRET")
	config.Zoom.WebhookSkipVerify = viper.GetBool("WEBHOOK_DISABLE_SIGNATURE")

	config.Moodle.BaseURL = viper.GetString("MOODLE_BASE_URL")
	config.Moodle.Token = viper.GetString("MOODLE_TOKEN")

	config.Drive.ClientEmail = viper.GetString("DRIVE_CLIENT_EMAIL")
	config.Drive.PrivateKey = viper.GetString("DRIVE_PRIVATE_KEY")
	config.Drive.RootFolderID = viper.GetString("DRIVE_ROOT_FOLDER_ID")

	config.Alerts.SendgridAPIKey = viper.GetString("SENDGRID_API_KEY")
	config.Alerts.FromEmail = viper.GetString("ALERT_EMAIL_FROM")
	config.Alerts.ToEmail = viper.GetString("ALERT_EMAIL_TO")

	config.Ingest = ingest.Config{
		DownloadsDir:    viper.GetString("DOWNLOADS_DIR"),
		DefaultCourseID: viper.GetInt64("DEFAULT_COURSE_ID"),
		CoursesCacheTTL: time.Duration(viper.GetInt64("COURSES_CACHE_MS")) * time.Millisecond,
		MinArtifactSize: viper.GetInt64("MIN_EXPECTED_SIZE_MB") * 1024 * 1024,
		ChunkSize:       viper.GetInt64("CHUNK_SIZE_MB") * 1024 * 1024,
		DownloadTimeout: time.Duration(viper.GetInt64("DOWNLOAD_TIMEOUT_MS")) * time.Millisecond,
		UploadTimeout:   time.Duration(viper.GetInt64("UPLOAD_TIMEOUT_MS")) * time.Millisecond,
		PrepublishDelay: time.Duration(viper.GetInt64("PREPUBLISH_DELAY_MS")) * time.Millisecond,
		UploadSlots:     viper.GetInt("UPLOAD_SLOTS"),
		WakeupHour:      viper.GetInt("WAKEUP_HOUR"),
		DownloadPolicy: backoff.Policy{
			Base:     time.Duration(viper.GetInt64("INITIAL_BACKOFF_MS")) * time.Millisecond,
			Max:      time.Duration(viper.GetInt64("MAX_BACKOFF_MS")) * time.Millisecond,
			Attempts: viper.GetInt("MAX_RETRIES_DOWNLOAD"),
		},
		UploadPolicy: backoff.Policy{
			Base:     time.Duration(viper.GetInt64("INITIAL_BACKOFF_MS")) * time.Millisecond,
			Max:      time.Duration(viper.GetInt64("MAX_BACKOFF_MS")) * time.Millisecond,
			Attempts: viper.GetInt("MAX_RETRIES_UPLOAD"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// setupLogging installs a tinted stdout handler plus, when LOG_FILE is set,
// a text handler appending to that file.
func setupLogging(logFile string) error {
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	if logFile == "" {
		slog.SetDefault(slog.New(stdoutHandler))
		return nil
	}

	if err := utils.EnsureParent(logFile); err != nil {
		return fmt.Errorf("ensure log dir: %w", err)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(utils.NewLogFanout(stdoutHandler, fileHandler)))
	return nil
}
