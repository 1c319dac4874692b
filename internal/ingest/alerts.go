package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/aulacast/aulacast/internal/utils"
	"github.com/aulacast/aulacast/internal/version"
)

// AlertConfig points permanent-failure mail at an operator. With no API key
// the alerter is a no-op.
type AlertConfig struct {
	SendgridAPIKey string `mapstructure:"sendgrid_api_key"`
	FromEmail      string `mapstructure:"from_email"`
	ToEmail        string `mapstructure:"to_email"`
}

func (c *AlertConfig) Validate() error {
	if c.SendgridAPIKey == "" {
		return nil
	}
	if err := utils.ValidateEmail(c.FromEmail); err != nil {
		return fmt.Errorf("alerts: from_email %q: %w", c.FromEmail, err)
	}
	if err := utils.ValidateEmail(c.ToEmail); err != nil {
		return fmt.Errorf("alerts: to_email %q: %w", c.ToEmail, err)
	}
	return nil
}

func (c *AlertConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("enabled", c.SendgridAPIKey != ""),
		slog.String("sendgrid_api_key", utils.MaskSecret(c.SendgridAPIKey)),
		slog.String("to_email", c.ToEmail),
	)
}

// Alerter mails the operator when a pipeline gives up on a recording.
type Alerter struct {
	cfg *AlertConfig
}

func NewAlerter(cfg *AlertConfig) *Alerter {
	if cfg == nil {
		cfg = &AlertConfig{}
	}
	return &Alerter{cfg: cfg}
}

// PipelineFailed fires an alert for a recording the pipeline abandoned
// after exhausting its retries. Failures to send are logged, never raised.
func (a *Alerter) PipelineFailed(topic, externalMeetingID, recordingID string, cause error) {
	if a == nil || a.cfg.SendgridAPIKey == "" {
		return
	}

	subject := fmt.Sprintf("[%s] recording pipeline failed: %s", version.AppName, topic)
	body := fmt.Sprintf(
		"<p>The recording pipeline gave up on a recording.</p>"+
			"<ul><li>Topic: %s</li><li>Meeting: %s</li><li>Recording: %s</li><li>Time: %s</li></ul>"+
			"<p>Cause:</p><pre>%v</pre>",
		topic, externalMeetingID, recordingID, time.Now().Format(time.RFC3339), cause,
	)

	from := mail.NewEmail(version.AppName, a.cfg.FromEmail)
	to := mail.NewEmail(a.cfg.ToEmail, a.cfg.ToEmail)
	message := mail.NewSingleEmail(from, subject, to, "", body)

	client := sendgrid.NewSendClient(a.cfg.SendgridAPIKey)
	resp, err := client.SendWithContext(context.Background(), message)
	if err != nil {
		slog.Error("alerts: send failed", "recording", recordingID, "error", err)
		return
	}

	slog.Info("alerts: failure mail sent", "recording", recordingID, "status", resp.StatusCode)
}
