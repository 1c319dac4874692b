// Package webhook admits provider event notifications: signature checks,
// the URL-validation handshake, and dispatch into the pipeline.
package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aulacast/aulacast/internal/ingest"
	"github.com/aulacast/aulacast/internal/utils"
	"github.com/aulacast/aulacast/internal/zoom"
)

// Header names the provider stamps on every notification.
const (
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// Logical statuses carried in reply bodies. The HTTP status is always 200
// so the provider never disables the subscription.
const (
	statusIgnored          = "ignored"
	statusInvalidSignature = "invalid-signature"
)

// Pipeline is the slice of the ingest service the handler dispatches into.
type Pipeline interface {
	ProcessCompletedRecording(ctx context.Context, obj *zoom.MeetingRecordings, downloadToken string) *ingest.PipelineResult
}

type WebhookHandler struct {
	cfg      *zoom.Config
	pipeline Pipeline
}

func New(cfg *zoom.Config, pipeline Pipeline) *WebhookHandler {
	return &WebhookHandler{
		cfg:      cfg,
		pipeline: pipeline,
	}
}

// Handle processes one notification. The body is read raw before any
// decoding; the signature covers the exact bytes on the wire.
func (h *WebhookHandler) Handle(ctx *gin.Context) {
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.Error(err)
		ctx.PureJSON(http.StatusOK, gin.H{"status": statusIgnored})
		return
	}

	if h.cfg.WebhookSecret == "" {
		slog.Warn("webhook: no secret configured, event ignored")
		ctx.PureJSON(http.StatusOK, gin.H{"status": statusIgnored})
		return
	}

	var event zoom.WebhookEvent
	if err := utils.JSONUnmarshal(body, &event); err != nil {
		slog.Warn("webhook: undecodable body", "error", err)
		ctx.PureJSON(http.StatusOK, gin.H{"status": statusIgnored})
		return
	}

	// The handshake is answered before any signature check; the provider
	// sends it while configuring the subscription.
	if event.Event == zoom.EventURLValidation {
		h.handleValidation(ctx, &event)
		return
	}

	slog.Info("webhook: event received", "event", event.Event, "skipVerify", h.cfg.WebhookSkipVerify)

	if !h.cfg.WebhookSkipVerify {
		timestamp := ctx.GetHeader(HeaderTimestamp)
		signature := ctx.GetHeader(HeaderSignature)
		if !zoom.TimestampFresh(timestamp, time.Now()) {
			slog.Warn("webhook: stale or unparseable timestamp", "event", event.Event, "timestamp", timestamp, "ip", ctx.ClientIP())
			ctx.PureJSON(http.StatusOK, gin.H{"status": statusInvalidSignature})
			return
		}
		if !zoom.VerifySignature(h.cfg.WebhookSecret, timestamp, signature, body) {
			slog.Warn("webhook: invalid signature", "event", event.Event, "ip", ctx.ClientIP())
			ctx.PureJSON(http.StatusOK, gin.H{"status": statusInvalidSignature})
			return
		}
	}

	switch event.Event {
	case zoom.EventRecordingCompleted:
		result := h.pipeline.ProcessCompletedRecording(ctx.Request.Context(), event.Payload.Object, event.DownloadToken)
		ctx.PureJSON(http.StatusOK, result)

	default:
		slog.Debug("webhook: unrecognized event", "event", event.Event)
		ctx.PureJSON(http.StatusOK, gin.H{"status": statusIgnored})
	}
}

func (h *WebhookHandler) handleValidation(ctx *gin.Context, event *zoom.WebhookEvent) {
	if event.Payload.PlainToken == "" {
		ctx.PureJSON(http.StatusOK, gin.H{"status": statusIgnored})
		return
	}
	slog.Info("webhook: url validation handshake")
	ctx.PureJSON(http.StatusOK, zoom.ValidationResponse(h.cfg.WebhookSecret, event.Payload.PlainToken))
}
