// Package admin exposes the operator endpoints: manual retry, historical
// backfill and the pending-recordings listing.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aulacast/aulacast/internal/ingest"
	"github.com/aulacast/aulacast/internal/store"
)

const defaultPendingLimit = 50

// Ingest is the slice of the pipeline service the admin surface drives.
type Ingest interface {
	ManualRetry(ctx context.Context, req *ingest.RetryRequest) ([]*ingest.RetryResult, error)
	SyncRecordings(ctx context.Context, req *ingest.SyncRequest) (*ingest.SyncSummary, error)
	ListPending(onlyWithoutArtifact bool, limit int) ([]*store.PendingMeeting, error)
}

type AdminHandler struct {
	ingest Ingest
}

func New(ingest Ingest) *AdminHandler {
	return &AdminHandler{ingest: ingest}
}

// Retry runs a manual retry batch and returns per-target results.
func (h *AdminHandler) Retry(ctx *gin.Context) {
	var req ingest.RetryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(fmt.Errorf("bind retry request: %w", err))
		ctx.PureJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := h.ingest.ManualRetry(ctx.Request.Context(), &req)
	if err != nil {
		ctx.Error(fmt.Errorf("manual retry: %w", err))
		if errors.Is(err, ingest.ErrBadSelector) {
			ctx.PureJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		} else {
			ctx.PureJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	ctx.PureJSON(http.StatusOK, results)
}

// Sync runs a historical backfill over the provider listing.
func (h *AdminHandler) Sync(ctx *gin.Context) {
	var req ingest.SyncRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(fmt.Errorf("bind sync request: %w", err))
		ctx.PureJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.ingest.SyncRecordings(ctx.Request.Context(), &req)
	if err != nil {
		ctx.Error(fmt.Errorf("sync recordings: %w", err))
		ctx.PureJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx.PureJSON(http.StatusOK, summary)
}

// pendingItem is the listing row returned by Pending.
type pendingItem struct {
	MeetingID         string `json:"meetingId"`
	ExternalMeetingID string `json:"externalMeetingId"`
	Topic             string `json:"topic"`
	Status            string `json:"status"`
	StartTime         string `json:"startTime,omitempty"`
	DriveURL          string `json:"driveUrl,omitempty"`
}

// Pending lists retry candidates: meetings that never completed.
func (h *AdminHandler) Pending(ctx *gin.Context) {
	onlyWithoutArtifact := ctx.Query("onlyWithoutArtifact") == "true"

	limit := defaultPendingLimit
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			ctx.PureJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	pending, err := h.ingest.ListPending(onlyWithoutArtifact, limit)
	if err != nil {
		ctx.Error(fmt.Errorf("list pending: %w", err))
		ctx.PureJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	items := make([]*pendingItem, 0, len(pending))
	for _, p := range pending {
		item := &pendingItem{
			MeetingID:         p.ID,
			ExternalMeetingID: p.ExternalID,
			Topic:             p.Topic,
			Status:            p.Status,
			DriveURL:          p.DriveURL,
		}
		if p.StartTime != nil {
			item.StartTime = p.StartTime.Format("2006-01-02T15:04:05Z07:00")
		}
		items = append(items, item)
	}

	ctx.PureJSON(http.StatusOK, items)
}
