package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aulacast/aulacast/internal/store"
	"github.com/aulacast/aulacast/internal/zoom"
)

// DefaultSyncMaxPages bounds how much of the provider's listing one sync
// request walks.
const DefaultSyncMaxPages = 10

// SyncRequest asks for a historical backfill over the provider's cloud
// recordings in a date window.
type SyncRequest struct {
	From string `json:"from"` // YYYY-MM-DD
	To   string `json:"to"`   // YYYY-MM-DD

	DryRun bool `json:"dryRun,omitempty"`

	// MaxPages caps listing pagination. Zero selects the default.
	MaxPages int `json:"maxPages,omitempty"`

	// OnlyMissingMeetings skips meetings that already have a local row.
	OnlyMissingMeetings bool `json:"onlyMissingMeetings,omitempty"`
}

func (r *SyncRequest) Validate() error {
	for _, bound := range []string{r.From, r.To} {
		if _, err := time.Parse("2006-01-02", bound); err != nil {
			return fmt.Errorf("ingest: sync window bound %q must be YYYY-MM-DD", bound)
		}
	}
	if r.MaxPages <= 0 {
		r.MaxPages = DefaultSyncMaxPages
	}
	return nil
}

// SyncItem is the outcome for one listed meeting.
type SyncItem struct {
	ExternalMeetingID string `json:"externalMeetingId"`
	Topic             string `json:"topic"`
	Status            string `json:"status"`
	Reason            string `json:"reason,omitempty"`
	DriveURL          string `json:"driveUrl,omitempty"`
}

// SyncSummary aggregates one backfill run.
type SyncSummary struct {
	TotalFound     int         `json:"totalFound"`
	NewCreated     int         `json:"newCreated"`
	ExistingFound  int         `json:"existingFound"`
	FilesProcessed int         `json:"filesProcessed"`
	Errors         []string    `json:"errors"`
	PerItem        []*SyncItem `json:"perItem"`
}

// SyncRecordings walks the provider's recordings listing for the window and
// pushes every meeting through the normal pipeline. Dry runs only read.
func (s *Service) SyncRecordings(ctx context.Context, req *SyncRequest) (*SyncSummary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	summary := &SyncSummary{
		Errors:  []string{},
		PerItem: []*SyncItem{},
	}

	slog.Info("sync: backfill start", "from", req.From, "to", req.To, "dryRun", req.DryRun)

	pageToken := ""
	for page := 0; page < req.MaxPages; page++ {
		listing, err := s.provider.ListRecordings(ctx, &zoom.ListRecordingsParams{
			From:          req.From,
			To:            req.To,
			NextPageToken: pageToken,
		})
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("list page %d: %v", page, err))
			break
		}

		for i := range listing.Meetings {
			meeting := &listing.Meetings[i]
			summary.TotalFound++
			s.syncOne(ctx, meeting, req, summary)
		}

		pageToken = listing.NextPageToken
		if pageToken == "" {
			break
		}
	}

	slog.Info("sync: backfill done", "found", summary.TotalFound, "created", summary.NewCreated,
		"existing", summary.ExistingFound, "processed", summary.FilesProcessed, "errors", len(summary.Errors))
	return summary, nil
}

func (s *Service) syncOne(ctx context.Context, obj *zoom.MeetingRecordings, req *SyncRequest, summary *SyncSummary) {
	extID := strconv.FormatInt(obj.ID, 10)
	item := &SyncItem{ExternalMeetingID: extID, Topic: obj.Topic}
	summary.PerItem = append(summary.PerItem, item)

	existing, err := s.store.Meetings.GetByExternalID(extID)
	if err != nil {
		item.Status = StatusFailed
		item.Reason = err.Error()
		summary.Errors = append(summary.Errors, fmt.Sprintf("meeting %s: %v", extID, err))
		return
	}

	if existing != nil {
		summary.ExistingFound++
		if req.OnlyMissingMeetings {
			item.Status = StatusSkipped
			item.Reason = "meeting-exists"
			return
		}
		if existing.Status == store.MeetingCompleted {
			item.Status = StatusSkipped
			item.Reason = SkipAlreadyCompleted
			return
		}
	}

	if req.DryRun {
		item.Status = StatusSkipped
		item.Reason = SkipDryRun
		return
	}

	outcome := s.ProcessCompletedRecording(ctx, obj, "")
	item.DriveURL = outcome.DriveURL

	switch outcome.Status {
	case PipelineDone:
		item.Status = StatusOK
		summary.FilesProcessed++
		if existing == nil {
			summary.NewCreated++
		}
	case PipelineInFlight:
		item.Status = StatusSkipped
		item.Reason = SkipInProgress
	case PipelineIgnored:
		item.Status = StatusSkipped
		item.Reason = outcome.Reason
	default:
		item.Status = StatusFailed
		item.Reason = outcome.Reason
		summary.Errors = append(summary.Errors, fmt.Sprintf("meeting %s: %s", extID, outcome.Reason))
	}
}

// ListPending surfaces retry candidates: meetings that never completed,
// optionally filtered to those without any stored artifact.
func (s *Service) ListPending(onlyWithoutArtifact bool, limit int) ([]*store.PendingMeeting, error) {
	return s.store.Meetings.ListPending(onlyWithoutArtifact, limit)
}
