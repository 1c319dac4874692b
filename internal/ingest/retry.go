package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aulacast/aulacast/internal/drive"
	"github.com/aulacast/aulacast/internal/store"
)

// DefaultRetryLimit bounds how many targets one retry request may touch.
const DefaultRetryLimit = 5

// Retry modes.
const (
	ModeFull      = "full"
	ModeRepublish = "republish"
)

var ErrBadSelector = errors.New("ingest: exactly one selector required")

// RetryRequest selects recordings or meetings for manual reprocessing.
// Exactly one of ExternalRecordingID, InternalMeetingID, ExternalMeetingID
// or the From/To window must be set.
type RetryRequest struct {
	ExternalRecordingID string `json:"externalRecordingId,omitempty"`
	InternalMeetingID   string `json:"internalMeetingId,omitempty"`
	ExternalMeetingID   string `json:"externalMeetingId,omitempty"`
	From                string `json:"from,omitempty"`
	To                  string `json:"to,omitempty"`

	Republish       bool `json:"republish,omitempty"`
	ForceRedownload bool `json:"forceRedownload,omitempty"`

	// ForceRepost is accepted for callers that send it but carries no
	// behavior beyond Republish.
	ForceRepost bool `json:"forceRepost,omitempty"`

	OverrideCourseID int64 `json:"overrideCourseId,omitempty"`
	DryRun           bool  `json:"dryRun,omitempty"`
	Limit            int   `json:"limit,omitempty"`
}

// Validate checks the selector shape and applies the limit default.
func (r *RetryRequest) Validate() error {
	selectors := 0
	if r.ExternalRecordingID != "" {
		selectors++
	}
	if r.InternalMeetingID != "" {
		selectors++
	}
	if r.ExternalMeetingID != "" {
		selectors++
	}
	if r.From != "" || r.To != "" {
		if r.From == "" || r.To == "" {
			return fmt.Errorf("%w: window selector needs both from and to", ErrBadSelector)
		}
		selectors++
	}
	if selectors != 1 {
		return fmt.Errorf("%w: got %d", ErrBadSelector, selectors)
	}
	if r.Limit <= 0 {
		r.Limit = DefaultRetryLimit
	}
	return nil
}

// RetryIntegrity reports what the archive says about a republished artifact.
type RetryIntegrity struct {
	RemoteMD5  string `json:"remoteMd5,omitempty"`
	RemoteSize int64  `json:"remoteSize,omitempty"`
}

// RetryResult is the outcome for one target. Failures never abort the batch.
type RetryResult struct {
	Selector          string          `json:"selector"`
	Mode              string          `json:"mode"`
	Status            string          `json:"status"`
	Reason            string          `json:"reason,omitempty"`
	MeetingID         string          `json:"meetingId,omitempty"`
	ExternalMeetingID string          `json:"externalMeetingId,omitempty"`
	RecordingID       string          `json:"recordingId,omitempty"`
	DriveURL          string          `json:"driveUrl,omitempty"`
	Integrity         *RetryIntegrity `json:"integrity,omitempty"`
}

// retryTarget is one resolved unit of work.
type retryTarget struct {
	recording         *store.Recording
	meeting           *store.Meeting
	topic             string
	externalMeetingID string
}

// key identifies the target for the in-progress guard.
func (t *retryTarget) key() string {
	if t.recording != nil {
		return "rec:" + t.recording.ExternalRecordingID
	}
	if t.externalMeetingID != "" {
		return "meeting:" + t.externalMeetingID
	}
	if t.meeting != nil {
		return "meeting-row:" + t.meeting.ID
	}
	return "target:" + uuid.NewString()
}

// ManualRetry resolves the selector to targets and dispatches each one.
func (s *Service) ManualRetry(ctx context.Context, req *RetryRequest) ([]*RetryResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	selector := req.selectorString()
	targets, err := s.resolveTargets(ctx, req)
	if err != nil {
		return nil, err
	}

	slog.Info("retry: batch start", "selector", selector, "targets", len(targets), "dryRun", req.DryRun)

	results := make([]*RetryResult, 0, len(targets))
	for _, target := range targets {
		results = append(results, s.retryOne(ctx, selector, target, req))
	}
	return results, nil
}

func (r *RetryRequest) selectorString() string {
	switch {
	case r.ExternalRecordingID != "":
		return "externalRecordingId=" + r.ExternalRecordingID
	case r.InternalMeetingID != "":
		return "internalMeetingId=" + r.InternalMeetingID
	case r.ExternalMeetingID != "":
		return "externalMeetingId=" + r.ExternalMeetingID
	default:
		return fmt.Sprintf("window=%s..%s", r.From, r.To)
	}
}

// resolveTargets turns the selector into at most req.Limit targets.
func (s *Service) resolveTargets(ctx context.Context, req *RetryRequest) ([]*retryTarget, error) {
	switch {
	case req.ExternalRecordingID != "":
		rec, err := s.store.Recordings.GetByExternalID(req.ExternalRecordingID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("ingest: no recording with external id %q", req.ExternalRecordingID)
		}
		return []*retryTarget{s.targetFromRecording(rec)}, nil

	case req.InternalMeetingID != "":
		meeting, err := s.store.Meetings.GetByID(req.InternalMeetingID)
		if err != nil {
			return nil, err
		}
		if meeting == nil {
			return nil, fmt.Errorf("ingest: no meeting with id %q", req.InternalMeetingID)
		}
		return s.targetsFromMeeting(meeting, req.Limit)

	case req.ExternalMeetingID != "":
		meeting, err := s.store.Meetings.GetByExternalID(req.ExternalMeetingID)
		if err != nil {
			return nil, err
		}
		if meeting != nil {
			return s.targetsFromMeeting(meeting, req.Limit)
		}

		// Unknown meeting: recover the topic from the provider so the
		// course resolver has something to chew on.
		remote, err := s.provider.GetMeeting(ctx, req.ExternalMeetingID)
		if err != nil {
			return nil, fmt.Errorf("ingest: meeting %s unknown locally and provider lookup failed: %w", req.ExternalMeetingID, err)
		}
		return []*retryTarget{{externalMeetingID: req.ExternalMeetingID, topic: remote.Topic}}, nil

	default:
		from, to, err := parseWindow(req.From, req.To)
		if err != nil {
			return nil, err
		}
		recs, err := s.store.Recordings.ListByCreatedWindow(from, to, req.Limit)
		if err != nil {
			return nil, err
		}
		targets := make([]*retryTarget, 0, len(recs))
		covered := make(map[string]bool, len(recs))
		for _, rec := range recs {
			target := s.targetFromRecording(rec)
			if target.meeting != nil {
				covered[target.meeting.ID] = true
			}
			targets = append(targets, target)
		}

		// Meetings that failed before any recording row was persisted have no
		// recording to list by, so sweep the start window for them too.
		meetings, err := s.store.Meetings.ListByStartWindow(from, to, req.Limit)
		if err != nil {
			return nil, err
		}
		for _, meeting := range meetings {
			if len(targets) >= req.Limit {
				break
			}
			if covered[meeting.ID] {
				continue
			}
			existing, err := s.store.Recordings.ListByMeetingID(meeting.ID)
			if err != nil {
				return nil, err
			}
			if len(existing) > 0 {
				continue
			}
			targets = append(targets, &retryTarget{
				meeting:           meeting,
				topic:             meeting.Topic,
				externalMeetingID: meeting.ExternalID,
			})
		}
		return targets, nil
	}
}

func (s *Service) targetFromRecording(rec *store.Recording) *retryTarget {
	target := &retryTarget{recording: rec}
	meeting, err := s.store.Meetings.GetByID(rec.MeetingID)
	if err != nil {
		slog.Warn("retry: meeting lookup failed", "meeting", rec.MeetingID, "error", err)
	}
	if meeting != nil {
		target.meeting = meeting
		target.topic = meeting.Topic
		target.externalMeetingID = meeting.ExternalID
	}
	return target
}

func (s *Service) targetsFromMeeting(meeting *store.Meeting, limit int) ([]*retryTarget, error) {
	recs, err := s.store.Recordings.ListByMeetingID(meeting.ID)
	if err != nil {
		return nil, err
	}

	if len(recs) == 0 {
		return []*retryTarget{{
			meeting:           meeting,
			topic:             meeting.Topic,
			externalMeetingID: meeting.ExternalID,
		}}, nil
	}

	targets := make([]*retryTarget, 0, min(len(recs), limit))
	for _, rec := range recs {
		if len(targets) >= limit {
			break
		}
		targets = append(targets, &retryTarget{
			recording:         rec,
			meeting:           meeting,
			topic:             meeting.Topic,
			externalMeetingID: meeting.ExternalID,
		})
	}
	return targets, nil
}

// parseWindow accepts RFC3339 timestamps or bare YYYY-MM-DD dates; a bare
// "to" date covers its whole day.
func parseWindow(fromStr, toStr string) (time.Time, time.Time, error) {
	parse := func(s string, endOfDay bool) (time.Time, error) {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return time.Time{}, fmt.Errorf("ingest: bad window bound %q: %w", s, err)
		}
		if endOfDay {
			t = t.Add(24*time.Hour - time.Second)
		}
		return t, nil
	}

	from, err := parse(fromStr, false)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parse(toStr, true)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("ingest: window ends before it starts")
	}
	return from, to, nil
}

// retryOne dispatches a single target under the in-progress guard.
func (s *Service) retryOne(ctx context.Context, selector string, target *retryTarget, req *RetryRequest) *RetryResult {
	result := &RetryResult{
		Selector:          selector,
		ExternalMeetingID: target.externalMeetingID,
	}
	if target.meeting != nil {
		result.MeetingID = target.meeting.ID
	}
	if target.recording != nil {
		result.RecordingID = target.recording.ExternalRecordingID
	}

	result.Mode = retryMode(target, req)

	key := target.key()
	if !s.guards.TryBeginRetry(key) {
		result.Status = StatusSkipped
		result.Reason = SkipInProgress
		return result
	}
	defer s.guards.EndRetry(key)

	if req.DryRun {
		result.Status = StatusSkipped
		result.Reason = SkipDryRun
		if target.recording != nil {
			result.DriveURL = target.recording.DriveURL
		}
		return result
	}

	switch result.Mode {
	case ModeRepublish:
		s.republish(ctx, target, req, result)
	default:
		s.retryFull(ctx, target, req, result)
	}
	return result
}

// retryMode applies the documented precedence: forceRedownload wins, then
// republish with an existing artifact, then full.
func retryMode(target *retryTarget, req *RetryRequest) string {
	if req.ForceRedownload {
		return ModeFull
	}
	if (req.Republish || req.ForceRepost) && target.recording != nil && target.recording.DriveURL != "" {
		return ModeRepublish
	}
	return ModeFull
}

// republish posts a fresh discussion for an already-archived artifact.
// No download, no upload, no artifact mutation.
func (s *Service) republish(ctx context.Context, target *retryTarget, req *RetryRequest, result *RetryResult) {
	rec := target.recording
	if rec == nil || rec.DriveURL == "" {
		result.Status = StatusSkipped
		result.Reason = SkipNoDriveURL
		return
	}

	courseID, err := s.retryCourseID(ctx, target, req)
	if err != nil {
		result.Status = StatusSkipped
		result.Reason = SkipNoCourseResolved
		return
	}

	topic := target.topic
	if topic == "" {
		topic = rec.ExternalRecordingID
	}

	if err := s.publish(ctx, courseID, topic, time.Now(), rec.ExternalRecordingID, rec.DriveURL); err != nil {
		result.Status = StatusFailed
		result.Reason = err.Error()
		return
	}

	if err := s.store.Recordings.MarkRetried(rec.ID, time.Now()); err != nil {
		slog.Error("retry: mark retried failed", "recording", rec.ID, "error", err)
	}

	result.Status = StatusOK
	result.Reason = "republished-successfully"
	result.DriveURL = rec.DriveURL

	// Best effort: report what the archive says about the artifact.
	if fileID, ok := drive.ExtractFileID(rec.DriveURL); ok {
		if meta, err := s.objects.GetFile(ctx, fileID); err == nil {
			result.Integrity = &RetryIntegrity{RemoteMD5: meta.MD5Checksum, RemoteSize: meta.Size}
		}
	}
}

// retryFull re-runs the whole pipeline for the target's meeting.
func (s *Service) retryFull(ctx context.Context, target *retryTarget, req *RetryRequest, result *RetryResult) {
	if target.meeting != nil && target.meeting.Status == store.MeetingCompleted && !req.ForceRedownload {
		result.Status = StatusSkipped
		result.Reason = SkipAlreadyCompleted
		return
	}

	if target.externalMeetingID == "" {
		result.Status = StatusFailed
		result.Reason = "no-external-meeting-id"
		return
	}

	if req.OverrideCourseID > 0 {
		if err := s.applyCourseOverride(target, req.OverrideCourseID); err != nil {
			result.Status = StatusFailed
			result.Reason = err.Error()
			return
		}
	}

	recs, err := s.provider.GetMeetingRecordings(ctx, target.externalMeetingID)
	if err != nil {
		result.Status = StatusFailed
		result.Reason = err.Error()
		return
	}

	outcome := s.ProcessCompletedRecording(ctx, recs, "")
	result.RecordingID = outcome.RecordingID
	result.DriveURL = outcome.DriveURL

	switch outcome.Status {
	case PipelineDone:
		result.Status = StatusOK
		result.Reason = "processed-successfully"
	case PipelineInFlight:
		result.Status = StatusSkipped
		result.Reason = SkipInProgress
	case PipelineIgnored:
		result.Status = StatusSkipped
		result.Reason = outcome.Reason
	default:
		result.Status = StatusFailed
		result.Reason = outcome.Reason
	}
}

// retryCourseID picks the course for a republish: the override, the
// meeting's binding, or a fresh resolution of the topic.
func (s *Service) retryCourseID(ctx context.Context, target *retryTarget, req *RetryRequest) (int64, error) {
	if req.OverrideCourseID > 0 {
		return req.OverrideCourseID, nil
	}
	if target.meeting != nil && target.meeting.CourseID != nil {
		return *target.meeting.CourseID, nil
	}
	return s.resolver.Resolve(ctx, target.topic)
}

// applyCourseOverride pins the meeting row to the operator-chosen course so
// the pipeline's resolver pass is bypassed.
func (s *Service) applyCourseOverride(target *retryTarget, courseID int64) error {
	if target.meeting != nil {
		if err := s.store.Meetings.SetCourse(target.meeting.ID, courseID); err != nil {
			return err
		}
		target.meeting.CourseID = &courseID
		return nil
	}

	meeting := &store.Meeting{
		ExternalID: target.externalMeetingID,
		Topic:      target.topic,
		CourseID:   &courseID,
	}
	if err := s.store.Meetings.Create(meeting); err != nil && !errors.Is(err, store.ErrMeetingExists) {
		return err
	}
	target.meeting = meeting
	return nil
}
