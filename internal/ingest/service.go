// Package ingest is the recording pipeline: webhook-driven download,
// archive upload, forum publication and the retry/backfill/wakeup paths
// around it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aulacast/aulacast/internal/backoff"
	"github.com/aulacast/aulacast/internal/drive"
	"github.com/aulacast/aulacast/internal/moodle"
	"github.com/aulacast/aulacast/internal/store"
	"github.com/aulacast/aulacast/internal/zoom"
)

// Pipeline outcome statuses, carried in webhook reply bodies.
const (
	PipelineDone     = "done"
	PipelineInFlight = "in-flight"
	PipelineIgnored  = "ignored"
	PipelineFailed   = "failed"
)

// DefaultPrepublishDelay is the pause between a verified upload and the
// forum post, giving the store a head start on preview generation.
const DefaultPrepublishDelay = 30 * time.Second

// Provider is the slice of the conferencing client the pipeline consumes.
type Provider interface {
	TokenSource
	GetMeeting(ctx context.Context, meetingID string) (*zoom.Meeting, error)
	GetMeetingRecordings(ctx context.Context, meetingID string) (*zoom.MeetingRecordings, error)
	ListRecordings(ctx context.Context, params *zoom.ListRecordingsParams) (*zoom.RecordingsPage, error)
}

// ObjectStore is the slice of the archive client the pipeline consumes.
type ObjectStore interface {
	RootFolderID() string
	GetFile(ctx context.Context, fileID string) (*drive.File, error)
	FindByRecordingID(ctx context.Context, recordingID string) (*drive.File, bool, error)
	EnsureFolder(ctx context.Context, parentID, name string) (string, error)
	Upload(ctx context.Context, params *drive.UploadParams) (*drive.UploadResult, error)
	GrantAnyoneReader(ctx context.Context, fileID string) error
	WaitForPreview(ctx context.Context, fileID string) bool
	WakeThumbnail(ctx context.Context, fileID string) error
}

// LMS is the slice of the forum client the pipeline consumes: course
// resolution plus discussion publishing.
type LMS interface {
	courseFinder
	GetCourseForums(ctx context.Context, courseID int64) ([]moodle.Forum, error)
	AddDiscussion(ctx context.Context, forumID int64, subject, messageHTML string) (int64, error)
}

// Config carries the pipeline tunables. Zero values select the defaults,
// except PrepublishDelay where zero disables the pre-publish pause (the
// CLI layer supplies the 30 s default when the variable is unset).
type Config struct {
	DownloadsDir    string
	DefaultCourseID int64
	CoursesCacheTTL time.Duration
	MinArtifactSize int64
	ChunkSize       int64
	DownloadTimeout time.Duration
	UploadTimeout   time.Duration
	PrepublishDelay time.Duration
	UploadSlots     int
	WakeupHour      int
	DownloadPolicy  backoff.Policy
	UploadPolicy    backoff.Policy
}

func (c *Config) applyDefaults() {
	if c.DownloadsDir == "" {
		c.DownloadsDir = "downloads"
	}
	if c.PrepublishDelay < 0 {
		c.PrepublishDelay = 0
	}
	if c.DownloadPolicy == (backoff.Policy{}) {
		c.DownloadPolicy = backoff.Default()
	}
	if c.UploadPolicy == (backoff.Policy{}) {
		c.UploadPolicy = backoff.Default()
	}
}

// Service coordinates the pipeline: admission, idempotency, transfer,
// publication and persistence.
type Service struct {
	cfg        *Config
	store      *store.Store
	provider   Provider
	objects    ObjectStore
	lms        LMS
	resolver   *Resolver
	guards     *Guards
	downloader *Downloader
	alerts     *Alerter
}

func NewService(cfg *Config, st *store.Store, provider Provider, objects ObjectStore, lms LMS, alerts *Alerter) *Service {
	cfg.applyDefaults()
	return &Service{
		cfg:        cfg,
		store:      st,
		provider:   provider,
		objects:    objects,
		lms:        lms,
		resolver:   NewResolver(lms, cfg.DefaultCourseID, cfg.CoursesCacheTTL),
		guards:     NewGuards(cfg.UploadSlots),
		downloader: NewDownloader(provider, cfg.MinArtifactSize, cfg.DownloadPolicy),
		alerts:     alerts,
	}
}

// PipelineResult is what one processing request observed.
type PipelineResult struct {
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	MeetingID   string `json:"meetingId,omitempty"`
	RecordingID string `json:"recordingId,omitempty"`
	DriveURL    string `json:"driveUrl,omitempty"`
}

// ProcessCompletedRecording handles one recording.completed notification.
// Safe to call repeatedly for the same payload: duplicates short-circuit on
// the in-flight guard, the recordings table, or the archive's tag probe.
func (s *Service) ProcessCompletedRecording(ctx context.Context, obj *zoom.MeetingRecordings, downloadToken string) *PipelineResult {
	if obj == nil || obj.ID == 0 {
		return &PipelineResult{Status: PipelineIgnored, Reason: "empty-payload"}
	}
	extMeetingID := strconv.FormatInt(obj.ID, 10)

	file, ok := zoom.PickMP4(obj.RecordingFiles)
	if !ok {
		slog.Warn("pipeline: no playable mp4 in payload", "meeting", extMeetingID, "topic", obj.Topic)
		return &PipelineResult{Status: PipelineIgnored, Reason: SkipNoDriveURL, MeetingID: extMeetingID}
	}

	if !s.guards.TryAcquireMeeting(extMeetingID) {
		slog.Info("pipeline: meeting already in flight", "meeting", extMeetingID)
		return &PipelineResult{Status: PipelineInFlight, MeetingID: extMeetingID}
	}
	defer s.guards.ReleaseMeeting(extMeetingID)

	result, err := s.run(ctx, extMeetingID, obj, file, downloadToken)
	if err != nil {
		slog.Error("pipeline: failed", "meeting", extMeetingID, "recording", file.ID, "error", err)
		s.alerts.PipelineFailed(obj.Topic, extMeetingID, file.ID, err)
		return &PipelineResult{Status: PipelineFailed, Reason: err.Error(), MeetingID: extMeetingID, RecordingID: file.ID}
	}
	return result
}

// run is the guarded body of ProcessCompletedRecording.
func (s *Service) run(ctx context.Context, extMeetingID string, obj *zoom.MeetingRecordings, file *zoom.RecordingFile, downloadToken string) (*PipelineResult, error) {
	meeting, err := s.ensureMeeting(ctx, extMeetingID, obj.Topic, obj.StartTime)
	if err != nil {
		if errors.Is(err, ErrNoCourseResolved) {
			slog.Warn("pipeline: no course for topic, ignoring", "meeting", extMeetingID, "topic", obj.Topic)
			return &PipelineResult{Status: PipelineIgnored, Reason: SkipNoCourseResolved, MeetingID: extMeetingID}, nil
		}
		return nil, err
	}

	// Idempotency probe 1: a recording row means a previous run finished.
	if existing, err := s.store.Recordings.GetByExternalID(file.ID); err != nil {
		return nil, err
	} else if existing != nil {
		slog.Info("pipeline: recording already ingested", "recording", file.ID, "url", existing.DriveURL)
		s.finalize(meeting)
		return &PipelineResult{Status: PipelineDone, MeetingID: extMeetingID, RecordingID: file.ID, DriveURL: existing.DriveURL}, nil
	}

	// Idempotency probe 2: the archive already holds a tagged artifact
	// from a run that crashed before persisting its row.
	if remote, found, err := s.objects.FindByRecordingID(ctx, file.ID); err != nil {
		slog.Warn("pipeline: archive probe failed, proceeding", "recording", file.ID, "error", err)
	} else if found {
		viewURL := remote.WebViewLink
		slog.Info("pipeline: artifact already archived", "recording", file.ID, "file", remote.ID)
		if err := s.persist(meeting, file.ID, viewURL); err != nil {
			return nil, err
		}
		return &PipelineResult{Status: PipelineDone, MeetingID: extMeetingID, RecordingID: file.ID, DriveURL: viewURL}, nil
	}

	viewURL, err := s.executePipeline(ctx, meeting, file, downloadToken)
	if err != nil {
		return nil, err
	}

	return &PipelineResult{Status: PipelineDone, MeetingID: extMeetingID, RecordingID: file.ID, DriveURL: viewURL}, nil
}

// ensureMeeting returns the meeting row for the external id, synthesizing
// one (with a resolved course) when the webhook arrives for an unknown
// meeting, and binding a course to known rows that lack one.
func (s *Service) ensureMeeting(ctx context.Context, extMeetingID, topic string, startTime time.Time) (*store.Meeting, error) {
	meeting, err := s.store.Meetings.GetByExternalID(extMeetingID)
	if err != nil {
		return nil, err
	}

	if meeting == nil {
		courseID, err := s.resolver.Resolve(ctx, topic)
		if err != nil {
			return nil, err
		}

		meeting = &store.Meeting{
			ExternalID: extMeetingID,
			Topic:      topic,
			CourseID:   &courseID,
			Status:     store.MeetingScheduled,
		}
		if !startTime.IsZero() {
			t := startTime
			meeting.StartTime = &t
		}
		if err := s.store.Meetings.Create(meeting); err != nil {
			if !errors.Is(err, store.ErrMeetingExists) {
				return nil, err
			}
			// Lost a race with the scheduling path; re-read theirs.
			meeting, err = s.store.Meetings.GetByExternalID(extMeetingID)
			if err != nil || meeting == nil {
				return nil, fmt.Errorf("pipeline: meeting vanished after insert race: %w", err)
			}
		} else {
			slog.Info("pipeline: meeting synthesized", "meeting", extMeetingID, "topic", topic, "course", courseID)
		}
	}

	if meeting.CourseID == nil {
		courseID, err := s.resolver.Resolve(ctx, meeting.Topic)
		if err != nil {
			return nil, err
		}
		if err := s.store.Meetings.SetCourse(meeting.ID, courseID); err != nil {
			return nil, err
		}
		meeting.CourseID = &courseID
	}

	return meeting, nil
}

// executePipeline runs the full download → upload → publish path and
// returns the artifact's viewer URL.
func (s *Service) executePipeline(ctx context.Context, meeting *store.Meeting, file *zoom.RecordingFile, downloadToken string) (string, error) {
	start := time.Now()
	if meeting.StartTime != nil {
		start = *meeting.StartTime
	}

	localPath := filepath.Join(s.cfg.DownloadsDir, RecordingFileName(meeting.Topic, start, file.ID))

	unlock := s.guards.LockPath(localPath)
	defer unlock()

	if _, err := s.downloader.Download(ctx, &DownloadParams{
		URL:           file.DownloadURL,
		DestPath:      localPath,
		DownloadToken: downloadToken,
		ExpectedSize:  file.FileSize,
		Timeout:       s.cfg.DownloadTimeout,
	}); err != nil {
		return "", fmt.Errorf("download %s: %w", file.ID, err)
	}

	folderID, err := s.ensureArchiveFolder(ctx, *meeting.CourseID, start)
	if err != nil {
		return "", err
	}

	if err := s.guards.AcquireUploadSlot(ctx); err != nil {
		return "", err
	}
	defer s.guards.ReleaseUploadSlot()

	var uploaded *drive.UploadResult
	err = s.cfg.UploadPolicy.Retry(ctx, "upload", func(ctx context.Context) error {
		var uErr error
		uploaded, uErr = s.objects.Upload(ctx, &drive.UploadParams{
			LocalPath: localPath,
			Name:      filepath.Base(localPath),
			FolderID:  folderID,
			Props: map[string]string{
				drive.PropMeetingID:   meeting.ExternalID,
				drive.PropCourseID:    strconv.FormatInt(*meeting.CourseID, 10),
				drive.PropRecordingID: file.ID,
			},
			ChunkSize:    s.cfg.ChunkSize,
			ChunkTimeout: s.cfg.UploadTimeout,
		})
		return uErr
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", file.ID, err)
	}

	if err := s.objects.GrantAnyoneReader(ctx, uploaded.FileID); err != nil {
		// A private artifact is recoverable by hand; a failed pipeline is not.
		slog.Error("drive: permission grant failed", "file", uploaded.FileID, "error", err)
	}

	s.objects.WaitForPreview(ctx, uploaded.FileID)

	if s.cfg.PrepublishDelay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.cfg.PrepublishDelay):
		}
	}

	if err := s.publish(ctx, *meeting.CourseID, meeting.Topic, start, file.ID, uploaded.ViewURL); err != nil {
		return "", err
	}

	if err := s.persist(meeting, file.ID, uploaded.ViewURL); err != nil {
		return "", err
	}

	if err := os.Remove(localPath); err != nil {
		slog.Warn("pipeline: local cleanup failed", "path", localPath, "error", err)
	}

	slog.Info("pipeline: recording published", "meeting", meeting.ExternalID, "recording", file.ID, "url", uploaded.ViewURL)
	return uploaded.ViewURL, nil
}

// ensureArchiveFolder returns <root>/<courseId>/<yyyy-MM>.
func (s *Service) ensureArchiveFolder(ctx context.Context, courseID int64, start time.Time) (string, error) {
	courseFolder, err := s.objects.EnsureFolder(ctx, s.objects.RootFolderID(), strconv.FormatInt(courseID, 10))
	if err != nil {
		return "", fmt.Errorf("ensure course folder: %w", err)
	}
	monthFolder, err := s.objects.EnsureFolder(ctx, courseFolder, start.Format("2006-01"))
	if err != nil {
		return "", fmt.Errorf("ensure month folder: %w", err)
	}
	return monthFolder, nil
}

// publish posts the announcement discussion into the course's forum.
func (s *Service) publish(ctx context.Context, courseID int64, topic string, date time.Time, recordingID, viewURL string) error {
	forums, err := s.lms.GetCourseForums(ctx, courseID)
	if err != nil {
		return fmt.Errorf("list forums for course %d: %w", courseID, err)
	}
	forum, ok := moodle.PickForum(forums)
	if !ok {
		return fmt.Errorf("course %d has no forums", courseID)
	}

	subject := DiscussionSubject(topic, date, recordingID)
	message := EmbedHTML(drive.PreviewFromView(viewURL), viewURL)

	discussionID, err := s.lms.AddDiscussion(ctx, forum.ID, subject, message)
	if err != nil {
		return fmt.Errorf("post discussion: %w", err)
	}

	slog.Info("pipeline: discussion posted", "course", courseID, "forum", forum.ID, "discussion", discussionID, "subject", subject)
	return nil
}

// persist writes the recording row, flips the meeting to completed and
// releases its license slot. The steps are ordered, not transactional; a
// crash between any two is healed by the idempotency probes on re-entry.
func (s *Service) persist(meeting *store.Meeting, externalRecordingID, viewURL string) error {
	err := s.store.Recordings.Create(&store.Recording{
		MeetingID:           meeting.ID,
		ExternalRecordingID: externalRecordingID,
		DriveURL:            viewURL,
	})
	if err != nil && !errors.Is(err, store.ErrRecordingExists) {
		return err
	}

	s.finalize(meeting)
	return nil
}

// finalize marks the meeting completed and releases its license slot.
// Synthesized meetings hold no slot; releasing nothing is the normal case
// for them.
func (s *Service) finalize(meeting *store.Meeting) {
	if _, err := s.store.Meetings.MarkCompleted(meeting.ExternalID); err != nil {
		slog.Error("pipeline: mark completed failed", "meeting", meeting.ExternalID, "error", err)
	}
	released, err := s.store.Licenses.Release(meeting.ID)
	if err != nil {
		slog.Error("pipeline: license release failed", "meeting", meeting.ExternalID, "error", err)
	} else if released {
		slog.Info("pipeline: license released", "meeting", meeting.ExternalID)
	}
}
