package ingest

import "errors"

var (
	// ErrNoCourseResolved means every resolver strategy came up empty and
	// no default course is configured.
	ErrNoCourseResolved = errors.New("ingest: no course resolved")

	// ErrNotReady means the provider is still assembling the artifact.
	// Retriable, ideally after a long pause.
	ErrNotReady = errors.New("ingest: recording not ready yet")

	// ErrInvalidArtifact means the downloaded bytes are not a usable
	// video. The partial file is already gone when this surfaces.
	ErrInvalidArtifact = errors.New("ingest: invalid artifact")
)

// Skip reasons surfaced verbatim in retry results and webhook replies.
const (
	SkipAlreadyCompleted = "already-completed"
	SkipNoCourseResolved = "no-course-resolved"
	SkipNoDriveURL       = "no-drive-url-found"
	SkipInProgress       = "already-in-progress"
	SkipDryRun           = "dry-run"
)

// Terminal statuses for one retry target.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)
