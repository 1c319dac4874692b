package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// MaxWakeupAttempts bounds how often the wakeup job pokes one artifact.
const MaxWakeupAttempts = 2

var ErrRecordingExists = errors.New("store: recording already exists")

// Recording is one successfully ingested artifact.
type Recording struct {
	ID                  string
	MeetingID           string
	ExternalRecordingID string
	DriveURL            string
	CreatedAt           time.Time
	RetryCount          int
	LastRetryAt         *time.Time
	WakeupAttempts      int
	LastWakeupAt        *time.Time
}

type dbRecording struct {
	ID                  string  `db:"id"`
	MeetingID           string  `db:"meeting_id"`
	ExternalRecordingID string  `db:"external_recording_id"`
	DriveURL            string  `db:"drive_url"`
	CreatedAt           string  `db:"created_at"`
	RetryCount          int     `db:"retry_count"`
	LastRetryAt         *string `db:"last_retry_at"`
	WakeupAttempts      int     `db:"wakeup_attempts"`
	LastWakeupAt        *string `db:"last_wakeup_at"`
}

func (r *dbRecording) toDomain() (*Recording, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: recording %s: bad created_at: %w", r.ID, err)
	}
	lastRetryAt, err := parseTimePtr(r.LastRetryAt)
	if err != nil {
		return nil, fmt.Errorf("store: recording %s: bad last_retry_at: %w", r.ID, err)
	}
	lastWakeupAt, err := parseTimePtr(r.LastWakeupAt)
	if err != nil {
		return nil, fmt.Errorf("store: recording %s: bad last_wakeup_at: %w", r.ID, err)
	}

	return &Recording{
		ID:                  r.ID,
		MeetingID:           r.MeetingID,
		ExternalRecordingID: r.ExternalRecordingID,
		DriveURL:            r.DriveURL,
		CreatedAt:           createdAt,
		RetryCount:          r.RetryCount,
		LastRetryAt:         lastRetryAt,
		WakeupAttempts:      r.WakeupAttempts,
		LastWakeupAt:        lastWakeupAt,
	}, nil
}

const recordingColumns = `id, meeting_id, external_recording_id, drive_url, created_at, retry_count, last_retry_at, wakeup_attempts, last_wakeup_at`

// RecordingStore reads and writes the recordings table.
type RecordingStore struct {
	db *sqlx.DB
}

// Create inserts a recording. One row per external recording id: a second
// insert for the same id returns ErrRecordingExists.
func (s *RecordingStore) Create(r *Recording) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO recordings (`+recordingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.MeetingID, r.ExternalRecordingID, r.DriveURL, formatTime(r.CreatedAt),
		r.RetryCount, formatTimePtr(r.LastRetryAt), r.WakeupAttempts, formatTimePtr(r.LastWakeupAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: external recording id %q", ErrRecordingExists, r.ExternalRecordingID)
		}
		return fmt.Errorf("store: create recording: %w", err)
	}
	return nil
}

// GetByExternalID returns nil without error when no recording matches.
func (s *RecordingStore) GetByExternalID(externalRecordingID string) (*Recording, error) {
	var row dbRecording
	err := s.db.Get(&row, `SELECT `+recordingColumns+` FROM recordings WHERE external_recording_id = ?`, externalRecordingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get recording by external id: %w", err)
	}
	return row.toDomain()
}

// ListByMeetingID returns the meeting's recordings, oldest first.
func (s *RecordingStore) ListByMeetingID(meetingID string) ([]*Recording, error) {
	var rows []dbRecording
	err := s.db.Select(&rows,
		`SELECT `+recordingColumns+` FROM recordings WHERE meeting_id = ? ORDER BY created_at ASC`,
		meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list recordings: %w", err)
	}

	out := make([]*Recording, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// MarkRetried bumps retry_count and stamps last_retry_at. Manual republish
// is the only caller.
func (s *RecordingStore) MarkRetried(id string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE recordings SET retry_count = retry_count + 1, last_retry_at = ? WHERE id = ?`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("store: mark retried: %w", err)
	}
	return nil
}

// RecordWakeup stores the wakeup counters after a job pass.
func (s *RecordingStore) RecordWakeup(id string, attempts int, at time.Time) error {
	if attempts > MaxWakeupAttempts {
		attempts = MaxWakeupAttempts
	}
	_, err := s.db.Exec(
		`UPDATE recordings SET wakeup_attempts = ?, last_wakeup_at = ? WHERE id = ?`,
		attempts, formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("store: record wakeup: %w", err)
	}
	return nil
}

// ListWakeupCandidates selects recordings created inside [from, to) that
// still need a preview poke: artifact present, fewer than two attempts, and
// either never poked or last poked before cutoff.
func (s *RecordingStore) ListWakeupCandidates(from, to, cutoff time.Time) ([]*Recording, error) {
	var rows []dbRecording
	err := s.db.Select(&rows,
		`SELECT `+recordingColumns+` FROM recordings
		 WHERE created_at >= ? AND created_at < ?
		   AND drive_url != ''
		   AND wakeup_attempts < ?
		   AND (last_wakeup_at IS NULL OR last_wakeup_at <= ?)
		 ORDER BY created_at ASC`,
		formatTime(from), formatTime(to), MaxWakeupAttempts, formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("store: list wakeup candidates: %w", err)
	}

	out := make([]*Recording, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListByCreatedWindow returns recordings created inside [from, to], oldest
// first. Used by the window retry selector.
func (s *RecordingStore) ListByCreatedWindow(from, to time.Time, limit int) ([]*Recording, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []dbRecording
	err := s.db.Select(&rows,
		`SELECT `+recordingColumns+` FROM recordings
		 WHERE created_at >= ? AND created_at <= ?
		 ORDER BY created_at ASC LIMIT ?`,
		formatTime(from), formatTime(to), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list by created window: %w", err)
	}

	out := make([]*Recording, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
