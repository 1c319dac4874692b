package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Meeting statuses. A meeting flips to completed exactly once per external id.
const (
	MeetingScheduled = "scheduled"
	MeetingCompleted = "completed"
)

var ErrMeetingExists = errors.New("store: meeting already exists")

// Meeting is a scheduled or webhook-synthesized session.
type Meeting struct {
	ID         string
	ExternalID string
	Topic      string
	CourseID   *int64
	Status     string
	StartTime  *time.Time
	JoinURL    string
	StartURL   string
	LicenseID  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// dbMeeting maps the row shape; times are RFC3339 TEXT, optionals are NULL.
type dbMeeting struct {
	ID         string  `db:"id"`
	ExternalID *string `db:"external_id"`
	Topic      string  `db:"topic"`
	CourseID   *int64  `db:"course_id"`
	Status     string  `db:"status"`
	StartTime  *string `db:"start_time"`
	JoinURL    string  `db:"join_url"`
	StartURL   string  `db:"start_url"`
	LicenseID  *string `db:"license_id"`
	CreatedAt  string  `db:"created_at"`
	UpdatedAt  string  `db:"updated_at"`
}

func (m *dbMeeting) toDomain() (*Meeting, error) {
	startTime, err := parseTimePtr(m.StartTime)
	if err != nil {
		return nil, fmt.Errorf("store: meeting %s: bad start_time: %w", m.ID, err)
	}
	createdAt, err := parseTime(m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: meeting %s: bad created_at: %w", m.ID, err)
	}
	updatedAt, err := parseTime(m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: meeting %s: bad updated_at: %w", m.ID, err)
	}

	meeting := &Meeting{
		ID:        m.ID,
		Topic:     m.Topic,
		CourseID:  m.CourseID,
		Status:    m.Status,
		StartTime: startTime,
		JoinURL:   m.JoinURL,
		StartURL:  m.StartURL,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	if m.ExternalID != nil {
		meeting.ExternalID = *m.ExternalID
	}
	if m.LicenseID != nil {
		meeting.LicenseID = *m.LicenseID
	}
	return meeting, nil
}

const meetingColumns = `id, external_id, topic, course_id, status, start_time, join_url, start_url, license_id, created_at, updated_at`

// MeetingStore reads and writes the meetings table.
type MeetingStore struct {
	db *sqlx.DB
}

// Create inserts a meeting, assigning an id and timestamps when unset.
func (s *MeetingStore) Create(m *Meeting) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = MeetingScheduled
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	var externalID any
	if m.ExternalID != "" {
		externalID = m.ExternalID
	}
	var licenseID any
	if m.LicenseID != "" {
		licenseID = m.LicenseID
	}

	_, err := s.db.Exec(
		`INSERT INTO meetings (`+meetingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, externalID, m.Topic, m.CourseID, m.Status, formatTimePtr(m.StartTime),
		m.JoinURL, m.StartURL, licenseID, formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: external id %q", ErrMeetingExists, m.ExternalID)
		}
		return fmt.Errorf("store: create meeting: %w", err)
	}
	return nil
}

// GetByExternalID returns nil without error when no meeting matches.
func (s *MeetingStore) GetByExternalID(externalID string) (*Meeting, error) {
	var row dbMeeting
	err := s.db.Get(&row, `SELECT `+meetingColumns+` FROM meetings WHERE external_id = ?`, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get meeting by external id: %w", err)
	}
	return row.toDomain()
}

// GetByID returns nil without error when no meeting matches.
func (s *MeetingStore) GetByID(id string) (*Meeting, error) {
	var row dbMeeting
	err := s.db.Get(&row, `SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get meeting: %w", err)
	}
	return row.toDomain()
}

// MarkCompleted flips the meeting to completed. Returns false when the
// meeting was already completed or does not exist.
func (s *MeetingStore) MarkCompleted(externalID string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE meetings SET status = ?, updated_at = ? WHERE external_id = ? AND status != ?`,
		MeetingCompleted, formatTime(time.Now()), externalID, MeetingCompleted,
	)
	if err != nil {
		return false, fmt.Errorf("store: mark completed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark completed: %w", err)
	}
	return n > 0, nil
}

// SetCourse binds a resolved course id to the meeting.
func (s *MeetingStore) SetCourse(id string, courseID int64) error {
	_, err := s.db.Exec(
		`UPDATE meetings SET course_id = ?, updated_at = ? WHERE id = ?`,
		courseID, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("store: set course: %w", err)
	}
	return nil
}

// PendingMeeting is a retry candidate: a not-yet-completed meeting plus
// whatever artifact URL it already has.
type PendingMeeting struct {
	Meeting
	DriveURL string
}

type dbPendingMeeting struct {
	dbMeeting
	DriveURL string `db:"drive_url"`
}

// ListPending returns meetings that never completed, oldest first. With
// onlyWithoutArtifact, meetings that already own a stored artifact are
// filtered out.
func (s *MeetingStore) ListPending(onlyWithoutArtifact bool, limit int) ([]*PendingMeeting, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT m.id, m.external_id, m.topic, m.course_id, m.status, m.start_time,
		       m.join_url, m.start_url, m.license_id, m.created_at, m.updated_at,
		       COALESCE(MAX(r.drive_url), '') AS drive_url
		FROM meetings m
		LEFT JOIN recordings r ON r.meeting_id = m.id
		WHERE m.status != ?
		GROUP BY m.id`
	if onlyWithoutArtifact {
		query += `
		HAVING drive_url = ''`
	}
	query += `
		ORDER BY m.created_at ASC
		LIMIT ?`

	var rows []dbPendingMeeting
	if err := s.db.Select(&rows, query, MeetingCompleted, limit); err != nil {
		return nil, fmt.Errorf("store: list pending: %w", err)
	}

	out := make([]*PendingMeeting, 0, len(rows))
	for i := range rows {
		meeting, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, &PendingMeeting{Meeting: *meeting, DriveURL: rows[i].DriveURL})
	}
	return out, nil
}

// ListByStartWindow returns meetings whose start time falls inside [from, to],
// oldest first.
func (s *MeetingStore) ListByStartWindow(from, to time.Time, limit int) ([]*Meeting, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []dbMeeting
	err := s.db.Select(&rows,
		`SELECT `+meetingColumns+` FROM meetings
		 WHERE start_time IS NOT NULL AND start_time >= ? AND start_time <= ?
		 ORDER BY start_time ASC LIMIT ?`,
		formatTime(from), formatTime(to), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list by start window: %w", err)
	}

	out := make([]*Meeting, 0, len(rows))
	for i := range rows {
		meeting, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, meeting)
	}
	return out, nil
}
