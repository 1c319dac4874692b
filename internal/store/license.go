package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// License is a host-account slot. The pipeline only ever releases one; the
// scheduling side that assigns them lives outside this service.
type License struct {
	ID           string
	AccountEmail string
	MeetingID    string
	UpdatedAt    time.Time
}

type dbLicense struct {
	ID           string  `db:"id"`
	AccountEmail string  `db:"account_email"`
	MeetingID    *string `db:"meeting_id"`
	UpdatedAt    string  `db:"updated_at"`
}

// LicenseStore reads and writes the licenses table.
type LicenseStore struct {
	db *sqlx.DB
}

// Upsert registers or updates a license slot by account email.
func (s *LicenseStore) Upsert(l *License) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.UpdatedAt = time.Now()

	var meetingID any
	if l.MeetingID != "" {
		meetingID = l.MeetingID
	}

	_, err := s.db.Exec(
		`INSERT INTO licenses (id, account_email, meeting_id, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(account_email) DO UPDATE SET meeting_id = excluded.meeting_id, updated_at = excluded.updated_at`,
		l.ID, l.AccountEmail, meetingID, formatTime(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("store: upsert license: %w", err)
	}
	return nil
}

// Release frees whatever slot the meeting holds. Returns false when the
// meeting held none, which is the normal case for synthesized meetings.
func (s *LicenseStore) Release(meetingID string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE licenses SET meeting_id = NULL, updated_at = ? WHERE meeting_id = ?`,
		formatTime(time.Now()), meetingID,
	)
	if err != nil {
		return false, fmt.Errorf("store: release license: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: release license: %w", err)
	}
	return n > 0, nil
}

// GetByMeetingID returns nil without error when the meeting holds no slot.
func (s *LicenseStore) GetByMeetingID(meetingID string) (*License, error) {
	var row dbLicense
	err := s.db.Get(&row, `SELECT id, account_email, meeting_id, updated_at FROM licenses WHERE meeting_id = ?`, meetingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get license: %w", err)
	}

	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: license %s: bad updated_at: %w", row.ID, err)
	}

	license := &License{
		ID:           row.ID,
		AccountEmail: row.AccountEmail,
		UpdatedAt:    updatedAt,
	}
	if row.MeetingID != nil {
		license.MeetingID = *row.MeetingID
	}
	return license, nil
}

// InUseCount reports how many slots are currently bound to meetings.
func (s *LicenseStore) InUseCount() (int, error) {
	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM licenses WHERE meeting_id IS NOT NULL`); err != nil {
		return 0, fmt.Errorf("store: count licenses: %w", err)
	}
	return count, nil
}
