// Package store persists meetings, recordings and license slots in SQLite.
package store

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aulacast/aulacast/internal/db"
	"github.com/aulacast/aulacast/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS meetings (
    id TEXT PRIMARY KEY,
    external_id TEXT UNIQUE,
    topic TEXT NOT NULL DEFAULT '',
    course_id INTEGER,
    status TEXT NOT NULL DEFAULT 'scheduled',
    start_time TEXT,
    join_url TEXT NOT NULL DEFAULT '',
    start_url TEXT NOT NULL DEFAULT '',
    license_id TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_meetings_status ON meetings(status);
CREATE INDEX IF NOT EXISTS idx_meetings_start_time ON meetings(start_time);

-- meeting_id is a logical reference only. Recordings survive meeting edits.
CREATE TABLE IF NOT EXISTS recordings (
    id TEXT PRIMARY KEY,
    meeting_id TEXT NOT NULL,
    external_recording_id TEXT NOT NULL UNIQUE,
    drive_url TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_retry_at TEXT,
    wakeup_attempts INTEGER NOT NULL DEFAULT 0,
    last_wakeup_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_recordings_meeting ON recordings(meeting_id);
CREATE INDEX IF NOT EXISTS idx_recordings_created ON recordings(created_at);

CREATE TABLE IF NOT EXISTS licenses (
    id TEXT PRIMARY KEY,
    account_email TEXT NOT NULL UNIQUE,
    meeting_id TEXT,
    updated_at TEXT NOT NULL
);
`

// migrations are additive column changes applied to databases created before
// the column existed. Duplicate-column failures mean the column is already
// there.
var migrations = []string{
	`ALTER TABLE recordings ADD COLUMN wakeup_attempts INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE recordings ADD COLUMN last_wakeup_at TEXT`,
	`ALTER TABLE meetings ADD COLUMN license_id TEXT`,
}

// Store bundles the three tables behind one SQLite handle.
type Store struct {
	db *sqlx.DB

	Meetings   *MeetingStore
	Recordings *RecordingStore
	Licenses   *LicenseStore
}

// Open creates or opens the database at path and prepares the schema.
func Open(path string) (*Store, error) {
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("store: ensure db dir: %w", err)
	}

	database, err := db.NewSqliteDB(db.WithPath(path))
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}

	for _, m := range migrations {
		if _, err := database.Exec(m); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			database.Close()
			return nil, fmt.Errorf("store: migrate: %w", err)
		}
	}

	slog.Debug("store opened", "path", path)

	return &Store{
		db:         database,
		Meetings:   &MeetingStore{db: database},
		Recordings: &RecordingStore{db: database},
		Licenses:   &LicenseStore{db: database},
	}, nil
}

// Ping verifies the handle still answers. Used by the health endpoint.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Timestamps are stored as RFC3339 UTC strings so lexical order matches
// chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
