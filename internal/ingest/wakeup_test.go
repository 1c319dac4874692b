package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulacast/aulacast/internal/drive"
	"github.com/aulacast/aulacast/internal/store"
)

// wakeupNow returns a reference time whose "previous day" window covers
// rows inserted during the test.
func wakeupNow() time.Time {
	return time.Now().Add(24 * time.Hour)
}

func seedArchivedRecording(t *testing.T, st *store.Store, recordingID, fileID string) *store.Recording {
	t.Helper()

	meeting := &store.Meeting{ExternalID: "ext-" + recordingID, Topic: "Clase"}
	require.NoError(t, st.Meetings.Create(meeting))

	rec := &store.Recording{
		MeetingID:           meeting.ID,
		ExternalRecordingID: recordingID,
		DriveURL:            fmt.Sprintf("https://drive.google.com/file/d/%s/view", fileID),
	}
	require.NoError(t, st.Recordings.Create(rec))
	return rec
}

func TestWakeupPassPokesStalledPreview(t *testing.T) {
	objects := newFakeObjects()
	// No thumbnail, no video metadata: the store never looked at the file.
	objects.files["file-1"] = &drive.File{ID: "file-1", Name: "a.mp4"}
	svc, st := newTestService(t, objects, classroomLMS())
	rec := seedArchivedRecording(t, st, "rec-1", "file-1")

	svc.RunWakeupPass(context.Background(), wakeupNow())

	assert.Equal(t, []string{"file-1"}, objects.wakes)

	after, err := st.Recordings.GetByExternalID("rec-1")
	require.NoError(t, err)
	assert.Equal(t, rec.WakeupAttempts+1, after.WakeupAttempts)
	assert.NotNil(t, after.LastWakeupAt)
}

func TestWakeupPassSkipsReadyPreview(t *testing.T) {
	objects := newFakeObjects()
	objects.files["file-1"] = &drive.File{
		ID:            "file-1",
		VideoMetadata: &drive.VideoMetadata{DurationMillis: 90_000},
	}
	svc, st := newTestService(t, objects, classroomLMS())
	seedArchivedRecording(t, st, "rec-1", "file-1")

	svc.RunWakeupPass(context.Background(), wakeupNow())

	assert.Empty(t, objects.wakes)

	// A ready preview retires the recording from future passes.
	after, err := st.Recordings.GetByExternalID("rec-1")
	require.NoError(t, err)
	assert.Equal(t, store.MaxWakeupAttempts, after.WakeupAttempts)
}

func TestWakeupPassGivesUpOnThumbnailStall(t *testing.T) {
	objects := newFakeObjects()
	// Thumbnail but no playback metadata: processing stalled for good.
	objects.files["file-1"] = &drive.File{ID: "file-1", ThumbnailLink: "https://drive.test/thumb"}
	svc, st := newTestService(t, objects, classroomLMS())
	seedArchivedRecording(t, st, "rec-1", "file-1")

	svc.RunWakeupPass(context.Background(), wakeupNow())

	assert.Empty(t, objects.wakes, "poking a stalled file does not help")

	after, err := st.Recordings.GetByExternalID("rec-1")
	require.NoError(t, err)
	assert.Equal(t, store.MaxWakeupAttempts, after.WakeupAttempts)
}

func TestWakeupPassGivesUpOnUnparseableURL(t *testing.T) {
	objects := newFakeObjects()
	svc, st := newTestService(t, objects, classroomLMS())

	meeting := &store.Meeting{ExternalID: "ext-1", Topic: "Clase"}
	require.NoError(t, st.Meetings.Create(meeting))
	require.NoError(t, st.Recordings.Create(&store.Recording{
		MeetingID:           meeting.ID,
		ExternalRecordingID: "rec-1",
		DriveURL:            "https://example.test/not-a-drive-link",
	}))

	svc.RunWakeupPass(context.Background(), wakeupNow())

	after, err := st.Recordings.GetByExternalID("rec-1")
	require.NoError(t, err)
	assert.Equal(t, store.MaxWakeupAttempts, after.WakeupAttempts)
}

func TestWakeupPassCountsFetchFailures(t *testing.T) {
	objects := newFakeObjects()
	objects.getFileErr = fmt.Errorf("quota exceeded")
	svc, st := newTestService(t, objects, classroomLMS())
	seedArchivedRecording(t, st, "rec-1", "file-1")

	svc.RunWakeupPass(context.Background(), wakeupNow())

	after, err := st.Recordings.GetByExternalID("rec-1")
	require.NoError(t, err)
	assert.Equal(t, 1, after.WakeupAttempts)
	assert.Less(t, after.WakeupAttempts, store.MaxWakeupAttempts, "a fetch failure does not retire the recording")
}

func TestWakeupPassAttemptBoundIsTerminal(t *testing.T) {
	objects := newFakeObjects()
	objects.files["file-1"] = &drive.File{ID: "file-1"}
	svc, st := newTestService(t, objects, classroomLMS())
	rec := seedArchivedRecording(t, st, "rec-1", "file-1")

	require.NoError(t, st.Recordings.RecordWakeup(rec.ID, store.MaxWakeupAttempts, time.Now().Add(-24*time.Hour)))

	svc.RunWakeupPass(context.Background(), wakeupNow())
	assert.Empty(t, objects.wakes, "exhausted recordings never surface as candidates")
}

func TestWakeupPassRespectsRepokeSpacing(t *testing.T) {
	objects := newFakeObjects()
	objects.files["file-1"] = &drive.File{ID: "file-1"}
	svc, st := newTestService(t, objects, classroomLMS())
	rec := seedArchivedRecording(t, st, "rec-1", "file-1")

	// Poked moments ago: the pass must leave it alone.
	require.NoError(t, st.Recordings.RecordWakeup(rec.ID, 1, wakeupNow()))

	svc.RunWakeupPass(context.Background(), wakeupNow())
	assert.Empty(t, objects.wakes)
}
