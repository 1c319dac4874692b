package zoom

import "time"

// Recognized webhook event types.
const (
	EventRecordingCompleted = "recording.completed"
	EventURLValidation      = "endpoint.url_validation"
)

// Recording file states and types as reported by the provider.
const (
	FileTypeMP4          = "MP4"
	FileStatusCompleted  = "completed"
	RecScreenWithSpeaker = "shared_screen_with_speaker_view"
	RecActiveSpeaker     = "active_speaker"
	RecSpeakerView       = "speaker_view"
	RecGalleryView       = "gallery_view"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// Meeting is the provider's view of a scheduled meeting.
type Meeting struct {
	ID        int64     `json:"id"`
	UUID      string    `json:"uuid"`
	HostEmail string    `json:"host_email"`
	Topic     string    `json:"topic"`
	Type      int       `json:"type"`
	StartTime time.Time `json:"start_time"`
	Duration  int       `json:"duration"`
	JoinURL   string    `json:"join_url"`
	StartURL  string    `json:"start_url,omitempty"`
}

// RecordingFile is a single artifact produced for a meeting.
type RecordingFile struct {
	ID             string `json:"id"`
	MeetingID      string `json:"meeting_id"`
	RecordingStart string `json:"recording_start"`
	RecordingEnd   string `json:"recording_end"`
	FileType       string `json:"file_type"`
	FileExtension  string `json:"file_extension"`
	FileSize       int64  `json:"file_size"`
	PlayURL        string `json:"play_url"`
	DownloadURL    string `json:"download_url"`
	Status         string `json:"status"`
	RecordingType  string `json:"recording_type"`
}

// MeetingRecordings is the recording set of one meeting, as delivered in
// webhook payloads and by the recordings API.
type MeetingRecordings struct {
	UUID           string          `json:"uuid"`
	ID             int64           `json:"id"`
	AccountID      string          `json:"account_id"`
	HostID         string          `json:"host_id"`
	HostEmail      string          `json:"host_email"`
	Topic          string          `json:"topic"`
	StartTime      time.Time       `json:"start_time"`
	Timezone       string          `json:"timezone"`
	Duration       int             `json:"duration"`
	TotalSize      int64           `json:"total_size"`
	RecordingCount int             `json:"recording_count"`
	ShareURL       string          `json:"share_url"`
	RecordingFiles []RecordingFile `json:"recording_files"`
}

// RecordingsPage is one page of the account-wide recordings listing.
type RecordingsPage struct {
	From          string              `json:"from"`
	To            string              `json:"to"`
	PageCount     int                 `json:"page_count"`
	PageSize      int                 `json:"page_size"`
	TotalRecords  int                 `json:"total_records"`
	NextPageToken string              `json:"next_page_token"`
	Meetings      []MeetingRecordings `json:"meetings"`
}

// WebhookEvent is the envelope of every provider notification.
type WebhookEvent struct {
	Event         string         `json:"event"`
	EventTS       int64          `json:"event_ts"`
	Payload       WebhookPayload `json:"payload"`
	DownloadToken string         `json:"download_token,omitempty"`
}

type WebhookPayload struct {
	AccountID string `json:"account_id,omitempty"`

	// PlainToken is only present on endpoint.url_validation events.
	PlainToken string `json:"plainToken,omitempty"`

	// Object carries the meeting recording set for recording.* events.
	Object *MeetingRecordings `json:"object,omitempty"`
}

// URLValidationResponse answers the provider's endpoint validation handshake.
type URLValidationResponse struct {
	PlainToken     string `json:"plainToken"`
	EncryptedToken string `json:"encryptedToken"`
}

// recordingTypeRank orders MP4 variants by how useful they are as the
// published artifact. Unlisted types sort after all listed ones.
var recordingTypeRank = map[string]int{
	RecScreenWithSpeaker: 0,
	RecActiveSpeaker:     1,
	RecSpeakerView:       2,
	RecGalleryView:       3,
}

// PickMP4 selects the best publishable MP4 from a recording file list:
// completed MP4s with a download URL, preferred by recording type, then by
// larger reported size.
func PickMP4(files []RecordingFile) (*RecordingFile, bool) {
	var best *RecordingFile
	bestRank := 0

	for i := range files {
		f := &files[i]
		if f.FileType != FileTypeMP4 || f.DownloadURL == "" {
			continue
		}
		if f.Status != "" && f.Status != FileStatusCompleted {
			continue
		}

		rank, ok := recordingTypeRank[f.RecordingType]
		if !ok {
			rank = len(recordingTypeRank)
		}

		if best == nil || rank < bestRank || (rank == bestRank && f.FileSize > best.FileSize) {
			best = f
			bestRank = rank
		}
	}

	return best, best != nil
}
