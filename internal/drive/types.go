package drive

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	videoMimeType  = "video/mp4"

	// fileFields is the metadata projection requested on every probe.
	fileFields = "id,name,mimeType,size,md5Checksum,webViewLink,thumbnailLink,videoMediaMetadata,appProperties"
)

// App-property keys stamped on every uploaded artifact.
const (
	PropMeetingID   = "meetingId"
	PropCourseID    = "courseId"
	PropRecordingID = "externalRecordingId"
)

// File is the subset of the store's file resource the pipeline reads.
type File struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	MimeType      string            `json:"mimeType,omitempty"`
	Size          int64             `json:"size,string,omitempty"`
	MD5Checksum   string            `json:"md5Checksum,omitempty"`
	WebViewLink   string            `json:"webViewLink,omitempty"`
	ThumbnailLink string            `json:"thumbnailLink,omitempty"`
	AppProperties map[string]string `json:"appProperties,omitempty"`
	VideoMetadata *VideoMetadata    `json:"videoMediaMetadata,omitempty"`
}

// VideoMetadata appears once the store has finished processing the video.
type VideoMetadata struct {
	Width          int   `json:"width,omitempty"`
	Height         int   `json:"height,omitempty"`
	DurationMillis int64 `json:"durationMillis,string,omitempty"`
}

// HasThumbnail reports whether the store generated a thumbnail yet.
func (f *File) HasThumbnail() bool {
	return f != nil && f.ThumbnailLink != ""
}

// PreviewReady reports whether the video has been transcoded for playback.
func (f *File) PreviewReady() bool {
	return f != nil && f.VideoMetadata != nil && f.VideoMetadata.DurationMillis > 0
}

type fileList struct {
	Files         []File `json:"files"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

type createFileRequest struct {
	Name                         string            `json:"name"`
	MimeType                     string            `json:"mimeType,omitempty"`
	Parents                      []string          `json:"parents,omitempty"`
	AppProperties                map[string]string `json:"appProperties,omitempty"`
	CopyRequiresWriterPermission bool              `json:"copyRequiresWriterPermission,omitempty"`
}

type permissionRequest struct {
	Role string `json:"role"`
	Type string `json:"type"`
}

var (
	filePathIDPattern = regexp.MustCompile(`/file/d/([A-Za-z0-9_-]+)`)
	queryIDPattern    = regexp.MustCompile(`[?&]id=([A-Za-z0-9_-]+)`)
)

// ExtractFileID pulls the file id out of a viewer URL. Both the
// /file/d/<id> path form and the ?id=<id> query form are accepted.
func ExtractFileID(rawURL string) (string, bool) {
	if m := filePathIDPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1], true
	}
	if m := queryIDPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1], true
	}
	return "", false
}

// PreviewFromView rewrites a /view link into its embeddable /preview form.
func PreviewFromView(viewURL string) string {
	return strings.Replace(viewURL, "/view", "/preview", 1)
}

// ViewURL builds the canonical viewer link for a file id.
func ViewURL(viewerBase, fileID string) string {
	return fmt.Sprintf("%s/file/d/%s/view", strings.TrimSuffix(viewerBase, "/"), fileID)
}

// PreviewURL builds the embeddable preview link for a file id.
func PreviewURL(viewerBase, fileID string) string {
	return fmt.Sprintf("%s/file/d/%s/preview", strings.TrimSuffix(viewerBase, "/"), fileID)
}
