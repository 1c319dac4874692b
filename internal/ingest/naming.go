package ingest

import (
	"fmt"
	"strings"
	"time"
)

const maxTopicChars = 50

// SanitizeTopic makes a topic safe for file names: at most 50 characters,
// anything outside [A-Za-z0-9_-] becomes an underscore.
func SanitizeTopic(topic string) string {
	runes := []rune(topic)
	if len(runes) > maxTopicChars {
		runes = runes[:maxTopicChars]
	}

	var b strings.Builder
	b.Grow(len(runes))
	for _, r := range runes {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// RecordingFileName builds the local artifact name:
// <sanitized-topic>_<ISO-timestamp>_<externalRecordingId>.mp4
func RecordingFileName(topic string, start time.Time, recordingID string) string {
	return fmt.Sprintf("%s_%s_%s.mp4", SanitizeTopic(topic), start.UTC().Format(time.RFC3339), recordingID)
}

// DiscussionSubject builds the forum subject: <topic> | <yyyy-MM-dd> [<recordingId>]
func DiscussionSubject(topic string, date time.Time, recordingID string) string {
	return fmt.Sprintf("%s | %s [%s]", topic, date.Format("2006-01-02"), recordingID)
}

// EmbedHTML wraps the preview link in a responsive 16:9 iframe with a plain
// link underneath for clients that strip frames. A transparent block sits
// over the top-right corner so the player's pop-out control cannot open the
// bare storage URL.
func EmbedHTML(previewURL, viewURL string) string {
	var b strings.Builder
	b.WriteString(`<div style="position:relative;padding-bottom:56.25%;height:0;overflow:hidden;max-width:100%;">`)
	b.WriteString(`<iframe src="`)
	b.WriteString(previewURL)
	b.WriteString(`" style="position:absolute;top:0;left:0;width:100%;height:100%;" frameborder="0" allowfullscreen allow="autoplay"></iframe>`)
	b.WriteString(`<div style="position:absolute;top:0;right:0;width:80px;height:80px;background:transparent;"></div>`)
	b.WriteString(`</div>`)
	b.WriteString(`<p><a href="`)
	b.WriteString(viewURL)
	b.WriteString(`" target="_blank" rel="noopener">Ver la grabación</a></p>`)
	return b.String()
}
