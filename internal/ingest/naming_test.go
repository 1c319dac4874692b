package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeTopic(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Matemáticas Básicas", "Matem_ticas_B_sicas"},
		{"Plain-Topic_42", "Plain-Topic_42"},
		{"a/b\\c:d", "a_b_c_d"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeTopic(tt.in), "input %q", tt.in)
	}
}

func TestSanitizeTopicTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 80; i++ {
		long += "a"
	}
	assert.Len(t, SanitizeTopic(long), 50)
}

func TestRecordingFileName(t *testing.T) {
	start := time.Date(2025, 8, 18, 16, 0, 0, 0, time.UTC)
	got := RecordingFileName("Matemáticas Básicas (EP)", start, "rec-1")
	assert.Equal(t, "Matem_ticas_B_sicas__EP__2025-08-18T16:00:00Z_rec-1.mp4", got)
}

func TestRecordingFileNameNormalizesZone(t *testing.T) {
	lima := time.FixedZone("PET", -5*3600)
	start := time.Date(2025, 8, 18, 11, 0, 0, 0, lima)
	got := RecordingFileName("Clase", start, "rec-1")
	assert.Contains(t, got, "2025-08-18T16:00:00Z", "timestamps embed as UTC regardless of source zone")
}

func TestDiscussionSubject(t *testing.T) {
	date := time.Date(2025, 8, 18, 16, 0, 0, 0, time.UTC)
	got := DiscussionSubject("Matemáticas Básicas", date, "rec-1")
	assert.Equal(t, "Matemáticas Básicas | 2025-08-18 [rec-1]", got)
}

func TestEmbedHTML(t *testing.T) {
	got := EmbedHTML("https://drive.test/file/d/abc/preview", "https://drive.test/file/d/abc/view")

	assert.Contains(t, got, `src="https://drive.test/file/d/abc/preview"`)
	assert.Contains(t, got, `href="https://drive.test/file/d/abc/view"`)
	assert.Contains(t, got, "padding-bottom:56.25%", "16:9 aspect box")
	assert.Contains(t, got, "allowfullscreen")
}

func TestEmbedHTMLCoversPopoutControl(t *testing.T) {
	got := EmbedHTML("https://drive.test/file/d/abc/preview", "https://drive.test/file/d/abc/view")

	// A transparent block sits over the top-right corner, after the iframe,
	// so clicks on the pop-out control never reach the player.
	overlay := `<div style="position:absolute;top:0;right:0;width:80px;height:80px;background:transparent;"></div>`
	require.Contains(t, got, overlay)
	iframeEnd := strings.Index(got, "</iframe>")
	require.GreaterOrEqual(t, iframeEnd, 0)
	assert.Greater(t, strings.Index(got, overlay), iframeEnd, "overlay stacks above the iframe")
	assert.Less(t, strings.Index(got, overlay), strings.LastIndex(got, "</div>"), "overlay lives inside the aspect box")
}
