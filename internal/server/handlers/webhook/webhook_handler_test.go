package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulacast/aulacast/internal/ingest"
	"github.com/aulacast/aulacast/internal/zoom"
)

const testSecret = "webhook-secret"

type fakePipeline struct {
	calls  []*zoom.MeetingRecordings
	tokens []string
	result *ingest.PipelineResult
}

func (p *fakePipeline) ProcessCompletedRecording(_ context.Context, obj *zoom.MeetingRecordings, token string) *ingest.PipelineResult {
	p.calls = append(p.calls, obj)
	p.tokens = append(p.tokens, token)
	if p.result != nil {
		return p.result
	}
	return &ingest.PipelineResult{Status: ingest.PipelineDone}
}

func newTestRouter(secret string, skipVerify bool, pipeline Pipeline) *gin.Engine {
	cfg := &zoom.Config{
		WebhookSecret:     secret,
		WebhookSkipVerify: skipVerify,
	}
	router := gin.New()
	router.POST("/webhook", New(cfg, pipeline).Handle)
	return router
}

func postSigned(t *testing.T, router *gin.Engine, secret string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, zoom.SignPayload(secret, timestamp, body))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func completedEventBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(zoom.WebhookEvent{
		Event:         zoom.EventRecordingCompleted,
		EventTS:       time.Now().UnixMilli(),
		DownloadToken: "one-shot",
		Payload: zoom.WebhookPayload{
			Object: &zoom.MeetingRecordings{
				ID:    94881330838,
				Topic: "Matemáticas Básicas",
				RecordingFiles: []zoom.RecordingFile{{
					ID:          "rec-1",
					FileType:    zoom.FileTypeMP4,
					DownloadURL: "https://provider.test/rec-1",
				}},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestWebhookURLValidationHandshake(t *testing.T) {
	router := newTestRouter(testSecret, false, &fakePipeline{})

	body := []byte(`{"event":"endpoint.url_validation","payload":{"plainToken":"abc123"}}`)
	// The handshake is accepted without a signature.
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp zoom.URLValidationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "abc123", resp.PlainToken)

	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte("abc123"))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), resp.EncryptedToken)
}

func TestWebhookDispatchesCompletedRecording(t *testing.T) {
	pipeline := &fakePipeline{result: &ingest.PipelineResult{
		Status:      ingest.PipelineDone,
		MeetingID:   "94881330838",
		RecordingID: "rec-1",
		DriveURL:    "https://drive.test/view",
	}}
	router := newTestRouter(testSecret, false, pipeline)

	w := postSigned(t, router, testSecret, completedEventBody(t))

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, pipeline.calls, 1)
	assert.Equal(t, int64(94881330838), pipeline.calls[0].ID)
	assert.Equal(t, []string{"one-shot"}, pipeline.tokens, "the payload's download token reaches the pipeline")

	var result ingest.PipelineResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, ingest.PipelineDone, result.Status)
	assert.Equal(t, "https://drive.test/view", result.DriveURL)
}

func TestWebhookStaleTimestampRejected(t *testing.T) {
	pipeline := &fakePipeline{}
	router := newTestRouter(testSecret, false, pipeline)

	body := completedEventBody(t)
	timestamp := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, zoom.SignPayload(testSecret, timestamp, body))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), statusInvalidSignature)
	assert.Empty(t, pipeline.calls, "a replayed notification never reaches the pipeline")
}

func TestWebhookInvalidSignature(t *testing.T) {
	pipeline := &fakePipeline{}
	router := newTestRouter(testSecret, false, pipeline)

	w := postSigned(t, router, "wrong-secret", completedEventBody(t))

	// Always HTTP 200; the rejection lives in the body.
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), statusInvalidSignature)
	assert.Empty(t, pipeline.calls)
}

func TestWebhookMissingSignatureHeaders(t *testing.T) {
	pipeline := &fakePipeline{}
	router := newTestRouter(testSecret, false, pipeline)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(completedEventBody(t)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), statusInvalidSignature)
	assert.Empty(t, pipeline.calls)
}

func TestWebhookSkipVerify(t *testing.T) {
	pipeline := &fakePipeline{}
	router := newTestRouter(testSecret, true, pipeline)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(completedEventBody(t)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, pipeline.calls, 1)
}

func TestWebhookNoSecretIgnoresEverything(t *testing.T) {
	pipeline := &fakePipeline{}
	router := newTestRouter("", false, pipeline)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(completedEventBody(t)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), statusIgnored)
	assert.Empty(t, pipeline.calls)
}

func TestWebhookUnknownEventIgnored(t *testing.T) {
	pipeline := &fakePipeline{}
	router := newTestRouter(testSecret, false, pipeline)

	body := []byte(`{"event":"meeting.started","payload":{}}`)
	w := postSigned(t, router, testSecret, body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), statusIgnored)
	assert.Empty(t, pipeline.calls)
}

func TestWebhookUndecodableBodyIgnored(t *testing.T) {
	pipeline := &fakePipeline{}
	router := newTestRouter(testSecret, false, pipeline)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), statusIgnored)
	assert.Empty(t, pipeline.calls)
}
