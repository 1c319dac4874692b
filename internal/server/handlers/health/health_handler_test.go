package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping() error { return f.err }

type fakeCounter struct {
	n   int
	err error
}

func (f *fakeCounter) InUseCount() (int, error) { return f.n, f.err }

func serve(t *testing.T, h *HealthHandler) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", h.Handle)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHealthOK(t *testing.T) {
	h := New(&fakePinger{}, &fakeCounter{n: 3}, t.TempDir())

	w, body := serve(t, h)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["licensesInUse"])
	assert.Contains(t, body, "diskFreeBytes")
}

func TestHealthDegradedOnDBError(t *testing.T) {
	h := New(&fakePinger{err: errors.New("locked")}, &fakeCounter{}, t.TempDir())

	w, body := serve(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "locked", body["db"])
}

func TestHealthLicenseCountErrorOmitted(t *testing.T) {
	h := New(&fakePinger{}, &fakeCounter{err: errors.New("boom")}, t.TempDir())

	w, body := serve(t, h)
	assert.Equal(t, http.StatusOK, w.Code, "license counting is best effort")
	assert.NotContains(t, body, "licensesInUse")
}
