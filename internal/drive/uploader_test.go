package drive

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulacast/aulacast/internal/backoff"
)

// writeArtifact drops a deterministic file of n bytes into a temp dir.
func writeArtifact(t *testing.T, n int) (string, []byte) {
	t.Helper()
	content := make([]byte, n)
	for i := range content {
		content[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path, content
}

func TestUpload_ResumesAcrossChunks(t *testing.T) {
	const size = 300 * 1024
	path, content := writeArtifact(t, size)

	localMD5 := md5.Sum(content)

	var (
		srvURL   string
		received []byte
		ranges   []string
	)

	mux := http.NewServeMux()
	withToken(mux)

	mux.HandleFunc("POST /upload/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "resumable", r.URL.Query().Get("uploadType"))
		assert.Equal(t, fmt.Sprint(size), r.Header.Get("X-Upload-Content-Length"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"copyRequiresWriterPermission":true`)
		assert.Contains(t, string(body), `"externalRecordingId":"rec-1"`)

		w.Header().Set("Location", srvURL+"/session")
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("PUT /session", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		ranges = append(ranges, r.Header.Get("Content-Range"))

		// Accept only the first half of the opening chunk so the client
		// has to cut a fresh section from the middle of the file.
		if len(received) == 0 {
			received = append(received, body[:128*1024]...)
			w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", 128*1024-1))
			w.WriteHeader(statusResumeIncomplete)
			return
		}

		received = append(received, body...)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"fid-1","name":"clip.mp4"}`))
	})

	mux.HandleFunc("GET /files/{fileId}", func(w http.ResponseWriter, r *http.Request) {
		sum := md5.Sum(received)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"fid-1","name":"clip.mp4","size":"%d","md5Checksum":"%s","webViewLink":"https://viewer.test/file/d/fid-1/view"}`,
			len(received), hex.EncodeToString(sum[:]))
	})

	client, base := newTestClient(t, mux)
	srvURL = base

	result, err := client.Upload(context.Background(), &UploadParams{
		LocalPath: path,
		Name:      "clip.mp4",
		FolderID:  "folder-1",
		Props:     map[string]string{PropRecordingID: "rec-1"},
		ChunkSize: 256 * 1024,
	})
	require.NoError(t, err)

	assert.Equal(t, "fid-1", result.FileID)
	assert.Equal(t, "https://viewer.test/file/d/fid-1/view", result.ViewURL)
	assert.Equal(t, hex.EncodeToString(localMD5[:]), result.RemoteMD5)
	assert.Equal(t, int64(size), result.RemoteSize)

	assert.Equal(t, content, received, "resumed upload must reassemble the exact file")
	require.Len(t, ranges, 2)
	assert.Equal(t, fmt.Sprintf("bytes 0-%d/%d", 256*1024-1, size), ranges[0])
	assert.Equal(t, fmt.Sprintf("bytes %d-%d/%d", 128*1024, size-1, size), ranges[1])
}

func TestUpload_Stuck308(t *testing.T) {
	path, _ := writeArtifact(t, 64*1024)

	var srvURL string
	var puts atomic.Int32

	mux := http.NewServeMux()
	withToken(mux)
	mux.HandleFunc("POST /upload/files", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", srvURL+"/session")
	})
	mux.HandleFunc("PUT /session", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		puts.Add(1)
		w.WriteHeader(statusResumeIncomplete)
	})

	client, base := newTestClient(t, mux)
	srvURL = base

	_, err := client.Upload(context.Background(), &UploadParams{
		LocalPath: path,
		Name:      "clip.mp4",
		FolderID:  "folder-1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStuck308)
	assert.True(t, backoff.IsPermanent(err))
	assert.Equal(t, int32(5), puts.Load())
}

// fastChunkPolicy keeps in-session chunk retries from sleeping in tests.
func fastChunkPolicy(t *testing.T) {
	t.Helper()
	old := chunkPolicy
	chunkPolicy = backoff.Policy{Base: time.Millisecond, Max: time.Millisecond, Attempts: 2}
	t.Cleanup(func() { chunkPolicy = old })
}

func TestUpload_ServerErrorIsRetriable(t *testing.T) {
	fastChunkPolicy(t)
	path, _ := writeArtifact(t, 4*1024)

	var srvURL string
	mux := http.NewServeMux()
	withToken(mux)
	mux.HandleFunc("POST /upload/files", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", srvURL+"/session")
	})
	mux.HandleFunc("PUT /session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	client, base := newTestClient(t, mux)
	srvURL = base

	_, err := client.Upload(context.Background(), &UploadParams{
		LocalPath: path,
		Name:      "clip.mp4",
		FolderID:  "folder-1",
	})
	require.Error(t, err)
	assert.False(t, backoff.IsPermanent(err), "a dead session must bubble to the retry policy")
}

func TestUpload_TransientChunkErrorRetriesInSession(t *testing.T) {
	fastChunkPolicy(t)

	const size = 256 * 1024
	const confirmed = 128 * 1024
	path, content := writeArtifact(t, size)

	var (
		srvURL   string
		sessions atomic.Int32
		faulted  bool
		received []byte
		ranges   []string
	)

	mux := http.NewServeMux()
	withToken(mux)
	mux.HandleFunc("POST /upload/files", func(w http.ResponseWriter, r *http.Request) {
		sessions.Add(1)
		w.Header().Set("Location", srvURL+"/session")
	})
	mux.HandleFunc("PUT /session", func(w http.ResponseWriter, r *http.Request) {
		contentRange := r.Header.Get("Content-Range")
		ranges = append(ranges, contentRange)

		// Status query: report what landed before the fault.
		if strings.HasPrefix(contentRange, "bytes */") {
			w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", len(received)-1))
			w.WriteHeader(statusResumeIncomplete)
			return
		}

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		// Take half the first chunk, then drop the connection's worth of
		// goodwill with a 503.
		if !faulted {
			faulted = true
			received = append(received, body[:confirmed]...)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		received = append(received, body...)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"fid-9","name":"clip.mp4"}`))
	})
	mux.HandleFunc("GET /files/{fileId}", func(w http.ResponseWriter, r *http.Request) {
		sum := md5.Sum(received)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"fid-9","name":"clip.mp4","size":"%d","md5Checksum":"%s","webViewLink":"https://viewer.test/file/d/fid-9/view"}`,
			len(received), hex.EncodeToString(sum[:]))
	})

	client, base := newTestClient(t, mux)
	srvURL = base

	result, err := client.Upload(context.Background(), &UploadParams{
		LocalPath: path,
		Name:      "clip.mp4",
		FolderID:  "folder-1",
		ChunkSize: 256 * 1024,
	})
	require.NoError(t, err)
	assert.Equal(t, "fid-9", result.FileID)

	assert.Equal(t, int32(1), sessions.Load(), "the session survives the transient chunk failure")
	assert.Equal(t, content, received, "confirmed bytes are never resent")
	require.Len(t, ranges, 3)
	assert.Equal(t, fmt.Sprintf("bytes 0-%d/%d", size-1, size), ranges[0])
	assert.Equal(t, fmt.Sprintf("bytes */%d", size), ranges[1])
	assert.Equal(t, fmt.Sprintf("bytes %d-%d/%d", confirmed, size-1, size), ranges[2])
}

func TestUpload_ClientErrorIsFatal(t *testing.T) {
	path, _ := writeArtifact(t, 4*1024)

	var srvURL string
	mux := http.NewServeMux()
	withToken(mux)
	mux.HandleFunc("POST /upload/files", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", srvURL+"/session")
	})
	mux.HandleFunc("PUT /session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	client, base := newTestClient(t, mux)
	srvURL = base

	_, err := client.Upload(context.Background(), &UploadParams{
		LocalPath: path,
		Name:      "clip.mp4",
		FolderID:  "folder-1",
	})
	require.Error(t, err)
	assert.True(t, backoff.IsPermanent(err))
}

func TestUpload_IntegrityMismatch(t *testing.T) {
	path, _ := writeArtifact(t, 4*1024)

	var srvURL string
	mux := http.NewServeMux()
	withToken(mux)
	mux.HandleFunc("POST /upload/files", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", srvURL+"/session")
	})
	mux.HandleFunc("PUT /session", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"fid-1"}`))
	})
	mux.HandleFunc("GET /files/{fileId}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"fid-1","size":"4096","md5Checksum":"deadbeefdeadbeefdeadbeefdeadbeef"}`))
	})

	client, base := newTestClient(t, mux)
	srvURL = base

	_, err := client.Upload(context.Background(), &UploadParams{
		LocalPath: path,
		Name:      "clip.mp4",
		FolderID:  "folder-1",
	})
	require.ErrorIs(t, err, ErrIntegrityMismatch)
}

func TestUpload_MissingChecksum(t *testing.T) {
	path, _ := writeArtifact(t, 4*1024)

	var srvURL string
	mux := http.NewServeMux()
	withToken(mux)
	mux.HandleFunc("POST /upload/files", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", srvURL+"/session")
	})
	mux.HandleFunc("PUT /session", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"fid-1"}`))
	})
	mux.HandleFunc("GET /files/{fileId}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"fid-1","size":"4096"}`))
	})

	client, base := newTestClient(t, mux)
	srvURL = base

	_, err := client.Upload(context.Background(), &UploadParams{
		LocalPath: path,
		Name:      "clip.mp4",
		FolderID:  "folder-1",
	})
	require.ErrorIs(t, err, ErrMissingChecksum)
}

func TestUpload_RefusesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mp4")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	mux := http.NewServeMux()
	withToken(mux)
	client, _ := newTestClient(t, mux)

	_, err := client.Upload(context.Background(), &UploadParams{
		LocalPath: path,
		Name:      "empty.mp4",
		FolderID:  "folder-1",
	})
	require.Error(t, err)
	assert.True(t, backoff.IsPermanent(err))
}

func TestUploadParams_ChunkAlignment(t *testing.T) {
	p := &UploadParams{LocalPath: "x", Name: "n", FolderID: "f", ChunkSize: 300000}
	require.NoError(t, p.validate())
	assert.Zero(t, p.ChunkSize%chunkGranularity)
	assert.GreaterOrEqual(t, p.ChunkSize, int64(300000))

	p = &UploadParams{LocalPath: "x", Name: "n", FolderID: "f"}
	require.NoError(t, p.validate())
	assert.Equal(t, DefaultChunkSize, p.ChunkSize)
}

func TestParseRangeEnd(t *testing.T) {
	tests := []struct {
		header string
		end    int64
		ok     bool
	}{
		{"bytes=0-33554431", 33554431, true},
		{"bytes=0-0", 0, true},
		{"", -1, false},
		{"bytes", -1, false},
		{"bytes=0-junk", -1, false},
	}

	for _, tc := range tests {
		end, ok := parseRangeEnd(tc.header)
		assert.Equal(t, tc.ok, ok, tc.header)
		assert.Equal(t, tc.end, end, tc.header)
	}
}

func TestVerifyUpload_SizeTolerance(t *testing.T) {
	meta := &File{ID: "f", MD5Checksum: "abc", Size: 1000 + sizeTolerance}
	assert.NoError(t, verifyUpload(meta, "abc", 1000))

	meta.Size = 1000 + sizeTolerance + 1
	err := verifyUpload(meta, "abc", 1000)
	assert.ErrorIs(t, err, ErrIntegrityMismatch)
}
