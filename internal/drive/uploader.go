package drive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aulacast/aulacast/internal/backoff"
	"github.com/aulacast/aulacast/internal/utils"
	"github.com/dustin/go-humanize"
)

const (
	// DefaultChunkSize is the upload chunk size when none is configured.
	DefaultChunkSize = int64(32 * 1024 * 1024)

	// chunkGranularity is the alignment the upload endpoint demands for
	// every chunk except the last.
	chunkGranularity = int64(256 * 1024)

	// maxStuck308 bounds consecutive 308 responses without a Range header
	// before the session is declared dead.
	maxStuck308 = 5

	// sizeTolerance allows the remote size to drift from the local file by
	// up to this many bytes after server-side processing.
	sizeTolerance = int64(1024)

	statusResumeIncomplete = 308
)

// chunkPolicy retries a rejected chunk PUT against the live session so a
// transient 429/5xx does not throw away confirmed progress by forcing a
// fresh session from offset zero.
var chunkPolicy = backoff.Policy{
	Base:     2 * time.Second,
	Max:      30 * time.Second,
	Attempts: 4,
}

// UploadParams describes one artifact upload.
type UploadParams struct {
	LocalPath string
	Name      string
	FolderID  string

	// Props are stamped as app properties for idempotent lookup.
	Props map[string]string

	// ChunkSize overrides DefaultChunkSize. Rounded up to the endpoint's
	// 256 KiB granularity.
	ChunkSize int64

	// ChunkTimeout bounds each chunk PUT. Zero means no ceiling.
	ChunkTimeout time.Duration
}

func (p *UploadParams) validate() error {
	if p.LocalPath == "" {
		return fmt.Errorf("drive: upload local path is required")
	}
	if p.Name == "" {
		return fmt.Errorf("drive: upload name is required")
	}
	if p.FolderID == "" {
		return fmt.Errorf("drive: upload folder id is required")
	}
	if p.ChunkSize <= 0 {
		p.ChunkSize = DefaultChunkSize
	}
	if rem := p.ChunkSize % chunkGranularity; rem != 0 {
		p.ChunkSize += chunkGranularity - rem
	}
	return nil
}

// UploadResult reports where the artifact landed and what the store says
// about its content.
type UploadResult struct {
	FileID     string
	ViewURL    string
	RemoteMD5  string
	RemoteSize int64
}

// Upload pushes a local file through a resumable session and verifies the
// stored copy against the local bytes. Transient failures surface as plain
// errors for the caller's retry policy; protocol dead-ends come back marked
// permanent.
func (c *Client) Upload(ctx context.Context, params *UploadParams) (*UploadResult, error) {
	if err := params.validate(); err != nil {
		return nil, backoff.Permanent(err)
	}

	info, err := os.Stat(params.LocalPath)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("drive: stat upload source: %w", err))
	}
	size := info.Size()
	if size == 0 {
		return nil, backoff.Permanent(fmt.Errorf("drive: refusing to upload empty file %s", params.LocalPath))
	}

	localMD5, err := utils.FileHash(params.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("drive: hash upload source: %w", err)
	}

	sessionURL, err := c.initiateSession(ctx, params, size)
	if err != nil {
		return nil, err
	}

	slog.Info("upload: session started", "name", params.Name, "size", humanize.Bytes(uint64(size)), "chunk", humanize.Bytes(uint64(params.ChunkSize)))

	meta, err := c.uploadChunks(ctx, sessionURL, params, size)
	if err != nil {
		return nil, err
	}

	// The session response carries a partial projection. Probe the real
	// metadata before trusting the copy.
	meta, err = c.GetFile(ctx, meta.ID)
	if err != nil {
		return nil, fmt.Errorf("drive: post-upload probe: %w", err)
	}

	if err := verifyUpload(meta, localMD5, size); err != nil {
		return nil, err
	}

	viewURL := meta.WebViewLink
	if viewURL == "" {
		viewURL = ViewURL(c.cfg.ViewerURL, meta.ID)
	}

	slog.Info("upload: verified", "name", params.Name, "file", meta.ID, "md5", meta.MD5Checksum)

	return &UploadResult{
		FileID:     meta.ID,
		ViewURL:    viewURL,
		RemoteMD5:  meta.MD5Checksum,
		RemoteSize: meta.Size,
	}, nil
}

// initiateSession opens a resumable session and returns its URL.
func (c *Client) initiateSession(ctx context.Context, params *UploadParams, size int64) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBearerAuthToken(token).
		SetHeader("X-Upload-Content-Type", videoMimeType).
		SetHeader("X-Upload-Content-Length", strconv.FormatInt(size, 10)).
		SetQueryParam("uploadType", "resumable").
		SetQueryParam("fields", fileFields).
		SetBody(&createFileRequest{
			Name:                         params.Name,
			Parents:                      []string{params.FolderID},
			AppProperties:                params.Props,
			CopyRequiresWriterPermission: true,
		}).
		Post(c.cfg.UploadURL + "/files")

	if err := handleAPIError(resp, err, "initiate upload"); err != nil {
		return "", err
	}

	sessionURL := resp.Header.Get("Location")
	if sessionURL == "" {
		return "", fmt.Errorf("drive: initiate upload: no session url in response")
	}
	return sessionURL, nil
}

// uploadChunks streams the file through the session until the endpoint
// reports completion. Every attempt reads a fresh byte range from the file;
// a consumed reader re-sent on retry would ship zero bytes.
func (c *Client) uploadChunks(ctx context.Context, sessionURL string, params *UploadParams, size int64) (*File, error) {
	file, err := os.Open(params.LocalPath)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("drive: open upload source: %w", err))
	}
	defer file.Close()

	var offset int64
	stuck := 0
	faults := 0

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if offset >= size {
			// Every byte was confirmed but the endpoint never finalized.
			return nil, fmt.Errorf("drive: session ended without completion at offset %d", offset)
		}

		chunkLen := min(params.ChunkSize, size-offset)
		section := io.NewSectionReader(file, offset, chunkLen)

		status, rangeEnd, meta, err := c.putChunk(ctx, sessionURL, section, offset, chunkLen, size, params.ChunkTimeout)
		if err != nil {
			if backoff.IsPermanent(err) {
				return nil, err
			}
			faults++
			if faults >= chunkPolicy.Attempts {
				return nil, fmt.Errorf("drive: chunk retries exhausted at offset %d: %w", offset, err)
			}
			delay := chunkPolicy.Delay(faults - 1)
			slog.Warn("upload: chunk failed, retrying in session", "name", params.Name, "offset", offset, "fault", faults, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			// The endpoint may have confirmed part of the failed chunk.
			next, done, probeErr := c.probeSession(ctx, sessionURL, size)
			switch {
			case probeErr != nil:
				slog.Warn("upload: session probe failed", "name", params.Name, "error", probeErr)
			case done != nil:
				return done, nil
			case next >= 0:
				offset = next
			}
			continue
		}
		faults = 0

		switch {
		case status == statusResumeIncomplete && rangeEnd >= 0:
			offset = rangeEnd + 1
			stuck = 0
			slog.Debug("upload: chunk accepted", "name", params.Name, "offset", offset, "total", size)

		case status == statusResumeIncomplete:
			stuck++
			slog.Warn("upload: 308 without range", "name", params.Name, "offset", offset, "consecutive", stuck)
			if stuck >= maxStuck308 {
				return nil, backoff.Permanent(fmt.Errorf("%w: offset %d", ErrStuck308, offset))
			}

		default:
			return meta, nil
		}
	}
}

// putChunk sends one Content-Range chunk. It returns the response status,
// the confirmed range end (-1 when the endpoint sent none) and, on
// completion, the parsed file resource.
func (c *Client) putChunk(ctx context.Context, sessionURL string, section *io.SectionReader, offset, chunkLen, total int64, timeout time.Duration) (int, int64, *File, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, -1, nil, err
	}

	putCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		putCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(putCtx, http.MethodPut, sessionURL, section)
	if err != nil {
		return 0, -1, nil, fmt.Errorf("drive: build chunk request: %w", err)
	}
	httpReq.ContentLength = chunkLen
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", videoMimeType)
	httpReq.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+chunkLen-1, total))

	resp, err := c.chunks.Do(httpReq)
	if err != nil {
		return 0, -1, nil, fmt.Errorf("drive: chunk put: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == statusResumeIncomplete:
		rangeEnd, ok := parseRangeEnd(resp.Header.Get("Range"))
		if !ok {
			return resp.StatusCode, -1, nil, nil
		}
		return resp.StatusCode, rangeEnd, nil, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, -1, nil, fmt.Errorf("drive: read completion body: %w", err)
		}
		var meta File
		if err := utils.JSONUnmarshal(body, &meta); err != nil {
			return resp.StatusCode, -1, nil, fmt.Errorf("drive: decode completion body: %w", err)
		}
		return resp.StatusCode, -1, &meta, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return resp.StatusCode, -1, nil, fmt.Errorf("drive: chunk rejected with status %d", resp.StatusCode)

	default:
		return resp.StatusCode, -1, nil, backoff.Permanent(fmt.Errorf("drive: chunk rejected with status %d", resp.StatusCode))
	}
}

// probeSession asks the session which bytes it has confirmed, via an
// empty PUT with an indeterminate Content-Range. It returns the next
// offset to send from (-1 when the endpoint reported none), or the file
// resource when the upload already completed.
func (c *Client) probeSession(ctx context.Context, sessionURL string, total int64) (int64, *File, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return -1, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, nil)
	if err != nil {
		return -1, nil, fmt.Errorf("drive: build probe request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", total))

	resp, err := c.chunks.Do(httpReq)
	if err != nil {
		return -1, nil, fmt.Errorf("drive: session probe: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == statusResumeIncomplete:
		if end, ok := parseRangeEnd(resp.Header.Get("Range")); ok {
			return end + 1, nil, nil
		}
		return -1, nil, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return -1, nil, fmt.Errorf("drive: read probe body: %w", err)
		}
		var meta File
		if err := utils.JSONUnmarshal(body, &meta); err != nil {
			return -1, nil, fmt.Errorf("drive: decode probe body: %w", err)
		}
		return -1, &meta, nil

	default:
		return -1, nil, fmt.Errorf("drive: session probe status %d", resp.StatusCode)
	}
}

// parseRangeEnd extracts K from a "bytes=0-K" confirmation header.
func parseRangeEnd(header string) (int64, bool) {
	if header == "" {
		return -1, false
	}
	_, after, found := strings.Cut(header, "-")
	if !found {
		return -1, false
	}
	end, err := strconv.ParseInt(after, 10, 64)
	if err != nil {
		return -1, false
	}
	return end, true
}

// verifyUpload compares the stored copy against the local content.
func verifyUpload(meta *File, localMD5 string, localSize int64) error {
	if meta.MD5Checksum == "" {
		return fmt.Errorf("%w: file %s", ErrMissingChecksum, meta.ID)
	}
	if !strings.EqualFold(meta.MD5Checksum, localMD5) {
		return fmt.Errorf("%w: md5 %s != %s", ErrIntegrityMismatch, meta.MD5Checksum, localMD5)
	}
	if diff := meta.Size - localSize; diff > sizeTolerance || diff < -sizeTolerance {
		return fmt.Errorf("%w: size %d != %d", ErrIntegrityMismatch, meta.Size, localSize)
	}
	return nil
}
