package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/aulacast/aulacast/internal/backoff"
	"github.com/aulacast/aulacast/internal/utils"
)

const (
	// DefaultMinArtifactSize is the validation floor: anything smaller is
	// either a placeholder or an error page.
	DefaultMinArtifactSize = int64(1024 * 1024)

	// warmupPause is how long to wait before the second HEAD when the
	// provider says the artifact is not ready yet.
	warmupPause = 30 * time.Second
)

// TokenSource hands out bearer tokens for download requests. The provider
// client implements it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshAccessToken(ctx context.Context) (string, error)
}

// Downloader fetches provider artifacts to disk with range resume and
// content validation.
type Downloader struct {
	http    *http.Client
	tokens  TokenSource
	minSize int64
	policy  backoff.Policy

	// pause is the warmup sleep, overridable in tests.
	pause time.Duration
}

// NewDownloader builds a downloader on a pooled keep-alive client.
// minSize 0 selects DefaultMinArtifactSize.
func NewDownloader(tokens TokenSource, minSize int64, policy backoff.Policy) *Downloader {
	if minSize <= 0 {
		minSize = DefaultMinArtifactSize
	}
	return &Downloader{
		http:    &http.Client{},
		tokens:  tokens,
		minSize: minSize,
		policy:  policy,
		pause:   warmupPause,
	}
}

// DownloadParams describes one artifact fetch.
type DownloadParams struct {
	URL      string
	DestPath string

	// DownloadToken is the single-use token from the webhook payload,
	// passed as a query parameter on the first attempt only. Later
	// attempts fall back to a refreshed bearer token.
	DownloadToken string

	// ExpectedSize is the provider-reported file size. A mismatch is
	// logged, not failed; the provider revises sizes during processing.
	ExpectedSize int64

	// Timeout bounds each attempt. Zero means no ceiling.
	Timeout time.Duration
}

// DownloadInfo reports what landed on disk.
type DownloadInfo struct {
	ContentType string
	Size        int64
}

// Download fetches the artifact with retries. Partial files are kept
// between attempts and resumed with a Range request; invalid partials are
// deleted before the next attempt.
func (d *Downloader) Download(ctx context.Context, params *DownloadParams) (*DownloadInfo, error) {
	if err := utils.EnsureParent(params.DestPath); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("download: ensure dest dir: %w", err))
	}
	if !strings.HasSuffix(params.DestPath, ".mp4") {
		return nil, backoff.Permanent(fmt.Errorf("%w: dest %q is not an mp4 path", ErrInvalidArtifact, params.DestPath))
	}

	var info *DownloadInfo
	attempt := 0

	err := d.policy.Retry(ctx, "download", func(ctx context.Context) error {
		var err error
		info, err = d.attempt(ctx, params, attempt)
		attempt++
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// attempt runs one warmup + fetch + validate round.
func (d *Downloader) attempt(ctx context.Context, params *DownloadParams, attempt int) (*DownloadInfo, error) {
	if params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	auth, err := d.authFor(ctx, params, attempt)
	if err != nil {
		return nil, err
	}

	if err := d.warmup(ctx, params.URL, auth); err != nil {
		return nil, err
	}

	contentType, err := d.fetch(ctx, params, auth)
	if err != nil {
		return nil, err
	}

	return d.validate(params, contentType)
}

// authMode is how one attempt authenticates against the download host.
type authMode struct {
	queryToken  string
	bearerToken string
}

func (a *authMode) apply(req *http.Request) {
	if a.queryToken != "" {
		q := req.URL.Query()
		q.Set("access_token", a.queryToken)
		req.URL.RawQuery = q.Encode()
		return
	}
	req.Header.Set("Authorization", "Bearer "+a.bearerToken)
}

// authFor prefers the webhook's single-use token on the first attempt and a
// fresh bearer token afterwards.
func (d *Downloader) authFor(ctx context.Context, params *DownloadParams, attempt int) (*authMode, error) {
	if attempt == 0 && params.DownloadToken != "" {
		return &authMode{queryToken: params.DownloadToken}, nil
	}
	token, err := d.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("download: bearer token: %w", err)
	}
	return &authMode{bearerToken: token}, nil
}

// warmup probes the URL with HEAD before committing to a body transfer.
// A not-ready status gets one 30 s grace pause and a second probe.
func (d *Downloader) warmup(ctx context.Context, url string, auth *authMode) error {
	status, length, err := d.head(ctx, url, auth)
	if err != nil {
		return err
	}

	if isNotReadyStatus(status) {
		slog.Info("download: artifact not ready, pausing before re-probe", "status", status, "pause", d.pause)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.pause):
		}

		status, length, err = d.head(ctx, url, auth)
		if err != nil {
			return err
		}
		if isNotReadyStatus(status) {
			return fmt.Errorf("%w: head status %d", ErrNotReady, status)
		}
	}

	// The provider serves a tiny placeholder while the real file is still
	// being assembled.
	if length > 0 && length < d.minSize {
		return fmt.Errorf("%w: head reports %s, below floor %s",
			ErrNotReady, humanize.Bytes(uint64(length)), humanize.Bytes(uint64(d.minSize)))
	}

	return nil
}

func (d *Downloader) head(ctx context.Context, url string, auth *authMode) (status int, contentLength int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("download: build head request: %w", err)
	}
	auth.apply(req)

	resp, err := d.http.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("download: head: %w", err)
	}
	_ = resp.Body.Close()

	return resp.StatusCode, resp.ContentLength, nil
}

func isNotReadyStatus(status int) bool {
	return status == http.StatusNotFound ||
		status == http.StatusConflict ||
		status == http.StatusTooEarly
}

// fetch streams the body to disk, resuming from the current partial when
// the server honors the Range request.
func (d *Downloader) fetch(ctx context.Context, params *DownloadParams, auth *authMode) (string, error) {
	var offset int64
	if info, err := os.Stat(params.DestPath); err == nil && info.Size() > 0 {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
	if err != nil {
		return "", fmt.Errorf("download: build request: %w", err)
	}
	auth.apply(req)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: get: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		// Keep the partial, append the rest.

	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			slog.Warn("download: server ignored range, restarting from zero", "url", params.URL, "had", offset)
			offset = 0
		}

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		// The partial is already the whole file. Without a reported size a
		// non-empty local file is the best evidence available.
		if size, sErr := utils.FileSize(params.DestPath); sErr == nil && size > 0 &&
			(params.ExpectedSize <= 0 || size >= params.ExpectedSize) {
			return resp.Header.Get("Content-Type"), nil
		}
		_ = os.Remove(params.DestPath)
		return "", fmt.Errorf("download: 416 with incomplete local file, partial discarded")

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return d.fetchAfterRefresh(ctx, params, offset)

	default:
		return "", fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}

	written, err := writeBody(params.DestPath, offset, resp.Body)
	if err != nil {
		return "", err
	}

	slog.Info("download: body received", "path", params.DestPath, "resumedAt", offset, "written", humanize.Bytes(uint64(written)))
	return resp.Header.Get("Content-Type"), nil
}

// fetchAfterRefresh retries the body transfer once with a forced token
// refresh. A second rejection fails the attempt.
func (d *Downloader) fetchAfterRefresh(ctx context.Context, params *DownloadParams, offset int64) (string, error) {
	slog.Warn("download: auth rejected, refreshing token", "url", params.URL)

	token, err := d.tokens.RefreshAccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("download: forced token refresh: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
	if err != nil {
		return "", fmt.Errorf("download: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: get: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		offset = 0
	default:
		return "", fmt.Errorf("download: status %d after token refresh", resp.StatusCode)
	}

	written, err := writeBody(params.DestPath, offset, resp.Body)
	if err != nil {
		return "", err
	}

	slog.Info("download: body received after refresh", "path", params.DestPath, "written", humanize.Bytes(uint64(written)))
	return resp.Header.Get("Content-Type"), nil
}

// writeBody streams the response to disk starting at offset. offset 0
// truncates; anything else appends.
func writeBody(destPath string, offset int64, body io.Reader) (int64, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(destPath, flags, 0o644)
	if err != nil {
		return 0, fmt.Errorf("download: open dest: %w", err)
	}

	written, err := io.Copy(file, body)
	if cErr := file.Close(); cErr != nil && err == nil {
		err = cErr
	}
	if err != nil {
		return written, fmt.Errorf("download: write body: %w", err)
	}
	return written, nil
}

// validate rejects error pages and truncated or placeholder files. Invalid
// partials are deleted so the next attempt starts clean.
func (d *Downloader) validate(params *DownloadParams, contentType string) (*DownloadInfo, error) {
	size, err := utils.FileSize(params.DestPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s missing after download: %v", ErrInvalidArtifact, params.DestPath, err)
	}

	if size == 0 || size < d.minSize {
		_ = os.Remove(params.DestPath)
		return nil, fmt.Errorf("%w: %s below floor %s", ErrInvalidArtifact,
			humanize.Bytes(uint64(size)), humanize.Bytes(uint64(d.minSize)))
	}

	if strings.Contains(strings.ToLower(contentType), "text/html") {
		_ = os.Remove(params.DestPath)
		return nil, fmt.Errorf("%w: server sent text/html, probably an error page", ErrInvalidArtifact)
	}

	if params.ExpectedSize > 0 && size != params.ExpectedSize {
		slog.Warn("download: size differs from provider report", "path", params.DestPath,
			"got", size, "expected", params.ExpectedSize)
	}

	return &DownloadInfo{ContentType: contentType, Size: size}, nil
}
