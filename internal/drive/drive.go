// Package drive is the object-store client: resumable uploads with 308
// offset tracking, metadata probes, folder management and link permissions.
package drive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/aulacast/aulacast/internal/backoff"
	"github.com/aulacast/aulacast/internal/utils"
	"github.com/aulacast/aulacast/internal/version"
	"github.com/imroc/req/v3"
)

var userAgent = fmt.Sprintf("%s/%s (%s; %s)", version.AppName, version.Version, runtime.GOOS, runtime.GOARCH)

// permissionPolicy retries permission grants independently of the upload:
// a public link that shows up late beats a failed pipeline.
var permissionPolicy = backoff.Policy{
	Base:     time.Second,
	Max:      30 * time.Second,
	Attempts: 5,
}

// Client talks to the object store's metadata API and resumable upload
// endpoint.
type Client struct {
	cfg    *Config
	http   *req.Client
	chunks *http.Client
	tokens *tokenSource
}

func New(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := req.C().
		SetBaseURL(cfg.APIURL).
		SetTimeout(60 * time.Second).
		SetUserAgent(userAgent).
		SetJsonMarshal(utils.JSONMarshal).
		SetJsonUnmarshal(utils.JSONUnmarshal).
		SetCommonErrorResult(&APIError{})

	// The token endpoint lives on a different host, so it gets its own bare client.
	authClient := req.C().
		SetTimeout(30 * time.Second).
		SetUserAgent(userAgent).
		SetJsonMarshal(utils.JSONMarshal).
		SetJsonUnmarshal(utils.JSONUnmarshal).
		SetCommonErrorResult(&APIError{})

	tokens, err := newTokenSource(cfg, authClient)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:    cfg,
		http:   client,
		chunks: &http.Client{},
		tokens: tokens,
	}, nil
}

// RootFolderID returns the configured archive root.
func (c *Client) RootFolderID() string {
	return c.cfg.RootFolderID
}

// GetFile fetches the metadata projection for a file id.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var file File
	resp, err := c.http.R().
		SetContext(ctx).
		SetBearerAuthToken(token).
		SetPathParam("fileId", fileID).
		SetQueryParam("fields", fileFields).
		SetSuccessResult(&file).
		Get("/files/{fileId}")

	if err := handleAPIError(resp, err, "get file"); err != nil {
		return nil, err
	}

	return &file, nil
}

// FindByRecordingID looks up an artifact by its externalRecordingId tag.
// Used as the idempotency probe before starting an upload.
func (c *Client) FindByRecordingID(ctx context.Context, recordingID string) (*File, bool, error) {
	query := fmt.Sprintf("appProperties has { key='%s' and value='%s' } and trashed=false", PropRecordingID, escapeQuery(recordingID))
	files, err := c.listFiles(ctx, query)
	if err != nil {
		return nil, false, err
	}
	if len(files) == 0 {
		return nil, false, nil
	}
	return &files[0], true, nil
}

// EnsureFolder returns the id of the named child folder under parentID,
// creating it when absent.
func (c *Client) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	query := fmt.Sprintf("name='%s' and '%s' in parents and mimeType='%s' and trashed=false",
		escapeQuery(name), escapeQuery(parentID), folderMimeType)

	files, err := c.listFiles(ctx, query)
	if err != nil {
		return "", err
	}
	if len(files) > 0 {
		return files[0].ID, nil
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	var created File
	resp, err := c.http.R().
		SetContext(ctx).
		SetBearerAuthToken(token).
		SetBody(&createFileRequest{
			Name:     name,
			MimeType: folderMimeType,
			Parents:  []string{parentID},
		}).
		SetSuccessResult(&created).
		Post("/files")

	if err := handleAPIError(resp, err, "create folder"); err != nil {
		return "", err
	}

	slog.Info("drive: folder created", "name", name, "id", created.ID, "parent", parentID)
	return created.ID, nil
}

// GrantAnyoneReader makes the file readable by anyone with the link. The
// grant retries on its own schedule and a terminal failure is reported to
// the caller, who logs it and moves on.
func (c *Client) GrantAnyoneReader(ctx context.Context, fileID string) error {
	return permissionPolicy.Retry(ctx, "drive:permission", func(ctx context.Context) error {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetBearerAuthToken(token).
			SetPathParam("fileId", fileID).
			SetBody(&permissionRequest{Role: "reader", Type: "anyone"}).
			Post("/files/{fileId}/permissions")

		return handleAPIError(resp, err, "grant permission")
	})
}

const (
	previewWaitBudget   = 120 * time.Second
	previewPollInterval = 10 * time.Second
)

// WaitForPreview polls metadata until the store reports the video as
// playable, for at most two minutes. Best effort: a false return means the
// preview is still cooking, not that the upload failed.
func (c *Client) WaitForPreview(ctx context.Context, fileID string) bool {
	deadline := time.Now().Add(previewWaitBudget)

	for {
		meta, err := c.GetFile(ctx, fileID)
		if err != nil {
			slog.Warn("drive: preview poll failed", "file", fileID, "error", err)
		} else if meta.PreviewReady() {
			return true
		}

		if time.Now().After(deadline) {
			slog.Info("drive: preview not ready, moving on", "file", fileID)
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(previewPollInterval):
		}
	}
}

// WakeThumbnail issues a passive probe against the preview endpoint. The
// viewer starts transcoding stalled videos when someone knocks.
func (c *Client) WakeThumbnail(ctx context.Context, fileID string) error {
	previewURL := PreviewURL(c.cfg.ViewerURL, fileID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, previewURL, nil)
	if err != nil {
		return fmt.Errorf("wake thumbnail: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.chunks.Do(httpReq)
	if err != nil {
		return fmt.Errorf("wake thumbnail: %w", err)
	}
	_ = resp.Body.Close()

	slog.Debug("drive: preview probe", "file", fileID, "status", resp.StatusCode)
	return nil
}

func (c *Client) listFiles(ctx context.Context, query string) ([]File, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var list fileList
	resp, err := c.http.R().
		SetContext(ctx).
		SetBearerAuthToken(token).
		SetQueryParams(map[string]string{
			"q":        query,
			"fields":   "files(" + fileFields + ")",
			"pageSize": "10",
		}).
		SetSuccessResult(&list).
		Get("/files")

	if err := handleAPIError(resp, err, "list files"); err != nil {
		return nil, err
	}

	return list.Files, nil
}

// escapeQuery escapes single quotes inside a metadata query literal.
func escapeQuery(s string) string {
	return strings.ReplaceAll(s, `'`, `\'`)
}
