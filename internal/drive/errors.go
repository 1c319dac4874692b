package drive

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	// ErrStuck308 marks a resumable session replying 308 without a Range
	// header five times in a row. The session is unrecoverable.
	ErrStuck308 = errors.New("drive: stuck-308, session keeps answering 308 without range")

	// ErrMissingChecksum means the store has no md5 for a file we just
	// uploaded. Treated as an incomplete upload.
	ErrMissingChecksum = errors.New("drive: remote metadata has no md5 checksum")

	// ErrIntegrityMismatch means remote md5 or size disagrees with the
	// local file.
	ErrIntegrityMismatch = errors.New("drive: remote file does not match local content")

	ErrTokenExchange = errors.New("drive: token exchange failed")
)

// APIError is the store's error envelope: {"error": {"code": 404, "message": "..."}}.
type APIError struct {
	Detail APIErrorDetail `json:"error"`
}

type APIErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("drive api error: %d - %s", e.Detail.Code, e.Detail.Message)
}

// handleAPIError is a helper function that handles the common error pattern
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s %w", operation, requestErr)
	}

	// got a response, but api returned an error
	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok {
			return fmt.Errorf("%s: %w", operation, apiErr)
		}
		return fmt.Errorf("drive api error: %s: status %d: %s", operation, resp.GetStatusCode(), resp.String())
	}

	return nil
}
