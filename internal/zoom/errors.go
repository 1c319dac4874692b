package zoom

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	ErrNoWebhookSecret = errors.New("zoom: webhook secret missing")
	ErrTokenExchange   = errors.New("zoom: token exchange failed")
)

// APIError is the provider's error body: {"code": 3301, "message": "..."}.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zoom api error: %d - %s", e.Code, e.Message)
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
		return fmt.Errorf("zoom api error: %s: status %d: %s", operation, resp.GetStatusCode(), resp.String())
	}

	return nil
}

// IsAuthError reports whether the provider rejected our credentials, which
// warrants one forced token refresh before retrying.
func IsAuthError(statusCode int) bool {
	return statusCode == 401 || statusCode == 403
}
