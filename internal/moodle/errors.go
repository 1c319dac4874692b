package moodle

import (
	"fmt"

	"github.com/aulacast/aulacast/internal/utils"
)

// WSError is the LMS's in-band failure shape, delivered with HTTP 200:
// {"exception": "...", "errorcode": "...", "message": "..."}.
type WSError struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

func (e *WSError) Error() string {
	return fmt.Sprintf("lms error: %s - %s", e.ErrorCode, e.Message)
}

// parseWSError returns a *WSError when the body carries one, nil otherwise.
func parseWSError(body []byte) *WSError {
	var wsErr WSError
	if err := utils.JSONUnmarshal(body, &wsErr); err != nil {
		// Array responses and scalars won't decode into the struct. Not an error body.
		return nil
	}
	if wsErr.Exception == "" && wsErr.ErrorCode == "" {
		return nil
	}
	return &wsErr
}
