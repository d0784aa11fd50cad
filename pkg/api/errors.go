package api

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when the server rejects the credential.
// It is never retried locally; callers are expected to invalidate the
// session and send the user back to login.
var ErrUnauthorized = errors.New("unauthorized")

// RequestError is any transport or application failure other than an
// authorization rejection. StatusCode is 0 when the request never got
// an HTTP response.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("request failed: %s", e.Message)
	}
	return fmt.Sprintf("request failed: HTTP %d: %s", e.StatusCode, e.Message)
}
