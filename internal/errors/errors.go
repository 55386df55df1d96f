package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNetwork        = errors.New("network error")
	ErrHttp5xxStatus  = errors.New("http 5xx status error")
	ErrHttp4xxStatus  = errors.New("http 4xx status error")
	ErrAuthExpired    = errors.New("access token expired or invalid")
	ErrRefreshFailed  = errors.New("token refresh failed")
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrSuperseded     = errors.New("request superseded by a newer identical request")
)

// StatusError carries a failed response. Body is fully read and the
// original response body is closed.
type StatusError struct {
	StatusCode int
	Body       []byte
	kind       error
}

func NewStatusError(statusCode int, body []byte, kind error) *StatusError {
	return &StatusError{StatusCode: statusCode, Body: body, kind: kind}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.kind, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.kind
}
