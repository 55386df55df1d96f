package sessionhttp

import (
	"errors"

	local_errors "github.com/RassulYunussov/sessionhttp/internal/errors"
	"github.com/sony/gobreaker/v2"
)

// StatusError is returned for every response with status >= 400. Its body
// is fully read.
type StatusError = local_errors.StatusError

var (
	// ErrNetwork: no response was received, retried for idempotent calls.
	ErrNetwork = local_errors.ErrNetwork
	// ErrCancelled: a newer identical GET superseded the call. Treat it as a
	// silent no-op.
	ErrCancelled = local_errors.ErrSuperseded
)

func IsNetworkError(err error) bool {
	return errors.Is(err, local_errors.ErrNetwork)
}

func IsHttp5xxStatusError(err error) bool {
	return errors.Is(err, local_errors.ErrHttp5xxStatus)
}

// IsClientError reports a 4xx other than a rejected access token.
func IsClientError(err error) bool {
	return errors.Is(err, local_errors.ErrHttp4xxStatus)
}

// IsAuthExpiredError reports a rejected access token that could not be
// refreshed, see Client.AuthBlocked.
func IsAuthExpiredError(err error) bool {
	return errors.Is(err, local_errors.ErrAuthExpired)
}

func IsCancelledError(err error) bool {
	return errors.Is(err, local_errors.ErrSuperseded)
}

func IsCircuitBreakerError(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// StatusCode of a StatusError, 0 for any other error.
func StatusCode(err error) int {
	var statusError *StatusError
	if errors.As(err, &statusError) {
		return statusError.StatusCode
	}
	return 0
}
