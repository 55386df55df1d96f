package resilient

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Attempt performs one try of a request. n is 0 for the first try.
type Attempt func(n int) (*http.Response, error)

// Observer is told about every scheduled retry before its backoff.
type Observer func(n int, delay time.Duration, resp *http.Response, err error)

// RetryPolicy re-issues idempotent requests that failed transiently.
// Retriable: network errors, per-attempt timeouts, http-5xx.
// Non-retriable: cancellation of the request context, open circuit breaker, non idempotent methods.
type RetryPolicy struct {
	base   time.Duration
	max    time.Duration
	jitter time.Duration
}

func CreateRetryPolicy(retryParameters *RetryParameters) *RetryPolicy {
	if retryParameters == nil {
		retryParameters = DefaultRetryParameters()
	}
	return &RetryPolicy{
		base:   retryParameters.BaseBackoff,
		max:    retryParameters.MaxBackoff,
		jitter: retryParameters.MaxJitter,
	}
}

// IsIdempotent reports whether method may be repeated without side effects.
func IsIdempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// IsTransient classifies the outcome of one attempt.
func IsTransient(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests)
	}
	return resp.StatusCode >= http.StatusInternalServerError
}

// Backoff is the delay before retry n: min(max, base*2^n + jitter).
func (p *RetryPolicy) Backoff(n int) time.Duration {
	delay := p.base
	// doubling stops at max, long before it could overflow
	for i := 0; i < n && delay < math.MaxInt64/2; i++ {
		if p.max > 0 && delay >= p.max {
			break
		}
		delay *= 2
	}
	if p.jitter > 0 && delay < math.MaxInt64-p.jitter {
		delay += time.Duration(rand.Int63n(int64(p.jitter)))
	}
	if p.max > 0 && delay > p.max {
		return p.max
	}
	return delay
}

// Do runs attempt, retrying up to maxRetry times while the outcome is
// transient. The final outcome is returned untouched, discarded responses
// are drained and closed. observe may be nil.
func (p *RetryPolicy) Do(ctx context.Context, method string, maxRetry int, attempt Attempt, observe Observer) (*http.Response, error) {
	if !IsIdempotent(method) {
		maxRetry = 0
	}
	for n := 0; ; n++ {
		resp, err := attempt(n)
		if n >= maxRetry || ctx.Err() != nil || !IsTransient(resp, err) {
			return resp, err
		}
		delay := p.Backoff(n)
		if observe != nil {
			observe(n+1, delay, resp, err)
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
