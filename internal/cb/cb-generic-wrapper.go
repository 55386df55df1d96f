package cb

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

type circuitBreaker[T any, V any] struct {
	*gobreaker.CircuitBreaker[*V]
}

func (cb *circuitBreaker[T, V]) execute(f func(request *T) (*V, error), request *T) (*V, error) {
	return cb.CircuitBreaker.Execute(func() (*V, error) {
		return f(request)
	})
}

func newCircuitBreaker[T any, V any](p *CircuitBreakerParameters, resource string, logger zerolog.Logger) *circuitBreaker[T, V] {
	return &circuitBreaker[T, V]{
		CircuitBreaker: gobreaker.NewCircuitBreaker[*V](gobreaker.Settings{
			Name:        fmt.Sprintf("http client circuit breaker for resource %s", resource),
			MaxRequests: p.MaxRequests,
			Interval:    p.Interval,
			Timeout:     p.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= p.ConsecutiveFailures
			},
			// a request cancelled by its caller says nothing about the backend
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
				logger.Info().Str("resource", resource).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		}),
	}
}
