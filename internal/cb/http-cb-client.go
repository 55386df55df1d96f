package cb

import (
	"errors"
	"net/http"
	"sync"

	"github.com/RassulYunussov/sessionhttp/common"
	"github.com/rs/zerolog"
)

// circuitBreakerErrorWrapper reports a 5xx response as a failure to the
// breaker while keeping the response for the caller.
type circuitBreakerErrorWrapper[T any] struct {
	wrapped T
}

func (e *circuitBreakerErrorWrapper[T]) Error() string {
	return "http 5xx status"
}

// circuitBreakerBackedHttpClient keeps one breaker per resource.
type circuitBreakerBackedHttpClient struct {
	client                   common.HttpClient
	circuitBreakerParameters *CircuitBreakerParameters
	logger                   zerolog.Logger
	circuitBreakers          sync.Map
}

func CreateCircuitBreakerHttpClient(client common.HttpClient, circuitBreakerParameters *CircuitBreakerParameters, logger zerolog.Logger) common.HttpClient {
	return &circuitBreakerBackedHttpClient{
		client:                   client,
		circuitBreakerParameters: circuitBreakerParameters,
		logger:                   logger,
	}
}

func (c *circuitBreakerBackedHttpClient) DoResourceRequest(resource string, r *http.Request) (*http.Response, error) {
	cb := c.getCircuitBreaker(resource)
	resp, err := cb.execute(c.do, r)
	var e *circuitBreakerErrorWrapper[*http.Response]
	if errors.As(err, &e) {
		return e.wrapped, nil
	}
	return resp, err
}

func (c *circuitBreakerBackedHttpClient) Do(r *http.Request) (*http.Response, error) {
	return c.DoResourceRequest(common.GetResource(r), r)
}

func (c *circuitBreakerBackedHttpClient) getCircuitBreaker(resource string) *circuitBreaker[http.Request, http.Response] {
	if cb, ok := c.circuitBreakers.Load(resource); ok {
		return cb.(*circuitBreaker[http.Request, http.Response])
	}
	cb, _ := c.circuitBreakers.LoadOrStore(resource, newCircuitBreaker[http.Request, http.Response](c.circuitBreakerParameters, resource, c.logger))
	return cb.(*circuitBreaker[http.Request, http.Response])
}

func (c *circuitBreakerBackedHttpClient) do(r *http.Request) (*http.Response, error) {
	resp, err := c.client.DoResourceRequest("", r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusInternalServerError {
		return resp, nil
	}
	return nil, &circuitBreakerErrorWrapper[*http.Response]{
		wrapped: resp,
	}
}
