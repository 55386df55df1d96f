package cb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RassulYunussov/sessionhttp/internal/noop"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"gotest.tools/v3/assert"
)

func getHttpServer(status int) (*httptest.Server, *int) {
	calls := 0
	return httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls++
			w.WriteHeader(status)
		}),
	), &calls
}

func createClient(s *httptest.Server) *circuitBreakerBackedHttpClient {
	return CreateCircuitBreakerHttpClient(noop.WrapNoOpHttpClient(s.Client()), &CircuitBreakerParameters{
		MaxRequests:         1,
		ConsecutiveFailures: 2,
		Interval:            time.Second,
		Timeout:             time.Second,
	}, zerolog.Nop()).(*circuitBreakerBackedHttpClient)
}

func TestCircuitBreakerOpensOn5xx(t *testing.T) {
	s, calls := getHttpServer(http.StatusInternalServerError)
	defer s.Close()
	client := createClient(s)
	for i := 0; i < 3; i++ {
		request, _ := http.NewRequest(http.MethodGet, s.URL, nil)
		resp, err := client.Do(request)
		if i > 1 {
			assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		} else {
			assert.NilError(t, err)
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			resp.Body.Close()
		}
	}
	assert.Equal(t, 2, *calls, "expected only 2 requests to reach server")
}

func TestCircuitBreakerPerResource(t *testing.T) {
	s, calls := getHttpServer(http.StatusInternalServerError)
	defer s.Close()
	client := createClient(s)
	for i := 0; i < 2; i++ {
		request, _ := http.NewRequest(http.MethodGet, s.URL+"/a", nil)
		resp, err := client.Do(request)
		assert.NilError(t, err)
		resp.Body.Close()
	}
	request, _ := http.NewRequest(http.MethodGet, s.URL+"/b", nil)
	resp, err := client.Do(request)
	assert.NilError(t, err)
	resp.Body.Close()
	assert.Equal(t, 3, *calls)
}

func TestCancelledRequestsDoNotTrip(t *testing.T) {
	s, calls := getHttpServer(http.StatusOK)
	defer s.Close()
	client := createClient(s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		request, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
		_, err := client.Do(request)
		assert.ErrorIs(t, err, context.Canceled)
	}
	request, _ := http.NewRequest(http.MethodGet, s.URL, nil)
	resp, err := client.Do(request)
	assert.NilError(t, err)
	resp.Body.Close()
	assert.Equal(t, 1, *calls)
}
