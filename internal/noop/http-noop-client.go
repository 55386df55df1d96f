package noop

import (
	"net/http"
	"time"

	"github.com/RassulYunussov/sessionhttp/common"
)

// noOpHttpClient talks to the network without any pipeline stage.
type noOpHttpClient struct {
	client *http.Client
}

func CreateNoOpHttpClient(timeout time.Duration) common.HttpClient {
	return &noOpHttpClient{client: &http.Client{Timeout: timeout}}
}

// WrapNoOpHttpClient reuses an existing transport, e.g. a test server client.
func WrapNoOpHttpClient(client *http.Client) common.HttpClient {
	return &noOpHttpClient{client: client}
}

func (c *noOpHttpClient) DoResourceRequest(_ string, r *http.Request) (*http.Response, error) {
	return c.client.Do(r)
}

func (c *noOpHttpClient) Do(r *http.Request) (*http.Response, error) {
	return c.client.Do(r)
}
