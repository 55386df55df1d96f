package common

import "net/http"

// HttpClient is the network stage of the pipeline.
// Implementations: raw client (no interceptors, used for token refresh)
// and the circuit breaker decorator.
type HttpClient interface {
	// resource is a semantic name used to separate circuit breakers
	DoResourceRequest(resource string, r *http.Request) (*http.Response, error)
	// classic HttpClient interface support, gets resource from path + method
	Do(r *http.Request) (*http.Response, error)
}

// GetResource derives the resource name of a request from method + path.
func GetResource(r *http.Request) string {
	return r.Method + "_" + r.URL.Path
}
