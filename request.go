package sessionhttp

import (
	"context"
	"net/http"
	"time"
)

// DedupeStrategy decides what happens to an identical GET that is still in
// flight when a new one starts.
type DedupeStrategy int

const (
	// CancelPrevious cancels the older request, the newest always wins.
	CancelPrevious DedupeStrategy = iota
	// None lets identical requests run side by side.
	None
)

const (
	DefaultRetryAttempts = 2
	DefaultTimeout       = 15 * time.Second
)

// Request describes one call. It is annotated by the pipeline while the call
// runs and must not be shared between concurrent calls.
//
// Path is relative to the base URL, or absolute. Params are sent as query
// parameters, Body as JSON unless it is a []byte. CacheTTL enables response
// caching of a GET, 0 disables it. Timeout bounds one attempt, 0 means the
// client default.
type Request struct {
	Method string
	Path   string
	Params map[string]any
	Body   any
	Header http.Header

	CacheTTL      time.Duration
	Dedupe        DedupeStrategy
	RetryAttempts int
	Timeout       time.Duration

	key      string
	attempt  int
	replayed bool
	cacheHit bool
}

// NewRequest returns a request with default options.
func NewRequest(method, path string) *Request {
	return &Request{
		Method:        method,
		Path:          path,
		Dedupe:        CancelPrevious,
		RetryAttempts: DefaultRetryAttempts,
	}
}

// Key is the canonical cache and de-duplication key, set once the request
// entered the pipeline.
func (r *Request) Key() string {
	return r.key
}

// Attempts is the number of network attempts made for the request.
func (r *Request) Attempts() int {
	return r.attempt
}

// CacheHit reports whether the request was served from the response cache.
func (r *Request) CacheHit() bool {
	return r.cacheHit
}

func (r *Request) reset() {
	r.key = ""
	r.attempt = 0
	r.replayed = false
	r.cacheHit = false
}

type navigationPathKey struct{}

// WithNavigationPath tells the pipeline which page issues the call. The path
// selects the credential namespace.
func WithNavigationPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, navigationPathKey{}, path)
}

func navigationPath(ctx context.Context) (string, bool) {
	path, ok := ctx.Value(navigationPathKey{}).(string)
	return path, ok
}
