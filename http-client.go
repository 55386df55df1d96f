package sessionhttp

import (
	"context"
	"net/http"
	"time"

	"github.com/RassulYunussov/sessionhttp/internal/cb"
	"github.com/RassulYunussov/sessionhttp/internal/credentials"
	"github.com/RassulYunussov/sessionhttp/internal/namespace"
	"github.com/RassulYunussov/sessionhttp/internal/resilient"
	"github.com/rs/zerolog"
)

const (
	DefaultRefreshPath     = "token/refresh/"
	DefaultRefreshInterval = 4 * time.Minute
)

// Namespace isolates the credentials of one storefront role.
type Namespace = namespace.Namespace

const (
	UserNamespace     = namespace.User
	AgencyNamespace   = namespace.Agency
	EmployeeNamespace = namespace.Employee
	BusinessNamespace = namespace.Business
	AdminNamespace    = namespace.Admin
)

// Client wraps every call of the storefront to its backend.
// On each call it resolves the role namespace, attaches a fresh access token,
// serves GETs from cache when asked to, cancels older identical GETs, retries
// transient failures of idempotent calls and replays a call once after
// refreshing an expired token.
// Retriable errors: http-5xx, network errors
// Non-retriable errors: context.DeadlineExceeded|context.Canceled of the caller, http-4xx, open circuit breaker
type Client interface {
	Do(ctx context.Context, r *Request) (*http.Response, error)
	// Get issues a GET with default options.
	Get(ctx context.Context, path string, params map[string]any) (*http.Response, error)
	// Post issues a POST of body as JSON.
	Post(ctx context.Context, path string, body any) (*http.Response, error)
	// Login stores the tokens of an explicit login. Non persistent logins
	// last as long as the session store.
	Login(ctx context.Context, ns Namespace, access, refresh string, persistent bool) error
	// Logout removes every credential of ns.
	Logout(ctx context.Context, ns Namespace) error
	// Role of the session serving the current navigation path.
	Role(ctx context.Context) string
	// Loading is the number of calls currently on the wire.
	Loading() int64
	// AuthBlocked is set when a rejected token could not be refreshed. The
	// UI may redirect to login; credentials are kept.
	AuthBlocked() bool
	// Close stops the background token refresher.
	Close() error
}

// Option configures a Client at creation.
type Option = func(*clientCreationParameters) *clientCreationParameters

// ResolveNamespace maps a navigation path to its credential namespace.
func ResolveNamespace(path string) Namespace {
	return namespace.Resolve(path)
}

// Get new instance of Client for the backend at baseURL.
func Create(baseURL string, opts ...Option) (Client, error) {
	p := defaultCreationParameters()
	for _, o := range opts {
		p = o(p)
	}
	return createClient(baseURL, p)
}

// Default timeout of one network attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(p *clientCreationParameters) *clientCreationParameters {
		p.timeout = timeout
		return p
	}
}

// Use client for network I/O, e.g. one with a custom transport.
func WithHttpClient(client *http.Client) Option {
	return func(p *clientCreationParameters) *clientCreationParameters {
		p.httpClient = client
		return p
	}
}

// Diagnostic log, credentials are never written to it.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *clientCreationParameters) *clientCreationParameters {
		p.logger = logger
		return p
	}
}

// Source of the current navigation path, used when a call carries none.
func WithPathProvider(provider func() string) Option {
	return func(p *clientCreationParameters) *clientCreationParameters {
		p.pathProvider = provider
		return p
	}
}

// Credential backends: durable survives restarts, session lives with the
// process. Both default to memory.
func WithCredentialBackends(durable, session credentials.Backend) Option {
	return func(p *clientCreationParameters) *clientCreationParameters {
		p.durable = durable
		p.session = session
		return p
	}
}

// Token refresh endpoint and schedule. threshold is how close to expiry an
// access token gets refreshed before use, interval the period of background
// refreshes, 0 disables them.
func WithTokenRefresh(path string, threshold, interval time.Duration) Option {
	return func(p *clientCreationParameters) *clientCreationParameters {
		if path != "" {
			p.refreshPath = path
		}
		p.refreshThreshold = threshold
		p.refreshInterval = interval
		return p
	}
}

// Observe the loading counter.
func WithLoadingObserver(observer func(loading int64)) Option {
	return func(p *clientCreationParameters) *clientCreationParameters {
		p.onLoadingChange = observer
		return p
	}
}

// Backoff of retries: min(maxBackoff, baseBackoff*2^retry + jitter).
// The number of retries is set per request.
func WithRetry(baseBackoff, maxBackoff, jitter time.Duration) Option {
	return func(p *clientCreationParameters) *clientCreationParameters {
		retryParameters := new(resilient.RetryParameters)
		retryParameters.BaseBackoff = baseBackoff
		retryParameters.MaxBackoff = maxBackoff
		retryParameters.MaxJitter = jitter
		p.retryParameters = retryParameters
		return p
	}
}

// Apply circuit breaker policy per resource (method + path).
// https://github.com/sony/gobreaker
func WithCircuitBreaker(maxRequests uint32,
	consecutiveFailures uint32,
	interval time.Duration,
	timeout time.Duration) Option {
	return func(p *clientCreationParameters) *clientCreationParameters {
		circuitBreakerParameters := new(cb.CircuitBreakerParameters)
		circuitBreakerParameters.MaxRequests = maxRequests
		circuitBreakerParameters.ConsecutiveFailures = consecutiveFailures
		circuitBreakerParameters.Interval = interval
		circuitBreakerParameters.Timeout = timeout
		p.circuitBreakerParameters = circuitBreakerParameters
		return p
	}
}
