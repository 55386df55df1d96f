package sessionhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RassulYunussov/sessionhttp/common"
	"github.com/RassulYunussov/sessionhttp/internal/activity"
	"github.com/RassulYunussov/sessionhttp/internal/cache"
	"github.com/RassulYunussov/sessionhttp/internal/cb"
	"github.com/RassulYunussov/sessionhttp/internal/credentials"
	"github.com/RassulYunussov/sessionhttp/internal/diag"
	local_errors "github.com/RassulYunussov/sessionhttp/internal/errors"
	"github.com/RassulYunussov/sessionhttp/internal/inflight"
	"github.com/RassulYunussov/sessionhttp/internal/namespace"
	"github.com/RassulYunussov/sessionhttp/internal/noop"
	"github.com/RassulYunussov/sessionhttp/internal/requestkey"
	"github.com/RassulYunussov/sessionhttp/internal/resilient"
	"github.com/RassulYunussov/sessionhttp/internal/token"
	"github.com/rs/zerolog"
)

// client owns every piece of shared pipeline state; nothing is global.
type client struct {
	baseURL      *url.URL
	timeout      time.Duration
	logger       zerolog.Logger
	pathProvider func() string

	network  common.HttpClient
	store    *credentials.Store
	tokens   *token.Manager
	cache    *cache.ResponseCache
	inflight *inflight.Registry
	retry    *resilient.RetryPolicy
	loading  *activity.Counter

	authBlocked atomic.Bool

	stop chan struct{}
	done sync.WaitGroup
	once sync.Once
}

func createClient(baseURL string, p *clientCreationParameters) (*client, error) {
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	base, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	refreshURL, err := resolvePath(base, p.refreshPath)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh path: %w", err)
	}
	var raw common.HttpClient
	if p.httpClient != nil {
		raw = noop.WrapNoOpHttpClient(p.httpClient)
	} else {
		raw = noop.CreateNoOpHttpClient(0)
	}
	network := raw
	if p.circuitBreakerParameters != nil {
		network = cb.CreateCircuitBreakerHttpClient(raw, p.circuitBreakerParameters, p.logger)
	}
	durable, session := p.durable, p.session
	if durable == nil {
		durable = credentials.NewMemoryBackend()
	}
	if session == nil {
		session = credentials.NewMemoryBackend()
	}
	pathProvider := p.pathProvider
	if pathProvider == nil {
		pathProvider = func() string { return "/" }
	}

	c := &client{
		baseURL:      base,
		timeout:      p.timeout,
		logger:       p.logger,
		pathProvider: pathProvider,
		network:      network,
		store:        credentials.NewStore(durable, session),
		cache:        cache.NewResponseCache(),
		inflight:     inflight.NewRegistry(),
		retry:        resilient.CreateRetryPolicy(p.retryParameters),
		loading:      activity.NewCounter(p.onLoadingChange),
		stop:         make(chan struct{}),
	}
	// refresh calls bypass the pipeline, they go straight to the network
	c.tokens = token.NewManager(c.store, raw, refreshURL.String(), p.refreshThreshold, p.timeout, p.logger)
	c.tokens.OnRefresh(func(namespace.Namespace) { c.authBlocked.Store(false) })

	startupCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := c.store.MigrateLegacy(startupCtx); err != nil {
		c.logger.Warn().Err(err).Msg("failed to remove legacy credentials")
	}

	if p.refreshInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.done.Add(2)
		go func() {
			defer c.done.Done()
			<-c.stop
			cancel()
		}()
		go func() {
			defer c.done.Done()
			c.tokens.Run(ctx, p.refreshInterval, c.currentNamespace)
		}()
	}
	return c, nil
}

func (c *client) Close() error {
	c.once.Do(func() { close(c.stop) })
	c.done.Wait()
	return nil
}

func (c *client) Loading() int64 {
	return c.loading.Value()
}

func (c *client) AuthBlocked() bool {
	return c.authBlocked.Load()
}

func (c *client) Login(ctx context.Context, ns Namespace, access, refresh string, persistent bool) error {
	if err := c.store.Save(ctx, ns, access, refresh, persistent); err != nil {
		return err
	}
	if claims, ok := token.Decode(access); ok && claims.Role != "" {
		_ = c.store.SaveProfile(ctx, ns, claims.Role, "")
	}
	c.authBlocked.Store(false)
	return nil
}

func (c *client) Logout(ctx context.Context, ns Namespace) error {
	return c.store.Clear(ctx, ns)
}

func (c *client) Role(ctx context.Context) string {
	return c.tokens.Role(ctx, c.namespaceOf(ctx))
}

func (c *client) Get(ctx context.Context, path string, params map[string]any) (*http.Response, error) {
	r := NewRequest(http.MethodGet, path)
	r.Params = params
	return c.Do(ctx, r)
}

func (c *client) Post(ctx context.Context, path string, body any) (*http.Response, error) {
	r := NewRequest(http.MethodPost, path)
	r.Body = body
	return c.Do(ctx, r)
}

func (c *client) currentNamespace() namespace.Namespace {
	return namespace.Resolve(c.pathProvider())
}

func (c *client) namespaceOf(ctx context.Context) namespace.Namespace {
	if path, ok := navigationPath(ctx); ok {
		return namespace.Resolve(path)
	}
	return c.currentNamespace()
}

// call is the state of one Do while it moves through the stages.
type call struct {
	r       *Request
	method  string
	target  *url.URL
	body    []byte
	ns      namespace.Namespace
	access  string
	timeout time.Duration
	trace   *diag.Trace
}

func (c *client) Do(ctx context.Context, r *Request) (*http.Response, error) {
	r.reset()
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}
	endpoint, err := resolvePath(c.baseURL, r.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", r.Path, err)
	}
	body, err := encodeBody(r.Body)
	if err != nil {
		return nil, err
	}
	cl := &call{
		r:       r,
		method:  method,
		target:  withParams(endpoint, r.Params),
		body:    body,
		ns:      c.namespaceOf(ctx),
		timeout: r.Timeout,
	}
	if cl.timeout <= 0 {
		cl.timeout = c.timeout
	}
	r.key = requestkey.Canonicalize(method, endpoint.String(), r.Params)
	cl.trace = diag.NewTrace(c.logger, &http.Request{Method: method, URL: cl.target}, string(cl.ns), r.key)

	cacheable := method == http.MethodGet && r.CacheTTL > 0
	if cacheable {
		if entry, ok := c.cache.Get(r.key); ok {
			r.cacheHit = true
			cl.trace.CacheHit()
			return cachedResponse(entry, cl.target), nil
		}
	}

	end := c.loading.Begin()
	defer end()

	// registered before the token wait so the newest identical GET wins
	// even when both wait for the same refresh
	if method == http.MethodGet && r.Dedupe != None {
		var release func()
		ctx, release = c.inflight.Register(ctx, r.key)
		defer release()
	}

	cl.access = c.accessToken(ctx, cl)
	if inflight.Superseded(ctx) {
		cl.trace.Superseded()
		return nil, local_errors.ErrSuperseded
	}

	resp, err := c.perform(ctx, cl)
	if resp != nil && resp.StatusCode == http.StatusUnauthorized && !r.replayed && isAuthExpired(peekBody(resp)) {
		resp, err = c.replay(ctx, cl, resp)
	}

	if inflight.Superseded(ctx) {
		if resp != nil {
			resp.Body.Close()
		}
		cl.trace.Superseded()
		return nil, local_errors.ErrSuperseded
	}
	if err != nil {
		err = classifyNetworkError(ctx, err)
		cl.trace.Done(0, err)
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		err = statusError(resp)
		cl.trace.Done(resp.StatusCode, err)
		return nil, err
	}
	if cacheable {
		c.cache.Set(r.key, resp.StatusCode, resp.Header, peekBody(resp), r.CacheTTL)
	}
	cl.trace.Done(resp.StatusCode, nil)
	return resp, nil
}

// accessToken waits for the token of the call at most one attempt timeout,
// a refresh still running by then counts as failed.
func (c *client) accessToken(ctx context.Context, cl *call) string {
	ctx, cancel := context.WithTimeout(ctx, cl.timeout)
	defer cancel()
	return c.tokens.AccessToken(ctx, cl.ns)
}

// perform runs the network stage with retries.
func (c *client) perform(ctx context.Context, cl *call) (*http.Response, error) {
	observe := func(n int, delay time.Duration, resp *http.Response, err error) {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		cl.trace.Retry(n, delay, status, err)
	}
	return c.retry.Do(ctx, cl.method, cl.r.RetryAttempts, func(n int) (*http.Response, error) {
		cl.r.attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, cl.timeout)
		defer cancel()
		req, err := c.newHttpRequest(attemptCtx, cl)
		if err != nil {
			return nil, err
		}
		cl.trace.Attempt(n, req.Header)
		resp, err := c.network.Do(req)
		if err != nil {
			return nil, err
		}
		// the body is read before the attempt context goes away
		return bufferBody(resp)
	}, observe)
}

// replay refreshes the rejected access token and re-issues the original
// request exactly once. Without a new token the original response stands.
func (c *client) replay(ctx context.Context, cl *call, rejected *http.Response) (*http.Response, error) {
	cl.r.replayed = true
	fresh, err := c.tokens.RefreshStale(ctx, cl.ns, cl.access)
	if ctx.Err() != nil {
		return rejected, nil
	}
	if err != nil {
		c.authBlocked.Store(true)
		c.logger.Debug().Err(err).Str("namespace", string(cl.ns)).Msg("access token rejected and refresh failed")
		return rejected, nil
	}
	c.authBlocked.Store(false)
	rejected.Body.Close()
	cl.trace.AuthReplay()
	cl.access = fresh
	return c.perform(ctx, cl)
}

func (c *client) newHttpRequest(ctx context.Context, cl *call) (*http.Request, error) {
	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, cl.target.String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range cl.r.Header {
		req.Header[k] = append([]string(nil), v...)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if cl.body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cl.access != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+cl.access)
	}
	return req, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return encoded, nil
}

func bufferBody(resp *http.Response) (*http.Response, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

// peekBody returns the buffered body and rewinds it for the next reader.
func peekBody(resp *http.Response) []byte {
	body, _ := io.ReadAll(resp.Body)
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return body
}

func cachedResponse(entry cache.Entry, target *url.URL) *http.Response {
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        entry.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       &http.Request{Method: http.MethodGet, URL: target},
	}
}

type authErrorBody struct {
	Code   string `json:"code"`
	Detail any    `json:"detail"`
}

// isAuthExpired recognises the backend's invalid or expired access token
// answer, other 401s are plain client errors.
func isAuthExpired(body []byte) bool {
	var parsed authErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Code == "token_not_valid" {
		return true
	}
	lower := strings.ToLower(string(body))
	if strings.Contains(lower, "token_not_valid") {
		return true
	}
	return strings.Contains(lower, "token") &&
		(strings.Contains(lower, "expired") || strings.Contains(lower, "invalid") || strings.Contains(lower, "not valid"))
}

func statusError(resp *http.Response) error {
	body := peekBody(resp)
	resp.Body.Close()
	kind := local_errors.ErrHttp4xxStatus
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		kind = local_errors.ErrHttp5xxStatus
	case resp.StatusCode == http.StatusUnauthorized && isAuthExpired(body):
		kind = local_errors.ErrAuthExpired
	}
	return local_errors.NewStatusError(resp.StatusCode, body, kind)
}

func classifyNetworkError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if IsCircuitBreakerError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", local_errors.ErrNetwork, err)
}
