package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/RassulYunussov/sessionhttp/common"
	"github.com/RassulYunussov/sessionhttp/internal/credentials"
	local_errors "github.com/RassulYunussov/sessionhttp/internal/errors"
	"github.com/RassulYunussov/sessionhttp/internal/namespace"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshThreshold = 60 * time.Second
	DefaultRefreshTimeout   = 15 * time.Second
)

// State of the access token of a namespace.
type State int

const (
	NoToken State = iota
	Valid
	ExpiringSoon
	Refreshing
)

func (s State) String() string {
	switch s {
	case NoToken:
		return "no_token"
	case Valid:
		return "valid"
	case ExpiringSoon:
		return "expiring_soon"
	case Refreshing:
		return "refreshing"
	}
	return "unknown"
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Manager decides when an access token must be refreshed and runs the
// refresh. Concurrent callers of one namespace share a single refresh call
// and refresh calls of different namespaces never overlap.
type Manager struct {
	store      *credentials.Store
	client     common.HttpClient
	refreshURL string
	threshold  time.Duration
	timeout    time.Duration
	logger     zerolog.Logger
	now        func() time.Time
	onRefresh  func(namespace.Namespace)

	group     singleflight.Group
	refreshMu sync.Mutex

	mu         sync.Mutex
	refreshing map[namespace.Namespace]struct{}
}

// NewManager creates a manager. client must bypass the request pipeline so a
// refresh never re-enters the logic that triggered it. timeout bounds one
// refresh call, whoever waits for it.
func NewManager(store *credentials.Store, client common.HttpClient, refreshURL string, threshold, timeout time.Duration, logger zerolog.Logger) *Manager {
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &Manager{
		store:      store,
		client:     client,
		refreshURL: refreshURL,
		threshold:  threshold,
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
		refreshing: make(map[namespace.Namespace]struct{}),
	}
}

// State evaluates the token state of ns without side effects.
func (m *Manager) State(ctx context.Context, ns namespace.Namespace) State {
	owner := m.store.Owner(ctx, ns)
	m.mu.Lock()
	_, refreshing := m.refreshing[owner]
	m.mu.Unlock()
	if refreshing {
		return Refreshing
	}
	access, _ := m.store.ReadOwn(ctx, owner, credentials.Token)
	return m.evaluate(access)
}

func (m *Manager) evaluate(access string) State {
	if access == "" {
		return NoToken
	}
	claims, ok := Decode(access)
	if !ok || claims.ExpiresAt.IsZero() {
		return Valid
	}
	if claims.ExpiresAt.Sub(m.now()) > m.threshold {
		return Valid
	}
	return ExpiringSoon
}

// AccessToken returns the token to send for ns, refreshing it first when it
// is missing or about to expire. A failed refresh is not an error: the
// current token is returned while it has not expired, "" otherwise.
func (m *Manager) AccessToken(ctx context.Context, ns namespace.Namespace) string {
	owner := m.store.Owner(ctx, ns)
	access, _ := m.store.ReadOwn(ctx, owner, credentials.Token)
	if m.evaluate(access) == Valid {
		return access
	}
	if _, err := m.store.ReadOwn(ctx, owner, credentials.Refresh); err != nil {
		return m.unexpired(access)
	}
	refreshed, err := m.RefreshStale(ctx, owner, access)
	if err != nil {
		m.logger.Debug().Err(err).Str("namespace", string(owner)).Msg("token refresh failed, using current token")
		return m.unexpired(access)
	}
	return refreshed
}

func (m *Manager) unexpired(access string) string {
	claims, ok := Decode(access)
	if ok && !claims.ExpiresAt.IsZero() && !claims.ExpiresAt.After(m.now()) {
		return ""
	}
	return access
}

// OnRefresh registers f to be called after every successful refresh. It must
// be set before the manager is used.
func (m *Manager) OnRefresh(f func(namespace.Namespace)) {
	m.onRefresh = f
}

// Refresh exchanges the refresh token of ns for a new access token and
// persists the result. Callers arriving while a refresh of the same
// namespace is underway receive its outcome.
func (m *Manager) Refresh(ctx context.Context, ns namespace.Namespace) (string, error) {
	owner := m.store.Owner(ctx, ns)
	access, _ := m.store.ReadOwn(ctx, owner, credentials.Token)
	return m.RefreshStale(ctx, owner, access)
}

// RefreshStale is Refresh for a caller that found stale unusable. When
// another refresh already replaced stale with a valid token, that token is
// returned without a network call.
func (m *Manager) RefreshStale(ctx context.Context, ns namespace.Namespace, stale string) (string, error) {
	owner := m.store.Owner(ctx, ns)
	// the shared call must not die with the first caller's context
	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(string(owner), func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(detached, m.timeout)
		defer cancel()
		return m.refresh(ctx, owner, stale)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context, ns namespace.Namespace, stale string) (string, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	if current, err := m.store.ReadOwn(ctx, ns, credentials.Token); err == nil && current != stale && m.evaluate(current) == Valid {
		return current, nil
	}
	m.setRefreshing(ns, true)
	defer m.setRefreshing(ns, false)

	refresh, err := m.store.ReadOwn(ctx, ns, credentials.Refresh)
	if err != nil {
		return "", fmt.Errorf("%w: %w", local_errors.ErrNoRefreshToken, err)
	}
	payload, err := json.Marshal(refreshRequest{Refresh: refresh})
	if err != nil {
		return "", fmt.Errorf("%w: %w", local_errors.ErrRefreshFailed, err)
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, m.refreshURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %w", local_errors.ErrRefreshFailed, err)
	}
	r.Header.Set("Content-Type", "application/json")
	resp, err := m.client.Do(r)
	if err != nil {
		return "", fmt.Errorf("%w: %w", local_errors.ErrRefreshFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: status %d", local_errors.ErrRefreshFailed, resp.StatusCode)
	}
	var body refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %w", local_errors.ErrRefreshFailed, err)
	}
	if body.Access == "" {
		return "", fmt.Errorf("%w: empty access token", local_errors.ErrRefreshFailed)
	}
	if err := m.store.Write(ctx, ns, credentials.Token, body.Access); err != nil {
		m.logger.Warn().Err(err).Str("namespace", string(ns)).Msg("failed to persist refreshed access token")
	}
	if body.Refresh != "" {
		if err := m.store.Write(ctx, ns, credentials.Refresh, body.Refresh); err != nil {
			m.logger.Warn().Err(err).Str("namespace", string(ns)).Msg("failed to persist rotated refresh token")
		}
	}
	m.logger.Debug().Str("namespace", string(ns)).Bool("rotated", body.Refresh != "").Msg("access token refreshed")
	if m.onRefresh != nil {
		m.onRefresh(ns)
	}
	return body.Access, nil
}

func (m *Manager) setRefreshing(ns namespace.Namespace, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.refreshing[ns] = struct{}{}
	} else {
		delete(m.refreshing, ns)
	}
}

// Role returns the stored role of ns, or the role claim of its access token.
func (m *Manager) Role(ctx context.Context, ns namespace.Namespace) string {
	owner := m.store.Owner(ctx, ns)
	if role, err := m.store.ReadOwn(ctx, owner, credentials.Role); err == nil && role != "" {
		return role
	}
	access, _ := m.store.ReadOwn(ctx, owner, credentials.Token)
	claims, _ := Decode(access)
	return claims.Role
}

// Run refreshes the access token of the current namespace every interval
// until ctx is done. Namespaces without a refresh token are skipped.
func (m *Manager) Run(ctx context.Context, interval time.Duration, current func() namespace.Namespace) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ns := m.store.Owner(ctx, current())
			if _, err := m.store.ReadOwn(ctx, ns, credentials.Refresh); err != nil {
				continue
			}
			if _, err := m.Refresh(ctx, ns); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Debug().Err(err).Str("namespace", string(ns)).Msg("background token refresh failed")
			}
		}
	}
}
