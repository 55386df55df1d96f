package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RassulYunussov/sessionhttp/internal/credentials"
	local_errors "github.com/RassulYunussov/sessionhttp/internal/errors"
	"github.com/RassulYunussov/sessionhttp/internal/namespace"
	"github.com/RassulYunussov/sessionhttp/internal/noop"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"
)

func mint(t *testing.T, role string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{"exp": time.Now().Add(expiresIn).Unix(), "role": role}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	assert.NilError(t, err)
	return signed
}

type refreshServer struct {
	*httptest.Server
	calls  atomic.Int32
	status atomic.Int32

	mu       sync.Mutex
	access   string
	rotated  string
	lastBody refreshRequest
}

func newRefreshServer(t *testing.T, access string) *refreshServer {
	s := &refreshServer{access: access}
	s.status.Store(http.StatusOK)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		var body refreshRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		time.Sleep(30 * time.Millisecond)
		if status := int(s.status.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		s.mu.Lock()
		s.lastBody = body
		resp := refreshResponse{Access: s.access, Refresh: s.rotated}
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *refreshServer) rotate(refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotated = refresh
}

func (s *refreshServer) lastRefresh() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBody.Refresh
}

func newManager(s *refreshServer) (*Manager, *credentials.Store) {
	store := credentials.NewStore(credentials.NewMemoryBackend(), credentials.NewMemoryBackend())
	return NewManager(store, noop.WrapNoOpHttpClient(s.Client()), s.URL, 0, 0, zerolog.Nop()), store
}

func TestStates(t *testing.T) {
	s := newRefreshServer(t, "unused")
	m, store := newManager(s)
	ctx := context.Background()
	assert.Equal(t, NoToken, m.State(ctx, namespace.User))

	assert.NilError(t, store.Save(ctx, namespace.User, mint(t, "user", time.Hour), "r", true))
	assert.Equal(t, Valid, m.State(ctx, namespace.User))

	assert.NilError(t, store.Save(ctx, namespace.User, mint(t, "user", 30*time.Second), "r", true))
	assert.Equal(t, ExpiringSoon, m.State(ctx, namespace.User))

	assert.NilError(t, store.Save(ctx, namespace.User, "opaque-token", "r", true))
	assert.Equal(t, Valid, m.State(ctx, namespace.User))
}

func TestValidTokenIsReturnedWithoutRefresh(t *testing.T) {
	s := newRefreshServer(t, "unused")
	m, store := newManager(s)
	ctx := context.Background()
	access := mint(t, "user", time.Hour)
	assert.NilError(t, store.Save(ctx, namespace.User, access, "r", true))
	assert.Equal(t, access, m.AccessToken(ctx, namespace.User))
	assert.Equal(t, int32(0), s.calls.Load())
}

func TestSingleFlightRefresh(t *testing.T) {
	fresh := mint(t, "agency", time.Hour)
	s := newRefreshServer(t, fresh)
	m, store := newManager(s)
	ctx := context.Background()
	assert.NilError(t, store.Save(ctx, namespace.Agency, mint(t, "agency", 10*time.Second), "agency-refresh", true))

	const callers = 20
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i] = m.AccessToken(ctx, namespace.Agency)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), s.calls.Load(), "expected exactly 1 refresh call")
	for _, tok := range tokens {
		assert.Equal(t, fresh, tok)
	}
	assert.Equal(t, "agency-refresh", s.lastRefresh())
	stored, _ := store.ReadOwn(ctx, namespace.Agency, credentials.Token)
	assert.Equal(t, fresh, stored)
}

func TestRefreshWhenOnlyRefreshTokenExists(t *testing.T) {
	fresh := mint(t, "user", time.Hour)
	s := newRefreshServer(t, fresh)
	s.rotate("rotated-refresh")
	m, store := newManager(s)
	ctx := context.Background()
	assert.NilError(t, store.Write(ctx, namespace.User, credentials.Refresh, "r"))

	assert.Equal(t, fresh, m.AccessToken(ctx, namespace.User))
	rotated, _ := store.ReadOwn(ctx, namespace.User, credentials.Refresh)
	assert.Equal(t, "rotated-refresh", rotated)
}

func TestRefreshFailureDegradesToCurrentToken(t *testing.T) {
	s := newRefreshServer(t, "unused")
	s.status.Store(http.StatusUnauthorized)
	m, store := newManager(s)
	ctx := context.Background()
	expiring := mint(t, "user", 10*time.Second)
	assert.NilError(t, store.Save(ctx, namespace.User, expiring, "r", true))

	assert.Equal(t, expiring, m.AccessToken(ctx, namespace.User))
	_, err := m.Refresh(ctx, namespace.User)
	assert.ErrorIs(t, err, local_errors.ErrRefreshFailed)

	stored, _ := store.ReadOwn(ctx, namespace.User, credentials.Token)
	assert.Equal(t, expiring, stored, "credentials must survive a failed refresh")
}

func TestRefreshFailureNeverSendsExpiredToken(t *testing.T) {
	s := newRefreshServer(t, "unused")
	s.status.Store(http.StatusUnauthorized)
	m, store := newManager(s)
	ctx := context.Background()
	expired := mint(t, "user", -time.Hour)
	assert.NilError(t, store.Save(ctx, namespace.User, expired, "r", true))

	assert.Equal(t, "", m.AccessToken(ctx, namespace.User))
	assert.Equal(t, int32(1), s.calls.Load())
	stored, _ := store.ReadOwn(ctx, namespace.User, credentials.Token)
	assert.Equal(t, expired, stored, "credentials must survive a failed refresh")

	assert.NilError(t, store.Save(ctx, namespace.Agency, mint(t, "agency", -time.Minute), "", true))
	assert.Equal(t, "", m.AccessToken(ctx, namespace.Agency), "expired token without refresh token")
}

func TestHungRefreshIsBounded(t *testing.T) {
	var calls atomic.Int32
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-r.Context().Done()
	}))
	defer s.Close()
	store := credentials.NewStore(credentials.NewMemoryBackend(), credentials.NewMemoryBackend())
	m := NewManager(store, noop.WrapNoOpHttpClient(s.Client()), s.URL, 0, 50*time.Millisecond, zerolog.Nop())
	ctx := context.Background()
	expiring := mint(t, "user", 10*time.Second)
	assert.NilError(t, store.Save(ctx, namespace.User, expiring, "r", true))
	assert.NilError(t, store.Save(ctx, namespace.Agency, mint(t, "agency", 10*time.Second), "r", true))

	started := time.Now()
	_, err := m.Refresh(ctx, namespace.User)
	assert.ErrorIs(t, err, local_errors.ErrRefreshFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// the next namespace is not stuck behind the first refresh
	_, err = m.Refresh(ctx, namespace.Agency)
	assert.ErrorIs(t, err, local_errors.ErrRefreshFailed)
	assert.Assert(t, time.Since(started) < time.Second, "refresh took %s", time.Since(started))
	assert.Equal(t, expiring, m.AccessToken(ctx, namespace.User))
	assert.Equal(t, int32(3), calls.Load())
}

func TestOnRefreshIsCalledAfterSuccess(t *testing.T) {
	fresh := mint(t, "user", time.Hour)
	s := newRefreshServer(t, fresh)
	m, store := newManager(s)
	var refreshed []namespace.Namespace
	m.OnRefresh(func(ns namespace.Namespace) { refreshed = append(refreshed, ns) })
	ctx := context.Background()
	assert.NilError(t, store.Save(ctx, namespace.User, mint(t, "user", time.Second), "r", true))

	assert.Equal(t, fresh, m.AccessToken(ctx, namespace.User))
	s.status.Store(http.StatusBadGateway)
	_, err := m.Refresh(ctx, namespace.User)
	assert.ErrorIs(t, err, local_errors.ErrRefreshFailed)
	assert.DeepEqual(t, []namespace.Namespace{namespace.User}, refreshed)
}

func TestNoRefreshTokenSendsUnauthenticated(t *testing.T) {
	s := newRefreshServer(t, "unused")
	m, _ := newManager(s)
	ctx := context.Background()
	assert.Equal(t, "", m.AccessToken(ctx, namespace.Admin))
	_, err := m.Refresh(ctx, namespace.Admin)
	assert.ErrorIs(t, err, local_errors.ErrNoRefreshToken)
	assert.Equal(t, int32(0), s.calls.Load())
}

func TestRefreshUsesUserSessionForOtherEntryPoints(t *testing.T) {
	fresh := mint(t, "user", time.Hour)
	s := newRefreshServer(t, fresh)
	m, store := newManager(s)
	ctx := context.Background()
	assert.NilError(t, store.Save(ctx, namespace.User, mint(t, "user", time.Second), "user-refresh", true))

	assert.Equal(t, fresh, m.AccessToken(ctx, namespace.Employee))
	stored, _ := store.ReadOwn(ctx, namespace.User, credentials.Token)
	assert.Equal(t, fresh, stored)
	_, err := store.ReadOwn(ctx, namespace.Employee, credentials.Token)
	assert.ErrorIs(t, err, credentials.ErrNotFound)
}

func TestRole(t *testing.T) {
	s := newRefreshServer(t, "unused")
	m, store := newManager(s)
	ctx := context.Background()
	assert.NilError(t, store.Save(ctx, namespace.Business, mint(t, "business", time.Hour), "r", true))
	assert.Equal(t, "business", m.Role(ctx, namespace.Business))
	assert.NilError(t, store.SaveProfile(ctx, namespace.Business, "business_owner", ""))
	assert.Equal(t, "business_owner", m.Role(ctx, namespace.Business))
}

func TestRunRefreshesInBackground(t *testing.T) {
	fresh := mint(t, "user", time.Hour)
	s := newRefreshServer(t, fresh)
	m, store := newManager(s)
	ctx, cancel := context.WithCancel(context.Background())
	assert.NilError(t, store.Save(ctx, namespace.User, mint(t, "user", 2*time.Hour), "r", true))

	done := make(chan struct{})
	go func() {
		m.Run(ctx, 20*time.Millisecond, func() namespace.Namespace { return namespace.User })
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done
	assert.Assert(t, s.calls.Load() >= 1)
	stored, _ := store.ReadOwn(context.Background(), namespace.User, credentials.Token)
	assert.Equal(t, fresh, stored)
}
