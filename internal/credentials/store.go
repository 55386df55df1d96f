package credentials

import (
	"context"
	"errors"

	"github.com/RassulYunussov/sessionhttp/internal/namespace"
)

// Kind names a stored credential.
type Kind string

const (
	Token   Kind = "token"
	Refresh Kind = "refresh"
	Role    Kind = "role"
	User    Kind = "user"
)

var kinds = []Kind{Token, Refresh, Role, User}

// Key builds the storage key of kind within ns.
func Key(kind Kind, ns namespace.Namespace) string {
	return string(kind) + "_" + string(ns)
}

// Store reads and writes credentials per namespace over a durable and a
// session-scoped backend. Every method returns its error, callers that treat
// storage as best effort drop it explicitly.
type Store struct {
	durable Backend
	session Backend
}

func NewStore(durable, session Backend) *Store {
	return &Store{durable: durable, session: session}
}

// Read returns the first hit of durable then session storage for ns. A
// namespace other than User falls back to the User namespace when it holds
// nothing of its own.
func (s *Store) Read(ctx context.Context, ns namespace.Namespace, kind Kind) (string, error) {
	v, _, err := s.lookup(ctx, ns, kind)
	if err == nil || ns == namespace.User || !errors.Is(err, ErrNotFound) {
		return v, err
	}
	v, _, err = s.lookup(ctx, namespace.User, kind)
	return v, err
}

// ReadOwn is Read without the User fallback.
func (s *Store) ReadOwn(ctx context.Context, ns namespace.Namespace, kind Kind) (string, error) {
	v, _, err := s.lookup(ctx, ns, kind)
	return v, err
}

// Owner reports the namespace whose session serves ns: ns itself when it
// holds any token, otherwise User when User does.
func (s *Store) Owner(ctx context.Context, ns namespace.Namespace) namespace.Namespace {
	if ns == namespace.User || s.holdsSession(ctx, ns) {
		return ns
	}
	if s.holdsSession(ctx, namespace.User) {
		return namespace.User
	}
	return ns
}

// Write stores value for the owner of ns, in the backend already holding the
// owner's refresh token, durable when none does.
func (s *Store) Write(ctx context.Context, ns namespace.Namespace, kind Kind, value string) error {
	owner := s.Owner(ctx, ns)
	return s.backendFor(ctx, owner).Set(ctx, Key(kind, owner), value)
}

// Save stores a fresh login for ns. Non persistent logins go to session
// storage and any durable leftovers of ns are removed so reads do not mix them.
func (s *Store) Save(ctx context.Context, ns namespace.Namespace, access, refresh string, persistent bool) error {
	target, other := s.durable, s.session
	if !persistent {
		target, other = s.session, s.durable
	}
	var errs []error
	for _, kind := range []Kind{Token, Refresh} {
		errs = append(errs, other.Delete(ctx, Key(kind, ns)))
	}
	errs = append(errs, target.Set(ctx, Key(Token, ns), access))
	if refresh != "" {
		errs = append(errs, target.Set(ctx, Key(Refresh, ns), refresh))
	}
	return errors.Join(errs...)
}

// SaveProfile stores role and user descriptors next to the tokens of ns.
func (s *Store) SaveProfile(ctx context.Context, ns namespace.Namespace, role, user string) error {
	backend := s.backendFor(ctx, ns)
	var errs []error
	if role != "" {
		errs = append(errs, backend.Set(ctx, Key(Role, ns), role))
	}
	if user != "" {
		errs = append(errs, backend.Set(ctx, Key(User, ns), user))
	}
	return errors.Join(errs...)
}

// Clear removes every credential of ns from both backends. It is the only
// path that destroys a session.
func (s *Store) Clear(ctx context.Context, ns namespace.Namespace) error {
	var errs []error
	for _, kind := range kinds {
		key := Key(kind, ns)
		errs = append(errs, s.durable.Delete(ctx, key), s.session.Delete(ctx, key))
	}
	return errors.Join(errs...)
}

// MigrateLegacy deletes un-namespaced keys left by older clients so they
// never leak across roles.
func (s *Store) MigrateLegacy(ctx context.Context) error {
	var errs []error
	for _, kind := range kinds {
		errs = append(errs, s.durable.Delete(ctx, string(kind)), s.session.Delete(ctx, string(kind)))
	}
	return errors.Join(errs...)
}

func (s *Store) holdsSession(ctx context.Context, ns namespace.Namespace) bool {
	for _, kind := range []Kind{Refresh, Token} {
		if _, _, err := s.lookup(ctx, ns, kind); err == nil {
			return true
		}
	}
	return false
}

// lookup still consults session storage when the durable backend fails.
func (s *Store) lookup(ctx context.Context, ns namespace.Namespace, kind Kind) (string, Backend, error) {
	key := Key(kind, ns)
	v, durableErr := s.durable.Get(ctx, key)
	if durableErr == nil {
		return v, s.durable, nil
	}
	v, err := s.session.Get(ctx, key)
	if err == nil {
		return v, s.session, nil
	}
	if !errors.Is(durableErr, ErrNotFound) {
		return "", nil, durableErr
	}
	return "", nil, err
}

func (s *Store) backendFor(ctx context.Context, ns namespace.Namespace) Backend {
	if _, backend, err := s.lookup(ctx, ns, Refresh); err == nil {
		return backend
	}
	return s.durable
}
