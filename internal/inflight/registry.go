package inflight

import (
	"context"
	"sync"
	"time"

	local_errors "github.com/RassulYunussov/sessionhttp/internal/errors"
)

type record struct {
	id        uint64
	cancel    context.CancelCauseFunc
	startedAt time.Time
}

// Registry tracks outstanding requests by key. At most one record is live
// per key and the newest registration always wins.
type Registry struct {
	mu      sync.Mutex
	nextID  uint64
	records map[string]record
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]record)}
}

// Register cancels the request currently registered for key, with cause
// ErrSuperseded, and registers a new one. The returned context is cancelled
// when a newer request takes over. release removes the record if it is still
// the registered one and must be called once the request settles.
func (r *Registry) Register(parent context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	r.mu.Lock()
	if previous, ok := r.records[key]; ok {
		delete(r.records, key)
		previous.cancel(local_errors.ErrSuperseded)
	}
	r.nextID++
	id := r.nextID
	r.records[key] = record{id: id, cancel: cancel, startedAt: time.Now()}
	r.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			if current, ok := r.records[key]; ok && current.id == id {
				delete(r.records, key)
			}
			r.mu.Unlock()
			cancel(nil)
		})
	}
	return ctx, release
}

// Live reports whether a request is registered for key and since when.
func (r *Registry) Live(key string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	return rec.startedAt, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Superseded reports whether ctx was cancelled by a newer registration.
func Superseded(ctx context.Context) bool {
	return context.Cause(ctx) == local_errors.ErrSuperseded
}
