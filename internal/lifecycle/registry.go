package lifecycle

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrRegistryCancelled is the cancellation cause seen by work registered
// with a Registry once Cancel has been called.
var ErrRegistryCancelled = errors.New("lifecycle: registry cancelled")

// Registry hands out cancellation handles to background work. It replaces a
// process-wide abort list: the host creates one from its root context and
// passes it to every component that spawns goroutines or processes.
type Registry struct {
	root   context.Context
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	entries map[string]string
	changed chan struct{}
}

func NewRegistry(parent context.Context) *Registry {
	root, cancel := context.WithCancelCause(parent)
	return &Registry{
		root:    root,
		cancel:  cancel,
		entries: map[string]string{},
		changed: make(chan struct{}),
	}
}

// Register returns a context that ends when parent ends or the registry is
// cancelled, and a release func that must be called once the work is done.
// Registering after Cancel yields an already cancelled context.
func (r *Registry) Register(parent context.Context, name string) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	stop := context.AfterFunc(r.root, func() {
		cancel(context.Cause(r.root))
	})

	id := uuid.NewString()
	r.mu.Lock()
	r.entries[id] = name
	r.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			stop()
			cancel(context.Canceled)
			r.mu.Lock()
			delete(r.entries, id)
			close(r.changed)
			r.changed = make(chan struct{})
			r.mu.Unlock()
		})
	}
	return ctx, release
}

// Cancel cancels every registered and future context.
func (r *Registry) Cancel() {
	r.cancel(ErrRegistryCancelled)
}

// Done is closed once the registry has been cancelled.
func (r *Registry) Done() <-chan struct{} {
	return r.root.Done()
}

// Wait blocks until all registered work has released its handle or ctx ends.
func (r *Registry) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		if len(r.entries) == 0 {
			r.mu.Unlock()
			return nil
		}
		changed := r.changed
		r.mu.Unlock()
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Len returns the number of handles not yet released.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Names lists the names of unreleased handles, mostly for shutdown logs.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, name := range r.entries {
		out = append(out, name)
	}
	return out
}
