// Package experiment defines the boundary between the orchestrator and the
// actual computation. The orchestrator resolves a capability by its declared
// (path, class) reference from a registry populated at process startup,
// constructs it with the resolved configuration, and calls Run exactly once
// per rep. Everything behind Run is opaque.
package experiment

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"rem/internal/config"
)

// Artifacts is the result payload of one rep; persisted verbatim into the
// rep manifest.
type Artifacts map[string]any

// Experiment is the single-operation capability contract. A non-nil error is
// the experiment reporting its own failure; the orchestrator records it and
// moves on.
type Experiment interface {
	Run() (Artifacts, error)
}

// Factory constructs an experiment from its resolved configuration.
type Factory func(cfg *config.Value) (Experiment, error)

// Func adapts a plain function to the Experiment interface.
type Func func() (Artifacts, error)

func (f Func) Run() (Artifacts, error) { return f() }

// ErrNotRegistered reports an experiment reference with no registered
// factory. This is a structural error raised at resolution time, before any
// rep runs.
var ErrNotRegistered = errors.New("experiment not registered")

// Key renders the canonical registry key for a capability reference.
func Key(path, class string) string { return path + "." + class }

// Registry maps capability references to factories. Safe for concurrent use;
// in practice it is populated once at startup and read thereafter.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register binds a capability reference to a factory. Re-registering a key
// is an error: silently replacing a capability would change what staged
// groups execute on resume.
func (r *Registry) Register(path, class string, f Factory) error {
	if f == nil {
		return fmt.Errorf("register %s: nil factory", Key(path, class))
	}
	key := Key(path, class)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[key]; dup {
		return fmt.Errorf("register %s: already registered", key)
	}
	r.factories[key] = f
	return nil
}

// Resolve returns the factory for a capability reference.
func (r *Registry) Resolve(path, class string) (Factory, error) {
	key := Key(path, class)
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (known: %v)", ErrNotRegistered, key, r.Keys())
	}
	return f, nil
}

// Keys returns the registered capability keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
