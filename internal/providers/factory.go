package providers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chengjon/taskmaster-pro-sub002/config"
	"github.com/chengjon/taskmaster-pro-sub002/internal/core"
)

// inflight is the memoized future for an initialization in progress.
// Waiters block on done and then read provider/err.
type inflight struct {
	done     chan struct{}
	provider core.Provider
	err      error
}

// Factory resolves provider names to live, initialized instances. It owns
// the instance cache: at most one initialized instance exists per
// normalized name for the factory's lifetime, and concurrent resolutions
// of the same name share a single initialization.
type Factory struct {
	registry *Registry
	accessor config.Accessor

	mu        sync.Mutex
	instances map[string]core.Provider
	pending   map[string]*inflight
}

// NewFactory creates a factory over the given registry and configuration
// accessor. The factory takes ownership of the instance cache; no other
// component may construct providers for the same names.
func NewFactory(registry *Registry, accessor config.Accessor) *Factory {
	return &Factory{
		registry:  registry,
		accessor:  accessor,
		instances: make(map[string]core.Provider),
		pending:   make(map[string]*inflight),
	}
}

// Resolve returns the initialized provider for name, constructing and
// initializing it on first use. Subsequent calls return the cached
// instance without re-reading configuration. A failed initialization is
// not cached; the next call re-attempts from scratch.
func (f *Factory) Resolve(ctx context.Context, name string) (core.Provider, error) {
	if normalizeName(name) == "" {
		return nil, core.NewInvalidRequestError("provider name must not be empty", nil)
	}
	key := normalizeName(name)

	f.mu.Lock()
	if p, ok := f.instances[key]; ok {
		f.mu.Unlock()
		return p, nil
	}

	// Join an initialization already in flight for this name rather than
	// starting a second one.
	if fl, ok := f.pending[key]; ok {
		f.mu.Unlock()
		select {
		case <-fl.done:
			return fl.provider, fl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctor, ok := f.registry.lookup(key)
	if !ok {
		f.mu.Unlock()
		return nil, &core.UnknownProviderError{Name: name}
	}

	fl := &inflight{done: make(chan struct{})}
	f.pending[key] = fl
	f.mu.Unlock()

	provider, err := f.initialize(ctx, ctor, name)

	f.mu.Lock()
	delete(f.pending, key)
	if err == nil {
		f.instances[key] = provider
	}
	f.mu.Unlock()

	fl.provider = provider
	fl.err = err
	close(fl.done)

	if err != nil {
		return nil, err
	}
	return provider, nil
}

// initialize derives configuration, constructs the instance and runs its
// Initialize. Initialization errors propagate unchanged.
func (f *Factory) initialize(ctx context.Context, ctor core.Constructor, name string) (core.Provider, error) {
	cfg := deriveConfig(ctx, f.accessor, name)

	provider := ctor()
	if err := provider.Initialize(ctx, cfg); err != nil {
		return nil, err
	}

	slog.Debug("provider initialized",
		"provider", normalizeName(name),
		"configured", provider.IsConfigured(),
	)
	return provider, nil
}

// ResolvePrimary resolves the provider bound to aiProvider.primary.
func (f *Factory) ResolvePrimary(ctx context.Context) (core.Provider, error) {
	name := roleBinding(ctx, f.accessor, keyPrimary)
	if name == "" {
		return nil, &core.NoPrimaryProviderError{}
	}
	return f.Resolve(ctx, name)
}

// ResolveFallback resolves the provider bound to aiProvider.fallback.
// An unset fallback degrades to the primary provider; this is policy, not
// an error path.
func (f *Factory) ResolveFallback(ctx context.Context) (core.Provider, error) {
	name := roleBinding(ctx, f.accessor, keyFallback)
	if name == "" {
		return f.ResolvePrimary(ctx)
	}
	return f.Resolve(ctx, name)
}

// PrimaryName returns the current aiProvider.primary binding, or "".
func (f *Factory) PrimaryName(ctx context.Context) string {
	return roleBinding(ctx, f.accessor, keyPrimary)
}

// FallbackName returns the current aiProvider.fallback binding, or "".
func (f *Factory) FallbackName(ctx context.Context) string {
	return roleBinding(ctx, f.accessor, keyFallback)
}

// IsAvailable reports registry membership only. It does not imply the
// provider is configured or reachable.
func (f *Factory) IsAvailable(name string) bool {
	return f.registry.IsRegistered(name)
}

// IsResolved reports whether an initialized instance is cached for name.
// Read-only; never triggers a resolution.
func (f *Factory) IsResolved(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.instances[normalizeName(name)]
	return ok
}

// Names returns the registered provider names.
func (f *Factory) Names() []string {
	return f.registry.Names()
}
