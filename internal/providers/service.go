package providers

import (
	"context"

	"github.com/chengjon/taskmaster-pro-sub002/internal/core"
)

// Service is the external surface other subsystems use to obtain
// providers. It is a thin pass-through over the Factory so callers stay
// independent of how resolution is implemented internally.
type Service struct {
	factory *Factory
}

// NewService creates the provider facade.
func NewService(factory *Factory) *Service {
	return &Service{factory: factory}
}

// GetProvider resolves a provider by name.
func (s *Service) GetProvider(ctx context.Context, name string) (core.Provider, error) {
	return s.factory.Resolve(ctx, name)
}

// GetPrimaryProvider resolves the configured primary provider.
func (s *Service) GetPrimaryProvider(ctx context.Context) (core.Provider, error) {
	return s.factory.ResolvePrimary(ctx)
}

// GetFallbackProvider resolves the configured fallback provider, degrading
// to the primary when no fallback is bound.
func (s *Service) GetFallbackProvider(ctx context.Context) (core.Provider, error) {
	return s.factory.ResolveFallback(ctx)
}

// ListAvailableProviders returns the registered provider names.
func (s *Service) ListAvailableProviders() []string {
	return s.factory.Names()
}

// IsProviderAvailable reports whether a provider name is registered.
func (s *Service) IsProviderAvailable(name string) bool {
	return s.factory.IsAvailable(name)
}

// ProviderStatus describes a provider's lifecycle state for introspection.
type ProviderStatus struct {
	Name       string `json:"name"`
	Registered bool   `json:"registered"`
	Resolved   bool   `json:"resolved"`
	Configured bool   `json:"configured"`
	KeyEnvVar  string `json:"key_env_var,omitempty"`
}

// Status reports the lifecycle state of a provider without resolving it.
// Configured and KeyEnvVar are only populated for resolved instances.
func (s *Service) Status(ctx context.Context, name string) ProviderStatus {
	st := ProviderStatus{
		Name:       normalizeName(name),
		Registered: s.factory.IsAvailable(name),
		Resolved:   s.factory.IsResolved(name),
	}
	if st.Resolved {
		// Cached instances return immediately; no initialization happens.
		if p, err := s.factory.Resolve(ctx, name); err == nil {
			st.Configured = p.IsConfigured()
			st.KeyEnvVar = p.RequiredAPIKeyName()
		}
	}
	return st
}

// PrimaryName returns the configured primary binding, or "".
func (s *Service) PrimaryName(ctx context.Context) string {
	return s.factory.PrimaryName(ctx)
}

// FallbackName returns the configured fallback binding, or "".
func (s *Service) FallbackName(ctx context.Context) string {
	return s.factory.FallbackName(ctx)
}
