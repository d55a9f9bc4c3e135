package gateway

import (
	"github.com/attune-health/attune/internal/pkg/vault"
)

// Registry holds the adapter for every supported provider, resolved once at
// startup. Lookup failure is the only place "unsupported provider" can
// surface at runtime.
type Registry struct {
	adapters map[Provider]Adapter
}

// NewRegistry builds the closed adapter set.
func NewRegistry(v vault.Vault) *Registry {
	return &Registry{
		adapters: map[Provider]Adapter{
			ProviderStripe:      newStripeAdapter(v),
			ProviderPaystack:    newPaystackAdapter(v),
			ProviderFlutterwave: newFlutterwaveAdapter(v),
		},
	}
}

// Adapter returns the adapter registered for a provider.
func (r *Registry) Adapter(p Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, ErrUnsupportedGateway
	}
	return a, nil
}

var defaultRegistry *Registry

// Setup initializes the package-level registry used by the HTTP layer.
func Setup(v vault.Vault) {
	defaultRegistry = NewRegistry(v)
}

// Default returns the registry initialized by Setup.
func Default() *Registry {
	return defaultRegistry
}
