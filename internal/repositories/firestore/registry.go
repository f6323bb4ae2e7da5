package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/Francovarelav/pickpackpromx/internal/platform/firestore"
	"github.com/Francovarelav/pickpackpromx/internal/repositories"
)

// Registry exposes the Firestore backed repositories sharing one provider.
type Registry struct {
	provider *pfirestore.Provider
	carts    *CartRepository
	catalog  *CatalogRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises the registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	checks []repositories.DependencyCheck
	health []repositories.DependencyHealthOption
}

// WithDependencyChecks adds readiness probes for other backends (Pub/Sub, Cloud Storage)
// next to the Firestore probe.
func WithDependencyChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(o *registryOptions) {
		o.checks = append(o.checks, checks...)
	}
}

// WithHealthOptions forwards options to the dependency health repository.
func WithHealthOptions(opts ...repositories.DependencyHealthOption) RegistryOption {
	return func(o *registryOptions) {
		o.health = append(o.health, opts...)
	}
}

// NewRegistry builds the repositories on top of provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	var options registryOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}

	checks := append([]repositories.DependencyCheck{{
		Name:  "firestore",
		Check: provider.Ping,
	}}, options.checks...)
	health, err := repositories.NewDependencyHealthRepository(checks, options.health...)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}

	return &Registry{
		provider: provider,
		carts:    carts,
		catalog:  catalog,
		health:   health,
	}, nil
}

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}
