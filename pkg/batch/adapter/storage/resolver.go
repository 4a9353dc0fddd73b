package storage

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	coreAdapter "github.com/tigerroll/feedpipe/pkg/batch/core/adapter"
	config "github.com/tigerroll/feedpipe/pkg/batch/core/config"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

// ResolverParams defines the dependencies for NewStorageConnectionResolver.
type ResolverParams struct {
	fx.In
	Providers []StorageProvider `group:"storage_providers"`
	Cfg       *config.Config
}

// ConnectionResolver dispatches connection requests to the provider of the configured type.
type ConnectionResolver struct {
	providers map[string]StorageProvider
	cfg       *config.Config
}

var _ StorageConnectionResolver = (*ConnectionResolver)(nil)

// NewStorageConnectionResolver creates a resolver over the registered providers.
func NewStorageConnectionResolver(p ResolverParams) *ConnectionResolver {
	providers := make(map[string]StorageProvider, len(p.Providers))
	for _, provider := range p.Providers {
		providers[provider.Type()] = provider
	}
	return &ConnectionResolver{providers: providers, cfg: p.Cfg}
}

// ResolveConnection resolves a generic resource connection by name.
func (r *ConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveStorageConnection(ctx, name)
}

// ResolveStorageConnection resolves a StorageConnection by name.
func (r *ConnectionResolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	sc, err := LookupConfig(r.cfg, name)
	if err != nil {
		return nil, err
	}
	provider, ok := r.providers[sc.Type]
	if !ok {
		return nil, fmt.Errorf("no storage provider found for type '%s' (connection '%s')", sc.Type, name)
	}
	return provider.GetConnection(ctx, name)
}

// CloseAll closes the connections of every provider.
func (r *ConnectionResolver) CloseAll() error {
	var result error
	for t, provider := range r.providers {
		if err := provider.CloseAll(); err != nil {
			logger.Errorf("Failed to close %s storage connections: %v", t, err)
			result = multierror.Append(result, err)
		}
	}
	return result
}
