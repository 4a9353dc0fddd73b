package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	storageConfig "github.com/tigerroll/feedpipe/pkg/batch/adapter/storage/config"
	config "github.com/tigerroll/feedpipe/pkg/batch/core/config"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

// ConnectionFactory creates a connection of one storage type from its configuration.
type ConnectionFactory func(ctx context.Context, cfg storageConfig.StorageConfig, name string) (StorageConnection, error)

// LookupConfig returns the decoded storage configuration of name.
func LookupConfig(cfg *config.Config, name string) (storageConfig.StorageConfig, error) {
	raw, ok := cfg.Feedpipe.StorageConfigs[name]
	if !ok {
		return storageConfig.StorageConfig{}, fmt.Errorf("storage configuration '%s' not found under 'storage' configs", name)
	}
	sc, err := storageConfig.Decode(raw)
	if err != nil {
		return sc, fmt.Errorf("storage connection '%s': %w", name, err)
	}
	return sc, nil
}

// BaseProvider caches the connections of one storage type by name.
type BaseProvider struct {
	cfg         *config.Config
	storageType string
	factory     ConnectionFactory
	connections map[string]StorageConnection
	mu          sync.RWMutex
}

var _ StorageProvider = (*BaseProvider)(nil)

// NewBaseProvider creates a provider for storageType building connections with factory.
func NewBaseProvider(cfg *config.Config, storageType string, factory ConnectionFactory) *BaseProvider {
	return &BaseProvider{
		cfg:         cfg,
		storageType: storageType,
		factory:     factory,
		connections: make(map[string]StorageConnection),
	}
}

// Type returns the storage type.
func (p *BaseProvider) Type() string {
	return p.storageType
}

// GetConnection retrieves an existing connection or establishes a new one.
func (p *BaseProvider) GetConnection(ctx context.Context, name string) (StorageConnection, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok = p.connections[name]; ok {
		return conn, nil
	}

	sc, err := LookupConfig(p.cfg, name)
	if err != nil {
		return nil, err
	}
	if sc.Type != p.storageType {
		return nil, fmt.Errorf("storage config type mismatch for '%s': expected '%s', got '%s'", name, p.storageType, sc.Type)
	}
	conn, err = p.factory(ctx, sc, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s storage connection '%s': %w", p.storageType, name, err)
	}
	p.connections[name] = conn
	logger.Debugf("Created new %s storage connection '%s'.", p.storageType, name)
	return conn, nil
}

// CloseAll closes all connections managed by this provider.
func (p *BaseProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", name, err))
		}
		delete(p.connections, name)
	}
	return result
}
