// Package adapter defines the resource abstractions shared by the database and storage adapters.
package adapter

import "context"

// ResourceConnection is a named, closable connection to an external resource.
type ResourceConnection interface {
	// Close releases the underlying resource.
	Close() error
	// Type returns the backend type (e.g., "sqlite", "gcs").
	Type() string
	// Name returns the configured connection name.
	Name() string
}

// ResourceConnectionResolver resolves connections by their configured name.
type ResourceConnectionResolver interface {
	ResolveConnection(ctx context.Context, name string) (ResourceConnection, error)
}
