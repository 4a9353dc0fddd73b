package storage

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the StorageConnectionResolver over the providers registered in
// the "storage_providers" group, and closes their connections on stop.
var Module = fx.Options(
	fx.Provide(
		NewStorageConnectionResolver,
		func(r *ConnectionResolver) StorageConnectionResolver { return r },
	),
	fx.Invoke(func(lc fx.Lifecycle, r *ConnectionResolver) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return r.CloseAll()
			},
		})
	}),
)
