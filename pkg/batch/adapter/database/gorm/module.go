package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/feedpipe/pkg/batch/adapter/database"
	coreAdapter "github.com/tigerroll/feedpipe/pkg/batch/core/adapter"
)

// Module provides the connection resolver. Concrete DB providers come from the dialect packages.
var Module = fx.Options(
	fx.Provide(
		NewGormDBConnectionResolver,
		func(r *GormDBConnectionResolver) database.DBConnectionResolver { return r },
		func(r *GormDBConnectionResolver) coreAdapter.ResourceConnectionResolver { return r },
	),
	fx.Invoke(func(lc fx.Lifecycle, r *GormDBConnectionResolver) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return r.CloseAll()
			},
		})
	}),
)
