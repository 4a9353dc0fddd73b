package sql

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/feedpipe/pkg/batch/adapter/database"
	"github.com/tigerroll/feedpipe/pkg/batch/core/config"
	repository "github.com/tigerroll/feedpipe/pkg/batch/core/domain/repository"
	"github.com/tigerroll/feedpipe/pkg/batch/infrastructure/migration"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/exception"
)

// RepositoryParams defines the dependencies for NewPipelineRepositoryProvider.
type RepositoryParams struct {
	fx.In
	Resolver database.DBConnectionResolver
	Cfg      *config.Config
}

// NewPipelineRepositoryProvider builds the SQL repository for the configured
// connections, applying the schema migrations first when enabled.
func NewPipelineRepositoryProvider(p RepositoryParams) (repository.PipelineRepository, error) {
	infra := p.Cfg.Feedpipe.Infrastructure
	if infra.RunMigrations {
		conn, err := p.Resolver.ResolveDBConnection(context.Background(), infra.StateStoreDBRef)
		if err != nil {
			return nil, exception.NewFatalError("sql.Module", "failed to resolve state store connection", err)
		}
		if err := migration.NewMigrator(conn).Up(context.Background()); err != nil {
			return nil, err
		}
	}
	return NewSQLPipelineRepository(p.Resolver, infra.StateStoreDBRef, infra.CatalogDBRef), nil
}

// Module provides the SQL-backed repository.PipelineRepository.
var Module = fx.Options(
	fx.Provide(NewPipelineRepositoryProvider),
)
