package main

import (
	"os"
	"strings"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/feedpipe/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/feedpipe/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/feedpipe/pkg/batch/adapter/database/gorm/postgres"
	"github.com/tigerroll/feedpipe/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/feedpipe/pkg/batch/adapter/storage"
	"github.com/tigerroll/feedpipe/pkg/batch/adapter/storage/gcs"
	storageLocal "github.com/tigerroll/feedpipe/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/feedpipe/pkg/batch/component/report"
	usecase "github.com/tigerroll/feedpipe/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/feedpipe/pkg/batch/core/config"
	"github.com/tigerroll/feedpipe/pkg/batch/engine/worker"
	"github.com/tigerroll/feedpipe/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/feedpipe/pkg/batch/infrastructure/repository/inmemory"
	sqlRepo "github.com/tigerroll/feedpipe/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/feedpipe/pkg/batch/listener"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

// dbProviderModules maps database types to the modules registering their DBProvider.
var dbProviderModules = map[string]fx.Option{
	"postgres": postgres.Module,
	"mysql":    mysql.Module,
	"sqlite":   sqlite.Module,
}

// getDBProviderOptions selects the DB providers to register.
// DB_ADAPTORS narrows the list (e.g. "postgres,sqlite"); all are registered by default.
func getDBProviderOptions() []fx.Option {
	adaptors := os.Getenv("DB_ADAPTORS")
	if adaptors == "" {
		adaptors = "postgres,mysql,sqlite"
	}

	options := make([]fx.Option, 0)
	for _, name := range strings.Split(adaptors, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if module, ok := dbProviderModules[name]; ok {
			options = append(options, module)
			logger.Debugf("DB Provider '%s' selected and registered.", name)
		} else {
			logger.Warnf("DB Provider '%s' is configured but not recognized/supported. Skipping.", name)
		}
	}
	return options
}

// GetApplicationOptions builds the fx options of the orchestrator. The state store is
// the SQL repository when its connection is configured and the in-memory one otherwise.
func GetApplicationOptions(cfg *config.Config) []fx.Option {
	options := []fx.Option{
		fx.Supply(cfg),
		logger.Module,
		metrics.Module,
		storage.Module,
		storageLocal.Module,
		gcs.Module,
		report.Module,
		worker.Module,
		listener.Module,
		usecase.Module,
	}

	if cfg.UsesInMemoryStateStore() {
		options = append(options, inmemory.Module)
		return options
	}
	options = append(options, getDBProviderOptions()...)
	options = append(options, gormadapter.Module, sqlRepo.Module)
	return options
}
