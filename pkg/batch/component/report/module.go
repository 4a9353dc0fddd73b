package report

import (
	"go.uber.org/fx"

	"github.com/tigerroll/feedpipe/pkg/batch/adapter/storage"
	"github.com/tigerroll/feedpipe/pkg/batch/core/config"
)

// NewExporterProvider returns a ParquetExporter when reports are enabled.
func NewExporterProvider(cfg *config.Config, resolver storage.StorageConnectionResolver) Exporter {
	if !cfg.Feedpipe.Report.Enabled {
		return NoOpExporter{}
	}
	return NewParquetExporter(resolver, cfg.Feedpipe.Report)
}

// Module provides the report Exporter.
var Module = fx.Options(
	fx.Provide(NewExporterProvider),
)
