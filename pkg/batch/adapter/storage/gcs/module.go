package gcs

import (
	"go.uber.org/fx"
)

// Module registers the GCS StorageProvider in the "storage_providers" group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewGCSProvider,
		fx.ResultTags(`group:"storage_providers"`),
	)),
)
