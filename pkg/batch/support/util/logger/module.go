package logger

import "go.uber.org/fx"

// Module installs the fx event adapter so container events use this logger.
var Module = fx.Options(
	fx.WithLogger(NewFxLoggerAdapter),
)
