package logger

import (
	"go.uber.org/fx"
)

// Module provides the root zerolog logger for fx DI.
// Components derive their own sub-loggers from it.
var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)
