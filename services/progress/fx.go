package progress

import "go.uber.org/fx"

var Module = fx.Module("progress.module",
	fx.Provide(NewService),
)
