package feed

import "go.uber.org/fx"

var Module = fx.Module("feed.module",
	fx.Provide(NewService),
)
