package activity

import "go.uber.org/fx"

var Module = fx.Module("activity.module",
	fx.Provide(NewService),
)
