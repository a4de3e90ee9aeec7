package tier

import "go.uber.org/fx"

var Module = fx.Module("tier.module",
	fx.Provide(NewService),
)
