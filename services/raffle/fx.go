package raffle

import "go.uber.org/fx"

var Module = fx.Module("raffle.module",
	fx.Provide(NewService),
)
