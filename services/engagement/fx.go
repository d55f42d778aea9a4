package engagement

import "go.uber.org/fx"

var Module = fx.Module("engagement.service",
	fx.Provide(NewService),
)
