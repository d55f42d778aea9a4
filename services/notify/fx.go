package notify

import "go.uber.org/fx"

var Module = fx.Module("notify.handler",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterHandlers),
)
