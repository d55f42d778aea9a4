package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"gigworks-controlplane/pkg/client"
	"gigworks-controlplane/pkg/config"
	"gigworks-controlplane/pkg/eventbus"
	"gigworks-controlplane/pkg/logger"
	"gigworks-controlplane/pkg/task"
	"gigworks-controlplane/services/notify"
)

// The worker consumes the post-commit task queue: clan notification fan-out
// and anything else that must run off the request path.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		eventbus.Module,
		client.Module,
		task.Server,
		notify.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
