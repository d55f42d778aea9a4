package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"gigworks-controlplane/pkg/client"
	"gigworks-controlplane/pkg/config"
	"gigworks-controlplane/pkg/db"
	"gigworks-controlplane/pkg/eventbus"
	"gigworks-controlplane/pkg/gen"
	"gigworks-controlplane/pkg/health"
	"gigworks-controlplane/pkg/logger"
	"gigworks-controlplane/pkg/redis"
	"gigworks-controlplane/pkg/sequence"
	"gigworks-controlplane/pkg/task"
	"gigworks-controlplane/services/assignment"
	"gigworks-controlplane/services/engagement"
	"gigworks-controlplane/services/history"
	"gigworks-controlplane/services/identity"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		task.Client,
		eventbus.Module,
		client.Module,
		identity.Module,
		history.Module,
		assignment.Module,
		engagement.Module,
		health.Module,
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
