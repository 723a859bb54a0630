package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"ristosmart-license/pkg/config"
	"ristosmart-license/pkg/hashistack/secretmanager"
	"ristosmart-license/pkg/logger"
	"ristosmart-license/pkg/mail"
	"ristosmart-license/pkg/redis"
	"ristosmart-license/pkg/task"
)

// The worker drains the mail:send queue filled by the server.
func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		redis.Module,
		task.Server,
		mail.Module,
		mail.WorkerModule,
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
