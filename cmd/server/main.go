package main

import (
	"log"
	_ "time/tzdata"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"ristosmart-license/pkg/config"
	"ristosmart-license/pkg/db"
	"ristosmart-license/pkg/gen"
	"ristosmart-license/pkg/hashistack/secretmanager"
	"ristosmart-license/pkg/health"
	"ristosmart-license/pkg/httpapi"
	"ristosmart-license/pkg/logger"
	"ristosmart-license/pkg/mail"
	"ristosmart-license/pkg/otelcol"
	"ristosmart-license/pkg/profiling"
	"ristosmart-license/pkg/redis"
	"ristosmart-license/pkg/sequence"
	"ristosmart-license/pkg/server"
	"ristosmart-license/pkg/session"
	"ristosmart-license/pkg/task"
	"ristosmart-license/pkg/throttle"
	"ristosmart-license/pkg/token"
	"ristosmart-license/services/license"
	"ristosmart-license/services/notification"
	"ristosmart-license/services/scheduler"
	"ristosmart-license/services/user"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		task.Client,
		gen.Module,
		sequence.Module,
		token.Module,
		session.Module,
		throttle.Module,
		mail.Module,
		mail.OutboxModule,
		health.Module,
		httpapi.Module,
		license.ServerModule,
		user.ServerModule,
		notification.ServerModule,
		scheduler.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})
