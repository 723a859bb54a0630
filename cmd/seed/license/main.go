package main

import (
	"context"
	"errors"
	"log"
	"time"
	_ "time/tzdata"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"ristosmart-license/pkg/config"
	"ristosmart-license/pkg/db"
	"ristosmart-license/pkg/gen"
	"ristosmart-license/pkg/logger"
	"ristosmart-license/pkg/mail"
	"ristosmart-license/pkg/sequence"
	"ristosmart-license/pkg/token"
	"ristosmart-license/services/license"
	"ristosmart-license/services/user"
)

// Seeds the admin account from ADMIN_EMAIL / SEED_ADMIN_PASSWORD and
// SEED_LICENSES unbound licenses, then exits.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		sequence.Module,
		token.Module,
		mail.Module,
		mail.OutboxModule,
		license.Module,
		user.Module,
		fx.Invoke(seed),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	_ = app.Stop(ctx)
}

func seed(cfg *config.Config, users *user.Service, licenses *license.Service) error {
	ctx := context.Background()

	if cfg.Admin.Email != "" {
		if cfg.Seed.AdminPassword == "" {
			return errors.New("SEED_ADMIN_PASSWORD is required to seed the admin account")
		}
		admin, err := users.EnsureAdmin(ctx, cfg.Admin.Email, cfg.Seed.AdminPassword)
		if err != nil {
			return err
		}
		zap.L().Info("[Seed] admin ready", zap.String("email", admin.Email))
	}

	expiry := licenses.Today().AddMonths(cfg.Seed.ExpiryMonths)
	for i := 0; i < cfg.Seed.Licenses; i++ {
		lic, err := licenses.Create(ctx, license.CreateParams{ExpiresOn: &expiry})
		if err != nil {
			return err
		}
		zap.L().Info("[Seed] license created",
			zap.String("license_key", lic.LicenseKey),
			zap.Stringer("expires_on", expiry),
		)
	}
	return nil
}
