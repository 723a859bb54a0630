package license

import (
	"ristosmart-license/pkg/db"
	"ristosmart-license/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("license.module",
	fx.Provide(
		NewService,
		func(s *Service) middleware.AccessChecker { return s },
	),
	fx.Invoke(migrate),
)

var ServerModule = fx.Module("license.server",
	Module,
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

func migrate(gdb *gorm.DB) error {
	return db.Migrate(gdb, &License{}, &RenewalRecord{})
}

func registerRoutes(r *gin.Engine, h *Handler) {
	h.Register(r)
}
