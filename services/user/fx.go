package user

import (
	"ristosmart-license/pkg/db"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("user.module",
	fx.Provide(NewService),
	fx.Invoke(migrate),
)

var ServerModule = fx.Module("user.server",
	Module,
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

func migrate(gdb *gorm.DB) error {
	return db.Migrate(gdb, &User{})
}

func registerRoutes(r *gin.Engine, h *Handler) {
	h.Register(r)
}
