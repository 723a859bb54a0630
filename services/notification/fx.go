package notification

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.module",
	fx.Provide(NewService),
)

var ServerModule = fx.Module("notification.server",
	Module,
	fx.Provide(NewHandler),
	fx.Invoke(func(r *gin.Engine, h *Handler) { h.Register(r) }),
)
