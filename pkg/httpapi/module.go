package httpapi

import (
	"net/http"

	"ristosmart-license/pkg/config"
	"ristosmart-license/pkg/errutil"
	"ristosmart-license/pkg/health"
	"ristosmart-license/pkg/middleware"
	"ristosmart-license/pkg/session"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewEngine),
	fx.Invoke(registerHealthEndpoint),
)

type Params struct {
	fx.In

	Config  *config.Config
	Session *session.Manager
}

// NewEngine builds the gin engine shared by every service handler. Error
// rendering and session resolution apply to all routes.
func NewEngine(p Params) *gin.Engine {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		gin.CustomRecovery(func(c *gin.Context, recovered any) {
			zap.L().Error("panic recovered", zap.Any("panic", recovered), zap.String("path", c.FullPath()))
			body := errutil.BaseError{Code: errutil.StatusInternal, Message: "internal server error"}
			c.AbortWithStatusJSON(http.StatusInternalServerError, body.JSON())
		}),
		middleware.Error(),
		middleware.Session(p.Session, p.Config.Session.Name),
	)
	r.NoRoute(func(c *gin.Context) {
		body := errutil.BaseError{Code: errutil.StatusNotFound, Reason: "route_not_found", Message: "route not found"}
		c.JSON(http.StatusNotFound, body.JSON())
	})
	return r
}

func registerHealthEndpoint(r *gin.Engine, h health.HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
