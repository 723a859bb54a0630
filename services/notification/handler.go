package notification

import (
	"context"
	"net/http"

	"ristosmart-license/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r gin.IRouter) {
	admin := r.Group("/admin/notifications", middleware.RequireAdmin())
	admin.POST("/reminders", h.run(h.service.RunExpiryReminders))
	admin.POST("/drip", h.run(h.service.RunDrip))
}

func (h *Handler) run(fn func(context.Context) (*Summary, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		sum, err := fn(c.Request.Context())
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, sum)
	}
}
