package license

import (
	"net/http"

	"ristosmart-license/pkg/calendar"
	"ristosmart-license/pkg/db/pagination"
	"ristosmart-license/pkg/middleware"
	"ristosmart-license/pkg/token"
	"ristosmart-license/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the public license routes and the admin routes.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/license/activate", middleware.RequireLogin(), h.Activate)
	r.GET("/license/renew", h.RenewForm)
	r.POST("/license/renew", h.Renew)

	admin := r.Group("/admin/licenses", middleware.RequireAdmin())
	admin.POST("", h.Create)
	admin.GET("", h.List)
	admin.POST("/cleanup", h.Cleanup)
	admin.GET("/export.csv", h.Export)
	admin.DELETE("/by-id/:id", h.Revoke)
	admin.GET("/:key", h.Get)
	admin.PUT("/:key/expiry", h.SetExpiry)
	admin.GET("/:key/renewals", h.History)
	admin.POST("/:key/renew", h.AdminRenew)
	admin.POST("/:key/delivery", h.MarkDelivery)
	admin.POST("/:key/send", h.SendKey)
}

// activateRequest accepts the key as license_key or licenseKey. Email is
// optional and, when sent, must match the signed-in account.
type activateRequest struct {
	Email      string `json:"email" form:"email" binding:"omitempty,email"`
	LicenseKey string `json:"license_key" form:"license_key" binding:"required_without=KeyAlias"`
	KeyAlias   string `json:"licenseKey" form:"licenseKey"`
}

func (r activateRequest) key() string {
	if r.LicenseKey != "" {
		return r.LicenseKey
	}
	return r.KeyAlias
}

// Activate binds a license to the signed-in account.
func (h *Handler) Activate(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	var req activateRequest
	if err := c.ShouldBind(&req); err != nil {
		c.Error(validation.BindError(err))
		return
	}
	if req.Email != "" && token.NormalizeEmail(req.Email) != token.NormalizeEmail(id.Email) {
		c.Error(ErrEmailMismatch)
		return
	}
	if err := h.service.Activate(c.Request.Context(), id.Email, req.key()); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) RenewForm(c *gin.Context) {
	view, err := h.service.PreviewRenewal(c.Request.Context(), c.Query("token"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "license": view})
}

type renewRequest struct {
	Token  string `json:"token" form:"token" binding:"required"`
	Months int    `json:"months" form:"months" binding:"required"`
}

func (h *Handler) Renew(c *gin.Context) {
	var req renewRequest
	if err := c.ShouldBind(&req); err != nil {
		c.Error(validation.BindError(err))
		return
	}
	res, err := h.service.RenewWithToken(c.Request.Context(), req.Token, req.Months)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "new_expiry": res.NewExpiry})
}

type createRequest struct {
	LicenseKey string         `json:"license_key" binding:"omitempty,max=64"`
	HolderName string         `json:"holder_name" binding:"max=200"`
	ExpiresOn  *calendar.Date `json:"expires_on"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(validation.BindError(err))
		return
	}
	lic, err := h.service.Create(c.Request.Context(), CreateParams{
		LicenseKey: req.LicenseKey,
		HolderName: req.HolderName,
		ExpiresOn:  req.ExpiresOn,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "license": lic})
}

func (h *Handler) List(c *gin.Context) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		c.Error(validation.BindError(err))
		return
	}
	data, info, err := h.service.List(c.Request.Context(), p)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": data, "page_info": info})
}

func (h *Handler) Get(c *gin.Context) {
	view, err := h.service.AdminView(c.Request.Context(), c.Param("key"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "license": view})
}

// Export streams the license table as a CSV attachment. Once the body has
// started a failure can only be logged.
func (h *Handler) Export(c *gin.Context) {
	name := "licenses_" + h.service.now().Format("20060102_150405") + ".csv"
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Status(http.StatusOK)

	if err := h.service.Export(c.Request.Context(), c.Writer); err != nil {
		zap.L().Error("[License] export failed", zap.Error(err))
	}
}

type expiryRequest struct {
	ExpiresOn *calendar.Date `json:"expires_on"`
}

func (h *Handler) SetExpiry(c *gin.Context) {
	var req expiryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(validation.BindError(err))
		return
	}
	lic, err := h.service.SetExpiry(c.Request.Context(), c.Param("key"), req.ExpiresOn)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "license": lic})
}

func (h *Handler) History(c *gin.Context) {
	records, err := h.service.History(c.Request.Context(), c.Param("key"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": records})
}

type adminRenewRequest struct {
	Email  string `json:"email" binding:"required,email"`
	Months int    `json:"months" binding:"required"`
}

func (h *Handler) AdminRenew(c *gin.Context) {
	var req adminRenewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(validation.BindError(err))
		return
	}
	res, err := h.service.Renew(c.Request.Context(), RenewParams{
		LicenseKey: c.Param("key"),
		Email:      req.Email,
		Months:     req.Months,
		Actor:      ActorAdmin,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "new_expiry": res.NewExpiry, "renewal": res})
}

type deliveryRequest struct {
	Email   string `json:"email" binding:"omitempty,email"`
	WAPhone string `json:"wa_phone" binding:"max=32"`
	Channel string `json:"channel" binding:"max=16"`
}

func (h *Handler) MarkDelivery(c *gin.Context) {
	var req deliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(validation.BindError(err))
		return
	}
	d, err := h.service.MarkDelivery(c.Request.Context(), c.Param("key"), MarkDeliveryParams{
		Email:   req.Email,
		WAPhone: req.WAPhone,
		Channel: req.Channel,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "delivery": d})
}

type sendKeyRequest struct {
	Email      string `json:"email" binding:"required,email"`
	HolderName string `json:"holder_name" binding:"max=200"`
}

func (h *Handler) SendKey(c *gin.Context) {
	var req sendKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(validation.BindError(err))
		return
	}
	if err := h.service.SendKey(c.Request.Context(), c.Param("key"), req.Email, req.HolderName); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) Revoke(c *gin.Context) {
	if err := h.service.Revoke(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type cleanupRequest struct {
	Mode       CleanupMode `json:"mode" binding:"required,oneof=keep_email keep_key"`
	Value      string      `json:"value" binding:"required"`
	OnlyActive bool        `json:"only_active"`
}

func (h *Handler) Cleanup(c *gin.Context) {
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(validation.BindError(err))
		return
	}
	res, err := h.service.Cleanup(c.Request.Context(), req.Mode, req.Value, req.OnlyActive)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "kept": res.Kept, "deleted": res.Deleted})
}
