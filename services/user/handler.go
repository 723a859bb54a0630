package user

import (
	"errors"
	"net/http"

	"ristosmart-license/pkg/config"
	"ristosmart-license/pkg/errutil"
	"ristosmart-license/pkg/middleware"
	"ristosmart-license/pkg/session"
	"ristosmart-license/pkg/throttle"
	"ristosmart-license/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Handler struct {
	service  *Service
	sessions *session.Manager
	throttle *throttle.Throttle
	access   middleware.AccessChecker
	cookie   string
	secure   bool
}

type HandlerParams struct {
	fx.In

	Service  *Service
	Sessions *session.Manager
	Throttle *throttle.Throttle
	Access   middleware.AccessChecker
	Config   *config.Config
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		service:  p.Service,
		sessions: p.Sessions,
		throttle: p.Throttle,
		access:   p.Access,
		cookie:   p.Config.Session.Name,
		secure:   p.Config.AppEnv == "production",
	}
}

func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/register", h.SignUp)
	api.POST("/login", h.Login)
	api.POST("/logout", h.Logout)
	api.GET("/me", middleware.RequireLogin(), middleware.RequireLicense(h.access), h.Me)
	api.PUT("/me/newsletter", middleware.RequireLogin(), h.Newsletter)
}

type signUpRequest struct {
	FirstName       string `json:"first_name" form:"first_name" binding:"max=100"`
	LastName        string `json:"last_name" form:"last_name" binding:"max=100"`
	Email           string `json:"email" form:"email" binding:"required,max=254"`
	Password        string `json:"password" form:"password" binding:"required,max=512"`
	NewsletterOptIn bool   `json:"newsletter_opt_in" form:"newsletter_opt_in"`
}

func (h *Handler) SignUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBind(&req); err != nil {
		c.Error(validation.BindError(err))
		return
	}
	u, err := h.service.Register(c.Request.Context(), RegisterParams{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Email:           req.Email,
		Password:        req.Password,
		NewsletterOptIn: req.NewsletterOptIn,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "user": u})
}

type loginRequest struct {
	Email    string `json:"email" form:"email" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

// Login is guarded by the per-IP failure throttle. A successful login
// clears the counter for that IP.
func (h *Handler) Login(c *gin.Context) {
	ip := c.ClientIP()
	if h.throttle.IsBlocked(ip) {
		zap.L().Warn("[User] login throttled", zap.String("ip", ip))
		c.Error(ErrTooManyAttempts)
		return
	}

	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.Error(validation.BindError(err))
		return
	}

	u, err := h.service.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.throttle.RecordFailure(ip)
		}
		c.Error(err)
		return
	}
	h.throttle.Clear(ip)

	raw, exp, err := h.sessions.Issue(u.Identity())
	if err != nil {
		c.Error(errutil.Internal("failed to issue session", err))
		return
	}

	hasAccess := u.Role == session.RoleAdmin
	if !hasAccess {
		hasAccess, err = h.access.HasActiveAccess(c.Request.Context(), u.Email)
		if err != nil {
			c.Error(err)
			return
		}
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie, raw, int(h.sessions.TTL().Seconds()), "/", "", h.secure, true)
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"token":      raw,
		"expires_at": exp,
		"role":       u.Role,
		"has_access": hasAccess,
	})
}

func (h *Handler) Logout(c *gin.Context) {
	c.SetCookie(h.cookie, "", -1, "/", "", h.secure, true)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) Me(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	u, err := h.service.Get(c.Request.Context(), id.UserID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "user": u})
}

type newsletterRequest struct {
	OptIn bool `json:"opt_in"`
}

func (h *Handler) Newsletter(c *gin.Context) {
	var req newsletterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(validation.BindError(err))
		return
	}
	id, _ := middleware.IdentityFrom(c)
	if err := h.service.SetNewsletter(c.Request.Context(), id.UserID, req.OptIn); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "newsletter_opt_in": req.OptIn})
}
