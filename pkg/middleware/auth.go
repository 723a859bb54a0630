package middleware

import (
	"context"
	"strings"

	"ristosmart-license/pkg/errutil"
	"ristosmart-license/pkg/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityKey = "identity"

type identityCtxKey struct{}

// AccessChecker is the authorization predicate behind RequireLicense.
type AccessChecker interface {
	HasActiveAccess(ctx context.Context, email string) (bool, error)
}

// Session resolves the caller from a Bearer token or the session cookie.
// Requests without a valid session continue anonymously.
func Session(m *session.Manager, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" && cookieName != "" {
			raw, _ = c.Cookie(cookieName)
		}
		if raw != "" {
			id, err := m.Parse(raw)
			if err == nil {
				setIdentity(c, id)
			} else {
				zap.L().Debug("ignoring invalid session", zap.String("path", c.FullPath()))
			}
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func setIdentity(c *gin.Context, id *session.Identity) {
	c.Set(identityKey, id)
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), identityCtxKey{}, id))
}

// IdentityFrom returns the authenticated caller, if any.
func IdentityFrom(c *gin.Context) (*session.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*session.Identity)
	return id, ok && id != nil
}

func IdentityFromContext(ctx context.Context) (*session.Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(*session.Identity)
	return id, ok && id != nil
}

func RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := IdentityFrom(c); !ok {
			c.Error(errutil.Unauthorized("login required", nil, errutil.WithReason("login_required")))
			c.Abort()
			return
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			c.Error(errutil.Unauthorized("login required", nil, errutil.WithReason("login_required")))
			c.Abort()
			return
		}
		if !id.IsAdmin() {
			c.Error(errutil.Forbidden("admin only", nil, errutil.WithReason("admin_required")))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireLicense lets the request through when the caller holds an active
// license. Admins are never checked.
func RequireLicense(checker AccessChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			c.Error(errutil.Unauthorized("login required", nil, errutil.WithReason("login_required")))
			c.Abort()
			return
		}
		if id.IsAdmin() {
			c.Next()
			return
		}

		active, err := checker.HasActiveAccess(c.Request.Context(), id.Email)
		if err != nil {
			c.Error(err)
			c.Abort()
			return
		}
		if !active {
			c.Error(errutil.Forbidden("an active license is required", nil, errutil.WithReason("license_required")))
			c.Abort()
			return
		}
		c.Next()
	}
}
