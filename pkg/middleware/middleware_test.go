package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ristosmart-license/pkg/errutil"
	"ristosmart-license/pkg/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type checkerFunc func(ctx context.Context, email string) (bool, error)

func (f checkerFunc) HasActiveAccess(ctx context.Context, email string) (bool, error) {
	return f(ctx, email)
}

func newEngine(t *testing.T, checker AccessChecker) (*gin.Engine, *session.Manager) {
	t.Helper()
	m, err := session.NewManager([]byte("test-secret"), time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Error(), Session(m, "sess"))
	r.GET("/protected", RequireLogin(), RequireLicense(checker), func(c *gin.Context) {
		id, _ := IdentityFrom(c)
		ctxID, ok := IdentityFromContext(c.Request.Context())
		require.True(t, ok)
		require.Equal(t, id.Email, ctxID.Email)
		c.JSON(http.StatusOK, gin.H{"ok": true, "email": id.Email})
	})
	r.GET("/admin", RequireAdmin(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/boom", func(c *gin.Context) {
		c.Error(errors.New("db password is hunter2"))
	})
	return r, m
}

func do(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func issue(t *testing.T, m *session.Manager, role, email string) string {
	raw, _, err := m.Issue(session.Identity{UserID: "1", Email: email, Role: role})
	require.NoError(t, err)
	return raw
}

func TestRequireLicense(t *testing.T) {
	checked := 0
	r, m := newEngine(t, checkerFunc(func(ctx context.Context, email string) (bool, error) {
		checked++
		return email == "paid@x.com", nil
	}))

	w := do(r, "/protected", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, "/protected", issue(t, m, session.RoleUser, "free@x.com"))
	require.Equal(t, http.StatusForbidden, w.Code)
	var body struct {
		OK    bool `json:"ok"`
		Error struct {
			Reason string `json:"reason"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.False(t, body.OK)
	require.Equal(t, "license_required", body.Error.Reason)

	w = do(r, "/protected", issue(t, m, session.RoleUser, "paid@x.com"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 2, checked)
}

func TestAdminBypassesLicenseCheck(t *testing.T) {
	r, m := newEngine(t, checkerFunc(func(ctx context.Context, email string) (bool, error) {
		t.Fatal("admin must not be checked")
		return false, nil
	}))

	w := do(r, "/protected", issue(t, m, session.RoleAdmin, "boss@x.com"))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRequireLicenseStorageFailure(t *testing.T) {
	r, m := newEngine(t, checkerFunc(func(ctx context.Context, email string) (bool, error) {
		return false, errutil.ServiceUnavailable("storage unavailable", errors.New("disk gone"), errutil.WithReason("storage_unavailable"))
	}))

	w := do(r, "/protected", issue(t, m, session.RoleUser, "a@x.com"))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NotContains(t, w.Body.String(), "disk gone")
}

func TestRequireAdmin(t *testing.T) {
	r, m := newEngine(t, nil)

	require.Equal(t, http.StatusUnauthorized, do(r, "/admin", "").Code)
	require.Equal(t, http.StatusForbidden, do(r, "/admin", issue(t, m, session.RoleUser, "a@x.com")).Code)
	require.Equal(t, http.StatusOK, do(r, "/admin", issue(t, m, session.RoleAdmin, "a@x.com")).Code)
}

func TestSessionFromCookie(t *testing.T) {
	r, m := newEngine(t, checkerFunc(func(ctx context.Context, email string) (bool, error) { return true, nil }))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "sess", Value: issue(t, m, session.RoleUser, "c@x.com")})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "c@x.com")
}

func TestErrorHidesUnknownErrors(t *testing.T) {
	r, _ := newEngine(t, nil)
	w := do(r, "/boom", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "hunter2")
}
