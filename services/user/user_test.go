package user

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ristosmart-license/pkg/middleware"
	"ristosmart-license/pkg/session"
	"ristosmart-license/pkg/throttle"
	"ristosmart-license/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type accessFunc func(ctx context.Context, email string) (bool, error)

func (f accessFunc) HasActiveAccess(ctx context.Context, email string) (bool, error) {
	return f(ctx, email)
}

func newService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &User{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return New(NewStore(db), node, "Boss@RistoSmart.it")
}

func newRouter(t *testing.T, svc *Service, access middleware.AccessChecker) *gin.Engine {
	t.Helper()
	m, err := session.NewManager([]byte("session-secret"), time.Hour)
	require.NoError(t, err)

	h := &Handler{
		service:  svc,
		sessions: m,
		throttle: throttle.New(600*time.Second, 5),
		access:   access,
		cookie:   "sess",
	}
	r := gin.New()
	r.Use(middleware.Error(), middleware.Session(m, "sess"))
	h.Register(r)
	return r
}

func post(r http.Handler, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterParams{FirstName: "Mario", Email: " Mario@X.com ", Password: "password1", NewsletterOptIn: true})
	require.NoError(t, err)
	require.Equal(t, "mario@x.com", u.Email)
	require.Equal(t, session.RoleUser, u.Role)
	require.NotContains(t, u.PasswordHash, "password1")

	_, err = svc.Register(ctx, RegisterParams{Email: "mario@x.com", Password: "password2"})
	require.ErrorIs(t, err, ErrEmailTaken)
	_, err = svc.Register(ctx, RegisterParams{Email: "short@x.com", Password: "1234567"})
	require.ErrorIs(t, err, ErrWeakPassword)
	_, err = svc.Register(ctx, RegisterParams{Email: "not-an-email", Password: "password1"})
	require.ErrorIs(t, err, ErrInvalidEmail)

	got, err := svc.Authenticate(ctx, "MARIO@x.com", "password1")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	_, err = svc.Authenticate(ctx, "mario@x.com", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "ghost@x.com", "password1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestConfiguredAdminEmailGetsAdminRole(t *testing.T) {
	svc := newService(t)
	u, err := svc.Register(context.Background(), RegisterParams{Email: "boss@ristosmart.it", Password: "password1"})
	require.NoError(t, err)
	require.Equal(t, session.RoleAdmin, u.Role)
}

func TestEnsureAdmin(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterParams{Email: "ops@x.com", Password: "password1"})
	require.NoError(t, err)

	u, err := svc.EnsureAdmin(ctx, "ops@x.com", "new-password")
	require.NoError(t, err)
	require.Equal(t, session.RoleAdmin, u.Role)

	_, err = svc.Authenticate(ctx, "ops@x.com", "new-password")
	require.NoError(t, err)

	fresh, err := svc.EnsureAdmin(ctx, "root@x.com", "password1")
	require.NoError(t, err)
	require.Equal(t, session.RoleAdmin, fresh.Role)
}

func TestDripCandidatesAndStageAdvance(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	svc.now = func() time.Time { return base }
	in, err := svc.Register(ctx, RegisterParams{Email: "in@x.com", Password: "password1", NewsletterOptIn: true})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterParams{Email: "out@x.com", Password: "password1"})
	require.NoError(t, err)
	svc.now = func() time.Time { return base.AddDate(0, 0, 5) }
	_, err = svc.Register(ctx, RegisterParams{Email: "late@x.com", Password: "password1", NewsletterOptIn: true})
	require.NoError(t, err)

	users, err := svc.Store().DripCandidates(ctx, base.AddDate(0, 0, 1), 5)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, in.ID, users[0].ID)

	ok, err := svc.Store().AdvancePromoStage(ctx, in.ID, 3, base)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = svc.Store().AdvancePromoStage(ctx, in.ID, 2, base)
	require.NoError(t, err)
	require.False(t, ok, "stages never go backwards")
	ok, err = svc.Store().AdvancePromoStage(ctx, in.ID, 5, base)
	require.NoError(t, err)
	require.True(t, ok)

	users, err = svc.Store().DripCandidates(ctx, base.AddDate(0, 0, 30), 5)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "late@x.com", users[0].Email)
}

func TestLoginThrottleBlocksSixthAttempt(t *testing.T) {
	svc := newService(t)
	_, err := svc.Register(context.Background(), RegisterParams{Email: "a@x.com", Password: "password1"})
	require.NoError(t, err)
	r := newRouter(t, svc, accessFunc(func(context.Context, string) (bool, error) { return true, nil }))

	for i := 0; i < 5; i++ {
		w := post(r, "/api/login", gin.H{"email": "a@x.com", "password": "bad-password"})
		require.Equal(t, http.StatusUnauthorized, w.Code, "attempt %d", i+1)
	}

	w := post(r, "/api/login", gin.H{"email": "a@x.com", "password": "password1"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestLoginClearsThrottleOnSuccess(t *testing.T) {
	svc := newService(t)
	_, err := svc.Register(context.Background(), RegisterParams{Email: "a@x.com", Password: "password1"})
	require.NoError(t, err)
	r := newRouter(t, svc, accessFunc(func(context.Context, string) (bool, error) { return false, nil }))

	for i := 0; i < 4; i++ {
		post(r, "/api/login", gin.H{"email": "a@x.com", "password": "bad-password"})
	}
	w := post(r, "/api/login", gin.H{"email": "a@x.com", "password": "password1"})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, false, body["has_access"])
	require.NotEmpty(t, body["token"])

	for i := 0; i < 4; i++ {
		w = post(r, "/api/login", gin.H{"email": "a@x.com", "password": "bad-password"})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestMeRequiresActiveLicense(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterParams{Email: "a@x.com", Password: "password1"})
	require.NoError(t, err)

	licensed := map[string]bool{}
	r := newRouter(t, svc, accessFunc(func(_ context.Context, email string) (bool, error) {
		return licensed[email], nil
	}))

	login := post(r, "/api/login", gin.H{"email": "a@x.com", "password": "password1"})
	require.Equal(t, http.StatusOK, login.Code)
	cookies := login.Result().Cookies()
	require.NotEmpty(t, cookies)

	me := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusForbidden, me().Code)
	licensed["a@x.com"] = true
	require.Equal(t, http.StatusOK, me().Code)

	w := post(r, "/api/logout", nil, cookies...)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSignUpValidatesBody(t *testing.T) {
	svc := newService(t)
	r := newRouter(t, svc, accessFunc(func(context.Context, string) (bool, error) { return false, nil }))

	errorOf := func(w *httptest.ResponseRecorder) map[string]any {
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return body["error"].(map[string]any)
	}

	w := post(r, "/api/register", gin.H{"first_name": "Mario"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	e := errorOf(w)
	require.Equal(t, "validation_failed", e["code"])
	fields := []string{}
	for _, d := range e["details"].([]any) {
		fields = append(fields, d.(map[string]any)["field"].(string))
	}
	require.ElementsMatch(t, []string{"email", "password"}, fields)

	w = post(r, "/api/register", gin.H{"email": "not-an-email", "password": "password1"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_email", errorOf(w)["reason"])

	w = post(r, "/api/register", gin.H{"email": "a@x.com", "password": "short"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "weak_password", errorOf(w)["reason"])

	w = post(r, "/api/register", gin.H{"email": " A@X.com ", "password": "password1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = post(r, "/api/login", gin.H{"email": "a@x.com"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_argument", errorOf(w)["reason"])
}
