package license

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"ristosmart-license/pkg/middleware"
	"ristosmart-license/pkg/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, f *fixture) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := session.NewManager([]byte("session-secret"), time.Hour)
	require.NoError(t, err)
	f.sessions = m
	admin := f.login(t, "admin@example.com", session.RoleAdmin)

	r := gin.New()
	r.Use(middleware.Error(), middleware.Session(m, "sess"))
	NewHandler(f.svc).Register(r)
	return r, admin
}

func (f *fixture) login(t *testing.T, email, role string) string {
	t.Helper()
	tok, _, err := f.sessions.Issue(session.Identity{UserID: email, Email: email, Role: role})
	require.NoError(t, err)
	return tok
}

func call(r http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func reason(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, w)
	require.Equal(t, false, body["ok"])
	return body["error"].(map[string]any)["reason"].(string)
}

func TestActivateEndpoint(t *testing.T) {
	f := newFixture(t)
	r, _ := newRouter(t, f)
	lic := f.create(t, "", "2025-06-30")
	bob := f.login(t, "bob@x.com", session.RoleUser)
	carol := f.login(t, "carol@x.com", session.RoleUser)

	w := call(r, http.MethodPost, "/license/activate", "", gin.H{"email": "victim@x.com", "license_key": lic.LicenseKey})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "login_required", reason(t, w))
	require.Empty(t, f.reload(t, lic.LicenseKey).OwnerEmail)

	w = call(r, http.MethodPost, "/license/activate", bob, gin.H{"email": "victim@x.com", "license_key": lic.LicenseKey})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "email_mismatch", reason(t, w))
	require.Empty(t, f.reload(t, lic.LicenseKey).OwnerEmail)

	w = call(r, http.MethodPost, "/license/activate", bob, gin.H{"license_key": lic.LicenseKey})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decode(t, w)["ok"])
	require.Equal(t, "bob@x.com", f.reload(t, lic.LicenseKey).OwnerEmail)

	w = call(r, http.MethodPost, "/license/activate", bob, gin.H{"email": "BOB@x.com", "licenseKey": lic.LicenseKey})
	require.Equal(t, http.StatusOK, w.Code)

	w = call(r, http.MethodPost, "/license/activate", carol, gin.H{"licenseKey": lic.LicenseKey})
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "already_bound", reason(t, w))

	w = call(r, http.MethodPost, "/license/activate", carol, gin.H{"license_key": "RSFM-NONE"})
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "not_found", reason(t, w))
}

func TestActivateEndpointValidatesBody(t *testing.T) {
	f := newFixture(t)
	r, _ := newRouter(t, f)
	bob := f.login(t, "bob@x.com", session.RoleUser)

	w := call(r, http.MethodPost, "/license/activate", bob, gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)["error"].(map[string]any)
	require.Equal(t, "validation_failed", body["code"])
	require.Equal(t, "invalid_argument", body["reason"])
	details := body["details"].([]any)
	require.Len(t, details, 1)
	require.Equal(t, "license_key", details[0].(map[string]any)["field"])

	w = call(r, http.MethodPost, "/license/activate", bob, gin.H{"email": "not-an-email", "license_key": "RSFM-AAAA-BBBB-CCCC-DDDD"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_argument", reason(t, w))
}

func TestRenewEndpointWithToken(t *testing.T) {
	f := newFixture(t)
	r, _ := newRouter(t, f)
	lic := f.create(t, "", "2025-06-30")
	require.NoError(t, f.svc.Activate(t.Context(), "a@x.com", lic.LicenseKey))

	tok, err := f.codec.Sign(lic.LicenseKey, "a@x.com", 0)
	require.NoError(t, err)

	w := call(r, http.MethodGet, "/license/renew?token="+url.QueryEscape(tok), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode(t, w)["license"].(map[string]any)
	require.Equal(t, lic.LicenseKey, view["license_key"])
	require.Equal(t, "2025-06-30", view["expires_on"])

	w = call(r, http.MethodPost, "/license/renew", "", gin.H{"token": tok, "months": 6})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_duration", reason(t, w))

	w = call(r, http.MethodPost, "/license/renew", "", gin.H{"token": tok, "months": 12})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "2026-06-30", decode(t, w)["new_expiry"])
}

func TestInvalidTokensLookIdentical(t *testing.T) {
	f := newFixture(t)
	r, _ := newRouter(t, f)
	lic := f.create(t, "", "2025-06-30")
	require.NoError(t, f.svc.Activate(t.Context(), "a@x.com", lic.LicenseKey))

	valid, err := f.codec.Sign(lic.LicenseKey, "a@x.com", time.Hour)
	require.NoError(t, err)
	sig := []byte(valid[strings.Index(valid, ".")+1:])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := valid[:strings.Index(valid, ".")+1] + string(sig)

	garbage := call(r, http.MethodPost, "/license/renew", "", gin.H{"token": "not-a-token", "months": 1})
	bad := call(r, http.MethodPost, "/license/renew", "", gin.H{"token": tampered, "months": 1})

	f.clock.Set(f.clock.Now().Add(2 * time.Hour))
	expired := call(r, http.MethodPost, "/license/renew", "", gin.H{"token": valid, "months": 1})

	for _, w := range []*httptest.ResponseRecorder{garbage, bad, expired} {
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, garbage.Body.String(), w.Body.String())
	}
	require.Equal(t, "2025-06-30", f.reload(t, lic.LicenseKey).ExpiresOn.String())
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	f := newFixture(t)
	r, admin := newRouter(t, f)

	w := call(r, http.MethodGet, "/admin/licenses", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(r, http.MethodPost, "/admin/licenses", admin, gin.H{"holder_name": "Pizzeria Bella", "expires_on": "2025-12-31"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode(t, w)["license"].(map[string]any)
	key := created["license_key"].(string)
	id := created["id"].(string)

	w = call(r, http.MethodGet, "/admin/licenses/"+key, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = call(r, http.MethodPut, "/admin/licenses/"+key+"/expiry", admin, gin.H{"expires_on": "2026-01-31"})
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, f.svc.Activate(t.Context(), "owner@x.com", key))
	w = call(r, http.MethodPost, "/admin/licenses/"+key+"/renew", admin, gin.H{"email": "owner@x.com", "months": 1})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "2026-02-28", decode(t, w)["new_expiry"])

	w = call(r, http.MethodGet, "/admin/licenses/"+key+"/renewals", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	records := decode(t, w)["data"].([]any)
	require.Len(t, records, 1)
	require.Equal(t, ActorAdmin, records[0].(map[string]any)["actor"])

	jobs := f.outbox.Jobs()
	require.Equal(t, subjectAdminRenewal, jobs[len(jobs)-1].Subject)

	w = call(r, http.MethodPost, "/admin/licenses/"+key+"/delivery", admin, gin.H{"wa_phone": "+39 333"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, ChannelWA, decode(t, w)["delivery"].(map[string]any)["last_channel"])

	w = call(r, http.MethodGet, "/admin/licenses/export.csv", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Disposition"), "licenses_20250110_090000.csv")
	require.Contains(t, w.Body.String(), key)

	w = call(r, http.MethodDelete, "/admin/licenses/by-id/"+id, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = call(r, http.MethodGet, "/admin/licenses/"+key, admin, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
