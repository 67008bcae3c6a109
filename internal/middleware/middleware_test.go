package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"portalauth/internal/models"
	"portalauth/internal/permissions"
	"portalauth/internal/service"
)

type stubAuth struct {
	identity service.Identity
	err      *service.AccessError
}

func (s stubAuth) RequireAuth(context.Context, *http.Request) (service.Identity, *service.AccessError) {
	return s.identity, s.err
}

func (s stubAuth) RequirePermission(_ context.Context, _ *http.Request, perm permissions.Permission) (service.Identity, *service.AccessError) {
	if s.err != nil {
		return service.Identity{}, s.err
	}
	if !permissions.Has(s.identity.User.Role, perm) {
		return service.Identity{}, &service.AccessError{Status: http.StatusForbidden, Message: "insufficient permissions"}
	}
	return s.identity, nil
}

func newRouter(auth stubAuth, perm permissions.Permission) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	echo := func(c *gin.Context) {
		user, _ := CurrentUser(c)
		c.String(http.StatusOK, user.ID+"/"+SessionID(c))
	}
	r.GET("/protected", RequirePermission(auth, perm), echo)
	r.GET("/me", Auth(auth), echo)
	r.GET("/no-auth", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func serve(r *gin.Engine, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAuthAndPermission(t *testing.T) {
	editor := service.Identity{User: models.PublicUser{ID: "u1", Role: models.UserRoleEditor}, SessionID: "s1"}

	tests := []struct {
		name   string
		auth   stubAuth
		perm   permissions.Permission
		status int
	}{
		{"unauthenticated", stubAuth{err: &service.AccessError{Status: http.StatusUnauthorized, Message: "authentication required"}}, permissions.ContentRead, http.StatusUnauthorized},
		{"allowed", stubAuth{identity: editor}, permissions.ContentPublish, http.StatusOK},
		{"forbidden", stubAuth{identity: editor}, permissions.UserManage, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newRouter(tt.auth, tt.perm), "/protected")
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "u1/s1", rec.Body.String())
			}
		})
	}
}

func TestAuthStoresIdentity(t *testing.T) {
	viewer := service.Identity{User: models.PublicUser{ID: "u2", Role: models.UserRoleViewer}, SessionID: "s2"}

	rec := serve(newRouter(stubAuth{identity: viewer}, permissions.ContentRead), "/me")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u2/s2", rec.Body.String())

	denied := stubAuth{err: &service.AccessError{Status: http.StatusUnauthorized, Message: "authentication required"}}
	rec = serve(newRouter(denied, permissions.ContentRead), "/me")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"authentication required"}`, rec.Body.String())
}

func TestRequestIDPropagation(t *testing.T) {
	r := newRouter(stubAuth{}, permissions.ContentRead)

	rec := serve(r, "/no-auth")
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/no-auth", nil)
	req.Header.Set(requestIDHeader, "abc")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(requestIDHeader))
}

func corsRequest(r *gin.Engine, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/x", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func newCORSRouter(origins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(origins))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.OPTIONS("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestCORSPreflight(t *testing.T) {
	r := newCORSRouter([]string{" https://portal.example "})

	rec := corsRequest(r, http.MethodOptions, "https://portal.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://portal.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Retry-After")

	rec = corsRequest(r, http.MethodOptions, "https://evil.example")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = corsRequest(r, http.MethodGet, "https://evil.example")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = corsRequest(r, http.MethodGet, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Vary"))
}

func TestCORSOpenModeWithholdsCredentials(t *testing.T) {
	r := newCORSRouter(nil)

	rec := corsRequest(r, http.MethodOptions, "https://anywhere.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}
