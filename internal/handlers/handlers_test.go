package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"portalauth/internal/audit"
	"portalauth/internal/config"
	"portalauth/internal/ids"
	"portalauth/internal/lockout"
	"portalauth/internal/metrics"
	"portalauth/internal/middleware"
	"portalauth/internal/models"
	"portalauth/internal/repository"
	"portalauth/internal/security"
	"portalauth/internal/service"
)

const password = "Str0ngPassw0rd"

type testAPI struct {
	engine  *gin.Engine
	backend *repository.MemoryBackend
	hasher  *security.Hasher
}

func newTestAPI(t *testing.T, checks map[string]Pinger) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.AppConfig{
		Environment: "test",
		Security: config.SecurityConfig{
			AccessTTL:    15 * time.Minute,
			AccessCookie: "access_token",
		},
	}

	backend := repository.NewMemoryBackend()
	selector := repository.NewSelector(config.StoreModeMemory, nil, backend, 0, zerolog.Nop())
	hasher := security.NewHasher(bcrypt.MinCost)
	tokens := security.NewTokenService(security.TokenConfig{AccessSecret: "a", RefreshSecret: "r"})
	sessions := service.NewSessionManager(7*24*time.Hour, 30*24*time.Hour, zerolog.Nop())
	tracker := lockout.NewMemoryTracker(lockout.Config{Threshold: 5, Duration: 15 * time.Minute})
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	auth := service.NewAuthService(selector, sessions, tokens, hasher, tracker, audit.NopPublisher{}, m, service.Options{
		AccessCookie: cfg.Security.AccessCookie,
	}, zerolog.Nop())

	h := NewHandlerSet(Deps{Log: zerolog.Nop(), Config: cfg, Auth: auth, Gatherer: registry, Checks: checks})

	engine := gin.New()
	engine.Use(middleware.RequestID(), middleware.Recovery(zerolog.Nop()), middleware.Metrics(m))
	h.Register(engine.Group("/api"))
	h.RegisterMetrics(engine)

	return &testAPI{engine: engine, backend: backend, hasher: hasher}
}

func (a *testAPI) seed(t *testing.T, email string, role models.UserRole, status models.UserStatus) models.User {
	t.Helper()
	hash, err := a.hasher.Hash(password)
	require.NoError(t, err)
	user := models.User{ID: ids.New(), Email: email, PasswordHash: hash, Role: role, Status: status}
	require.NoError(t, a.backend.Users().Create(context.Background(), user))
	return user
}

func (a *testAPI) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) login(t *testing.T, email string) authResponse {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{"email": email, "password": password}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRegisterLoginMeLogout(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/api/v1/auth/register", map[string]any{
		"email":     "new@example.com",
		"password":  password,
		"firstName": "New",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")

	resp := api.login(t, "NEW@example.com")
	assert.Equal(t, "new@example.com", resp.User.Email)
	assert.Equal(t, models.UserStatusPendingVerification, resp.User.Status)

	rec = api.do(t, http.MethodGet, "/api/v1/auth/me", nil, resp.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), resp.User.ID)

	rec = api.do(t, http.MethodPost, "/api/v1/auth/logout", nil, resp.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success": true}`, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/api/v1/auth/me", nil, resp.Tokens.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// already logged out, and no token at all
	for _, token := range []string{resp.Tokens.AccessToken, ""} {
		rec = api.do(t, http.MethodPost, "/api/v1/auth/logout", nil, token)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success": true}`, rec.Body.String())
	}
}

func TestLoginSetsAccessCookie(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seed(t, "cookie@example.com", models.UserRoleMember, models.UserStatusActive)

	rec := api.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{"email": "cookie@example.com", "password": password}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "user")
	assert.NotContains(t, body, "accessToken", "tokens are nested")
	var tokens map[string]any
	require.NoError(t, json.Unmarshal(body["tokens"], &tokens))
	assert.NotEmpty(t, tokens["accessToken"])
	assert.NotEmpty(t, tokens["refreshToken"])

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "access_token", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.AddCookie(cookies[0])
	me := httptest.NewRecorder()
	api.engine.ServeHTTP(me, req)
	assert.Equal(t, http.StatusOK, me.Code)
}

func TestLoginErrorStatuses(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seed(t, "suspended@example.com", models.UserRoleMember, models.UserStatusSuspended)
	api.seed(t, "locked@example.com", models.UserRoleMember, models.UserStatusActive)

	rec := api.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{"email": "nobody@example.com", "password": "x"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{"email": "suspended@example.com", "password": password}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	for i := 0; i < 5; i++ {
		api.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{"email": "locked@example.com", "password": "wrong"}, "")
	}
	rec = api.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{"email": "locked@example.com", "password": password}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = api.do(t, http.MethodPost, "/api/v1/auth/login", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterConflictReportsField(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seed(t, "taken@example.com", models.UserRoleMember, models.UserStatusActive)

	rec := api.do(t, http.MethodPost, "/api/v1/auth/register", map[string]any{"email": "taken@example.com", "password": password}, "")
	require.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "email", body["field"])

	rec = api.do(t, http.MethodPost, "/api/v1/auth/register", map[string]any{"email": "weak@example.com", "password": "weak"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshAndSessions(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seed(t, "multi@example.com", models.UserRoleMember, models.UserStatusActive)

	first := api.login(t, "multi@example.com")
	second := api.login(t, "multi@example.com")

	rec := api.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]any{"refreshToken": first.Tokens.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/auth/sessions", nil, second.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Sessions []sessionResponse `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 2)

	var other, current string
	for _, s := range list.Sessions {
		if s.Current {
			current = s.ID
		} else {
			other = s.ID
		}
	}
	require.NotEmpty(t, current)
	require.NotEmpty(t, other)

	rec = api.do(t, http.MethodDelete, "/api/v1/auth/sessions/"+current, nil, second.Tokens.AccessToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/v1/auth/sessions/"+other, nil, second.Tokens.AccessToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/auth/me", nil, first.Tokens.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]any{"refreshToken": first.Tokens.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRequiresPermission(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seed(t, "admin@example.com", models.UserRoleAdmin, models.UserStatusActive)
	api.seed(t, "viewer@example.com", models.UserRoleViewer, models.UserStatusActive)
	target := api.seed(t, "target@example.com", models.UserRoleMember, models.UserStatusActive)

	admin := api.login(t, "admin@example.com")
	viewer := api.login(t, "viewer@example.com")
	targetLogin := api.login(t, "target@example.com")

	path := "/api/v1/admin/users/" + target.ID + "/status"
	body := map[string]any{"status": "SUSPENDED"}

	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodPatch, path, body, "").Code)
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodPatch, path, body, viewer.Tokens.AccessToken).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPatch, path, map[string]any{"status": "BANNED"}, admin.Tokens.AccessToken).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodPatch, "/api/v1/admin/users/missing/status", body, admin.Tokens.AccessToken).Code)
	assert.Equal(t, http.StatusNoContent, api.do(t, http.MethodPatch, path, body, admin.Tokens.AccessToken).Code)

	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/v1/auth/me", nil, targetLogin.Tokens.AccessToken).Code)

	rec := api.do(t, http.MethodPost, "/api/v1/admin/sessions/cleanup", nil, admin.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"removed":0`)
}

func TestPermissionsEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seed(t, "client@example.com", models.UserRoleClient, models.UserStatusActive)
	resp := api.login(t, "client@example.com")

	rec := api.do(t, http.MethodGet, "/api/v1/auth/permissions", nil, resp.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "CLIENT", body.Role)
	assert.NotContains(t, body.Permissions, "user:manage")
	assert.NotEmpty(t, body.Permissions)
}

func TestHealthReportsDegradedDependencies(t *testing.T) {
	api := newTestAPI(t, map[string]Pinger{
		"store": PingFunc(func(context.Context) error { return nil }),
		"redis": PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	rec := api.do(t, http.MethodGet, "/api/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Dependencies["store"])
	assert.Equal(t, "error", body.Dependencies["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)
	api.do(t, http.MethodGet, "/api/healthz", nil, "")

	rec := api.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "portalauth_http_requests_total")
}
