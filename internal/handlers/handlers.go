package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"portalauth/internal/config"
	"portalauth/internal/middleware"
	"portalauth/internal/permissions"
	"portalauth/internal/service"
)

// Pinger is a dependency the health endpoint reports on.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Log      zerolog.Logger
	Config   *config.AppConfig
	Auth     *service.AuthService
	Gatherer prometheus.Gatherer
	// Checks maps a dependency name to its probe. Nil entries are skipped.
	Checks map[string]Pinger
}

type HandlerSet struct {
	log      zerolog.Logger
	cfg      *config.AppConfig
	auth     *service.AuthService
	gatherer prometheus.Gatherer
	checks   map[string]Pinger
}

func NewHandlerSet(deps Deps) HandlerSet {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return HandlerSet{
		log:      deps.Log,
		cfg:      deps.Config,
		auth:     deps.Auth,
		gatherer: gatherer,
		checks:   deps.Checks,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.RegisterUser)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)

		protected := v1.Group("/auth")
		protected.Use(middleware.Auth(h.auth))
		protected.GET("/me", h.Me)
		protected.GET("/permissions", h.Permissions)
		protected.GET("/sessions", h.ListSessions)
		protected.DELETE("/sessions/:id", h.RevokeSession)
	}

	admin := v1.Group("/admin")
	admin.Use(middleware.RequirePermission(h.auth, permissions.UserManage))
	admin.PATCH("/users/:id/status", h.UpdateUserStatus)
	admin.POST("/sessions/cleanup", h.CleanupSessions)
}

// RegisterMetrics exposes the Prometheus registry outside the /api prefix.
func (h HandlerSet) RegisterMetrics(engine *gin.Engine) {
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }
