package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// newRouter wires middleware and routes.
func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) { respondError(c, errRouteNotFound) })
	r.NoMethod(func(c *gin.Context) { respondError(c, errMethodNotAllowed) })

	r.Use(s.recovery())
	r.Use(otelgin.Middleware(s.config.ServiceName))
	r.Use(s.requestID())
	r.Use(s.requestLogger())
	r.Use(corsMiddleware(s.config.AllowedOrigins))

	// ─────────────────────────────────────────────────────────────────────────
	// Health
	// ─────────────────────────────────────────────────────────────────────────
	r.GET("/livez", s.handleLive)
	if s.deps.Health != nil {
		r.GET("/healthz", s.handleHealth)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Public
	// ─────────────────────────────────────────────────────────────────────────
	api := r.Group("/api/v1")
	if s.deps.Ranking != nil {
		api.GET("/ranking", s.handleRanking)
		api.GET("/ranking/top", s.handleRankingTop)
	}
	if s.deps.Reports != nil {
		api.GET("/reports", s.handleListReports)
		api.GET("/reports/:week", s.handleGetReport)
	}
	if s.deps.Status != nil {
		api.GET("/users/:id/status", s.handleUserStatus)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Admin
	// ─────────────────────────────────────────────────────────────────────────
	if !s.adminEnabled() {
		return r
	}
	admin := api.Group("/admin", s.requireAdmin())
	if s.deps.Users != nil {
		admin.PUT("/users/:id", s.handleRegisterUser)
		admin.DELETE("/users/:id", s.handleDeactivateUser)
	}
	if s.deps.Preferences != nil {
		admin.PUT("/users/:id/goal", s.handleSetGoal)
		admin.DELETE("/users/:id/goal", s.handleClearGoal)
		admin.PATCH("/settings", s.handleUpdateSettings)
	}
	if s.deps.Settings != nil {
		admin.GET("/settings", s.handleGetSettings)
	}
	if s.deps.Jobs != nil {
		admin.GET("/jobs", s.handleListJobs)
		admin.POST("/jobs/:name/run", s.handleRunJob)
	}
	return r
}
