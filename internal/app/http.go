package app

import (
	"github.com/gin-gonic/gin"

	httpserver "github.com/ac-hub/atcoder-ranking-hub/internal/interface/http"
)

// NewHTTPServer builds the API server. Job routes are mounted only where a
// scheduler runs.
func (a *App) NewHTTPServer() *httpserver.Server {
	if a.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	c := a.Config.HTTP
	cfg := httpserver.DefaultConfig()
	cfg.Addr = c.Addr
	cfg.ReadTimeout = c.ReadTimeout
	cfg.WriteTimeout = c.WriteTimeout
	cfg.AdminKeyHash = c.AdminKeyHash
	cfg.AllowedOrigins = c.AllowedOrigins
	cfg.ServiceName = a.Config.App.Name + "-" + string(a.Role)
	cfg.Version = a.Config.App.Version

	deps := httpserver.Dependencies{
		Ranking:     a.Queries.Ranking,
		Reports:     a.Queries.Reports,
		Status:      a.Queries.Status,
		Health:      a.Queries.Health,
		Users:       a.Commands.Users,
		Preferences: a.Commands.Preferences,
		Settings:    a.Store,
		Logger:      a.Log,
	}
	if a.Scheduler != nil {
		deps.Jobs = a.Scheduler
	}
	return httpserver.NewServer(cfg, deps)
}
