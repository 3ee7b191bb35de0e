// Package http implements the read and admin REST API of the ranking hub.
// Public routes expose the weekly ranking, closed-week reports, user status
// and engine health. Admin routes manage users, goals, settings and jobs and
// require the admin API key.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ac-hub/atcoder-ranking-hub/internal/application/command"
	"github.com/ac-hub/atcoder-ranking-hub/internal/application/query"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/settings"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/scheduler"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr - address to bind (default: ":8080").
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// AdminKeyHash - bcrypt hash of the admin API key. Empty disables the
	// admin routes entirely.
	AdminKeyHash string

	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string

	// ServiceName is reported in spans.
	ServiceName string

	// Version is reported in response meta.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ServiceName:  "atcoder-ranking-hub",
		Version:      "v1",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// RankingReader serves the weekly ranking.
type RankingReader interface {
	Handle(ctx context.Context, q query.GetRankingQuery) (*query.GetRankingResult, error)
}

// ReportReader serves closed-week reports.
type ReportReader interface {
	Get(ctx context.Context, weekID string) (*query.WeeklyReportDTO, error)
	List(ctx context.Context, limit int) ([]query.WeeklyReportDTO, error)
}

// StatusReader serves the status of one user.
type StatusReader interface {
	Handle(ctx context.Context, userID string, recent int) (*query.UserStatusDTO, error)
}

// HealthReporter builds the engine status.
type HealthReporter interface {
	Handle(ctx context.Context) *query.HealthStatusDTO
}

// UserAdmin registers and deactivates users.
type UserAdmin interface {
	Register(ctx context.Context, cmd command.RegisterUserCommand) (*command.RegisterUserResult, error)
	Deactivate(ctx context.Context, cmd command.DeactivateUserCommand) error
}

// PreferencesAdmin manages goals and settings.
type PreferencesAdmin interface {
	SetGoal(ctx context.Context, cmd command.SetGoalCommand) (*command.SetGoalResult, error)
	ClearGoal(ctx context.Context, userID string) error
	UpdateSettings(ctx context.Context, cmd command.UpdateSettingsCommand) (settings.Settings, error)
}

// SettingsReader reads the current settings.
type SettingsReader interface {
	GetSettings(ctx context.Context) (settings.Settings, error)
}

// JobRunner lists and triggers scheduled jobs.
type JobRunner interface {
	ListJobs() []scheduler.JobInfo
	RunNow(ctx context.Context, jobName string) (*scheduler.JobResult, error)
}

// Dependencies contains all dependencies required by HTTP handlers.
// Nil members disable the routes that need them.
type Dependencies struct {
	// Read side
	Ranking RankingReader
	Reports ReportReader
	Status  StatusReader
	Health  HealthReporter

	// Admin side
	Users       UserAdmin
	Preferences PreferencesAdmin
	Settings    SettingsReader
	Jobs        JobRunner

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	log        *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if config.ServiceName == "" {
		config.ServiceName = DefaultConfig().ServiceName
	}

	s := &Server{
		config: config,
		deps:   deps,
		log:    deps.Logger.With(logger.Component("http")),
	}
	s.engine = s.newRouter()
	s.httpServer = &http.Server{
		Addr:              config.Addr,
		Handler:           s.engine,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	return s
}

// Handler returns the router. Tests drive it through httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.log.Info("starting HTTP server",
		logger.String("address", s.config.Addr),
		logger.Bool("admin_routes", s.adminEnabled()),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Addr
}

func (s *Server) adminEnabled() bool {
	return s.config.AdminKeyHash != ""
}
