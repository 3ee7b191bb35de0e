package http

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

const (
	headerRequestID = "X-Request-ID"
	headerAdminKey  = "X-Admin-Key"

	ctxKeyRequestID = "request_id"
)

// requestID assigns a request ID and attaches a request-scoped logger to
// the context, so handlers and use cases log with it.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, id)
		c.Writer.Header().Set(headerRequestID, id)

		ctx := logger.WithContext(c.Request.Context(), s.log.WithRequestID(id))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// requestLogger logs every request once it completes.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", path),
			logger.Int("status", status),
			logger.Latency(time.Since(start)),
			logger.String("ip", c.ClientIP()),
			logger.String(logger.RequestIDKey, c.GetString(ctxKeyRequestID)),
		}

		switch {
		case status >= 500:
			s.log.Error("http request", fields...)
		case status >= 400:
			s.log.Warn("http request", fields...)
		default:
			s.log.Debug("http request", fields...)
		}
	}
}

// recovery turns a panic into a 500 envelope.
func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic recovered",
					logger.Any("error", rec),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", c.Request.URL.Path),
				)
				respondError(c, fmt.Errorf("panic: %v", rec))
			}
		}()
		c.Next()
	}
}

// corsMiddleware allows the listed origins, or any origin when the list is
// empty. Credentials are never allowed.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Authorization", headerAdminKey, headerRequestID},
		ExposeHeaders: []string{headerRequestID},
		MaxAge:        24 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// requireAdmin checks the admin key against the configured bcrypt hash.
// The key comes from X-Admin-Key or an "Authorization: Bearer" header.
func (s *Server) requireAdmin() gin.HandlerFunc {
	hash := []byte(s.config.AdminKeyHash)
	return func(c *gin.Context) {
		key := c.GetHeader(headerAdminKey)
		if key == "" {
			if auth := c.GetHeader("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
				key = auth[7:]
			}
		}
		if key == "" {
			respondError(c, shared.WrapError("http", "Auth", shared.ErrUnauthorized, "admin key required", nil))
			return
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
			s.log.Warn("admin key rejected", logger.String("ip", c.ClientIP()), logger.String("path", c.FullPath()))
			respondError(c, shared.WrapError("http", "Auth", shared.ErrUnauthorized, "invalid admin key", nil))
			return
		}
		c.Next()
	}
}
