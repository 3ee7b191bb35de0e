package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/infrastructure/scheduler"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
	HasMore    bool      `json:"has_more,omitempty"`
}

func respond(c *gin.Context, status int, data interface{}) {
	respondWithMeta(c, status, data, nil)
}

func respondWithMeta(c *gin.Context, status int, data interface{}, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"

	c.JSON(status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: c.GetString(ctxKeyRequestID),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

var (
	errRouteNotFound    = shared.NewDomainError("http", "Route", shared.ErrNotFound, "route not found")
	errMethodNotAllowed = errors.New("method not allowed")
	errBadBody          = errors.New("malformed request body")
)

// statusOf maps an error to an HTTP status and a stable error code.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, errMethodNotAllowed):
		return http.StatusMethodNotAllowed, "method_not_allowed"
	case errors.Is(err, errBadBody):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrInvalidID),
		errors.Is(err, shared.ErrEmptyValue),
		errors.Is(err, shared.ErrValueOutOfRange),
		errors.Is(err, shared.ErrInvalidFormat):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, shared.ErrAlreadyExists),
		errors.Is(err, shared.ErrConflict),
		errors.Is(err, shared.ErrInvalidState),
		errors.Is(err, scheduler.ErrJobBusy):
		return http.StatusConflict, "conflict"
	case errors.Is(err, shared.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case shared.IsRetryable(err):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError writes the error envelope. Internal errors are logged and
// their text is not leaked to the client.
func respondError(c *gin.Context, err error) {
	status, code := statusOf(err)

	msg := err.Error()
	var de *shared.DomainError
	if errors.As(err, &de) {
		msg = de.Message
	}
	if status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("request failed",
			logger.String("path", c.FullPath()),
			logger.Err(err),
		)
		msg = "an unexpected error occurred"
	}

	c.AbortWithStatusJSON(status, JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: msg},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: c.GetString(ctxKeyRequestID),
	})
}
