package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shadowcheck/shadowcheck/internal/explorer/repository"
	"github.com/shadowcheck/shadowcheck/internal/filter"
	"github.com/shadowcheck/shadowcheck/internal/query"
	"github.com/shadowcheck/shadowcheck/internal/scoring"
	"github.com/shadowcheck/shadowcheck/internal/threat"
)

// abortError writes the standard error body and stops the handler chain.
func abortError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"ok": false, "error": msg})
}

// respondError maps a service error to an HTTP status. Client errors echo
// the message; server errors are logged and hidden.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, filter.ErrInvalidPayload),
		errors.Is(err, query.ErrUnsupportedSort),
		errors.Is(err, query.ErrInvalidPagination):
		abortError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		abortError(c, http.StatusNotFound, "not found")
	case errors.Is(err, scoring.ErrRunInProgress):
		abortError(c, http.StatusConflict, err.Error())
	case errors.Is(err, threat.ErrNoModel), errors.Is(err, threat.ErrInvalidModel):
		abortError(c, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		abortError(c, http.StatusInternalServerError, "internal error")
	}
}

// RequestLogger returns a Gin middleware that logs each request with zap.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// SecurityHeaders sets conservative response headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// BodyLimit caps request bodies at n bytes.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

// RequireAdmin rejects requests without "Authorization: Bearer <secret>".
// An empty secret disables the admin routes entirely.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			abortError(c, http.StatusForbidden, "admin routes are disabled")
			return
		}
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			abortError(c, http.StatusUnauthorized, "admin token required")
			return
		}
		c.Next()
	}
}
