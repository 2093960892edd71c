// Package middleware holds the Gin middleware shared by every route.
//
// Request correlation lives here: RequestID assigns the id, RedactingLogger
// (redact_logger.go) binds it to a request-scoped logger, and Recovery turns
// panics into the standard JSON error envelope. Install them in that order.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxRequestIDLength bounds client-supplied ids before they reach logs
	// and cache-adjacent error envelopes.
	maxRequestIDLength = 64
	maxQueryLogLength  = 2048

	codeInternal    = "internal_error"
	codeRateLimited = "rate_limited"
)

// RequestID reuses a well-formed X-Request-ID from the client or generates a
// UUID. The id is echoed on the response and stored in the context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// validRequestID accepts short ids made of [A-Za-z0-9._-].
func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		case b == '-', b == '_', b == '.':
		default:
			return false
		}
	}
	return true
}

// Recovery logs a panic with its stack on the request logger and answers
// 500 internal_error, unless a response has already started.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("route", c.FullPath()).
				Msg("panic recovered")

			SetErrorCode(c, codeInternal)
			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": c.GetString(requestIDKey),
				"code":       codeInternal,
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the logger RedactingLogger attached to c, or the global
// logger when none is attached.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// truncate caps s at max bytes. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
