// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all endpoints,
// including structured error envelopes, consistent JSON serialization, and
// the mapping from service errors to HTTP results. The goal is to guarantee
// uniform responses for both success and failure cases, making the API
// predictable and machine-friendly.
//
// Conventions:
//   - All error responses return an ErrorResponse with a stable `code`.
//   - Validation failures (400) carry a `details` list of field violations.
//   - Any other failure is a 500 with a generic message; the underlying error
//     is logged with the request-scoped logger and never sent to the client.
//   - `ok()` writes success responses in a consistent shape across handlers.
//
// Example error response:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "bad_request",
//	  "message": "invalid filter",
//	  "details": [{"field": "pageSize", "rule": "max", "message": "must be at most 50"}]
//	}
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/match-results-backend/internal/http/middleware"
	"github.com/tbourn/match-results-backend/internal/query"
)

// statusClientClosedRequest is written when the client went away before a
// response was ready.
const statusClientClosedRequest = 499

// msgInternal is the only message clients see for server-side failures.
const msgInternal = "internal server error"

// ErrorResponse is the standard error envelope returned by all endpoints.
//
// Fields:
//   - RequestID: Optional correlation ID, echoed from X-Request-ID header, used
//     to correlate server logs with client-side errors.
//   - Code: A stable, machine-readable string (see errors.go constants).
//   - Message: A human-readable error description, safe for display to users.
//   - Details: Field-level violations for validation failures.
//
// This struct is used in OpenAPI documentation via Swagger annotations.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"bad_request"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"invalid filter"`
	// Itemized reasons for a 400
	Details []query.FieldViolation `json:"details,omitempty"`
}

// fail aborts the request with a structured error and logs server-side errors.
//
// It constructs an ErrorResponse, writes it as JSON with the given HTTP status,
// and calls gin.Context.AbortWithStatusJSON to stop further processing.
//
// Server errors (>=500) are logged using the request-scoped logger from middleware.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}

	middleware.SetErrorCode(c, code)
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail().
//
// External packages (e.g., router setup) should call Fail to return
// consistent error envelopes without directly depending on unexported helpers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failValidation writes a 400 listing every violation.
func failValidation(c *gin.Context, ve *query.ValidationError) {
	middleware.SetErrorCode(c, ErrCodeBadRequest)
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      ErrCodeBadRequest,
		Message:   "invalid filter",
		Details:   ve.Violations,
	})
}

// failErr maps err to a response:
//   - *query.ValidationError → 400 with details
//   - context cancellation → 499, no body
//   - anything else → 500 with code and a generic message; err is logged
func failErr(c *gin.Context, err error, code string) {
	var ve *query.ValidationError
	if errors.As(err, &ve) {
		failValidation(c, ve)
		return
	}

	lg := middleware.LoggerFrom(c)
	if errors.Is(err, context.Canceled) && c.Request.Context().Err() != nil {
		lg.Info().Err(err).Msg("client closed request")
		c.AbortWithStatus(statusClientClosedRequest)
		return
	}

	lg.Error().
		Err(err).
		Int("status", http.StatusInternalServerError).
		Str("code", code).
		Msg("api error")
	middleware.SetErrorCode(c, code)
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msgInternal,
	})
}

// ok writes a success JSON response.
//
// It serializes `body` as JSON with the given HTTP status code.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
