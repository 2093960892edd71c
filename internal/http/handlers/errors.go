// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` and `failErr()` helpers in this package). These codes provide
// clients with a stable, machine-readable error taxonomy that supplements
// human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, not_found) mirror common HTTP status
//     semantics to aid interoperability.
//   - Domain-specific codes (e.g., query_failed, signature_failed) name the
//     operation that failed on the server side.
//   - Middleware writes its own envelopes: rate_limited (429) from
//     RateLimiter and internal_error (500) from Recovery.
//
// Example response:
//   {
//     "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//     "code": "signature_failed",
//     "message": "internal server error"
//   }

package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeQueryFailed     = "query_failed"
	ErrCodeSignatureFailed = "signature_failed"
)
