// Package services holds the result retrieval use-cases. This file defines
// the service-level errors so handlers can map them to HTTP results with
// errors.Is / errors.As.
//
// Validation failures come from the query package (query.ValidationError)
// and are returned unchanged.
package services

import (
	"fmt"

	"github.com/tbourn/match-results-backend/internal/cache"
)

// ErrCacheUnavailable marks cache connectivity failures. ResultService
// recovers from it locally and never returns it.
var ErrCacheUnavailable = cache.ErrUnavailable

// StoreError reports a failed record-store operation ("count", "find",
// "find_pair").
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
