// Result HTTP handlers.
//
// This file exposes the read endpoints for match results:
//   - POST /results        (filter in the JSON body)
//   - GET  /results        (same filter as query parameters)
//   - GET  /results/pair   (all results for two names, either order)
//
// Handlers are transport-thin: they decode input into a query.Filter, call
// the ResultService, and translate results and errors into HTTP responses.
// Both listing endpoints share the service's cache, so an equivalent POST
// and GET hit the same entry.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/match-results-backend/internal/credential"
	"github.com/tbourn/match-results-backend/internal/domain"
	"github.com/tbourn/match-results-backend/internal/query"
	"github.com/tbourn/match-results-backend/internal/retry"
	"github.com/tbourn/match-results-backend/internal/services"
	"github.com/tbourn/match-results-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ResultService defines the result queries consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ResultService interface {
	// GetResults returns one page of results for a filter.
	GetResults(ctx context.Context, f query.Filter) (*services.ResultPage, error)
	// FindPair returns the results recorded for two names.
	FindPair(ctx context.Context, name1, name2 string) ([]domain.MatchResult, error)
}

// SignatureService issues JS-SDK page signatures.
type SignatureService interface {
	// GetSignature signs a page URL.
	GetSignature(ctx context.Context, pageURL string) (*credential.Signature, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for results and signatures.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	results ResultService
	sigs    SignatureService
	retrier *retry.Retrier
}

// New constructs a Handlers instance. retrier wraps signature issuance; nil
// disables retries.
func New(results ResultService, sigs SignatureService, retrier *retry.Retrier) *Handlers {
	return &Handlers{results: results, sigs: sigs, retrier: retrier}
}

//
// DTOs
//

// ResultPageResponse documents the listing payload.
type ResultPageResponse = services.ResultPage

// PairResponse wraps the results of a pair lookup.
type PairResponse struct {
	Results []domain.MatchResult `json:"results"`
}

//
// Helpers
//

// decodeFilter reads a query.Filter from the request body. An empty body is
// the empty filter. Type mismatches are reported as field violations.
func decodeFilter(r *http.Request) (query.Filter, error) {
	var f query.Filter
	if r.Body == nil {
		return f, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return query.Filter{}, nil
		}
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			field := te.Field
			if field == "" {
				field = "body"
			}
			return query.Filter{}, query.NewValidationError(field, "type", "must be "+jsonTypeName(te.Type))
		}
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return query.Filter{}, query.NewValidationError("body", "size", "request body too large")
		}
		return query.Filter{}, query.NewValidationError("body", "json", "malformed JSON body")
	}
	return f, nil
}

func jsonTypeName(t reflect.Type) string {
	if t == nil {
		return "a valid value"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "an integer"
	case reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.String:
		return "a string"
	case reflect.Slice, reflect.Array:
		return "an array"
	case reflect.Struct, reflect.Map:
		return "an object"
	default:
		return "a valid value"
	}
}

// filterFromQuery maps query parameters onto a query.Filter. A lone scoreMin
// or scoreMax is completed with 0 or 100.
func filterFromQuery(c *gin.Context) (query.Filter, error) {
	var (
		f          query.Filter
		violations []query.FieldViolation
		err        error
	)
	if f.Page, err = utils.OptionalInt(c.Query("page")); err != nil {
		violations = append(violations, query.FieldViolation{Field: "page", Rule: "type", Message: "must be an integer"})
	}
	if f.PageSize, err = utils.OptionalInt(c.Query("pageSize")); err != nil {
		violations = append(violations, query.FieldViolation{Field: "pageSize", Rule: "type", Message: "must be an integer"})
	}
	lo, err := utils.OptionalFloat(c.Query("scoreMin"))
	if err != nil {
		violations = append(violations, query.FieldViolation{Field: "scoreMin", Rule: "type", Message: "must be a number"})
	}
	hi, err := utils.OptionalFloat(c.Query("scoreMax"))
	if err != nil {
		violations = append(violations, query.FieldViolation{Field: "scoreMax", Rule: "type", Message: "must be a number"})
	}
	if len(violations) > 0 {
		return query.Filter{}, &query.ValidationError{Violations: violations}
	}

	if lo != nil || hi != nil {
		r := []float64{domain.MinScore, domain.MaxScore}
		if lo != nil {
			r[0] = *lo
		}
		if hi != nil {
			r[1] = *hi
		}
		f.ScoreRange = r
	}
	f.TimeRange = c.Query("timeRange")
	f.TestType = c.Query("testType")
	return f, nil
}

//
// Handlers
//

// QueryResults godoc
// @ID          queryResults
// @Summary     Query match results
// @Description Returns one page of match results, newest first. Responses are cached for five minutes per distinct filter.
// @Tags        Results
// @Accept      json
// @Produce     json
// @Param       body  body      query.Filter                 false  "Filter (all fields optional)"
// @Success     200   {object}  handlers.ResultPageResponse  "Page of results"
// @Failure     400   {object}  handlers.ErrorResponse       "Invalid filter"
// @Failure     429   {object}  handlers.ErrorResponse       "Rate limited"
// @Failure     500   {object}  handlers.ErrorResponse       "Internal error"
// @Router      /results [post]
func (h *Handlers) QueryResults(c *gin.Context) {
	f, err := decodeFilter(c.Request)
	if err != nil {
		failErr(c, err, ErrCodeBadRequest)
		return
	}
	h.respondPage(c, f)
}

// ListResults godoc
// @ID          listResults
// @Summary     List match results
// @Description Query-string variant of POST /results; equivalent filters share cache entries.
// @Tags        Results
// @Produce     json
// @Param       page       query     int     false  "Page (>= 1)"                 minimum(1)  default(1)
// @Param       pageSize   query     int     false  "Page size (1..50)"            minimum(1)  maximum(50)  default(10)
// @Param       scoreMin   query     number  false  "Lowest score (0..100)"
// @Param       scoreMax   query     number  false  "Highest score (0..100)"
// @Param       timeRange  query     string  false  "Look-back window"  Enums(all, week, month, halfYear)
// @Param       testType   query     string  false  "Test type"         Enums(all, basic, advanced)
// @Success     200        {object}  handlers.ResultPageResponse  "Page of results"
// @Failure     400        {object}  handlers.ErrorResponse       "Invalid filter"
// @Failure     500        {object}  handlers.ErrorResponse       "Internal error"
// @Router      /results [get]
func (h *Handlers) ListResults(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		failErr(c, err, ErrCodeBadRequest)
		return
	}
	h.respondPage(c, f)
}

func (h *Handlers) respondPage(c *gin.Context, f query.Filter) {
	page, err := h.results.GetResults(c.Request.Context(), f)
	if err != nil {
		failErr(c, err, ErrCodeQueryFailed)
		return
	}
	ok(c, http.StatusOK, page)
}

// PairResults godoc
// @ID          pairResults
// @Summary     Results for a pair of names
// @Description Returns every result recorded for the two names in either order, newest first. Not cached.
// @Tags        Results
// @Produce     json
// @Param       name1  query     string  true  "First name"
// @Param       name2  query     string  true  "Second name"
// @Success     200    {object}  handlers.PairResponse   "Results"
// @Failure     400    {object}  handlers.ErrorResponse  "Missing names"
// @Failure     500    {object}  handlers.ErrorResponse  "Internal error"
// @Router      /results/pair [get]
func (h *Handlers) PairResults(c *gin.Context) {
	items, err := h.results.FindPair(c.Request.Context(), c.Query("name1"), c.Query("name2"))
	if err != nil {
		failErr(c, err, ErrCodeQueryFailed)
		return
	}
	ok(c, http.StatusOK, PairResponse{Results: items})
}
