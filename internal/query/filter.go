// Package query turns client-supplied result filters into the two forms the
// result pipeline needs: a canonical cache key and a store predicate.
//
// Validation happens first and is the only place a ValidationError can come
// from. Anything that passes Normalize is safe to hand to the cache and the
// record store.
package query

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/match-results-backend/internal/domain"
)

// KeyPrefix namespaces result entries in the cache store.
const KeyPrefix = "results:"

// Defaults used when a Normalizer is built with zero values.
const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 50
)

// TimeRange names a fixed look-back window.
type TimeRange string

const (
	TimeRangeAll      TimeRange = "all"
	TimeRangeWeek     TimeRange = "week"
	TimeRangeMonth    TimeRange = "month"
	TimeRangeHalfYear TimeRange = "halfYear"
)

// Window returns the look-back duration, or 0 for "all".
func (r TimeRange) Window() time.Duration {
	switch r {
	case TimeRangeWeek:
		return 7 * 24 * time.Hour
	case TimeRangeMonth:
		return 30 * 24 * time.Hour
	case TimeRangeHalfYear:
		return 180 * 24 * time.Hour
	default:
		return 0
	}
}

// Filter is the wire shape of a result query. Pointer and empty values mean
// "not supplied"; defaults are applied by Normalize.
type Filter struct {
	Page       *int      `json:"page,omitempty"       validate:"omitempty,min=1"`
	PageSize   *int      `json:"pageSize,omitempty"   validate:"omitempty,min=1"`
	ScoreRange []float64 `json:"scoreRange,omitempty" validate:"omitempty,len=2,dive,min=0,max=100"`
	TimeRange  string    `json:"timeRange,omitempty"  validate:"omitempty,oneof=all week month halfYear"`
	TestType   string    `json:"testType,omitempty"   validate:"omitempty,oneof=all basic advanced"`
}

// Normalized is a validated filter with defaults filled in. "all" and absent
// dimensions are both represented by the zero value.
type Normalized struct {
	Page       int
	PageSize   int
	ScoreRange *[2]float64
	TimeRange  TimeRange
	TestType   domain.TestType
}

// Offset is the number of records to skip for this page.
func (n Normalized) Offset() int { return (n.Page - 1) * n.PageSize }

// canonicalKey fixes field order and spelling of the cache key payload.
type canonicalKey struct {
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	ScoreRange *[2]float64 `json:"scoreRange"`
	TimeRange  string      `json:"timeRange"`
	TestType   string      `json:"testType"`
}

// CacheKey returns the deterministic cache key for n. Semantically equal
// filters produce equal keys because the key is built from the normalized
// form only.
func (n Normalized) CacheKey() string {
	ck := canonicalKey{
		Page:       n.Page,
		PageSize:   n.PageSize,
		ScoreRange: n.ScoreRange,
		TimeRange:  string(TimeRangeAll),
		TestType:   "all",
	}
	if n.TimeRange != "" {
		ck.TimeRange = string(n.TimeRange)
	}
	if n.TestType != "" {
		ck.TestType = string(n.TestType)
	}
	b, _ := json.Marshal(ck) // plain struct of ints, floats and strings
	return KeyPrefix + string(b)
}

// Predicate is the store-neutral selection derived from a filter.
// Nil / empty fields impose no constraint.
type Predicate struct {
	ScoreMin *float64
	ScoreMax *float64
	Since    *time.Time
	TestType domain.TestType
}

// Predicate builds the selection for n relative to now.
func (n Normalized) Predicate(now time.Time) Predicate {
	var p Predicate
	if n.ScoreRange != nil {
		lo, hi := n.ScoreRange[0], n.ScoreRange[1]
		p.ScoreMin, p.ScoreMax = &lo, &hi
	}
	if w := n.TimeRange.Window(); w > 0 {
		since := now.Add(-w).UTC()
		p.Since = &since
	}
	p.TestType = n.TestType
	return p
}

// Shape lists the constrained dimensions, for logs. Values are left out.
func (p Predicate) Shape() string {
	var parts []string
	if p.ScoreMin != nil || p.ScoreMax != nil {
		parts = append(parts, "score")
	}
	if p.Since != nil {
		parts = append(parts, "timestamp")
	}
	if p.TestType != "" {
		parts = append(parts, "testType")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Normalizer validates filters and applies defaults.
// The zero value is not usable; build one with NewNormalizer.
type Normalizer struct {
	defaultPageSize int
	maxPageSize     int
	// maxPage keeps (page-1)*maxPageSize within int32.
	maxPage int
	v       *validator.Validate
}

// NewNormalizer returns a Normalizer with the given page-size bounds.
// Non-positive values fall back to DefaultPageSize / MaxPageSize.
func NewNormalizer(defaultPageSize, maxPageSize int) *Normalizer {
	if maxPageSize <= 0 {
		maxPageSize = MaxPageSize
	}
	if defaultPageSize <= 0 || defaultPageSize > maxPageSize {
		defaultPageSize = min(DefaultPageSize, maxPageSize)
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return &Normalizer{
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		maxPage:         math.MaxInt32/maxPageSize + 1,
		v:               v,
	}
}

// MaxPageSize reports the configured upper bound.
func (z *Normalizer) MaxPageSize() int { return z.maxPageSize }

// Normalize validates f and returns its normalized form. On failure it
// returns a *ValidationError listing every violated field.
func (z *Normalizer) Normalize(f Filter) (Normalized, error) {
	var violations []FieldViolation
	if err := z.v.Struct(f); err != nil {
		violations = append(violations, fromValidator(err)...)
	}
	if f.Page != nil && *f.Page > z.maxPage {
		violations = append(violations, FieldViolation{
			Field: "page", Rule: "max", Message: fmt.Sprintf("must be at most %d", z.maxPage),
		})
	}
	if f.PageSize != nil && *f.PageSize > z.maxPageSize {
		violations = append(violations, FieldViolation{
			Field: "pageSize", Rule: "max", Message: fmt.Sprintf("must be at most %d", z.maxPageSize),
		})
	}
	for i, v := range f.ScoreRange {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			violations = append(violations, FieldViolation{
				Field: fmt.Sprintf("scoreRange[%d]", i), Rule: "finite", Message: "must be a finite number",
			})
		}
	}
	if len(violations) > 0 {
		return Normalized{}, &ValidationError{Violations: violations}
	}

	n := Normalized{Page: DefaultPage, PageSize: z.defaultPageSize}
	if f.Page != nil {
		n.Page = *f.Page
	}
	if f.PageSize != nil {
		n.PageSize = *f.PageSize
	}
	if len(f.ScoreRange) == 2 {
		// +0 folds a negative zero so it encodes like 0 in the key.
		n.ScoreRange = &[2]float64{f.ScoreRange[0] + 0, f.ScoreRange[1] + 0}
	}
	if tr := TimeRange(f.TimeRange); tr != "" && tr != TimeRangeAll {
		n.TimeRange = tr
	}
	if tt := f.TestType; tt != "" && tt != "all" {
		n.TestType = domain.TestType(tt)
	}
	return n, nil
}

// jsonFieldName reports violations under their wire names.
func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}
