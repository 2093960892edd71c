// Package services – ResultService
//
// This file implements the cache-aside read path for match results.
//
// GetResults flow:
//
//  1. Normalize the filter (query.Normalizer). A ValidationError returns
//     before any cache or store access.
//  2. Look the canonical key up in the cache. A hit is decoded and returned
//     without touching the record store.
//  3. On a miss, run the count and the page query concurrently under one
//     predicate, encode the page, write it to the cache with the fixed TTL
//     and return the page decoded from the same bytes.
//
// Failure policy:
//
//   - Cache errors (unreachable, timeout, undecodable entry) are logged and
//     treated as a miss. They never fail the request.
//   - Store errors are logged with op, predicate shape and duration and
//     returned as *StoreError.
//   - A request whose context ends returns the context error, never a
//     partial page.
//
// Concurrent misses on one key may both read the store and both write the
// cache unless Coalesce is set, in which case they share one load.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/tbourn/match-results-backend/internal/cache"
	"github.com/tbourn/match-results-backend/internal/domain"
	"github.com/tbourn/match-results-backend/internal/query"
)

// Defaults applied by NewResultService.
const (
	DefaultCacheTTL     = 300 * time.Second
	DefaultCacheTimeout = 500 * time.Millisecond
	DefaultStoreTimeout = 5 * time.Second
)

var cacheRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "results_cache_requests_total",
		Help: "Result cache lookups by outcome (hit, miss, unavailable, error, bypass).",
	},
	[]string{"outcome"},
)

// Collectors returns the Prometheus collectors owned by this package. The
// HTTP layer registers them next to its own.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{cacheRequests}
}

// ResultRepo defines the record-store contract required by ResultService.
type ResultRepo interface {
	// FindResults returns one page matching p, newest first.
	FindResults(ctx context.Context, db *gorm.DB, p query.Predicate, offset, limit int) ([]domain.MatchResult, error)

	// CountResults counts every record matching p.
	CountResults(ctx context.Context, db *gorm.DB, p query.Predicate) (int64, error)

	// FindResultsByNames returns the results for a pair of names in either order.
	FindResultsByNames(ctx context.Context, db *gorm.DB, a, b string) ([]domain.MatchResult, error)
}

// ResultPage is the response of GetResults and the cached value.
type ResultPage struct {
	Results  []domain.MatchResult `json:"results"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"pageSize"`
}

// ResultService answers filtered, paginated result queries through a cache.
type ResultService struct {
	// DB is the GORM handle passed to Repo.
	DB *gorm.DB
	// Repo is the record store.
	Repo ResultRepo
	// Cache is the result cache. Nil disables caching (every call reads through).
	Cache cache.Store
	// Normalizer validates filters and applies page-size bounds.
	Normalizer *query.Normalizer

	// TTL is applied to every cache write.
	TTL time.Duration
	// CacheTimeout bounds each cache call.
	CacheTimeout time.Duration
	// StoreTimeout bounds the count and page queries of one miss.
	StoreTimeout time.Duration
	// Coalesce shares one store load between concurrent misses on a key.
	Coalesce bool

	now   func() time.Time
	group singleflight.Group
}

// NewResultService returns a ResultService with default TTL and timeouts.
// store may be nil.
func NewResultService(db *gorm.DB, repo ResultRepo, store cache.Store, n *query.Normalizer) *ResultService {
	if n == nil {
		n = query.NewNormalizer(query.DefaultPageSize, query.MaxPageSize)
	}
	return &ResultService{
		DB:           db,
		Repo:         repo,
		Cache:        store,
		Normalizer:   n,
		TTL:          DefaultCacheTTL,
		CacheTimeout: DefaultCacheTimeout,
		StoreTimeout: DefaultStoreTimeout,
		now:          time.Now,
	}
}

// GetResults returns the page of results selected by f.
//
// Errors:
//   - *query.ValidationError for invalid filters (no I/O performed).
//   - *StoreError when the count or page query fails or times out.
//   - the context error when ctx ends first.
func (s *ResultService) GetResults(ctx context.Context, f query.Filter) (*ResultPage, error) {
	ctx, span := otel.Tracer("services/ResultService").Start(ctx, "GetResults")
	defer span.End()

	n, err := s.Normalizer.Normalize(f)
	if err != nil {
		span.SetStatus(codes.Error, "validation")
		return nil, err
	}
	key := n.CacheKey()
	span.SetAttributes(
		attribute.Int("page", n.Page),
		attribute.Int("page_size", n.PageSize),
	)

	if page, ok := s.readCache(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return page, nil
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	var payload []byte
	if s.Coalesce {
		ch := s.group.DoChan(key, func() (any, error) {
			return s.load(context.WithoutCancel(ctx), n, key)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-ch:
			if r.Err != nil {
				err = r.Err
			} else {
				payload, _ = r.Val.([]byte)
			}
		}
	} else {
		payload, err = s.load(ctx, n, key)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load")
		return nil, err
	}

	var page ResultPage
	if err := json.Unmarshal(payload, &page); err != nil {
		// payload was produced by json.Marshal(ResultPage) in load.
		return nil, err
	}
	return &page, nil
}

// load reads one page and its total from the store, encodes it and
// populates the cache. It returns the encoded page.
func (s *ResultService) load(ctx context.Context, n query.Normalized, key string) ([]byte, error) {
	p := n.Predicate(s.currentTime().UTC())

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	var (
		items []domain.MatchResult
		total int64
	)
	start := time.Now()
	g, gctx := errgroup.WithContext(storeCtx)
	g.Go(func() error {
		v, err := s.Repo.CountResults(gctx, s.DB, p)
		if err != nil {
			return &StoreError{Op: "count", Err: err}
		}
		total = v
		return nil
	})
	g.Go(func() error {
		v, err := s.Repo.FindResults(gctx, s.DB, p, n.Offset(), n.PageSize)
		if err != nil {
			return &StoreError{Op: "find", Err: err}
		}
		items = v
		return nil
	})
	if err := g.Wait(); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		op := "query"
		var se *StoreError
		if errors.As(err, &se) {
			op = se.Op
		}
		log.Error().
			Err(err).
			Str("op", op).
			Str("predicate", p.Shape()).
			Int("page", n.Page).
			Int("page_size", n.PageSize).
			Dur("duration", time.Since(start)).
			Msg("result store query failed")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if items == nil {
		items = []domain.MatchResult{}
	}
	payload, err := json.Marshal(ResultPage{
		Results:  items,
		Total:    total,
		Page:     n.Page,
		PageSize: n.PageSize,
	})
	if err != nil {
		return nil, err
	}

	s.writeCache(ctx, key, payload)
	return payload, nil
}

// readCache returns the cached page for key. Any failure is reported as a miss.
func (s *ResultService) readCache(ctx context.Context, key string) (*ResultPage, bool) {
	if s.Cache == nil {
		cacheRequests.WithLabelValues("bypass").Inc()
		return nil, false
	}

	cctx, cancel := s.cacheContext(ctx)
	defer cancel()

	b, found, err := s.Cache.Get(cctx, key)
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrCacheUnavailable) {
			outcome = "unavailable"
		}
		cacheRequests.WithLabelValues(outcome).Inc()
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("op", "get").Str("key", key).Str("outcome", outcome).Msg("result cache read failed; reading through")
		}
		return nil, false
	}
	if !found {
		cacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}

	var page ResultPage
	if err := json.Unmarshal(b, &page); err != nil {
		cacheRequests.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("op", "decode").Str("key", key).Msg("dropping undecodable cache entry")
		if derr := s.Cache.Delete(cctx, key); derr != nil {
			log.Warn().Err(derr).Str("op", "delete").Str("key", key).Msg("result cache delete failed")
		}
		return nil, false
	}
	if page.Results == nil {
		page.Results = []domain.MatchResult{}
	}
	cacheRequests.WithLabelValues("hit").Inc()
	return &page, true
}

// writeCache stores payload under key. Failures are logged and dropped.
func (s *ResultService) writeCache(ctx context.Context, key string, payload []byte) {
	if s.Cache == nil {
		return
	}
	cctx, cancel := s.cacheContext(ctx)
	defer cancel()

	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if err := s.Cache.Set(cctx, key, payload, ttl); err != nil {
		log.Warn().Err(err).Str("op", "set").Str("key", key).Msg("result cache write failed")
	}
}

// FindPair returns every result recorded for two names in either order.
// The lookup is not cached.
func (s *ResultService) FindPair(ctx context.Context, name1, name2 string) ([]domain.MatchResult, error) {
	ctx, span := otel.Tracer("services/ResultService").Start(ctx, "FindPair")
	defer span.End()

	name1, name2 = strings.TrimSpace(name1), strings.TrimSpace(name2)
	var violations []query.FieldViolation
	if name1 == "" {
		violations = append(violations, query.FieldViolation{Field: "name1", Rule: "required", Message: "is required"})
	}
	if name2 == "" {
		violations = append(violations, query.FieldViolation{Field: "name2", Rule: "required", Message: "is required"})
	}
	if len(violations) > 0 {
		return nil, &query.ValidationError{Violations: violations}
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	start := time.Now()
	items, err := s.Repo.FindResultsByNames(storeCtx, s.DB, name1, name2)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		log.Error().
			Err(err).
			Str("op", "find_pair").
			Str("predicate", "user1_name,user2_name").
			Dur("duration", time.Since(start)).
			Msg("result store query failed")
		span.RecordError(err)
		return nil, &StoreError{Op: "find_pair", Err: err}
	}
	if items == nil {
		items = []domain.MatchResult{}
	}
	return items, nil
}

func (s *ResultService) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.CacheTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.CacheTimeout)
}

func (s *ResultService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.StoreTimeout)
}

func (s *ResultService) currentTime() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
