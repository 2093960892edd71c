// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/match-results-backend/internal/cache"
	"github.com/tbourn/match-results-backend/internal/config"
	"github.com/tbourn/match-results-backend/internal/credential"
	"github.com/tbourn/match-results-backend/internal/domain"
	"github.com/tbourn/match-results-backend/internal/http/handlers"
	"github.com/tbourn/match-results-backend/internal/http/middleware"
	"github.com/tbourn/match-results-backend/internal/query"
	"github.com/tbourn/match-results-backend/internal/repo"
	"github.com/tbourn/match-results-backend/internal/retry"
	"github.com/tbourn/match-results-backend/internal/services"
)

// resultRepoShim adapts the repository free functions to the
// services.ResultRepo interface expected by the ResultService.
type resultRepoShim struct{}

// FindResults proxies repo.FindResults.
func (resultRepoShim) FindResults(ctx context.Context, db *gorm.DB, p query.Predicate, offset, limit int) ([]domain.MatchResult, error) {
	return repo.FindResults(ctx, db, p, offset, limit)
}

// CountResults proxies repo.CountResults.
func (resultRepoShim) CountResults(ctx context.Context, db *gorm.DB, p query.Predicate) (int64, error) {
	return repo.CountResults(ctx, db, p)
}

// FindResultsByNames proxies repo.FindResultsByNames.
func (resultRepoShim) FindResultsByNames(ctx context.Context, db *gorm.DB, a, b string) ([]domain.MatchResult, error) {
	return repo.FindResultsByNames(ctx, db, a, b)
}

// signaturePath is mounted under the API base path.
const signaturePath = "/wechat/signature"

// corsHeaders are the request headers browsers may send cross-origin.
var corsHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting, CORS
// and security headers, health and metrics endpoints, and then mounts the
// versioned public API under /api/v*.
//
// store is the result cache backend; it is ignored when cfg.Cache.Enabled is
// false, and every query then reads through to the record store.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII and credential scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per client IP; health and metrics exempt)
//  8. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, store cache.Store, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint, including the cache and
	// credential collectors
	middleware.RegisterCollectors(services.Collectors()...)
	middleware.RegisterCollectors(credential.Collectors()...)
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per client IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP()).
		Exempt("/health", "/metrics")
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Retry-After"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS).
	// JS-SDK signatures carry a fresh nonce; never let intermediaries cache them.
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStorePaths: []string{joinPath(apiBase, signaturePath)},
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(newResultService(db, store, cfg), newSignatureService(cfg), retry.New(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay))

	// Public API
	api := groupWithPrefix(r, apiBase)
	{
		// Match results
		api.POST("/results", h.QueryResults)
		api.GET("/results", h.ListResults)
		api.GET("/results/pair", h.PairResults)

		// WeChat JS-SDK
		api.POST(signaturePath, h.Signature)
	}
}

// newResultService builds the cache-aside query service from cfg. Zero
// durations keep the service defaults.
func newResultService(db *gorm.DB, store cache.Store, cfg config.Config) *services.ResultService {
	if !cfg.Cache.Enabled {
		store = nil
	}
	var n *query.Normalizer
	if cfg.DefaultPageSize > 0 && cfg.MaxPageSize > 0 {
		n = query.NewNormalizer(cfg.DefaultPageSize, cfg.MaxPageSize)
	}
	svc := services.NewResultService(db, resultRepoShim{}, store, n)
	if cfg.Cache.TTL > 0 {
		svc.TTL = cfg.Cache.TTL
	}
	if cfg.Cache.Timeout > 0 {
		svc.CacheTimeout = cfg.Cache.Timeout
	}
	if cfg.StoreTimeout > 0 {
		svc.StoreTimeout = cfg.StoreTimeout
	}
	svc.Coalesce = cfg.Cache.SingleFlight
	return svc
}

// newSignatureService builds the credential cache for the configured app.
func newSignatureService(cfg config.Config) *credential.Service {
	return credential.New(credential.Options{
		AppID:     cfg.WeChat.AppID,
		AppSecret: cfg.WeChat.AppSecret,
		BaseURL:   cfg.WeChat.APIBase,
		Timeout:   cfg.WeChat.Timeout,
	})
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath appends p to a group prefix the way groupWithPrefix mounts it.
func joinPath(prefix, p string) string {
	if prefix == "" || prefix == "/" {
		return p
	}
	return prefix + p
}
