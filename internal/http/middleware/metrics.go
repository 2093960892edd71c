package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Requests that matched no route share one label value so scanners probing
// random paths cannot grow the series count.
const (
	unmatchedRoute = "unmatched"
	errorCodeKey   = "errorCode"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route, API group and status.",
		},
		[]string{"method", "route", "group", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "HTTP request latency by method and route.",
			// Cache hits land in the first buckets; misses and signature
			// calls (two platform round trips plus retries) in the tail.
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	httpInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_inflight",
		Help: "HTTP requests currently being served.",
	})

	// Result pages are at most MaxPageSize records; bodies are capped at 1 MiB.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response body size by route.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 7), // 256B..1MiB
		},
		[]string{"route"},
	)

	httpErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_errors_total",
			Help: "Error envelopes by route and code (bad_request, query_failed, rate_limited, ...).",
		},
		[]string{"route", "code"},
	)
)

func init() {
	RegisterCollectors(httpReqs, httpLat, httpInflight, httpRespSize, httpErrors)
}

// RegisterCollectors adds cs to the default registry served at /metrics.
// A collector that is already registered is skipped; any other registration
// error panics, as prometheus.MustRegister would.
func RegisterCollectors(cs ...prometheus.Collector) {
	for _, c := range cs {
		if err := prometheus.Register(c); err != nil {
			var dup prometheus.AlreadyRegisteredError
			if errors.As(err, &dup) {
				continue
			}
			panic(err)
		}
	}
}

// SetErrorCode records the envelope code of an error response so Metrics can
// count it under http_request_errors_total.
func SetErrorCode(c *gin.Context, code string) {
	c.Set(errorCodeKey, code)
}

// routeGroup buckets a route into the API surface it belongs to.
func routeGroup(route string) string {
	switch {
	case route == unmatchedRoute:
		return unmatchedRoute
	case route == "/health", route == "/metrics", strings.HasPrefix(route, "/swagger"):
		return "ops"
	case strings.Contains(route, "/results"):
		return "results"
	case strings.Contains(route, "/wechat/"):
		return "signature"
	default:
		return "other"
	}
}

// Metrics instruments every request. The route label is the registered Gin
// pattern (c.FullPath), never the raw URL.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method

		httpReqs.WithLabelValues(method, route, routeGroup(route), strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(route).Observe(float64(size))
		}
		if code := c.GetString(errorCodeKey); code != "" {
			httpErrors.WithLabelValues(route, code).Inc()
		}
	}
}
