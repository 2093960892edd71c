// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, the record store, the result cache, the
// WeChat credential authority, retries, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "match-results-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// CacheConfig defines the result cache settings.
type CacheConfig struct {
	Enabled      bool          // CACHE_ENABLED; false reads through on every request
	RedisURL     string        // REDIS_URL; empty selects the in-process store
	TTL          time.Duration // CACHE_TTL, applied to every entry
	Timeout      time.Duration // CACHE_TIMEOUT, per cache call
	SingleFlight bool          // CACHE_SINGLEFLIGHT
}

// WeChatConfig identifies the application to the WeChat platform.
type WeChatConfig struct {
	AppID     string        // WECHAT_APP_ID
	AppSecret string        // WECHAT_APP_SECRET
	APIBase   string        // WECHAT_API_BASE
	Timeout   time.Duration // HTTP_CLIENT_TIMEOUT
}

// RetryConfig configures the retry wrapper around credential calls.
type RetryConfig struct {
	MaxAttempts int           // RETRY_MAX_ATTEMPTS, including the first
	BaseDelay   time.Duration // RETRY_BASE_DELAY; wait n*BaseDelay after attempt n
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Record store
	DBPath       string        // SQLite path
	StoreTimeout time.Duration // bound for each store query

	// Query bounds
	DefaultPageSize int
	MaxPageSize     int

	// Result cache
	Cache CacheConfig

	// Credentials
	WeChat WeChatConfig
	Retry  RetryConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Record store
		DBPath:       getenv("DB_PATH", "app.db"),
		StoreTimeout: getdur("STORE_TIMEOUT", 5*time.Second),

		// Query bounds
		DefaultPageSize: getint("DEFAULT_PAGE_SIZE", 10),
		MaxPageSize:     getint("MAX_PAGE_SIZE", 50),

		// Result cache
		Cache: CacheConfig{
			Enabled:      getbool("CACHE_ENABLED", true),
			RedisURL:     strings.TrimSpace(getenv("REDIS_URL", "")),
			TTL:          getdur("CACHE_TTL", 300*time.Second),
			Timeout:      getdur("CACHE_TIMEOUT", 500*time.Millisecond),
			SingleFlight: getbool("CACHE_SINGLEFLIGHT", false),
		},

		// Credentials
		WeChat: WeChatConfig{
			AppID:     getenv("WECHAT_APP_ID", ""),
			AppSecret: getenv("WECHAT_APP_SECRET", ""),
			APIBase:   strings.TrimRight(getenv("WECHAT_API_BASE", "https://api.weixin.qq.com"), "/"),
			Timeout:   getdur("HTTP_CLIENT_TIMEOUT", 5*time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts: getint("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   getdur("RETRY_BASE_DELAY", time.Second),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "match-results-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.StoreTimeout <= 0 {
		return cfg, errors.New("STORE_TIMEOUT must be > 0")
	}
	if cfg.MaxPageSize < 1 {
		return cfg, errors.New("MAX_PAGE_SIZE must be >= 1")
	}
	if cfg.DefaultPageSize < 1 || cfg.DefaultPageSize > cfg.MaxPageSize {
		return cfg, errors.New("DEFAULT_PAGE_SIZE must be in [1, MAX_PAGE_SIZE]")
	}
	if cfg.Cache.TTL <= 0 {
		return cfg, errors.New("CACHE_TTL must be > 0")
	}
	if cfg.Cache.Timeout <= 0 {
		return cfg, errors.New("CACHE_TIMEOUT must be > 0")
	}
	if cfg.WeChat.Timeout <= 0 {
		return cfg, errors.New("HTTP_CLIENT_TIMEOUT must be > 0")
	}
	if !strings.HasPrefix(cfg.WeChat.APIBase, "http://") && !strings.HasPrefix(cfg.WeChat.APIBase, "https://") {
		return cfg, errors.New("WECHAT_API_BASE must be an http(s) URL")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return cfg, errors.New("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Retry.BaseDelay <= 0 {
		return cfg, errors.New("RETRY_BASE_DELAY must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
