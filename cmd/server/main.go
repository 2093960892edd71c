// Command server runs the match results backend: the cached result query
// API and the WeChat JS-SDK signature endpoint.
//
//	@title						Match Results API
//	@version					1.0
//	@description				Cached, filtered and paginated match results plus WeChat JS-SDK signatures.
//	@BasePath					/api/v1
//	@schemes					http https
//	@produce					json
//	@consumes					json
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/tbourn/match-results-backend/docs"
	"github.com/tbourn/match-results-backend/internal/cache"
	"github.com/tbourn/match-results-backend/internal/config"
	httpapi "github.com/tbourn/match-results-backend/internal/http"
	"github.com/tbourn/match-results-backend/internal/observability"
	"github.com/tbourn/match-results-backend/internal/repo"
	"github.com/tbourn/match-results-backend/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	// .env is optional; real environment wins.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.ConfigureLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appVersion := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if sysutil.IsTruthy(sysutil.FirstNonEmpty(os.Getenv("DB_AUTOMIGRATE"), "true")) {
		if err := repo.AutoMigrate(db); err != nil {
			return err
		}
	}

	store, closeStore, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	r := gin.New()
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	httpapi.RegisterRoutes(r, db, store, cfg)
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		docs.SwaggerInfo.Version = appVersion
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", appVersion).
			Str("db", cfg.DBPath).
			Bool("cache", cfg.Cache.Enabled).
			Bool("redis", cfg.Cache.RedisURL != "").
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// openCache selects Redis when REDIS_URL is set and the in-process store
// otherwise. The returned func releases the backend.
func openCache(ctx context.Context, cfg config.Config) (cache.Store, func(), error) {
	if !cfg.Cache.Enabled {
		return nil, func() {}, nil
	}
	if cfg.Cache.RedisURL == "" {
		log.Info().Msg("result cache: in-process")
		return cache.NewMemoryStore(), func() {}, nil
	}
	rs, err := cache.NewRedisStore(ctx, cache.RedisOptions{
		URL:       cfg.Cache.RedisURL,
		OpTimeout: cfg.Cache.Timeout,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info().Msg("result cache: redis")
	return rs, func() { _ = rs.Close() }, nil
}
