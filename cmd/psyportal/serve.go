package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	api "github.com/mind-engage/psyportal/internal/api/http"
	"github.com/mind-engage/psyportal/internal/assessment"
	"github.com/mind-engage/psyportal/internal/audit"
	auth "github.com/mind-engage/psyportal/internal/auth/middleware"
	"github.com/mind-engage/psyportal/internal/cache"
	"github.com/mind-engage/psyportal/internal/config"
	"github.com/mind-engage/psyportal/internal/content"
	"github.com/mind-engage/psyportal/internal/ratelimit"
	"github.com/mind-engage/psyportal/internal/scoring"
	"github.com/mind-engage/psyportal/internal/storage"
	"github.com/mind-engage/psyportal/internal/users"
)

const shutdownGrace = 15 * time.Second

func newServeCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := f.setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func buildCache(ctx context.Context, cfg config.Config, log *zap.Logger) (cache.Cache, func(), error) {
	switch cfg.CacheDriver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rc := cache.NewRedis(client, "psyportal")
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rc.Ping(pctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		log.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		return rc, func() { _ = client.Close() }, nil
	case "none":
		log.Info("cache: disabled")
		return cache.Nop{}, func() {}, nil
	default:
		log.Info("cache: memory", zap.Int("size", cfg.CacheSize))
		return cache.NewMemory(cfg.CacheSize, cfg.CacheTTL), func() {}, nil
	}
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	d, err := openDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	c, closeCache, err := buildCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	blobs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	global := ratelimit.New("global", cfg.RateLimitRPS, cfg.RateLimitBurst, ratelimit.WithLogger(log))
	authLimiter := ratelimit.PerMinute("auth", cfg.AuthRateLimitPerMin, 5, ratelimit.WithLogger(log))
	global.Start(ctx, time.Minute)
	authLimiter.Start(ctx, time.Minute)

	handler := api.NewRouter(api.Deps{
		DB:                 d,
		Auth:               auth.NewAuthService(cfg.AuthSecret, cfg.AuthTokenTTL),
		Users:              users.NewSQLStore(d),
		Tests:              assessment.NewCachedStore(assessment.NewSQLStore(d, scoring.New()), c, cfg.CacheTTL),
		Content:            content.NewSQLStore(d, c, cfg.CacheTTL),
		Media:              storage.NewMedia(blobs, storage.WithBaseURL(cfg.PublicURL)),
		Events:             audit.NewLog(d),
		Log:                log,
		Limiter:            global,
		AuthLimiter:        authLimiter,
		CORSOrigins:        cfg.CORSOrigins,
		EnableRegistration: cfg.EnableRegistration,
		EnableMetrics:      cfg.EnableMetrics,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          zap.NewStdLog(log),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("env", string(cfg.Env)),
			zap.String("db", cfg.DBDriver),
			zap.String("cache", cfg.CacheDriver))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
