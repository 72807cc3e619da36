package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/pmdesk/internal/app/migrate"
	httpx "github.com/splax/pmdesk/internal/http"
	"github.com/splax/pmdesk/internal/repository/postgres"
	"github.com/splax/pmdesk/internal/service/auth"
	"github.com/splax/pmdesk/internal/service/budget"
	"github.com/splax/pmdesk/internal/service/capacity"
	"github.com/splax/pmdesk/internal/service/project"
	"github.com/splax/pmdesk/internal/service/user"
	"github.com/splax/pmdesk/pkg/config"
	"github.com/splax/pmdesk/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	source, err := migrate.Source(cfg.MigrationsDir)
	if err != nil {
		log.Error("failed to locate migrations", "error", err)
		os.Exit(1)
	}
	runner, err := migrate.New(pool, source, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if cfg.AutoMigrate {
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}
	runner.Close()

	repo := postgres.New(pool)
	capacitySvc := capacity.New(repo, log)
	services := httpx.Services{
		Auth:     auth.New(repo, repo, log, cfg),
		Users:    user.New(repo, log, cfg),
		Projects: project.New(repo, capacitySvc, log),
		Capacity: capacitySvc,
		Budget:   budget.New(repo, repo, log),
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(ctx, addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	trustedProxies, err := httpx.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Error("invalid TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}

	router := httpx.NewRouter(log, services, httpx.Options{
		Limiter:        limiter,
		DBHealth:       pool.Ping,
		Production:     cfg.Production(),
		TrustedProxies: trustedProxies,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "environment", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
