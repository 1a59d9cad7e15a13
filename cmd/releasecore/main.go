package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orcaops/releasecore/internal/app/migrate"
	"github.com/orcaops/releasecore/internal/config"
	"github.com/orcaops/releasecore/internal/events"
	httpx "github.com/orcaops/releasecore/internal/http"
	"github.com/orcaops/releasecore/internal/logger"
	"github.com/orcaops/releasecore/internal/repository"
	"github.com/orcaops/releasecore/internal/repository/memory"
	"github.com/orcaops/releasecore/internal/repository/postgres"
	"github.com/orcaops/releasecore/internal/service/branch"
	"github.com/orcaops/releasecore/internal/service/environment"
	"github.com/orcaops/releasecore/internal/service/pipeline"
)

type stores struct {
	branches     repository.BranchRepository
	environments repository.EnvironmentRepository
	pipelines    repository.PipelineRepository
}

func main() {
	cfg := config.LoadServiceConfig()
	log := logger.New("releasecore", slog.LevelInfo)

	releaseCfg, err := config.FromEnv()
	if err != nil {
		log.Error("invalid release configuration", "error", err)
		os.Exit(1)
	}
	if err := releaseCfg.Validate(); err != nil {
		log.Error("invalid release configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repos    stores
		dbHealth func(context.Context) error
	)
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}

		runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		defer runner.Close()
		if err := runner.Ping(ctx); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}

		repo := postgres.New(pool)
		repos = stores{branches: repo, environments: repo, pipelines: repo}
		dbHealth = pool.Ping
	} else {
		log.Info("no DATABASE_URL configured, using in-memory store")
		store := memory.New()
		repos = stores{branches: store, environments: store, pipelines: store}
	}

	hub := events.NewHub()

	branchSvc, err := branch.New(ctx, repos.branches, log, releaseCfg, hub)
	if err != nil {
		log.Error("failed to seed branch topology", "error", err)
		os.Exit(1)
	}
	envSvc := environment.New(repos.environments, log, releaseCfg, hub)
	pipelineSvc := pipeline.New(repos.pipelines, log, releaseCfg, hub)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, branchSvc, envSvc, pipelineSvc, hub, limiter, cfg.AuthSecret, dbHealth)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("release server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("release server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
