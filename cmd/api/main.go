package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tunevault/platform/internal/app"
	"github.com/tunevault/platform/internal/auth"
	"github.com/tunevault/platform/internal/cache"
	"github.com/tunevault/platform/internal/infra"
	"github.com/tunevault/platform/internal/provider"
	"github.com/tunevault/platform/internal/store"
	"github.com/tunevault/platform/internal/store/memory"
	"github.com/tunevault/platform/internal/store/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Entitlement cache
	var ownership cache.OwnershipCache = cache.Noop{}
	if cfg.CacheEnabled {
		rdb, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		ownership = cache.NewRedisCache(rdb, cfg.EntitlementCacheTTL)
		logger.Info("entitlement cache enabled", "ttl", cfg.EntitlementCacheTTL)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := app.NewRouter(app.RouterDeps{
		Config:   cfg,
		Store:    st,
		Stripe:   provider.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret, provider.WithBaseURL(cfg.StripeAPIBase)),
		Cache:    ownership,
		JWTMgr:   auth.NewJWTManager(cfg.JWTSecret, cfg.JWTListenerExpiry, cfg.JWTAdminExpiry),
		Registry: registry,
		Logger:   logger,
	})

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", addr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	a.Access.Wait()

	logger.Info("server stopped gracefully")
	return nil
}

// openStore builds the configured persistence backend.
func openStore(ctx context.Context, cfg *infra.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("using in-memory store; purchases do not survive restart")
		st := memory.New()
		if cfg.SeedCatalog != "" {
			n, err := st.LoadCatalog(ctx, cfg.SeedCatalog)
			if err != nil {
				return nil, nil, fmt.Errorf("seed catalog: %w", err)
			}
			logger.Info("catalog seeded", "path", cfg.SeedCatalog, "tracks", n)
		}
		return st, func() {}, nil
	}

	if cfg.AutoMigrate {
		if err := infra.RunMigrations(cfg.DSN(), logger); err != nil {
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	logger.Info("connected to postgres")

	replica, err := infra.NewReplicaPool(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect replica: %w", err)
	}

	var opts []postgres.Option
	if replica != nil {
		opts = append(opts, postgres.WithReadPool(replica))
		logger.Info("entitlement reads served from replica")
	}

	closeFn := func() {
		if replica != nil {
			replica.Close()
		}
		pool.Close()
	}
	return postgres.New(pool, opts...), closeFn, nil
}
