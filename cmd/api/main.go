package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/app"
	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/cache"
	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/config"
	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/metrics"
	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/store"
	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file; environment variables override it")
	envFile := flag.String("env-file", ".env", "dotenv file loaded into the environment when present")
	flag.Parse()

	envLoaded := config.LoadDotEnv(*envFile) == nil

	cfg := config.Load()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	if envLoaded {
		logger.Info("loaded environment from file", zap.String("path", *envFile))
	}

	ctx := context.Background()

	db, dialect, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, dialect, store.MigrationsDir(cfg.MigrationsDir, dialect)); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	var tp *tracing.TracerProvider
	if strings.TrimSpace(cfg.OTLPEndpoint) != "" {
		tp, err = tracing.InitTracing(ctx, cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint)
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		}
	}

	var views *cache.ViewCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.TTL = cfg.ViewCacheTTL
		views, err = cache.NewViewCache(cfg.RedisURL, cacheCfg, logger)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer views.Close()
		logger.Info("view cache enabled", zap.Duration("ttl", cfg.ViewCacheTTL))
	}

	collector := metrics.NewCollector("timeline")
	service := app.New(cfg, store.NewHierarchyStore(db, dialect), views, logger, collector, tp.Tracer())

	// A nil *ViewCache must not reach the pinger interface.
	var cachePinger interface {
		Ping(context.Context) error
	}
	if views != nil {
		cachePinger = views
	}
	httpServer := app.NewHTTPServer(service, cachePinger, collector.Handler(), logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("timeline API listening",
			zap.String("addr", cfg.Addr),
			zap.String("dialect", string(dialect)),
			zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
