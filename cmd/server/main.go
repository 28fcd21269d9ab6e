package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/catalogops/sitemap-publisher/internal/catalog"
	"github.com/catalogops/sitemap-publisher/internal/cdn"
	"github.com/catalogops/sitemap-publisher/internal/publish"
	"github.com/catalogops/sitemap-publisher/internal/search"
	"github.com/catalogops/sitemap-publisher/internal/server"
	"github.com/catalogops/sitemap-publisher/internal/sitemap"
	"github.com/catalogops/sitemap-publisher/pkg/config"
	"github.com/catalogops/sitemap-publisher/pkg/health"
	"github.com/catalogops/sitemap-publisher/pkg/kafka"
	"github.com/catalogops/sitemap-publisher/pkg/logger"
	"github.com/catalogops/sitemap-publisher/pkg/metrics"
	"github.com/catalogops/sitemap-publisher/pkg/postgres"
	pkgredis "github.com/catalogops/sitemap-publisher/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting sitemap publisher",
		"port", cfg.Server.Port,
		"site", cfg.Site.BaseURL,
		"page_size", cfg.Sitemap.PageSize,
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()
	slog.Info("postgres connected", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)

	var rdb *pkgredis.Client
	if cfg.Redis.Configured() {
		rdb, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, using in-memory fallbacks", "error", err)
			rdb = nil
		} else {
			defer rdb.Close()
			slog.Info("redis connected", "addr", cfg.Redis.Addr)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Backend selection happens once at startup based on what is actually
	// reachable, never per request.
	var smCache sitemap.Cache
	if cfg.Sitemap.CacheBackend == "redis" && rdb != nil {
		smCache = sitemap.NewRedisCache(rdb, cfg.Sitemap.CacheTTL)
		slog.Info("sitemap cache backend: redis", "ttl", cfg.Sitemap.CacheTTL)
	} else {
		smCache = sitemap.NewMemoryCache(cfg.Sitemap.CacheTTL)
		slog.Info("sitemap cache backend: memory", "ttl", cfg.Sitemap.CacheTTL)
	}

	var activity publish.ActivityLog
	if rdb != nil {
		activity = publish.NewRedisLog(ctx, rdb, m)
		slog.Info("activity log backend: redis")
	} else {
		activity = publish.NewMemoryLog(m)
		slog.Info("activity log backend: memory")
	}

	store := catalog.NewStore(pg)
	products := catalog.NewProductCache(rdb)
	builder := sitemap.NewBuilder(cfg.Site.BaseURL, cfg.Sitemap.PageSize, store, smCache, m)
	smHandler := sitemap.NewHandler(builder, cfg.Sitemap.CacheTTL)

	lock := publish.NewLock()
	purger := cdn.NewClient(cfg.Cloudflare, m)
	if purger.Configured() {
		slog.Info("cdn purge enabled", "zone", cfg.Cloudflare.ZoneID)
	} else {
		slog.Info("cdn purge disabled, no credentials")
	}

	var events publish.EventSink
	if cfg.Kafka.Configured() {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.EventsTopic)
		defer producer.Close()
		events = producer
		slog.Info("publish events enabled", "topic", cfg.Kafka.EventsTopic)
	}

	orchestrator := publish.NewOrchestrator(
		publish.OrchestratorConfig{
			SiteURL:          cfg.Site.BaseURL,
			DefaultBatchSize: cfg.Publishing.DefaultBatchSize,
			MaxBatchSize:     cfg.Publishing.MaxBatchSize,
		},
		store, smCache, products, purger, activity, lock, events, m,
	)

	var syncer *publish.Syncer
	if cfg.Algolia.Configured() {
		index := search.NewClient(cfg.Algolia)
		syncer = publish.NewSyncer(cfg.Site.BaseURL, store, index, activity, lock, m)
		slog.Info("search sync enabled", "index", cfg.Algolia.IndexName)
	} else {
		slog.Info("search sync disabled, no credentials")
	}

	pubHandler := publish.NewHandler(orchestrator, syncer, activity, purger)

	checker := health.NewChecker()
	checker.Register("postgres", health.Probe(pg.Ping, false))
	if rdb != nil {
		checker.Register("redis", health.Probe(rdb.Ping, true))
	}

	handler := server.New(smHandler, pubHandler, checker, m, cfg.Publishing.AdminToken, cfg.Site.BaseURL)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("sitemap publisher listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("sitemap publisher stopped")
}
