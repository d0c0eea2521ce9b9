// Command gatewayd is the streaming gateway's process entrypoint: it
// loads configuration, wires the catalog, session registry, resilience
// controller, preview manager and HTTP Surface together, then serves
// until an interrupt signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gatewayd/internal/cache"
	"gatewayd/internal/catalog"
	"gatewayd/internal/catalog/badgeraudit"
	"gatewayd/internal/catalog/memcatalog"
	"gatewayd/internal/catalog/pgcatalog"
	"gatewayd/internal/config"
	"gatewayd/internal/gwlog"
	"gatewayd/internal/hlsresolve"
	"gatewayd/internal/httpgw"
	"gatewayd/internal/preview"
	"gatewayd/internal/resilience"
	"gatewayd/internal/resolver"
	"gatewayd/internal/session"
	"gatewayd/internal/supervisor"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gatewayd %s (commit %s)\n", version, commit)
		return
	}

	logger := gwlog.New("info")

	loader := config.NewLoader(*configPath)
	holder, err := config.NewHolder(loader, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg := holder.Get()
	logger = gwlog.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := holder.Watch(ctx); err != nil {
		logger.Warn().Err(err).Msg("config hot-reload disabled")
	}
	defer holder.Close()

	cat, closeCat, err := buildCatalog(ctx, cfg.Catalog, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open catalog")
	}
	defer closeCat()

	audit, closeAudit, err := buildAuditSink(cfg.Catalog)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open audit sink")
	}
	defer closeAudit()

	segmentCache, resolverCache, closeCaches, err := buildCaches(cfg.Cache, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build caches")
	}
	defer closeCaches()

	registry := session.New(audit)

	httpClient := &http.Client{Timeout: 15 * time.Second}
	res := resolver.New(httpClient, resolverCache, cfg.BeaconParams, cfg.PreemptiveRenewal, logger)
	hls := hlsresolve.New(httpClient, segmentCache, logger)

	spawn := func(spawnCtx context.Context, upstreamURL string) (*supervisor.Handle, error) {
		return supervisor.Start(spawnCtx, logger, cfg.Transcode.BinaryPath, cfg.Transcode.MpegTSCopy, upstreamURL)
	}
	controller := resilience.New(registry, res, spawn, nil, logger,
		resilience.WithThresholds(cfg.N1, cfg.N2, cfg.N3),
		resilience.WithBackoff(cfg.BaseBackoff, cfg.BackoffMultiplier, cfg.MaxBackoff),
		resilience.WithResetDwell(cfg.HealthyDwell),
	)

	previewMgr := preview.New(cfg.MaxConcurrentPreviews, cfg.Transcode.BinaryPath, cfg.Transcode.PreviewMP4, 30*time.Second, logger)

	server := httpgw.New(cat, registry, res, hls, previewMgr, controller, controller, cfg, logger)
	router := httpgw.NewRouter(server)
	router.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Listen).Msg("gatewayd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Fatal().Err(err).Msg("http server failed")
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
}

func buildCatalog(ctx context.Context, cfg config.CatalogConfig, logger zerolog.Logger) (catalog.Catalog, func(), error) {
	switch cfg.Driver {
	case "postgres":
		store, err := pgcatalog.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, func() {}, err
		}
		return store, store.Close, nil
	default:
		logger.Info().Msg("using in-memory catalog")
		return memcatalog.New(), func() {}, nil
	}
}

func buildAuditSink(cfg config.CatalogConfig) (session.AuditSink, func(), error) {
	if cfg.AuditPath == "" {
		return session.NopAuditSink{}, func() {}, nil
	}
	sink, err := badgeraudit.Open(cfg.AuditPath)
	if err != nil {
		return nil, func() {}, err
	}
	return sink, func() { _ = sink.Close() }, nil
}

func buildCaches(cfg config.CacheConfig, logger zerolog.Logger) (segmentCache, resolverCache cache.Cache, closeFn func(), err error) {
	if cfg.Driver == "redis" {
		rc, rerr := cache.NewRedisCache(cache.RedisConfig{Addr: cfg.Addr}, logger)
		if rerr != nil {
			return nil, nil, func() {}, rerr
		}
		return rc, rc, func() { _ = rc.Close() }, nil
	}
	mc := cache.NewMemoryCache(time.Minute, cache.WithMaxEntries(10_000))
	return mc, mc, func() {}, nil
}
