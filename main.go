package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"oddsharvest/cache"
	"oddsharvest/config"
	"oddsharvest/fetch"
	"oddsharvest/httputil"
	"oddsharvest/logging"
	"oddsharvest/metrics"
	"oddsharvest/oddsmath"
	"oddsharvest/publisher"
	"oddsharvest/scheduler"
	"oddsharvest/scraper"
	"oddsharvest/server"
	"oddsharvest/services"
	"oddsharvest/storage"
	"oddsharvest/workers"
)

var (
	sweepNow = flag.Bool("sweep", false, "Run one sweep and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, logFile, err := logging.New("oddsharvest", cfg.Env, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	defer logger.Sync()

	logger.Info("starting oddsharvest", zap.Int("sports", len(cfg.Sports)), zap.Int("bookmakers", len(cfg.Bookmakers)))
	for id, sport := range cfg.Sports {
		logger.Info("sport configured", zap.String("id", id), zap.String("name", sport.Name), zap.Int("markets", len(sport.Markets)))
	}

	clients := httputil.NewClients(&cfg.Proxy)
	if cfg.Proxy.URL != "" {
		logger.Info("using proxy", zap.String("proxy", maskConnectionString(cfg.Proxy.URL)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()

	m := metrics.New(nil)

	fetchOpts := []fetch.Option{fetch.WithObserver(m)}
	if cfg.Fetch.RPS > 0 {
		fetchOpts = append(fetchOpts, fetch.WithRateLimit(cfg.Fetch.RPS, int(cfg.Fetch.RPS)+1))
	}
	if len(cfg.Fetch.ErrorMarkers) > 0 {
		markers := append(append([]string{}, fetch.DefaultErrorMarkers...), cfg.Fetch.ErrorMarkers...)
		fetchOpts = append(fetchOpts, fetch.WithErrorMarkers(markers))
	}
	fetcher := fetch.New(clients.Scraping, logger.Named("fetch"), fetchOpts...)
	provider := scraper.NewHTTPProvider(fetcher, scraper.NewURLBuilder(cfg.Provider), cfg.Fetch, logger.Named("provider"))

	ingest := services.NewIngestService(oddsmath.NewClassifier(cfg.Bookmakers), logger.Named("ingest"))
	sched := scheduler.New(store.Collection(storage.CollectionFixtures), scheduler.DefaultTiers, cfg.Crawl.ErrorBackoff)

	orchestrator := scraper.NewOrchestrator(cfg, store, sched, provider, ingest, logger.Named("orchestrator"))

	// Optional sinks
	var (
		oddsCache *cache.Cache
		cacheSink scraper.OddsCache
		pubSink   scraper.EventPublisher
		archive   scraper.PayloadArchive
	)
	if cfg.Redis.Addr != "" {
		rdb, err := cache.ConnectRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			logger.Warn("redis unavailable, odds cache disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			oddsCache = cache.New(rdb, cfg.Redis.TTL)
			cacheSink = oddsCache
			logger.Info("odds cache enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}
	if cfg.Kafka.Brokers != "" {
		pub := publisher.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.Named("publisher"))
		defer pub.Close()
		pubSink = pub
		logger.Info("settled-market events enabled", zap.String("topic", cfg.Kafka.Topic))
	}
	if cfg.S3.Bucket != "" {
		s3Archive, err := storage.NewS3Archive(ctx, storage.S3Config(cfg.S3))
		if err != nil {
			logger.Warn("s3 unavailable, payload archive disabled", zap.Error(err))
		} else {
			archive = s3Archive
			logger.Info("payload archive enabled", zap.String("bucket", cfg.S3.Bucket))
		}
	}
	orchestrator.SetSinks(cacheSink, pubSink, archive, m)

	// Handle one-shot sweep
	if *sweepNow {
		logger.Info("running sweep")
		run, err := orchestrator.RunOnce(ctx)
		if err != nil {
			logger.Fatal("sweep failed", zap.Error(err))
		}
		if run != nil {
			logger.Info("sweep complete", zap.String("run", run.ID), zap.Int("crawled", run.FixturesCrawled), zap.Int("errors", run.ErrorsCount))
		}
		return
	}

	// Daemon mode
	runner := scraper.NewRunner(orchestrator, cfg.Scheduler.Cron, cfg.Scheduler.Interval, logger.Named("runner"))
	if err := runner.Start(ctx); err != nil {
		logger.Fatal("failed to start runner", zap.Error(err))
	}

	retention := workers.NewRetentionWorker(store.Collection(storage.CollectionOddsHistory), cfg.Crawl.HistoryRetention, m, logger.Named("retention"))
	if cfg.Crawl.HistoryRetention > 0 {
		go retention.Run(ctx, 500, 30*time.Minute)
		logger.Info("retention worker started", zap.Duration("retention", cfg.Crawl.HistoryRetention))
	}

	srv := server.New(store, orchestrator, logger.Named("http"))
	if oddsCache != nil {
		srv.SetOdds(oddsCache)
	}
	if cfg.Crawl.HistoryRetention > 0 {
		srv.SetRetention(retention)
	}
	httpServer := srv.NewHTTPServer(cfg.HTTPAddr)
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	logger.Info("daemon running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErrors:
		logger.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful http shutdown failed", zap.Error(err))
	}
	cancel()
	runner.Stop()
	logger.Info("goodbye")
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
		pg, err := storage.NewPostgresStore(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to postgres", zap.String("url", maskConnectionString(cfg.Store.DatabaseURL)))
		return pg, nil
	case "memory":
		logger.Warn("using in-memory store, state is lost on exit")
		return storage.NewMemoryStore(), nil
	case "sqlite", "":
		db, err := storage.NewSQLiteStore(cfg.Store.DBPath)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite database", zap.String("path", cfg.Store.DBPath))
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	// Simple mask - find :// and mask until @
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	// Find : after user
	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
