package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/sec-intel-radar/backend/internal/config"
	"github.com/DeafMist/sec-intel-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/sec-intel-radar/backend/internal/logger"
	"github.com/DeafMist/sec-intel-radar/backend/internal/metrics"
	"github.com/DeafMist/sec-intel-radar/backend/internal/scan"
)

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, elasticsearch.Indices{
		Events:   cfg.EventsIndex,
		Websites: cfg.WebsitesIndex,
		Prompts:  cfg.PromptsIndex,
	}, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := esClient.EnsureIndices(initCtx); err != nil {
		// The snapshot keeps serving errors until Elasticsearch comes up.
		log.Warn("ensure indices", slog.Any("err", err))
	} else if cfg.SeedFile != "" {
		seed, err := loadSeed(cfg.SeedFile)
		if err != nil {
			cancel()
			log.Error("load seed", slog.Any("err", err))
			os.Exit(1)
		}
		if err := applySeed(initCtx, log, esClient, seed, time.Now()); err != nil {
			log.Warn("apply seed", slog.Any("err", err))
		}
	}
	cancel()

	publisher := scan.NewPublisher(cfg.KafkaBrokers, cfg.ScanTopic)
	defer publisher.Close()

	srv := newServer(log, cfg, esClient, publisher, metrics.New("api"))

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}
