package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/DeafMist/sec-intel-radar/backend/internal/config"
	"github.com/DeafMist/sec-intel-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/sec-intel-radar/backend/internal/logger"
)

type eventPruner interface {
	DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

func main() {
	log := logger.New("retention")
	cfg, err := config.LoadRetention()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	schedule, err := parseSchedule(cfg.Cron)
	if err != nil {
		log.Error("invalid schedule", slog.Any("err", err))
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
		// Runs that hit an unavailable cluster fail and are retried on schedule.
		log.Warn("ensure indices", slog.Any("err", err))
	}
	cancel()

	log.Info("retention job running",
		slog.String("cron", cfg.Cron),
		slog.Duration("max_age", cfg.MaxAge),
	)

	runOnce(ctx, log, esClient, cfg)
	for waitNext(ctx, schedule, time.Now) {
		runOnce(ctx, log, esClient, cfg)
	}
	log.Info("shutdown signal received")
}

func parseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse RETENTION_CRON %q: %w", expr, err)
	}
	return schedule, nil
}

// waitNext blocks until the next scheduled run. It returns false once ctx is done.
func waitNext(ctx context.Context, schedule cron.Schedule, now func() time.Time) bool {
	timer := time.NewTimer(schedule.Next(now()).Sub(now()))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runOnce removes events scanned longer than cfg.MaxAge ago.
func runOnce(ctx context.Context, log *slog.Logger, store eventPruner, cfg *config.Retention) {
	subCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	deleted, err := store.DeleteOlderThan(subCtx, cfg.MaxAge, cfg.BatchSize)
	if err != nil {
		log.Warn("retention run failed, retrying on next schedule", slog.Any("err", err))
		return
	}

	if deleted > 0 {
		log.Info("expired events deleted", slog.Int64("deleted", deleted), slog.Duration("max_age", cfg.MaxAge))
	} else {
		log.Debug("no expired events")
	}
}
