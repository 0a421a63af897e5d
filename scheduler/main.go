package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/DeafMist/sec-intel-radar/backend/internal/config"
	"github.com/DeafMist/sec-intel-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/sec-intel-radar/backend/internal/logger"
	"github.com/DeafMist/sec-intel-radar/backend/internal/metrics"
	"github.com/DeafMist/sec-intel-radar/backend/internal/models"
	"github.com/DeafMist/sec-intel-radar/backend/internal/scan"
)

type websiteLister interface {
	ListWebsites(ctx context.Context) ([]models.Website, error)
}

func main() {
	log := logger.New("scheduler")
	cfg, err := config.LoadScheduler()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	schedule, err := cron.ParseStandard(cfg.Cron)
	if err != nil {
		log.Error("parse SCHEDULER_CRON", slog.String("cron", cfg.Cron), slog.Any("err", err))
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

	publisher := scan.NewPublisher(cfg.KafkaBrokers, cfg.ScanTopic)
	defer publisher.Close()

	m := metrics.New("scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
			log.Warn("metrics listener stopped", slog.Any("err", err))
		}
	}()

	opts := scan.Options{Concurrency: cfg.ScanConcurrency, Timeout: cfg.ScanTimeout}
	log.Info("scheduler running",
		slog.String("cron", cfg.Cron),
		slog.String("topic", cfg.ScanTopic),
		slog.Int("concurrency", cfg.ScanConcurrency),
	)

	for {
		next := schedule.Next(time.Now())
		log.Debug("next scan batch", slog.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("shutdown signal received")
			return
		case <-timer.C:
			runOnce(ctx, log, esClient, publisher, m, opts)
		}
	}
}

// runOnce triggers a scan for every configured website and returns the
// number of successful and failed triggers.
func runOnce(ctx context.Context, log *slog.Logger, store websiteLister, trigger scan.Trigger, m *metrics.Metrics, opts scan.Options) (int, int) {
	listCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	sites, err := store.ListWebsites(listCtx)
	cancel()
	if err != nil {
		log.Warn("list websites failed (will retry on next run)", slog.Any("err", err))
		return 0, 0
	}
	if len(sites) == 0 {
		log.Info("no websites configured, nothing to scan")
		return 0, 0
	}

	results := scan.Batch(ctx, sites, opts, trigger)
	for _, res := range results {
		m.ScanTriggered(res.OK())
		if res.Err != nil {
			log.Warn("scan trigger failed",
				slog.String("website_id", res.Website.ID),
				slog.String("website", res.Website.Name),
				slog.Any("err", res.Err),
			)
			continue
		}
		log.Debug("scan triggered",
			slog.String("website", res.Website.Name),
			slog.String("request_id", res.RequestID),
		)
	}

	ok, failed := scan.Summary(results)
	log.Info("scan batch completed", slog.Int("started", ok), slog.Int("failed", failed))
	return ok, failed
}
