package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/sec-intel-radar/backend/internal/config"
	"github.com/DeafMist/sec-intel-radar/backend/internal/dedupe"
	"github.com/DeafMist/sec-intel-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/sec-intel-radar/backend/internal/logger"
	"github.com/DeafMist/sec-intel-radar/backend/internal/metrics"
	"github.com/DeafMist/sec-intel-radar/backend/internal/models"
	"github.com/DeafMist/sec-intel-radar/backend/internal/processing"
)

const (
	outcomeIndexed   = "indexed"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
)

// rawEvent is the message produced by the analysis pipeline for one article.
type rawEvent struct {
	Title           string          `json:"title"`
	URL             string          `json:"url"`
	SourceWebsiteID string          `json:"source_website_id"`
	Analysis        models.Analysis `json:"analysis"`
	RawContent      string          `json:"raw_content"`
	ScannedAt       string          `json:"scanned_at"`
}

type eventStore interface {
	IndexEvent(ctx context.Context, ev models.Event) error
	EventExists(ctx context.Context, id string) (bool, error)
	TouchWebsite(ctx context.Context, id string, at time.Time) error
}

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
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

	cache := dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL)
	m := metrics.New("worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
			log.Warn("metrics listener stopped", slog.Any("err", err))
		}
	}()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := esClient.EnsureIndices(initCtx); err != nil {
		log.Warn("ensure indices", slog.Any("err", err))
	}
	cancel()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.EventsTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})
	defer reader.Close()

	dlqTopic := cfg.EventsTopic + "_dlq"
	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       dlqTopic,
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	log.Info("worker started",
		slog.String("topic", cfg.EventsTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", dlqTopic),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		outcome, err := processMessage(ctx, log, esClient, cache, cfg, msg)
		m.EventProcessed(outcome)
		if err != nil {
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)
			if !sendToDLQ(ctx, log, dlqWriter, msg, err) {
				if ctx.Err() != nil {
					return
				}
				// Leave the offset uncommitted so the message is redelivered on restart.
				log.Error("DLQ write exhausted retries, message may be lost if later messages commit",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// sendToDLQ forwards a failed message with its error context, retrying with
// exponential backoff. It reports whether the write succeeded.
func sendToDLQ(ctx context.Context, log *slog.Logger, w messageWriter, msg kafka.Message, cause error) bool {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := 0; attempt < 5; attempt++ {
		dlqErr := w.WriteMessages(ctx, dlqMsg)
		if dlqErr == nil {
			log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		log.Warn("DLQ write failed, retrying",
			slog.Any("err", dlqErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			log.Info("context canceled during DLQ retry")
			return false
		}
	}
	return false
}

func processMessage(ctx context.Context, log *slog.Logger, store eventStore, cache *dedupe.Cache, cfg *config.Worker, msg kafka.Message) (string, error) {
	var payload rawEvent
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return outcomeFailed, fmt.Errorf("decode payload: %w", err)
	}

	ev, err := normalize(payload, cfg, time.Now().UTC())
	if err != nil {
		return outcomeFailed, err
	}

	if cache.IsSeen(ev.ID) {
		log.Debug("duplicate event", slog.String("id", ev.ID), slog.String("url", ev.URL))
		return outcomeDuplicate, nil
	}

	exists, err := store.EventExists(ctx, ev.ID)
	if err != nil {
		return outcomeFailed, fmt.Errorf("check existing event: %w", err)
	}
	if exists {
		cache.MarkSeen(ev.ID)
		log.Debug("event already stored", slog.String("id", ev.ID), slog.String("url", ev.URL))
		return outcomeDuplicate, nil
	}

	if err := store.IndexEvent(ctx, ev); err != nil {
		return outcomeFailed, fmt.Errorf("index event: %w", err)
	}
	cache.MarkSeen(ev.ID)

	if ev.SourceWebsiteID != "" {
		if err := store.TouchWebsite(ctx, ev.SourceWebsiteID, ev.ScannedAt); err != nil {
			if elasticsearch.IsNotFound(err) {
				log.Debug("source website no longer exists", slog.String("website_id", ev.SourceWebsiteID))
			} else {
				log.Warn("update last_scraped_at", slog.String("website_id", ev.SourceWebsiteID), slog.Any("err", err))
			}
		}
	}

	log.Info("indexed event", slog.String("id", ev.ID), slog.String("title", ev.Title))
	return outcomeIndexed, nil
}

// normalize turns a pipeline payload into a storable event.
func normalize(payload rawEvent, cfg *config.Worker, now time.Time) (models.Event, error) {
	rawURL := strings.TrimSpace(payload.URL)
	if rawURL == "" {
		return models.Event{}, errors.New("missing url")
	}

	analysis := models.Analysis{
		Summary:            processing.CleanText(payload.Analysis.Summary),
		AttackVectors:      processing.NormalizeTags(payload.Analysis.AttackVectors),
		Vulnerabilities:    processing.NormalizeTags(payload.Analysis.Vulnerabilities),
		AffectedComponents: processing.NormalizeTags(payload.Analysis.AffectedComponents),
		ImpactLevel:        processing.CleanText(payload.Analysis.ImpactLevel),
		TechnicalDetails:   processing.CleanText(payload.Analysis.TechnicalDetails),
		PublishedDate:      strings.TrimSpace(payload.Analysis.PublishedDate),
	}

	title := processing.CleanText(payload.Title)
	if title == "" {
		title = processing.GenerateTitleFromText(analysis.Summary, cfg.TitleMaxWords)
	}
	if title == "" {
		title = rawURL
	}

	scannedAt := now
	if ts := processing.ParsePublishedDate(payload.ScannedAt); ts != nil {
		scannedAt = *ts
	}

	return models.Event{
		ID:                processing.BuildEventID(rawURL),
		Title:             title,
		URL:               rawURL,
		SourceWebsiteID:   strings.TrimSpace(payload.SourceWebsiteID),
		PublishedAt:       processing.ParsePublishedDate(analysis.PublishedDate),
		ScannedAt:         scannedAt,
		Analysis:          analysis,
		RawContentSnippet: processing.Truncate(processing.CleanText(payload.RawContent), cfg.SnippetLength),
	}, nil
}
