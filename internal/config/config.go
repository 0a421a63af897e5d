package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Common contains Elasticsearch parameters shared by every service.
type Common struct {
	ElasticsearchAddr string
	EventsIndex       string
	WebsitesIndex     string
	PromptsIndex      string
}

// Worker holds configuration for the Kafka -> Elasticsearch worker.
type Worker struct {
	Common
	KafkaBrokers   []string
	EventsTopic    string
	KafkaConsumer  string
	DedupeCapacity int
	DedupeTTL      time.Duration
	BatchSize      int
	SnippetLength  int
	TitleMaxWords  int
	MetricsAddr    string
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	BindAddr        string
	HighlightCount  int
	SnapshotSize    int
	RefreshTimeout  time.Duration
	CORSOrigins     []string
	SeedFile        string
	KafkaBrokers    []string
	ScanTopic       string
	ScanConcurrency int
	ScanTimeout     time.Duration
}

// Retention configures the cleanup job. Cron is a standard five-field
// expression.
type Retention struct {
	Common
	Cron      string
	MaxAge    time.Duration
	BatchSize int
}

// Scheduler configures periodic batch scans.
type Scheduler struct {
	Common
	Cron            string
	KafkaBrokers    []string
	ScanTopic       string
	ScanConcurrency int
	ScanTimeout     time.Duration
	MetricsAddr     string
}

func loadCommon() Common {
	return Common{
		ElasticsearchAddr: getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		EventsIndex:       getEnv("ELASTICSEARCH_EVENTS_INDEX", "events"),
		WebsitesIndex:     getEnv("ELASTICSEARCH_WEBSITES_INDEX", "websites"),
		PromptsIndex:      getEnv("ELASTICSEARCH_PROMPTS_INDEX", "prompts"),
	}
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	c := &Worker{
		Common:         loadCommon(),
		KafkaBrokers:   splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		EventsTopic:    getEnv("KAFKA_EVENTS_TOPIC", "events_analyzed"),
		KafkaConsumer:  getEnv("KAFKA_CONSUMER_GROUP", "events-worker"),
		DedupeCapacity: getInt("WORKER_DEDUPE_CAPACITY", 20000),
		DedupeTTL:      getDuration("WORKER_DEDUPE_TTL", "168h"),
		BatchSize:      getInt("WORKER_BATCH_SIZE", 10),
		SnippetLength:  getInt("WORKER_SNIPPET_LEN", 500),
		TitleMaxWords:  getInt("WORKER_TITLE_MAX_WORDS", 12),
		MetricsAddr:    getEnv("WORKER_METRICS_ADDR", "0.0.0.0:9100"),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}
	if c.SnippetLength < 0 {
		return nil, fmt.Errorf("WORKER_SNIPPET_LEN cannot be negative")
	}
	if c.TitleMaxWords <= 0 {
		return nil, fmt.Errorf("WORKER_TITLE_MAX_WORDS must be positive")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	c := &API{
		Common:          loadCommon(),
		BindAddr:        getEnv("API_BIND_ADDR", "0.0.0.0:8000"),
		HighlightCount:  getInt("API_HIGHLIGHT_COUNT", 5),
		SnapshotSize:    getInt("API_SNAPSHOT_SIZE", 1000),
		RefreshTimeout:  getDuration("API_REFRESH_TIMEOUT", "5s"),
		CORSOrigins:     splitAndTrim(getEnv("API_CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		SeedFile:        strings.TrimSpace(os.Getenv("API_SEED_FILE")),
		KafkaBrokers:    splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		ScanTopic:       getEnv("KAFKA_SCAN_TOPIC", "scan_requests"),
		ScanConcurrency: getInt("SCAN_CONCURRENCY", 4),
		ScanTimeout:     getDuration("SCAN_TIMEOUT", "10s"),
	}

	if c.HighlightCount <= 0 {
		return nil, fmt.Errorf("API_HIGHLIGHT_COUNT must be positive")
	}
	if c.SnapshotSize <= 0 {
		return nil, fmt.Errorf("API_SNAPSHOT_SIZE must be positive")
	}
	if c.SnapshotSize > 10_000 {
		return nil, fmt.Errorf("API_SNAPSHOT_SIZE cannot exceed 10000")
	}
	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.ScanConcurrency <= 0 {
		return nil, fmt.Errorf("SCAN_CONCURRENCY must be positive")
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	c := &Retention{
		Common:    loadCommon(),
		Cron:      strings.TrimSpace(getEnv("RETENTION_CRON", "30 3 * * *")),
		MaxAge:    getDuration("RETENTION_MAX_AGE", "2160h"),
		BatchSize: getInt("RETENTION_BATCH_SIZE", 500),
	}

	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}
	if c.Cron == "" {
		return nil, fmt.Errorf("RETENTION_CRON must not be empty")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

// LoadScheduler builds a Scheduler config from environment variables.
func LoadScheduler() (*Scheduler, error) {
	c := &Scheduler{
		Common:          loadCommon(),
		Cron:            getEnv("SCHEDULER_CRON", "0 */6 * * *"),
		KafkaBrokers:    splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		ScanTopic:       getEnv("KAFKA_SCAN_TOPIC", "scan_requests"),
		ScanConcurrency: getInt("SCAN_CONCURRENCY", 4),
		ScanTimeout:     getDuration("SCAN_TIMEOUT", "10s"),
		MetricsAddr:     getEnv("SCHEDULER_METRICS_ADDR", "0.0.0.0:9101"),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.ScanConcurrency <= 0 {
		return nil, fmt.Errorf("SCAN_CONCURRENCY must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
