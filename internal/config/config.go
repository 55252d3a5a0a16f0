package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Ingestion IngestionConfig
	Pipeline  PipelineConfig
}

// ServerConfig holds admin HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig holds the checkpoint store connection settings.
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds the stream/bus backend connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// IngestionConfig holds poller and crawler settings.
type IngestionConfig struct {
	// SearchQuery is the term the source poller searches for.
	SearchQuery string
	// Languages are the language filters the poller iterates over.
	Languages []string
	// RecordCap bounds how many records one search call may return.
	RecordCap int
	// QuotaLimit is the local per-window call budget for the poller.
	QuotaLimit int
	// Subreddits are the comment-tree crawl targets, "r/..." form.
	Subreddits []string
	// FeedURLs are the news feeds polled on the newsfeed platform.
	FeedURLs []string
	// PollSchedule and CrawlSchedule are cron specs for the scheduler.
	PollSchedule  string
	CrawlSchedule string
	// InvocationTimeout is the wall-clock budget per scheduled invocation;
	// the crawler treats it as its cancellation deadline.
	InvocationTimeout time.Duration
}

// PipelineConfig holds annotation pipeline settings.
type PipelineConfig struct {
	// DefaultLanguage is the fallback when detection is skipped or fails.
	DefaultLanguage string
	// TargetLanguage is what non-matching text is translated into.
	TargetLanguage string
	// IngestStream is the raw item queue. RawFeedStream is the append-only
	// audit sink. EventBusNamespace prefixes routed result streams.
	IngestStream      string
	RawFeedStream     string
	EventBusNamespace string
	EventNamespace    string
	// StagingBucket holds downloaded media during the image stages.
	StagingBucket string
	// IngestionBucket and InferenceBucket are the topic-model input and
	// output areas inside the object store.
	IngestionBucket string
	InferenceBucket string
	// StagingDir is the filesystem root of the object store.
	StagingDir string
	// TopicModelPlatforms lists platforms eligible for topic modeling.
	TopicModelPlatforms []string
	// IngestionWindowHours is the trailing window rolled up per topic job.
	IngestionWindowHours int
	// NumberOfTopics requested per topic-model job.
	NumberOfTopics int
	// TopicModelSchedule is the cron spec for the topic sub-pipeline.
	TopicModelSchedule string
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultRecordCap         = 100
	defaultQuotaLimit        = 180
	defaultInvocationTimeout = 5 * time.Minute
	defaultPollSchedule      = "@every 5m"
	defaultCrawlSchedule     = "@every 10m"

	defaultLanguage       = "en"
	defaultIngestStream   = "ingest"
	defaultRawFeedStream  = "raw-feed"
	defaultBusNamespace   = "events"
	defaultEventNamespace = "com.hotsignals.inference"
	defaultStagingBucket  = "staging"
	defaultIngestionBkt   = "topic-ingestion"
	defaultInferenceBkt   = "topic-inference"

	defaultIngestionWindowHours = 2
	defaultNumberOfTopics       = 10
	defaultTopicSchedule        = "0 * * * *"
)

// Load reads configuration from environment variables, applying defaults
// when values are not provided or invalid.
func Load() (Config, error) {
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Ingestion: IngestionConfig{
			SearchQuery:       os.Getenv("QUERY_PARAM"),
			Languages:         splitList(getEnv("SUPPORTED_LANG", defaultLanguage)),
			RecordCap:         defaultRecordCap,
			QuotaLimit:        defaultQuotaLimit,
			Subreddits:        splitList(os.Getenv("SUBREDDITS")),
			FeedURLs:          splitList(os.Getenv("NEWS_FEED_URLS")),
			PollSchedule:      getEnv("POLL_SCHEDULE", defaultPollSchedule),
			CrawlSchedule:     getEnv("CRAWL_SCHEDULE", defaultCrawlSchedule),
			InvocationTimeout: defaultInvocationTimeout,
		},
		Pipeline: PipelineConfig{
			DefaultLanguage:      getEnv("DEFAULT_LANGUAGE", defaultLanguage),
			TargetLanguage:       getEnv("TARGET_LANGUAGE", defaultLanguage),
			IngestStream:         getEnv("INGEST_STREAM", defaultIngestStream),
			RawFeedStream:        getEnv("RAW_FEED_STREAM", defaultRawFeedStream),
			EventBusNamespace:    getEnv("EVENT_BUS_NAMESPACE", defaultBusNamespace),
			EventNamespace:       getEnv("EVENT_NAMESPACE", defaultEventNamespace),
			StagingBucket:        getEnv("STAGING_BUCKET", defaultStagingBucket),
			IngestionBucket:      getEnv("INGESTION_BUCKET", defaultIngestionBkt),
			InferenceBucket:      getEnv("INFERENCE_BUCKET", defaultInferenceBkt),
			StagingDir:           getEnv("STAGING_DIR", os.TempDir()+"/hotsignals"),
			TopicModelPlatforms:  splitList(getEnv("TOPIC_MODEL_PLATFORMS", "twitter,reddit,newsfeed")),
			IngestionWindowHours: defaultIngestionWindowHours,
			NumberOfTopics:       defaultNumberOfTopics,
			TopicModelSchedule:   getEnv("TOPIC_MODEL_SCHEDULE", defaultTopicSchedule),
		},
	}

	if v := os.Getenv("SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_READ_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ReadTimeout = d
	}

	if v := os.Getenv("SERVER_WRITE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.WriteTimeout = d
	}

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if v := os.Getenv("INVOCATION_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid INVOCATION_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Ingestion.InvocationTimeout = d
	}

	if v := os.Getenv("CAP_NUM_RECORD"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CAP_NUM_RECORD: %w", err)
		}
		cfg.Ingestion.RecordCap = n
	}

	if v := os.Getenv("QUOTA_LIMIT"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid QUOTA_LIMIT: %w", err)
		}
		cfg.Ingestion.QuotaLimit = n
	}

	if v := os.Getenv("INGESTION_WINDOW_HOURS"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid INGESTION_WINDOW_HOURS: %w", err)
		}
		cfg.Pipeline.IngestionWindowHours = n
	}

	if v := os.Getenv("NUMBER_OF_TOPICS"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid NUMBER_OF_TOPICS: %w", err)
		}
		cfg.Pipeline.NumberOfTopics = n
	}

	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid REDIS_DB: must be a non-negative integer")
		}
		cfg.Redis.DB = n
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	return cfg, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
