package config

import (
	"os"
	"reflect"
	"testing"
	"time"

	"log/slog"
)

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Port != defaultPort {
		t.Errorf("expected default port %q, got %q", defaultPort, cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != defaultReadTimeout {
		t.Errorf("expected default read timeout %v, got %v", defaultReadTimeout, cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != defaultWriteTimeout {
		t.Errorf("expected default write timeout %v, got %v", defaultWriteTimeout, cfg.Server.WriteTimeout)
	}
	if cfg.Server.ShutdownTimeout != defaultShutdownTimeout {
		t.Errorf("expected default shutdown timeout %v, got %v", defaultShutdownTimeout, cfg.Server.ShutdownTimeout)
	}
	if cfg.Logging.Level != slog.LevelInfo {
		t.Errorf("expected default log level %v, got %v", slog.LevelInfo, cfg.Logging.Level)
	}
	if cfg.Logging.Format != defaultLogFormat {
		t.Errorf("expected default log format %q, got %q", defaultLogFormat, cfg.Logging.Format)
	}
	if cfg.Ingestion.QuotaLimit != defaultQuotaLimit {
		t.Errorf("expected default quota limit %d, got %d", defaultQuotaLimit, cfg.Ingestion.QuotaLimit)
	}
	if cfg.Ingestion.RecordCap != defaultRecordCap {
		t.Errorf("expected default record cap %d, got %d", defaultRecordCap, cfg.Ingestion.RecordCap)
	}
	if cfg.Ingestion.InvocationTimeout != defaultInvocationTimeout {
		t.Errorf("expected default invocation timeout %v, got %v", defaultInvocationTimeout, cfg.Ingestion.InvocationTimeout)
	}
	if !reflect.DeepEqual(cfg.Ingestion.Languages, []string{"en"}) {
		t.Errorf("expected default languages [en], got %v", cfg.Ingestion.Languages)
	}
	if cfg.Pipeline.DefaultLanguage != "en" {
		t.Errorf("expected default language en, got %q", cfg.Pipeline.DefaultLanguage)
	}
	if cfg.Pipeline.IngestStream != defaultIngestStream {
		t.Errorf("expected default ingest stream %q, got %q", defaultIngestStream, cfg.Pipeline.IngestStream)
	}
	if cfg.Pipeline.IngestionWindowHours != defaultIngestionWindowHours {
		t.Errorf("expected default ingestion window %d, got %d", defaultIngestionWindowHours, cfg.Pipeline.IngestionWindowHours)
	}
	if cfg.Pipeline.NumberOfTopics != defaultNumberOfTopics {
		t.Errorf("expected default number of topics %d, got %d", defaultNumberOfTopics, cfg.Pipeline.NumberOfTopics)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	clearConfigEnv(t)

	overrides := map[string]string{
		"SERVER_PORT":                     "9090",
		"SERVER_READ_TIMEOUT_SECONDS":     "30",
		"SERVER_WRITE_TIMEOUT_SECONDS":    "45",
		"SERVER_SHUTDOWN_TIMEOUT_SECONDS": "15",
		"LOG_LEVEL":                       "debug",
		"LOG_FORMAT":                      "text",
		"QUERY_PARAM":                     "climate",
		"SUPPORTED_LANG":                  "en,es,fr",
		"CAP_NUM_RECORD":                  "25",
		"QUOTA_LIMIT":                     "50",
		"SUBREDDITS":                      "r/news, r/worldnews",
		"INVOCATION_TIMEOUT_SECONDS":      "120",
		"TARGET_LANGUAGE":                 "en",
		"INGEST_STREAM":                   "items",
		"INGESTION_WINDOW_HOURS":          "4",
		"NUMBER_OF_TOPICS":                "15",
		"REDIS_DB":                        "2",
	}
	for key, value := range overrides {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.Port != overrides["SERVER_PORT"] {
		t.Errorf("expected overridden port %q, got %q", overrides["SERVER_PORT"], cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected read timeout %v, got %v", 30*time.Second, cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 45*time.Second {
		t.Errorf("expected write timeout %v, got %v", 45*time.Second, cfg.Server.WriteTimeout)
	}
	if cfg.Server.ShutdownTimeout != 15*time.Second {
		t.Errorf("expected shutdown timeout %v, got %v", 15*time.Second, cfg.Server.ShutdownTimeout)
	}
	if cfg.Logging.Level != slog.LevelDebug {
		t.Errorf("expected log level %v, got %v", slog.LevelDebug, cfg.Logging.Level)
	}
	if cfg.Logging.Format != overrides["LOG_FORMAT"] {
		t.Errorf("expected log format %q, got %q", overrides["LOG_FORMAT"], cfg.Logging.Format)
	}
	if cfg.Ingestion.SearchQuery != "climate" {
		t.Errorf("expected search query climate, got %q", cfg.Ingestion.SearchQuery)
	}
	if !reflect.DeepEqual(cfg.Ingestion.Languages, []string{"en", "es", "fr"}) {
		t.Errorf("expected languages [en es fr], got %v", cfg.Ingestion.Languages)
	}
	if cfg.Ingestion.RecordCap != 25 {
		t.Errorf("expected record cap 25, got %d", cfg.Ingestion.RecordCap)
	}
	if cfg.Ingestion.QuotaLimit != 50 {
		t.Errorf("expected quota limit 50, got %d", cfg.Ingestion.QuotaLimit)
	}
	if !reflect.DeepEqual(cfg.Ingestion.Subreddits, []string{"r/news", "r/worldnews"}) {
		t.Errorf("expected subreddits trimmed, got %v", cfg.Ingestion.Subreddits)
	}
	if cfg.Ingestion.InvocationTimeout != 2*time.Minute {
		t.Errorf("expected invocation timeout %v, got %v", 2*time.Minute, cfg.Ingestion.InvocationTimeout)
	}
	if cfg.Pipeline.IngestStream != "items" {
		t.Errorf("expected ingest stream items, got %q", cfg.Pipeline.IngestStream)
	}
	if cfg.Pipeline.IngestionWindowHours != 4 {
		t.Errorf("expected ingestion window 4, got %d", cfg.Pipeline.IngestionWindowHours)
	}
	if cfg.Pipeline.NumberOfTopics != 15 {
		t.Errorf("expected 15 topics, got %d", cfg.Pipeline.NumberOfTopics)
	}
	if cfg.Redis.DB != 2 {
		t.Errorf("expected redis db 2, got %d", cfg.Redis.DB)
	}
}

func TestLoadPartialOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SERVER_READ_TIMEOUT_SECONDS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("expected overridden read timeout %v, got %v", 5*time.Second, cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != defaultWriteTimeout {
		t.Errorf("expected default write timeout %v, got %v", defaultWriteTimeout, cfg.Server.WriteTimeout)
	}
}

func TestLoadWithInvalidValues(t *testing.T) {
	tests := map[string]string{
		"SERVER_READ_TIMEOUT_SECONDS":     "-1",
		"SERVER_WRITE_TIMEOUT_SECONDS":    "abc",
		"SERVER_SHUTDOWN_TIMEOUT_SECONDS": "3.5",
		"INVOCATION_TIMEOUT_SECONDS":      "-30",
		"CAP_NUM_RECORD":                  "0",
		"QUOTA_LIMIT":                     "-5",
		"INGESTION_WINDOW_HOURS":          "zero",
		"NUMBER_OF_TOPICS":                "0",
		"REDIS_DB":                        "-1",
		"LOG_LEVEL":                       "verbose",
		"LOG_FORMAT":                      "xml",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv(key, value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected error when %s=%q", key, value)
			}
		})
	}
}

func TestParseLogLevelAliases(t *testing.T) {
	tests := map[string]slog.Level{
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
	}

	for input, expected := range tests {
		level, err := parseLogLevel(input)
		if err != nil {
			t.Fatalf("parseLogLevel(%q) returned error: %v", input, err)
		}

		if level != expected {
			t.Errorf("parseLogLevel(%q) = %v, want %v", input, level, expected)
		}
	}
}

func TestParseSecondsRejectsInvalidInput(t *testing.T) {
	cases := []string{"-1", "abc"}

	for _, input := range cases {
		if _, err := parseSeconds(input); err == nil {
			t.Fatalf("expected error for input %q", input)
		}
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"en", []string{"en"}},
		{"en, es ,fr", []string{"en", "es", "fr"}},
		{" , ,", nil},
	}

	for _, tc := range tests {
		if got := splitList(tc.input); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitList(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestLoadDoesNotPersistEnvBetweenRuns(t *testing.T) {
	clearConfigEnv(t)

	t.Setenv("SERVER_READ_TIMEOUT_SECONDS", "5")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.Unsetenv("SERVER_READ_TIMEOUT_SECONDS"); err != nil {
		t.Fatalf("failed to unset env: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.ReadTimeout != defaultReadTimeout {
		t.Errorf("expected default read timeout after reset, got %v", cfg.Server.ReadTimeout)
	}
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT",
		"SERVER_PORT",
		"SERVER_READ_TIMEOUT_SECONDS",
		"SERVER_WRITE_TIMEOUT_SECONDS",
		"SERVER_SHUTDOWN_TIMEOUT_SECONDS",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"DATABASE_URL",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"QUERY_PARAM",
		"SUPPORTED_LANG",
		"CAP_NUM_RECORD",
		"QUOTA_LIMIT",
		"SUBREDDITS",
		"NEWS_FEED_URLS",
		"POLL_SCHEDULE",
		"CRAWL_SCHEDULE",
		"INVOCATION_TIMEOUT_SECONDS",
		"DEFAULT_LANGUAGE",
		"TARGET_LANGUAGE",
		"INGEST_STREAM",
		"RAW_FEED_STREAM",
		"EVENT_BUS_NAMESPACE",
		"EVENT_NAMESPACE",
		"STAGING_BUCKET",
		"INGESTION_BUCKET",
		"INFERENCE_BUCKET",
		"STAGING_DIR",
		"TOPIC_MODEL_PLATFORMS",
		"INGESTION_WINDOW_HOURS",
		"NUMBER_OF_TOPICS",
		"TOPIC_MODEL_SCHEDULE",
	}

	for _, key := range keys {
		t.Setenv(key, "")
	}
}
