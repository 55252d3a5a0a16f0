package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/hotsignals/hotsignals/internal/api"
	"github.com/hotsignals/hotsignals/internal/auth"
	"github.com/hotsignals/hotsignals/internal/config"
	"github.com/hotsignals/hotsignals/internal/database"
	"github.com/hotsignals/hotsignals/internal/ingestion"
	"github.com/hotsignals/hotsignals/internal/logging"
	"github.com/hotsignals/hotsignals/internal/metrics"
	"github.com/hotsignals/hotsignals/internal/ml"
	"github.com/hotsignals/hotsignals/internal/models"
	"github.com/hotsignals/hotsignals/internal/objectstore"
	"github.com/hotsignals/hotsignals/internal/pipeline"
	"github.com/hotsignals/hotsignals/internal/scheduler"
	"github.com/hotsignals/hotsignals/internal/server"
	"github.com/hotsignals/hotsignals/internal/stream"
	"github.com/hotsignals/hotsignals/internal/tracker"
)

func main() {
	// Optional .env for local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting hotsignals worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector, err := metrics.NewCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}

	// Checkpoint store: Postgres when configured, in-memory otherwise.
	var checkpoints tracker.Repository
	var checkpointDB *sql.DB
	if cfg.Database.URL != "" {
		dbCfg := database.DefaultConfig()
		dbCfg.URL = cfg.Database.URL

		logger.Info("connecting to database")
		db, err := database.Connect(ctx, dbCfg)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		repo := tracker.NewPostgresRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure checkpoint schema", "error", err)
			os.Exit(1)
		}
		checkpoints = repo
		checkpointDB = db
		logger.Info("database connected")
	} else {
		logger.Warn("no DATABASE_URL set, checkpoints will not survive restarts")
		checkpoints = tracker.NewMemoryRepository()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	store, err := objectstore.NewFSStore(cfg.Pipeline.StagingDir)
	if err != nil {
		logger.Error("failed to init object store", "error", err)
		os.Exit(1)
	}

	// ML provider: OpenAI-backed when a key is present, rule-based mock
	// otherwise so the pipeline still runs end to end locally.
	var provider ml.Provider
	openaiCfg := ml.ConfigFromEnv()
	if openaiCfg.APIKey == "" {
		logger.Warn("no OPENAI_API_KEY set, using mock ML provider")
		provider = ml.NewMockProvider()
	} else {
		provider, err = ml.NewOpenAIProvider(openaiCfg, store, logger)
		if err != nil {
			logger.Error("failed to init ML provider", "error", err)
			os.Exit(1)
		}
		logger.Info("using OpenAI ML provider", "model", openaiCfg.Model)
	}

	// Streams and bus.
	producer := stream.NewProducer(rdb, cfg.Pipeline.IngestStream, logger)
	consumer, err := stream.NewConsumer(ctx, rdb, cfg.Pipeline.IngestStream, "pipeline", logger)
	if err != nil {
		logger.Error("failed to init stream consumer", "error", err)
		os.Exit(1)
	}
	sink := stream.NewObjectSink(store, logger)
	bus := stream.NewRedisBus(rdb, cfg.Pipeline.EventBusNamespace, logger)

	// Annotation pipeline.
	waiter := pipeline.NewTokenWaiter()
	runner := pipeline.NewRunner(waiter, collector, logger)
	publisher := pipeline.NewPublisher(bus, cfg.Pipeline.EventNamespace, collector, logger)

	orchestrator := pipeline.NewOrchestrator(
		consumer,
		waiter,
		runner,
		pipeline.NewDetectLanguage(provider, cfg.Pipeline.DefaultLanguage),
		pipeline.NewTranslateCleanse(provider, sink, pipeline.TranslateCleanseConfig{
			TargetLang:     cfg.Pipeline.TargetLanguage,
			RawStream:      cfg.Pipeline.RawFeedStream,
			TopicBase:      cfg.Pipeline.IngestionBucket,
			TopicPlatforms: cfg.Pipeline.TopicModelPlatforms,
		}),
		pipeline.NewAnalyzeText(provider, cfg.Pipeline.TargetLanguage),
		pipeline.NewImageTextExtract(provider, store, cfg.Pipeline.StagingBucket, logger),
		pipeline.NewModerateImages(provider, store, cfg.Pipeline.StagingBucket, logger),
		publisher,
		logger,
		pipeline.DefaultOrchestratorConfig(),
	)

	topicPlatforms := make([]models.Platform, 0, len(cfg.Pipeline.TopicModelPlatforms))
	for _, p := range cfg.Pipeline.TopicModelPlatforms {
		topicPlatforms = append(topicPlatforms, models.Platform(p))
	}
	topicPipeline := pipeline.NewTopicPipeline(provider, store, bus, cfg.Pipeline.EventNamespace, collector, logger, pipeline.TopicModelConfig{
		Platforms:       topicPlatforms,
		IngestionBucket: cfg.Pipeline.IngestionBucket,
		InferenceBucket: cfg.Pipeline.InferenceBucket,
		WindowHours:     cfg.Pipeline.IngestionWindowHours,
		NumTopics:       cfg.Pipeline.NumberOfTopics,
		PollInterval:    30 * time.Second,
	})

	// Scheduled ingestion.
	sched := scheduler.New(logger)
	platforms := registerIngestion(sched, cfg, producer, checkpoints, collector, logger)

	if err := sched.Add(scheduler.Invocation{
		Name:     "topic-model",
		Schedule: cfg.Pipeline.TopicModelSchedule,
		Timeout:  cfg.Ingestion.InvocationTimeout,
		Run: func(ctx context.Context) error {
			_, err := topicPipeline.Run(ctx)
			return err
		},
	}); err != nil {
		logger.Error("failed to schedule topic pipeline", "error", err)
		os.Exit(1)
	}

	// Admin server.
	mux := http.NewServeMux()
	api.SetupRoutes(mux, checkpointDB, checkpoints, collector, auth.LoadConfigFromEnv(), platforms, logger)
	srv := server.New(cfg.Server, logger, collector.InstrumentHandler(mux))

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			stop()
		}
	}()
	go func() {
		if err := orchestrator.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("orchestrator stopped", "error", err)
			stop()
		}
	}()
	sched.Start()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown error", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("worker stopped")
}

// registerIngestion wires the configured source connectors into the
// scheduler and returns the list of active platforms.
func registerIngestion(
	sched *scheduler.Scheduler,
	cfg config.Config,
	producer *stream.Producer,
	checkpoints tracker.Repository,
	collector *metrics.Collector,
	logger *slog.Logger,
) []string {
	var platforms []string

	pollerCfg := ingestion.PollerConfig{
		Query:      cfg.Ingestion.SearchQuery,
		Languages:  cfg.Ingestion.Languages,
		RecordCap:  cfg.Ingestion.RecordCap,
		QuotaLimit: cfg.Ingestion.QuotaLimit,
	}

	if token := os.Getenv("TWITTER_BEARER_TOKEN"); token != "" {
		client := ingestion.NewTwitterClient(token, cfg.Ingestion.QuotaLimit, logger)
		poller := ingestion.NewPoller(client, producer, checkpoints, collector, logger, pollerCfg)
		if err := sched.Add(scheduler.Invocation{
			Name:     "poll-twitter",
			Schedule: cfg.Ingestion.PollSchedule,
			Timeout:  cfg.Ingestion.InvocationTimeout,
			Run:      poller.Poll,
		}); err != nil {
			logger.Error("failed to schedule twitter poller", "error", err)
		} else {
			platforms = append(platforms, string(models.PlatformTwitter))
		}
	} else {
		logger.Info("no TWITTER_BEARER_TOKEN set, twitter polling disabled")
	}

	if len(cfg.Ingestion.FeedURLs) > 0 {
		client := ingestion.NewNewsFeedClient(cfg.Ingestion.FeedURLs, logger)
		poller := ingestion.NewPoller(client, producer, checkpoints, collector, logger, pollerCfg)
		if err := sched.Add(scheduler.Invocation{
			Name:     "poll-newsfeed",
			Schedule: cfg.Ingestion.PollSchedule,
			Timeout:  cfg.Ingestion.InvocationTimeout,
			Run:      poller.Poll,
		}); err != nil {
			logger.Error("failed to schedule newsfeed poller", "error", err)
		} else {
			platforms = append(platforms, string(models.PlatformNewsFeed))
		}
	}

	if len(cfg.Ingestion.Subreddits) > 0 {
		client := ingestion.NewRedditClient("hotsignals/1.0", logger)
		crawler := ingestion.NewCrawler(client, producer, checkpoints, collector, logger, ingestion.DefaultCrawlerConfig())
		subreddits := cfg.Ingestion.Subreddits
		if err := sched.Add(scheduler.Invocation{
			Name:     "crawl-reddit",
			Schedule: cfg.Ingestion.CrawlSchedule,
			Timeout:  cfg.Ingestion.InvocationTimeout,
			Run: func(ctx context.Context) error {
				for _, subreddit := range subreddits {
					if err := crawler.Crawl(ctx, subreddit); err != nil {
						return err
					}
					if ctx.Err() != nil {
						return ctx.Err()
					}
				}
				return nil
			},
		}); err != nil {
			logger.Error("failed to schedule reddit crawler", "error", err)
		} else {
			platforms = append(platforms, string(models.PlatformReddit))
		}
	}

	if key := os.Getenv("YOUTUBE_API_KEY"); key != "" {
		window := time.Duration(cfg.Pipeline.IngestionWindowHours) * time.Hour
		client := ingestion.NewYouTubeClient(key, window, logger)
		crawler := ingestion.NewCrawler(client, producer, checkpoints, collector, logger, ingestion.DefaultCrawlerConfig())
		query := cfg.Ingestion.SearchQuery
		if err := sched.Add(scheduler.Invocation{
			Name:     "crawl-youtube",
			Schedule: cfg.Ingestion.CrawlSchedule,
			Timeout:  cfg.Ingestion.InvocationTimeout,
			Run: func(ctx context.Context) error {
				return crawler.Crawl(ctx, query)
			},
		}); err != nil {
			logger.Error("failed to schedule youtube crawler", "error", err)
		} else {
			platforms = append(platforms, string(models.PlatformYouTube))
		}
	} else {
		logger.Info("no YOUTUBE_API_KEY set, youtube crawling disabled")
	}

	return platforms
}
