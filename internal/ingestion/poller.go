package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hotsignals/hotsignals/internal/metrics"
	"github.com/hotsignals/hotsignals/internal/models"
	"github.com/hotsignals/hotsignals/internal/stream"
	"github.com/hotsignals/hotsignals/internal/tracker"
)

// PollerConfig holds the per-invocation search parameters.
type PollerConfig struct {
	Query string
	// Languages are iterated in order, one search call each.
	Languages []string
	// RecordCap bounds each search call's result size.
	RecordCap int
	// QuotaLimit caps how many search calls one invocation may issue,
	// independent of the quota the source reports.
	QuotaLimit int
}

// Poller queries a content source under a quota and emits normalized items
// to the ingest stream. One Poll call is one scheduled invocation; it holds
// no state between invocations beyond the cursor checkpoint.
type Poller struct {
	client      SearchClient
	publisher   Publisher
	checkpoints tracker.Repository
	filter      *DeduplicationFilter
	limiter     *rate.Limiter
	retry       RetryPolicy
	collector   *metrics.Collector
	logger      *slog.Logger
	cfg         PollerConfig
}

// NewPoller creates a poller for the given source client.
func NewPoller(
	client SearchClient,
	publisher Publisher,
	checkpoints tracker.Repository,
	collector *metrics.Collector,
	logger *slog.Logger,
	cfg PollerConfig,
) *Poller {
	return &Poller{
		client:      client,
		publisher:   publisher,
		checkpoints: checkpoints,
		filter:      NewDeduplicationFilter(NewMemoryDeduplicator(24 * time.Hour)),
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
		retry:       DefaultRetryPolicy(),
		collector:   collector,
		logger:      logger,
		cfg:         cfg,
	}
}

// Poll runs one polling invocation. An exhausted quota before the first
// call is a clean no-op; exhaustion signaled by the source mid-loop
// propagates so the invocation is recorded as failed and the scheduler
// retries on the next interval.
func (p *Poller) Poll(ctx context.Context) error {
	platform := p.client.Platform()

	remaining, err := p.client.RemainingQuota(ctx)
	if err != nil {
		return fmt.Errorf("query remaining quota: %w", err)
	}

	if remaining <= 0 {
		p.logger.Info("quota exhausted, skipping invocation", "platform", platform)
		p.collector.QuotaHalt()
		return nil
	}

	local := p.cfg.QuotaLimit
	if remaining < local {
		local = remaining
	}

	for _, lang := range p.cfg.Languages {
		if local == 0 {
			p.logger.Info("local quota spent, stopping early",
				"platform", platform,
				"query", p.cfg.Query,
			)
			p.collector.QuotaHalt()
			break
		}

		if err := p.pollLanguage(ctx, platform, lang); err != nil {
			return err
		}
		local--
	}

	return nil
}

// pollLanguage issues one search call for a language filter and publishes
// the normalized results.
func (p *Poller) pollLanguage(ctx context.Context, platform models.Platform, lang string) error {
	key := tracker.SourceKey(string(platform), p.cfg.Query+"/"+lang)

	cursor, err := p.checkpoints.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load checkpoint %s: %w", key, err)
	}

	sinceID := cursor
	if sinceID == tracker.SentinelCursor {
		sinceID = ""
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	// Transient source failures are retried in place; quota exhaustion is
	// not, the scheduler owns that recovery path.
	var page SearchPage
	err = Retry(ctx, p.retry, func() error {
		var searchErr error
		page, searchErr = p.client.Search(ctx, SearchQuery{
			Query:    p.cfg.Query,
			Language: lang,
			SinceID:  sinceID,
			Limit:    p.cfg.RecordCap,
		})
		return searchErr
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExhausted) {
			p.logger.Warn("source signaled quota exhaustion",
				"platform", platform,
				"language", lang,
			)
		}
		return fmt.Errorf("search %s (%s): %w", p.cfg.Query, lang, err)
	}

	if len(page.Items) > 0 {
		items := make([]models.ContentItem, 0, len(page.Items))
		for _, rec := range page.Items {
			items = append(items, normalizeRecord(rec, platform, p.cfg.Query))
		}
		items = p.filter.Filter(items)

		if err := p.publishItems(ctx, items); err != nil {
			return err
		}
		p.collector.AddIngested(string(platform), len(items))

		p.logger.Info("published search results",
			"platform", platform,
			"language", lang,
			"count", len(items),
		)
	}

	// An absent forward cursor means no new data; leave the checkpoint
	// untouched so the next invocation re-asks from the same position.
	if page.NextCursor != "" {
		if err := p.checkpoints.Save(ctx, key, page.NextCursor); err != nil {
			return fmt.Errorf("save checkpoint %s: %w", key, err)
		}
	}

	return nil
}

func (p *Poller) publishItems(ctx context.Context, items []models.ContentItem) error {
	if len(items) == 0 {
		return nil
	}

	records := make([]stream.Record, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal item %s: %w", item.ID, err)
		}
		records = append(records, stream.Record{Data: data, PartitionKey: item.ID})
	}

	if err := p.publisher.PublishBatch(ctx, records); err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}
	return nil
}

// normalizeRecord reshapes one raw search record into the canonical item
// form: the full-text field wins over the truncated text field, and the
// timestamp is reformatted into the fixed wall-clock form.
func normalizeRecord(rec SearchRecord, platform models.Platform, query string) models.ContentItem {
	item := rec.Item

	if rec.FullText != "" {
		item.Text = rec.FullText
	}
	if item.Platform == "" {
		item.Platform = platform
	}
	if item.SearchQuery == "" {
		item.SearchQuery = query
	}
	if t, err := time.Parse(time.RFC3339, item.CreatedAt); err == nil {
		item.CreatedAt = models.NormalizeTimestamp(t)
	}

	return item
}
