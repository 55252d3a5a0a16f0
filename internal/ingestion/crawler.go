package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hotsignals/hotsignals/internal/metrics"
	"github.com/hotsignals/hotsignals/internal/models"
	"github.com/hotsignals/hotsignals/internal/stream"
	"github.com/hotsignals/hotsignals/internal/tracker"
)

// CrawlerConfig holds the crawl loop parameters.
type CrawlerConfig struct {
	// PageLimit caps items per fetch at any tree level.
	PageLimit int
	// BatchSize is the publish buffer capacity; the buffer flushes when
	// full or when flushing is forced at termination.
	BatchSize int
	// SafetyMargin is how much wall-clock budget must remain before the
	// crawler processes another item.
	SafetyMargin time.Duration
	// PolitenessDelay is slept between reply-tree fetches.
	PolitenessDelay time.Duration
}

// DefaultCrawlerConfig returns the crawl parameters used in production.
func DefaultCrawlerConfig() CrawlerConfig {
	return CrawlerConfig{
		PageLimit:       25,
		BatchSize:       10,
		SafetyMargin:    5 * time.Second,
		PolitenessDelay: time.Second,
	}
}

// Crawler walks one source's reply trees depth-first, publishing every item
// and checkpointing progress so the next invocation resumes past everything
// already published. The walk is an explicit work stack rather than
// recursion: the time-budget check and checkpoint write happen at a single
// loop boundary, and terminating early is a plain return.
type Crawler struct {
	client      TreeClient
	publisher   Publisher
	checkpoints tracker.Repository
	retry       RetryPolicy
	collector   *metrics.Collector
	logger      *slog.Logger
	cfg         CrawlerConfig
}

// NewCrawler creates a crawler over the given tree source.
func NewCrawler(
	client TreeClient,
	publisher Publisher,
	checkpoints tracker.Repository,
	collector *metrics.Collector,
	logger *slog.Logger,
	cfg CrawlerConfig,
) *Crawler {
	return &Crawler{
		client:      client,
		publisher:   publisher,
		checkpoints: checkpoints,
		retry:       DefaultRetryPolicy(),
		collector:   collector,
		logger:      logger,
		cfg:         cfg,
	}
}

// Crawl runs one crawl invocation over a single source. The context
// deadline is the invocation's wall-clock budget; the crawl checks it
// before each item and stops cooperatively once less than the safety
// margin remains.
func (c *Crawler) Crawl(ctx context.Context, source string) error {
	platform := string(c.client.Platform())
	key := tracker.SourceKey(platform, source)

	cursor, err := c.checkpoints.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load checkpoint %s: %w", key, err)
	}

	since := cursor
	if since == tracker.SentinelCursor {
		since = ""
	}

	var roots []models.ContentItem
	err = Retry(ctx, c.retry, func() error {
		var fetchErr error
		roots, fetchErr = c.client.FetchRoots(ctx, source, since, c.cfg.PageLimit)
		return fetchErr
	})
	if err != nil {
		return fmt.Errorf("fetch roots for %s: %w", source, err)
	}

	if len(roots) == 0 {
		c.logger.Debug("no new items", "source", source)
		return nil
	}

	// The buffer belongs to this invocation alone; nothing survives the
	// return, so a reused worker process cannot leak items across crawls.
	batch := newBatchBuffer(c.publisher, c.cfg.BatchSize, c.collector.CrawlBatchFlushed)

	stack := make([]models.ContentItem, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, roots[i])
	}

	var lastID string
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !c.withinBudget(ctx) {
			if err := batch.add(ctx, node, true); err != nil {
				return fmt.Errorf("forced flush at %s: %w", node.ID, err)
			}
			if err := c.checkpoints.Save(ctx, key, node.ID); err != nil {
				return fmt.Errorf("save checkpoint %s: %w", key, err)
			}
			c.logger.Info("time budget exhausted, crawl terminated",
				"source", source,
				"cursor", node.ID,
			)
			return nil
		}

		if err := batch.add(ctx, node, false); err != nil {
			return fmt.Errorf("publish %s: %w", node.ID, err)
		}
		lastID = node.ID
		c.collector.AddIngested(platform, 1)

		if err := c.politenessSleep(ctx); err != nil {
			return err
		}

		var replies []models.ContentItem
		err := Retry(ctx, c.retry, func() error {
			var fetchErr error
			replies, fetchErr = c.client.FetchReplies(ctx, source, node.ID, c.cfg.PageLimit)
			return fetchErr
		})
		if err != nil {
			// One last checkpoint write so resumption starts past the
			// items already published.
			if saveErr := c.checkpoints.Save(ctx, key, lastID); saveErr != nil {
				c.logger.Error("checkpoint write on failure path failed",
					"source", source,
					"error", saveErr,
				)
			}
			return fmt.Errorf("fetch replies of %s: %w", node.ID, err)
		}

		if len(replies) == 0 {
			if err := c.checkpoints.Save(ctx, key, lastID); err != nil {
				return fmt.Errorf("save checkpoint %s: %w", key, err)
			}
			continue
		}

		for i := len(replies) - 1; i >= 0; i-- {
			stack = append(stack, replies[i])
		}
	}

	if err := batch.flush(ctx); err != nil {
		return fmt.Errorf("final flush for %s: %w", source, err)
	}
	if err := c.checkpoints.Save(ctx, key, lastID); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", key, err)
	}

	c.logger.Info("crawl complete", "source", source, "cursor", lastID)
	return nil
}

func (c *Crawler) withinBudget(ctx context.Context) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return time.Until(deadline) > c.cfg.SafetyMargin
}

func (c *Crawler) politenessSleep(ctx context.Context) error {
	if c.cfg.PolitenessDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.PolitenessDelay):
		return nil
	}
}

// batchBuffer accumulates published items and hands them to the stream in
// fixed-size batches.
type batchBuffer struct {
	publisher Publisher
	capacity  int
	onFlush   func()
	records   []stream.Record
}

func newBatchBuffer(publisher Publisher, capacity int, onFlush func()) *batchBuffer {
	return &batchBuffer{
		publisher: publisher,
		capacity:  capacity,
		onFlush:   onFlush,
	}
}

// add buffers one item, flushing when the buffer is full or force is set.
func (b *batchBuffer) add(ctx context.Context, item models.ContentItem, force bool) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item %s: %w", item.ID, err)
	}
	b.records = append(b.records, stream.Record{Data: data, PartitionKey: item.ID})

	if len(b.records) >= b.capacity || force {
		return b.flush(ctx)
	}
	return nil
}

// flush publishes the buffered records. The buffer is cleared even when the
// publish fails so memory stays bounded; the caller aborts the crawl on
// error and the checkpoint still marks the last safe position.
func (b *batchBuffer) flush(ctx context.Context) error {
	if len(b.records) == 0 {
		return nil
	}

	err := b.publisher.PublishBatch(ctx, b.records)
	b.records = b.records[:0]
	b.onFlush()
	return err
}
