package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hotsignals/hotsignals/internal/metrics"
	"github.com/hotsignals/hotsignals/internal/models"
	"github.com/hotsignals/hotsignals/internal/stream"
)

// ErrPartialPublish reports a bus call that succeeded at the transport
// level while rejecting some entries. Callers treat it as a hard failure.
var ErrPartialPublish = errors.New("bus rejected some entries")

// Publisher emits finished items to the event bus, routed by
// {platform}.{account_name}.
type Publisher struct {
	bus       stream.Bus
	source    string
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewPublisher creates a result publisher. source is the event namespace
// stamped on every entry.
func NewPublisher(bus stream.Bus, source string, collector *metrics.Collector, logger *slog.Logger) *Publisher {
	return &Publisher{bus: bus, source: source, collector: collector, logger: logger}
}

// Publish emits one finished item.
func (p *Publisher) Publish(ctx context.Context, item *models.ContentItem) error {
	return p.PublishBatch(ctx, []*models.ContentItem{item})
}

// PublishBatch emits a batch of finished items in one bus call. A partial
// failure surfaces as ErrPartialPublish even though the call itself
// returned cleanly.
func (p *Publisher) PublishBatch(ctx context.Context, items []*models.ContentItem) error {
	if len(items) == 0 {
		return nil
	}

	entries := make([]stream.BusEntry, 0, len(items))
	for _, item := range items {
		detail, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal item %s: %w", item.ID, err)
		}
		entries = append(entries, stream.BusEntry{
			Source:     p.source,
			DetailType: DetailType(item),
			Detail:     detail,
		})
	}

	result, err := p.bus.PutEvents(ctx, entries)
	if err != nil {
		return fmt.Errorf("put events: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entryErr := range result.EntryErrors {
			if entryErr != nil {
				p.collector.AddPublishFailures(entries[i].DetailType, 1)
				p.logger.Error("bus entry rejected",
					"detail_type", entries[i].DetailType,
					"error", entryErr,
				)
			}
		}
		return fmt.Errorf("%w: %d of %d", ErrPartialPublish, result.FailedEntryCount, len(entries))
	}

	return nil
}

// DetailType derives the routing key for one item.
func DetailType(item *models.ContentItem) string {
	return fmt.Sprintf("%s.%s", item.Platform, item.AccountName)
}
