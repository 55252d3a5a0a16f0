package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hotsignals/hotsignals/internal/models"
)

// NewsFeedClient reads RSS/Atom feeds and presents them through the same
// search-client contract the poller drives. Feeds carry no quota, so
// RemainingQuota always reports a full window; the cursor is the newest
// item's publication time in RFC 3339 form.
type NewsFeedClient struct {
	feeds  []string
	parser *gofeed.Parser
	logger *slog.Logger
}

// NewNewsFeedClient creates a client over the given feed URLs. Video feeds
// are skipped, matching the ingestion scope of the text pipeline.
func NewNewsFeedClient(feeds []string, logger *slog.Logger) *NewsFeedClient {
	filtered := make([]string, 0, len(feeds))
	for _, feed := range feeds {
		if strings.Contains(feed, "/video/") || strings.Contains(feed, "/videos/") {
			logger.Debug("ignoring video feed", "url", feed)
			continue
		}
		filtered = append(filtered, feed)
	}

	return &NewsFeedClient{
		feeds:  filtered,
		parser: gofeed.NewParser(),
		logger: logger,
	}
}

// Platform identifies the newsfeed source.
func (c *NewsFeedClient) Platform() models.Platform {
	return models.PlatformNewsFeed
}

// RemainingQuota reports an effectively unmetered window.
func (c *NewsFeedClient) RemainingQuota(ctx context.Context) (int, error) {
	return len(c.feeds), nil
}

// Search fetches every configured feed and returns items published after
// the cursor, oldest first. A feed that fails to parse is logged and
// skipped; only a total failure of all feeds is an error.
func (c *NewsFeedClient) Search(ctx context.Context, q SearchQuery) (SearchPage, error) {
	var since time.Time
	if q.SinceID != "" {
		t, err := time.Parse(time.RFC3339, q.SinceID)
		if err != nil {
			return SearchPage{}, fmt.Errorf("parse cursor %q: %w", q.SinceID, err)
		}
		since = t
	}

	var records []SearchRecord
	var newest time.Time
	failures := 0

	for _, url := range c.feeds {
		feed, err := c.parser.ParseURLWithContext(url, ctx)
		if err != nil {
			c.logger.Error("failed to fetch feed", "url", url, "error", err)
			failures++
			continue
		}

		for _, entry := range feed.Items {
			published := entryTime(entry)
			if published.IsZero() || !published.After(since) {
				continue
			}
			if published.After(newest) {
				newest = published
			}

			records = append(records, SearchRecord{
				Item: models.ContentItem{
					ID:          entryID(entry, url),
					Platform:    models.PlatformNewsFeed,
					AccountName: feed.Title,
					SearchQuery: q.Query,
					CreatedAt:   published.UTC().Format(time.RFC3339),
					Text:        entryText(entry),
					Media:       entryMedia(entry),
				},
			})
		}
	}

	if failures == len(c.feeds) && len(c.feeds) > 0 {
		return SearchPage{}, fmt.Errorf("all %d feeds failed", failures)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Item.CreatedAt < records[j].Item.CreatedAt
	})

	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}

	page := SearchPage{Items: records}
	if !newest.IsZero() {
		page.NextCursor = newest.UTC().Format(time.RFC3339)
	}
	return page, nil
}

func entryTime(entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return *entry.PublishedParsed
	}
	if entry.UpdatedParsed != nil {
		return *entry.UpdatedParsed
	}
	return time.Time{}
}

func entryID(entry *gofeed.Item, feedURL string) string {
	if entry.GUID != "" {
		return entry.GUID
	}
	if entry.Link != "" {
		return entry.Link
	}
	return feedURL + "#" + entry.Title
}

func entryText(entry *gofeed.Item) string {
	if entry.Description != "" {
		return entry.Title + " " + entry.Description
	}
	return entry.Title
}

func entryMedia(entry *gofeed.Item) []string {
	var media []string
	if entry.Image != nil && entry.Image.URL != "" {
		media = append(media, entry.Image.URL)
	}
	for _, enc := range entry.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") {
			media = append(media, enc.URL)
		}
	}
	return media
}
