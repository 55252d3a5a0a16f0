package ingestion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hotsignals/hotsignals/internal/metrics"
	"github.com/hotsignals/hotsignals/internal/models"
	"github.com/hotsignals/hotsignals/internal/tracker"
)

type fakeTreeClient struct {
	roots       []models.ContentItem
	replies     map[string][]models.ContentItem
	rootCursors []string
	fetchCount  int
	replyDelay  time.Duration
	replyErr    map[string]error
	// replyFailures makes that many FetchReplies calls per parent fail
	// retryably before succeeding.
	replyFailures map[string]int
}

func (f *fakeTreeClient) Platform() models.Platform { return models.PlatformReddit }

func (f *fakeTreeClient) FetchRoots(ctx context.Context, source, cursor string, limit int) ([]models.ContentItem, error) {
	f.rootCursors = append(f.rootCursors, cursor)
	var out []models.ContentItem
	for _, item := range f.roots {
		if item.ID > cursor {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeTreeClient) FetchReplies(ctx context.Context, source, parentID string, limit int) ([]models.ContentItem, error) {
	f.fetchCount++
	if f.replyDelay > 0 {
		time.Sleep(f.replyDelay)
	}
	if f.replyFailures[parentID] > 0 {
		f.replyFailures[parentID]--
		return nil, NewRetryableError(errors.New("transient fetch failure"))
	}
	if err := f.replyErr[parentID]; err != nil {
		return nil, err
	}
	return f.replies[parentID], nil
}

func item(id string) models.ContentItem {
	return models.ContentItem{ID: id, Platform: models.PlatformReddit, Text: "text " + id}
}

func newTestCrawler(t *testing.T, client TreeClient, pub Publisher, repo tracker.Repository, cfg CrawlerConfig) *Crawler {
	t.Helper()
	collector, err := metrics.NewCollector()
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return NewCrawler(client, pub, repo, collector, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
}

func quickConfig() CrawlerConfig {
	cfg := DefaultCrawlerConfig()
	cfg.PolitenessDelay = 0
	return cfg
}

func publishedIDs(t *testing.T, pub *capturingPublisher) []string {
	t.Helper()
	var ids []string
	for _, it := range pub.items(t) {
		ids = append(ids, it.ID)
	}
	return ids
}

func TestCrawlerWalksTreeDepthFirst(t *testing.T) {
	client := &fakeTreeClient{
		roots: []models.ContentItem{item("a"), item("b")},
		replies: map[string][]models.ContentItem{
			"a":  {item("a1"), item("a2")},
			"a1": {item("a1x")},
		},
	}
	pub := &capturingPublisher{}
	repo := tracker.NewMemoryRepository()
	crawler := newTestCrawler(t, client, pub, repo, quickConfig())

	if err := crawler.Crawl(context.Background(), "r/news"); err != nil {
		t.Fatalf("Crawl returned error: %v", err)
	}

	want := []string{"a", "a1", "a1x", "a2", "b"}
	got := publishedIDs(t, pub)
	if len(got) != len(want) {
		t.Fatalf("expected %d published items, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	cursor, err := repo.Get(context.Background(), tracker.SourceKey("reddit", "r/news"))
	if err != nil {
		t.Fatalf("Get checkpoint: %v", err)
	}
	if cursor != "b" {
		t.Errorf("expected final cursor b, got %q", cursor)
	}
}

func TestCrawlerFlushesFullBatches(t *testing.T) {
	roots := make([]models.ContentItem, 12)
	for i := range roots {
		roots[i] = item(string(rune('a' + i)))
	}
	client := &fakeTreeClient{roots: roots}
	pub := &capturingPublisher{}
	cfg := quickConfig()
	cfg.BatchSize = 10
	crawler := newTestCrawler(t, client, pub, tracker.NewMemoryRepository(), cfg)

	if err := crawler.Crawl(context.Background(), "r/news"); err != nil {
		t.Fatalf("Crawl returned error: %v", err)
	}

	if len(pub.batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(pub.batches))
	}
	if len(pub.batches[0]) != 10 {
		t.Errorf("expected first batch of 10, got %d", len(pub.batches[0]))
	}
	if len(pub.batches[1]) != 2 {
		t.Errorf("expected trailing batch of 2, got %d", len(pub.batches[1]))
	}
}

func TestCrawlerTerminatesOnTimeBudget(t *testing.T) {
	client := &fakeTreeClient{
		roots: []models.ContentItem{item("a")},
		replies: map[string][]models.ContentItem{
			"a": {item("a1")},
		},
		replyDelay: 200 * time.Millisecond,
	}
	pub := &capturingPublisher{}
	repo := tracker.NewMemoryRepository()
	cfg := quickConfig()
	cfg.SafetyMargin = 300 * time.Millisecond

	crawler := newTestCrawler(t, client, pub, repo, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	if err := crawler.Crawl(ctx, "r/news"); err != nil {
		t.Fatalf("Crawl returned error: %v", err)
	}

	// Node a fit inside the budget; its reply a1 did not. a1 must still be
	// published (forced flush) and checkpointed, with no further fetches.
	got := publishedIDs(t, pub)
	if len(got) != 2 || got[0] != "a" || got[1] != "a1" {
		t.Fatalf("expected [a a1] published, got %v", got)
	}

	cursor, err := repo.Get(context.Background(), tracker.SourceKey("reddit", "r/news"))
	if err != nil {
		t.Fatalf("Get checkpoint: %v", err)
	}
	if cursor != "a1" {
		t.Errorf("expected cursor a1 after forced termination, got %q", cursor)
	}

	if client.fetchCount != 1 {
		t.Errorf("expected no reply fetches after termination, got %d", client.fetchCount)
	}
}

func TestCrawlerResumesPastCheckpoint(t *testing.T) {
	client := &fakeTreeClient{
		roots: []models.ContentItem{item("a"), item("b")},
	}
	pub := &capturingPublisher{}
	repo := tracker.NewMemoryRepository()
	crawler := newTestCrawler(t, client, pub, repo, quickConfig())

	if err := crawler.Crawl(context.Background(), "r/news"); err != nil {
		t.Fatalf("first crawl: %v", err)
	}

	firstCount := len(publishedIDs(t, pub))

	// New root appears; the second invocation must start strictly after
	// the saved cursor and never republish a or b.
	client.roots = append(client.roots, item("c"))
	if err := crawler.Crawl(context.Background(), "r/news"); err != nil {
		t.Fatalf("second crawl: %v", err)
	}

	if got := client.rootCursors[1]; got != "b" {
		t.Errorf("second fetch should start from cursor b, got %q", got)
	}

	ids := publishedIDs(t, pub)[firstCount:]
	if len(ids) != 1 || ids[0] != "c" {
		t.Errorf("expected only [c] in second crawl, got %v", ids)
	}
}

func TestCrawlerCheckpointsBeforePropagatingFetchError(t *testing.T) {
	client := &fakeTreeClient{
		roots: []models.ContentItem{item("a"), item("b")},
		replyErr: map[string]error{
			"a": errors.New("reply fetch blew up"),
		},
	}
	pub := &capturingPublisher{}
	repo := tracker.NewMemoryRepository()
	crawler := newTestCrawler(t, client, pub, repo, quickConfig())

	err := crawler.Crawl(context.Background(), "r/news")
	if err == nil {
		t.Fatal("expected error from reply fetch")
	}

	cursor, getErr := repo.Get(context.Background(), tracker.SourceKey("reddit", "r/news"))
	if getErr != nil {
		t.Fatalf("Get checkpoint: %v", getErr)
	}
	if cursor != "a" {
		t.Errorf("expected checkpoint a written before propagation, got %q", cursor)
	}
}

func TestCrawlerRetriesTransientReplyFetch(t *testing.T) {
	client := &fakeTreeClient{
		roots: []models.ContentItem{item("a")},
		replies: map[string][]models.ContentItem{
			"a": {item("a1")},
		},
		replyFailures: map[string]int{"a": 2},
	}
	pub := &capturingPublisher{}
	crawler := newTestCrawler(t, client, pub, tracker.NewMemoryRepository(), quickConfig())
	crawler.retry = fastRetryPolicy()

	if err := crawler.Crawl(context.Background(), "r/news"); err != nil {
		t.Fatalf("Crawl returned error: %v", err)
	}

	if got := publishedIDs(t, pub); len(got) != 2 {
		t.Errorf("expected both items published after retries, got %v", got)
	}
	if client.fetchCount != 4 {
		t.Errorf("expected 2 failed + 2 successful reply fetches, got %d", client.fetchCount)
	}
}

func TestCrawlerPublishErrorAborts(t *testing.T) {
	roots := make([]models.ContentItem, 10)
	for i := range roots {
		roots[i] = item(string(rune('a' + i)))
	}
	client := &fakeTreeClient{roots: roots}
	pub := &capturingPublisher{err: errors.New("sink unavailable")}
	crawler := newTestCrawler(t, client, pub, tracker.NewMemoryRepository(), quickConfig())

	if err := crawler.Crawl(context.Background(), "r/news"); err == nil {
		t.Fatal("expected publish error to propagate")
	}
}
