package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hotsignals/hotsignals/internal/models"
)

const redditBaseURL = "https://www.reddit.com"

// RedditClient reads subreddit posts and their comment trees through the
// public JSON endpoints. Expanding a post fetches its whole comment
// listing once; FetchReplies then serves each level out of that parse, so
// the crawler's politeness delay paces the per-post requests.
type RedditClient struct {
	client    *http.Client
	logger    *slog.Logger
	userAgent string

	mu      sync.Mutex
	replies map[string][]models.ContentItem
}

// NewRedditClient creates a reddit tree client. userAgent is required by
// reddit's API policy.
func NewRedditClient(userAgent string, logger *slog.Logger) *RedditClient {
	return &RedditClient{
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
		userAgent: userAgent,
		replies:   make(map[string][]models.ContentItem),
	}
}

// Platform identifies the reddit source.
func (rc *RedditClient) Platform() models.Platform {
	return models.PlatformReddit
}

type redditListing struct {
	Data struct {
		Children []redditThing `json:"children"`
	} `json:"data"`
}

type redditThing struct {
	Kind string `json:"kind"`
	Data struct {
		ID         string          `json:"id"`
		Name       string          `json:"name"`
		Author     string          `json:"author"`
		Title      string          `json:"title"`
		SelfText   string          `json:"selftext"`
		Body       string          `json:"body"`
		URL        string          `json:"url"`
		CreatedUTC float64         `json:"created_utc"`
		Replies    json.RawMessage `json:"replies"`
	} `json:"data"`
}

// FetchRoots returns new posts in the subreddit after the cursor, oldest
// first. source is the "r/name" form; cursor is a post fullname.
func (rc *RedditClient) FetchRoots(ctx context.Context, source, cursor string, limit int) ([]models.ContentItem, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("before", cursor)
	}

	endpoint := fmt.Sprintf("%s/%s/new.json?%s", redditBaseURL, source, params.Encode())
	var listing redditListing
	if err := rc.getJSON(ctx, endpoint, &listing); err != nil {
		return nil, err
	}

	items := make([]models.ContentItem, 0, len(listing.Data.Children))
	// Listings are newest-first; reverse so the crawl proceeds in posting
	// order and the checkpoint cursor moves forward.
	for i := len(listing.Data.Children) - 1; i >= 0; i-- {
		items = append(items, rc.toItem(listing.Data.Children[i], source))
	}
	return items, nil
}

// FetchReplies returns direct replies to the given item. For a post this
// fetches and caches the full comment listing; for a comment it serves the
// replies parsed during that expansion.
func (rc *RedditClient) FetchReplies(ctx context.Context, source, parentID string, limit int) ([]models.ContentItem, error) {
	rc.mu.Lock()
	cached, ok := rc.replies[parentID]
	rc.mu.Unlock()
	if ok {
		return capItems(cached, limit), nil
	}

	if !strings.HasPrefix(parentID, "t3_") {
		// An unexpanded comment has no cached subtree; reddit only serves
		// whole listings per post, so treat it as a leaf.
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/%s/comments/%s.json", redditBaseURL, source, strings.TrimPrefix(parentID, "t3_"))
	var listings []redditListing
	if err := rc.getJSON(ctx, endpoint, &listings); err != nil {
		return nil, err
	}
	if len(listings) < 2 {
		return nil, nil
	}

	rc.mu.Lock()
	rc.indexReplies(parentID, source, listings[1].Data.Children)
	cached = rc.replies[parentID]
	rc.mu.Unlock()

	return capItems(cached, limit), nil
}

// indexReplies walks a parsed comment forest and records each node's direct
// children. Caller holds the mutex.
func (rc *RedditClient) indexReplies(parentID, source string, children []redditThing) {
	items := make([]models.ContentItem, 0, len(children))
	for _, child := range children {
		if child.Kind != "t1" {
			continue
		}
		items = append(items, rc.toItem(child, source))

		if len(child.Data.Replies) > 0 && string(child.Data.Replies) != `""` {
			var nested redditListing
			if err := json.Unmarshal(child.Data.Replies, &nested); err == nil {
				rc.indexReplies(child.Data.Name, source, nested.Data.Children)
			}
		} else {
			rc.replies[child.Data.Name] = nil
		}
	}
	rc.replies[parentID] = items
}

func (rc *RedditClient) toItem(thing redditThing, source string) models.ContentItem {
	text := thing.Data.Body
	if text == "" {
		text = strings.TrimSpace(thing.Data.Title + " " + thing.Data.SelfText)
	}

	var media []string
	if u := thing.Data.URL; u != "" && hasImageSuffix(u) {
		media = []string{u}
	}

	return models.ContentItem{
		ID:          thing.Data.Name,
		Platform:    models.PlatformReddit,
		AccountName: thing.Data.Author,
		SearchQuery: source,
		CreatedAt:   models.NormalizeTimestamp(time.Unix(int64(thing.Data.CreatedUTC), 0)),
		Text:        text,
		Media:       media,
	}
}

func (rc *RedditClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", rc.userAgent)

	resp, err := rc.client.Do(req)
	if err != nil {
		return NewRetryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("reddit throttled: %w", ErrQuotaExhausted)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("reddit API error: %d - %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 500 {
			return NewRetryableError(err)
		}
		return err
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func capItems(items []models.ContentItem, limit int) []models.ContentItem {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func hasImageSuffix(u string) bool {
	for _, suffix := range []string{".jpg", ".jpeg", ".png", ".gif"} {
		if strings.HasSuffix(u, suffix) {
			return true
		}
	}
	return false
}
