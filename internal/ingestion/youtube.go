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
	"sync"
	"time"

	"github.com/hotsignals/hotsignals/internal/models"
)

const youtubeBaseURL = "https://www.googleapis.com/youtube/v3"

// YouTubeClient walks video comment threads through the Data API v3. The
// roots of the tree are videos matching the search query; expanding a video
// fetches its comment threads once, with second-level replies served out of
// that parse like the reddit client does.
type YouTubeClient struct {
	apiKey  string
	window  time.Duration
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	mu      sync.Mutex
	videos  map[string]bool
	replies map[string][]models.ContentItem
}

// NewYouTubeClient creates a YouTube tree client. window bounds how far back
// the video search reaches.
func NewYouTubeClient(apiKey string, window time.Duration, logger *slog.Logger) *YouTubeClient {
	return &YouTubeClient{
		apiKey:  apiKey,
		window:  window,
		baseURL: youtubeBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
		videos:  make(map[string]bool),
		replies: make(map[string][]models.ContentItem),
	}
}

// Platform identifies the youtube source.
func (yc *YouTubeClient) Platform() models.Platform {
	return models.PlatformYouTube
}

type youtubeSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			PublishedAt  string `json:"publishedAt"`
		} `json:"snippet"`
	} `json:"items"`
}

type youtubeComment struct {
	ID      string `json:"id"`
	Snippet struct {
		TextOriginal      string `json:"textOriginal"`
		AuthorDisplayName string `json:"authorDisplayName"`
		PublishedAt       string `json:"publishedAt"`
	} `json:"snippet"`
}

type youtubeThreadsResponse struct {
	Items []struct {
		Snippet struct {
			TopLevelComment youtubeComment `json:"topLevelComment"`
		} `json:"snippet"`
		Replies struct {
			Comments []youtubeComment `json:"comments"`
		} `json:"replies"`
	} `json:"items"`
}

// FetchRoots returns videos matching the source query inside the search
// window, oldest first. source is the search term.
func (yc *YouTubeClient) FetchRoots(ctx context.Context, source, cursor string, limit int) ([]models.ContentItem, error) {
	params := url.Values{}
	params.Set("part", "id,snippet")
	params.Set("type", "video")
	params.Set("order", "date")
	params.Set("q", source)
	params.Set("key", yc.apiKey)
	params.Set("publishedAfter", time.Now().UTC().Add(-yc.window).Format("2006-01-02T15:04:05Z"))
	if limit > 0 {
		params.Set("maxResults", strconv.Itoa(limit))
	}

	var result youtubeSearchResponse
	if err := yc.getJSON(ctx, yc.baseURL+"/search?"+params.Encode(), &result); err != nil {
		return nil, err
	}

	items := make([]models.ContentItem, 0, len(result.Items))
	// Search returns newest-first; reverse so the crawl proceeds in
	// publishing order and drop everything up to the cursor video.
	for i := len(result.Items) - 1; i >= 0; i-- {
		entry := result.Items[i]
		if entry.ID.VideoID == "" {
			continue
		}
		if entry.ID.VideoID == cursor {
			items = items[:0]
			continue
		}

		yc.mu.Lock()
		yc.videos[entry.ID.VideoID] = true
		yc.mu.Unlock()

		items = append(items, models.ContentItem{
			ID:          entry.ID.VideoID,
			Platform:    models.PlatformYouTube,
			AccountName: entry.Snippet.ChannelTitle,
			SearchQuery: source,
			CreatedAt:   normalizeYouTubeTime(entry.Snippet.PublishedAt),
			Text:        entry.Snippet.Title,
		})
	}
	return items, nil
}

// FetchReplies returns direct replies to the given item. For a video this
// fetches its comment threads; for a comment it serves the replies parsed
// during that expansion.
func (yc *YouTubeClient) FetchReplies(ctx context.Context, source, parentID string, limit int) ([]models.ContentItem, error) {
	yc.mu.Lock()
	cached, cachedOK := yc.replies[parentID]
	isVideo := yc.videos[parentID]
	yc.mu.Unlock()
	if cachedOK {
		return capItems(cached, limit), nil
	}
	if !isVideo {
		// A reply comment has no further levels in the API response.
		return nil, nil
	}

	params := url.Values{}
	params.Set("part", "snippet,replies")
	params.Set("videoId", parentID)
	params.Set("textFormat", "plainText")
	params.Set("key", yc.apiKey)
	if limit > 0 {
		params.Set("maxResults", strconv.Itoa(limit))
	}

	var result youtubeThreadsResponse
	if err := yc.getJSON(ctx, yc.baseURL+"/commentThreads?"+params.Encode(), &result); err != nil {
		return nil, err
	}

	yc.mu.Lock()
	items := make([]models.ContentItem, 0, len(result.Items))
	for _, thread := range result.Items {
		top := thread.Snippet.TopLevelComment
		items = append(items, yc.toItem(top, source))

		children := make([]models.ContentItem, 0, len(thread.Replies.Comments))
		for _, reply := range thread.Replies.Comments {
			children = append(children, yc.toItem(reply, source))
		}
		yc.replies[top.ID] = children
	}
	yc.replies[parentID] = items
	yc.mu.Unlock()

	return capItems(items, limit), nil
}

func (yc *YouTubeClient) toItem(comment youtubeComment, source string) models.ContentItem {
	return models.ContentItem{
		ID:          comment.ID,
		Platform:    models.PlatformYouTube,
		AccountName: comment.Snippet.AuthorDisplayName,
		SearchQuery: source,
		CreatedAt:   normalizeYouTubeTime(comment.Snippet.PublishedAt),
		Text:        comment.Snippet.TextOriginal,
	}
}

func (yc *YouTubeClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := yc.client.Do(req)
	if err != nil {
		return NewRetryableError(err)
	}
	defer resp.Body.Close()

	// The Data API signals a spent daily quota with 403.
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("youtube throttled: %w", ErrQuotaExhausted)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("youtube API error: %d - %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 500 {
			return NewRetryableError(err)
		}
		return err
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func normalizeYouTubeTime(s string) string {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return models.NormalizeTimestamp(t)
	}
	return s
}
