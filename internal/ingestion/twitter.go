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
	"time"

	"github.com/hotsignals/hotsignals/internal/models"
)

const twitterSearchURL = "https://api.twitter.com/2/tweets/search/recent"

// TwitterClient searches recent tweets through the v2 API. The remaining
// quota is read from the rate-limit headers of the most recent response;
// before any call has been made the full window is assumed.
type TwitterClient struct {
	bearerToken string
	window      int
	client      *http.Client
	logger      *slog.Logger

	remaining int
}

// NewTwitterClient creates a Twitter search client. window is the number of
// calls the API allows per rate window, assumed until the API reports
// otherwise.
func NewTwitterClient(bearerToken string, window int, logger *slog.Logger) *TwitterClient {
	return &TwitterClient{
		bearerToken: bearerToken,
		window:      window,
		logger:      logger,
		remaining:   -1,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Platform identifies the twitter source.
func (tc *TwitterClient) Platform() models.Platform {
	return models.PlatformTwitter
}

// RemainingQuota reports calls left in the current rate window.
func (tc *TwitterClient) RemainingQuota(ctx context.Context) (int, error) {
	if tc.remaining < 0 {
		return tc.window, nil
	}
	return tc.remaining, nil
}

type twitterTweet struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	FullText  string `json:"full_text,omitempty"`
	AuthorID  string `json:"author_id"`
	CreatedAt string `json:"created_at"`
	Lang      string `json:"lang"`

	Attachments struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
}

type twitterMedia struct {
	MediaKey string `json:"media_key"`
	Type     string `json:"type"`
	URL      string `json:"url"`
}

type twitterUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type twitterSearchResponse struct {
	Data     []twitterTweet `json:"data"`
	Includes struct {
		Media []twitterMedia `json:"media"`
		Users []twitterUser  `json:"users"`
	} `json:"includes"`
	Meta struct {
		NewestID    string `json:"newest_id"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

// Search issues one recent-search call bounded by q.Limit.
func (tc *TwitterClient) Search(ctx context.Context, q SearchQuery) (SearchPage, error) {
	query := q.Query
	if q.Language != "" {
		query = fmt.Sprintf("%s lang:%s", query, q.Language)
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("tweet.fields", "created_at,author_id,lang,attachments")
	params.Set("expansions", "attachments.media_keys,author_id")
	params.Set("media.fields", "url,type")
	params.Set("user.fields", "username")
	if q.Limit > 0 {
		params.Set("max_results", strconv.Itoa(q.Limit))
	}
	if q.SinceID != "" {
		params.Set("since_id", q.SinceID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, twitterSearchURL+"?"+params.Encode(), nil)
	if err != nil {
		return SearchPage{}, err
	}
	req.Header.Set("Authorization", "Bearer "+tc.bearerToken)

	resp, err := tc.client.Do(req)
	if err != nil {
		return SearchPage{}, NewRetryableError(err)
	}
	defer resp.Body.Close()

	tc.updateQuota(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		tc.remaining = 0
		delay := retryAfter(resp.Header)
		return SearchPage{}, fmt.Errorf("twitter search throttled (retry after %v): %w", delay, ErrQuotaExhausted)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("twitter API error: %d - %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 500 {
			return SearchPage{}, NewRetryableError(err)
		}
		return SearchPage{}, err
	}

	var result twitterSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return SearchPage{}, err
	}

	mediaByKey := make(map[string]string, len(result.Includes.Media))
	for _, m := range result.Includes.Media {
		if m.Type == "photo" && m.URL != "" {
			mediaByKey[m.MediaKey] = m.URL
		}
	}
	usernameByID := make(map[string]string, len(result.Includes.Users))
	for _, u := range result.Includes.Users {
		usernameByID[u.ID] = u.Username
	}

	records := make([]SearchRecord, 0, len(result.Data))
	for _, tweet := range result.Data {
		var media []string
		for _, key := range tweet.Attachments.MediaKeys {
			if url, ok := mediaByKey[key]; ok {
				media = append(media, url)
			}
		}

		records = append(records, SearchRecord{
			Item: models.ContentItem{
				ID:          tweet.ID,
				Platform:    models.PlatformTwitter,
				AccountName: usernameByID[tweet.AuthorID],
				CreatedAt:   tweet.CreatedAt,
				Text:        tweet.Text,
				Lang:        tweet.Lang,
				Media:       media,
			},
			FullText: tweet.FullText,
		})
	}

	return SearchPage{
		Items:      records,
		NextCursor: result.Meta.NewestID,
	}, nil
}

func (tc *TwitterClient) updateQuota(h http.Header) {
	if v := h.Get("x-rate-limit-remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			tc.remaining = n
		}
	}
}

func retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return 0
}
