package models

import (
	"time"
)

// TimestampFormat is the normalized wall-clock form every ingested item
// carries, regardless of how the platform reported it.
const TimestampFormat = "2006-01-02 15:04:05"

// LangUnknown marks an item whose language has not been detected yet.
const LangUnknown = "unknown"

// Platform identifies the origin of an ingested content item.
type Platform string

const (
	PlatformTwitter  Platform = "twitter"
	PlatformReddit   Platform = "reddit"
	PlatformYouTube  Platform = "youtube"
	PlatformNewsFeed Platform = "newsfeed"
	PlatformCustom   Platform = "custom"
)

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTwitter, PlatformReddit, PlatformYouTube, PlatformNewsFeed, PlatformCustom:
		return true
	}
	return false
}

// ContentItem is one piece of ingested content flowing through the
// annotation pipeline. Stages augment it in place; fields prefixed with an
// underscore in their JSON names are derived values, never ingested.
type ContentItem struct {
	ID          string   `json:"id"`
	Platform    Platform `json:"platform"`
	AccountName string   `json:"account_name"`
	SearchQuery string   `json:"search_query"`
	CreatedAt   string   `json:"created_at"`
	Text        string   `json:"text"`
	Lang        string   `json:"lang,omitempty"`

	CleansedText   string `json:"_cleansed_text,omitempty"`
	TranslatedText string `json:"_translated_text,omitempty"`

	// Media holds the ordered list of media URLs attached to the item.
	Media []string `json:"media,omitempty"`

	// Reprocess forces language re-detection even when Lang is concrete.
	Reprocess bool `json:"reprocess,omitempty"`

	// Sentiment, Entities and KeyPhrases are always serialized once the
	// analyze stage has run, even when empty, so downstream schema merges
	// never see a missing key.
	Sentiment       string          `json:"sentiment"`
	SentimentScores *SentimentScore `json:"sentiment_score,omitempty"`
	Entities        []Entity        `json:"entities"`
	KeyPhrases      []KeyPhrase     `json:"key_phrases"`

	EntitiesInImages []ImageText        `json:"entities_in_images,omitempty"`
	ModerationLabels []ModerationResult `json:"moderation_labels,omitempty"`
}

// HasMedia reports whether the item has any media URLs attached.
func (c *ContentItem) HasMedia() bool {
	return len(c.Media) > 0
}

// SentimentScore holds the per-class confidence of a sentiment call.
// The four values sum to approximately 1 when populated; an all-zero value
// serializes to {} so downstream schema merges never see a missing key.
type SentimentScore struct {
	Positive float64 `json:"positive,omitempty"`
	Negative float64 `json:"negative,omitempty"`
	Neutral  float64 `json:"neutral,omitempty"`
	Mixed    float64 `json:"mixed,omitempty"`
}

// Entity is a named entity detected in cleansed text.
type Entity struct {
	Text        string  `json:"text"`
	Type        string  `json:"type"`
	Score       float64 `json:"score"`
	BeginOffset int     `json:"begin_offset"`
	EndOffset   int     `json:"end_offset"`
}

// KeyPhrase is a key phrase detected in cleansed text.
type KeyPhrase struct {
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
	BeginOffset int     `json:"begin_offset"`
	EndOffset   int     `json:"end_offset"`
}

// ImageText is the text extracted from one media attachment. It is a
// text-bearing element in its own right: the analyze stage runs the same
// inference on it that it runs on the primary text.
type ImageText struct {
	ImageURL     string `json:"image_url"`
	Text         string `json:"text"`
	Lang         string `json:"lang,omitempty"`
	CleansedText string `json:"_cleansed_text,omitempty"`

	Sentiment       string          `json:"sentiment"`
	SentimentScores *SentimentScore `json:"sentiment_score,omitempty"`
	Entities        []Entity        `json:"entities"`
	KeyPhrases      []KeyPhrase     `json:"key_phrases"`
}

// ModerationLabel is one unsafe-content label with its confidence.
type ModerationLabel struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ModerationResult holds the moderation labels detected in one image.
type ModerationResult struct {
	ImageURL string            `json:"image_url"`
	Labels   []ModerationLabel `json:"labels"`
}

// NormalizeTimestamp reformats t into the canonical created_at form.
func NormalizeTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}
