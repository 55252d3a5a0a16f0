package ml

import (
	"context"

	"github.com/hotsignals/hotsignals/internal/models"
)

// The interfaces below abstract the managed ML capabilities the pipeline
// stages call. One implementation is backed by the OpenAI API, the mock is
// rule-based for tests and for running without credentials.

// DetectedLanguage is the dominant language of a piece of text.
type DetectedLanguage struct {
	Code  string  `json:"code"`
	Score float64 `json:"score"`
}

// LanguageDetector identifies the dominant language of text.
type LanguageDetector interface {
	DetectDominantLanguage(ctx context.Context, text string) (DetectedLanguage, error)
}

// Translator converts text between languages.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// TextAnalyzer runs sentiment, entity and key-phrase inference on cleansed
// text. The three calls are independent so the analyze stage can issue them
// concurrently.
type TextAnalyzer interface {
	DetectSentiment(ctx context.Context, text, lang string) (string, models.SentimentScore, error)
	DetectEntities(ctx context.Context, text, lang string) ([]models.Entity, error)
	DetectKeyPhrases(ctx context.Context, text, lang string) ([]models.KeyPhrase, error)
}

// ObjectRef points at a staged object in the object store.
type ObjectRef struct {
	Bucket string
	Key    string
}

// TextDetection is one unit of text found in an image.
type TextDetection struct {
	Type       string  `json:"type"` // LINE or WORD
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// VisionAnalyzer extracts text from and moderates staged images.
type VisionAnalyzer interface {
	DetectTextInImage(ctx context.Context, ref ObjectRef) ([]TextDetection, error)
	DetectModerationLabels(ctx context.Context, ref ObjectRef) ([]models.ModerationLabel, error)
}

// TopicJob describes a submitted topic-modeling job.
type TopicJob struct {
	JobID     string
	Status    models.TopicJobStatus
	OutputURI string
	Message   string
}

// TopicModeler runs asynchronous topic-modeling jobs over a corpus of
// one-document-per-line input.
type TopicModeler interface {
	SubmitTopicJob(ctx context.Context, inputURI, outputURI string, numTopics int) (string, error)
	DescribeTopicJob(ctx context.Context, jobID string) (TopicJob, error)
}

// Provider bundles every ML capability behind one value so wiring stays
// simple in main.
type Provider interface {
	LanguageDetector
	Translator
	TextAnalyzer
	VisionAnalyzer
	TopicModeler
}

// ObjectReader is the slice of the object store the vision and topic-model
// implementations need.
type ObjectReader interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Put(ctx context.Context, bucket, key string, data []byte) error
}
