package ml

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"github.com/hotsignals/hotsignals/internal/models"
)

// MockProvider is a rule-based implementation of every ML capability for
// tests and for running the pipeline without API credentials.
type MockProvider struct {
	mu   sync.Mutex
	jobs map[string]*TopicJob

	// DetectCalls counts DetectDominantLanguage invocations, used by tests
	// asserting the detector gating rules.
	DetectCalls int
}

// NewMockProvider creates a mock capability provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{jobs: make(map[string]*TopicJob)}
}

// DetectDominantLanguage guesses "en" for ASCII text and "es" otherwise.
func (m *MockProvider) DetectDominantLanguage(ctx context.Context, text string) (DetectedLanguage, error) {
	m.mu.Lock()
	m.DetectCalls++
	m.mu.Unlock()

	for _, r := range text {
		if r > unicode.MaxASCII {
			return DetectedLanguage{Code: "es", Score: 0.8}, nil
		}
	}
	return DetectedLanguage{Code: "en", Score: 0.99}, nil
}

// Translate returns the text unchanged with a language marker prefix.
func (m *MockProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	return "[" + sourceLang + ">" + targetLang + "] " + text, nil
}

// DetectSentiment classifies by keyword lookup.
func (m *MockProvider) DetectSentiment(ctx context.Context, text, lang string) (string, models.SentimentScore, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "great") || strings.Contains(lower, "love"):
		return "POSITIVE", models.SentimentScore{Positive: 0.9, Negative: 0.02, Neutral: 0.06, Mixed: 0.02}, nil
	case strings.Contains(lower, "terrible") || strings.Contains(lower, "hate"):
		return "NEGATIVE", models.SentimentScore{Positive: 0.02, Negative: 0.9, Neutral: 0.06, Mixed: 0.02}, nil
	}
	return "NEUTRAL", models.SentimentScore{Positive: 0.1, Negative: 0.1, Neutral: 0.75, Mixed: 0.05}, nil
}

// DetectEntities treats capitalized words as entities.
func (m *MockProvider) DetectEntities(ctx context.Context, text, lang string) ([]models.Entity, error) {
	var entities []models.Entity
	offset := 0
	for _, word := range strings.Fields(text) {
		begin := strings.Index(text[offset:], word) + offset
		if len(word) > 1 && unicode.IsUpper([]rune(word)[0]) {
			entities = append(entities, models.Entity{
				Text:        word,
				Type:        "OTHER",
				Score:       0.75,
				BeginOffset: begin,
				EndOffset:   begin + len(word),
			})
		}
		offset = begin + len(word)
	}
	return entities, nil
}

// DetectKeyPhrases returns the first clause of the text as one phrase.
func (m *MockProvider) DetectKeyPhrases(ctx context.Context, text, lang string) ([]models.KeyPhrase, error) {
	phrase := text
	if idx := strings.IndexAny(text, ".!?"); idx > 0 {
		phrase = text[:idx]
	}
	if strings.TrimSpace(phrase) == "" {
		return nil, nil
	}
	return []models.KeyPhrase{{
		Text:        strings.TrimSpace(phrase),
		Score:       0.8,
		BeginOffset: 0,
		EndOffset:   len(phrase),
	}}, nil
}

// DetectTextInImage returns no detections.
func (m *MockProvider) DetectTextInImage(ctx context.Context, ref ObjectRef) ([]TextDetection, error) {
	return nil, nil
}

// DetectModerationLabels returns no labels.
func (m *MockProvider) DetectModerationLabels(ctx context.Context, ref ObjectRef) ([]models.ModerationLabel, error) {
	return nil, nil
}

// SubmitTopicJob records an instantly completed job.
func (m *MockProvider) SubmitTopicJob(ctx context.Context, inputURI, outputURI string, numTopics int) (string, error) {
	jobID := uuid.NewString()
	m.mu.Lock()
	m.jobs[jobID] = &TopicJob{JobID: jobID, Status: models.TopicJobCompleted, OutputURI: outputURI}
	m.mu.Unlock()
	return jobID, nil
}

// DescribeTopicJob reports a recorded job.
func (m *MockProvider) DescribeTopicJob(ctx context.Context, jobID string) (TopicJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		return *job, nil
	}
	return TopicJob{JobID: jobID, Status: models.TopicJobFailed, Message: "unknown job"}, nil
}
