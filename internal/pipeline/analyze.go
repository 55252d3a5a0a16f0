package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/hotsignals/hotsignals/internal/ml"
	"github.com/hotsignals/hotsignals/internal/models"
)

// AnalyzeText runs sentiment, entity and key-phrase inference over every
// text-bearing element of the item. The three calls per element are issued
// concurrently and all awaited; the first error fails the element.
type AnalyzeText struct {
	analyzer   ml.TextAnalyzer
	targetLang string
}

// NewAnalyzeText creates the text-analyze stage. targetLang is the language
// used for elements that were translated upstream.
func NewAnalyzeText(analyzer ml.TextAnalyzer, targetLang string) *AnalyzeText {
	if targetLang == "" {
		targetLang = "en"
	}
	return &AnalyzeText{analyzer: analyzer, targetLang: targetLang}
}

func (s *AnalyzeText) Name() string { return "analyze_text" }

func (s *AnalyzeText) Process(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error) {
	out := *item

	lang := out.Lang
	if out.TranslatedText != "" {
		lang = s.targetLang
	}

	result, err := s.analyzeElement(ctx, out.CleansedText, lang)
	if err != nil {
		return nil, err
	}
	out.Sentiment = result.sentiment
	out.SentimentScores = result.scores
	out.Entities = result.entities
	out.KeyPhrases = result.keyPhrases

	if len(out.EntitiesInImages) > 0 {
		images := make([]models.ImageText, len(out.EntitiesInImages))
		copy(images, out.EntitiesInImages)
		for i := range images {
			img := &images[i]
			imgLang := img.Lang
			if imgLang == "" || imgLang == models.LangUnknown {
				imgLang = s.targetLang
			}
			result, err := s.analyzeElement(ctx, img.CleansedText, imgLang)
			if err != nil {
				return nil, err
			}
			img.Sentiment = result.sentiment
			img.SentimentScores = result.scores
			img.Entities = result.entities
			img.KeyPhrases = result.keyPhrases
		}
		out.EntitiesInImages = images
	}

	return &out, nil
}

type analysis struct {
	sentiment  string
	scores     *models.SentimentScore
	entities   []models.Entity
	keyPhrases []models.KeyPhrase
}

// analyzeElement runs the three detections concurrently. Empty text gets
// explicit empty placeholders so the merged output schema never has a
// missing key.
func (s *AnalyzeText) analyzeElement(ctx context.Context, text, lang string) (analysis, error) {
	if text == "" {
		return analysis{
			sentiment:  "",
			scores:     &models.SentimentScore{},
			entities:   []models.Entity{},
			keyPhrases: []models.KeyPhrase{},
		}, nil
	}

	var (
		wg   sync.WaitGroup
		errs [3]error

		sentiment  string
		scores     models.SentimentScore
		entities   []models.Entity
		keyPhrases []models.KeyPhrase
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		sentiment, scores, errs[0] = s.analyzer.DetectSentiment(ctx, text, lang)
	}()
	go func() {
		defer wg.Done()
		entities, errs[1] = s.analyzer.DetectEntities(ctx, text, lang)
	}()
	go func() {
		defer wg.Done()
		keyPhrases, errs[2] = s.analyzer.DetectKeyPhrases(ctx, text, lang)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return analysis{}, fmt.Errorf("analyze text: %w", err)
		}
	}

	if entities == nil {
		entities = []models.Entity{}
	}
	if keyPhrases == nil {
		keyPhrases = []models.KeyPhrase{}
	}

	return analysis{
		sentiment:  sentiment,
		scores:     &scores,
		entities:   entities,
		keyPhrases: keyPhrases,
	}, nil
}
