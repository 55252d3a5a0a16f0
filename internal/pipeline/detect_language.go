package pipeline

import (
	"context"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/language"

	"github.com/hotsignals/hotsignals/internal/ml"
	"github.com/hotsignals/hotsignals/internal/models"
)

// Detector input bounds. Shorter text gives unreliable detections, longer
// text exceeds the capability's request limit.
const (
	minDetectableRunes = 20
	maxDetectableBytes = 5000
)

// DetectLanguage tags the item (and each image-derived text element) with
// its dominant language. Once lang holds a concrete code the item is never
// re-detected unless the reprocess flag is set.
type DetectLanguage struct {
	detector    ml.LanguageDetector
	defaultLang string
}

// NewDetectLanguage creates the language-detect stage. defaultLang is the
// fallback when text falls outside the detector's supported range.
func NewDetectLanguage(detector ml.LanguageDetector, defaultLang string) *DetectLanguage {
	if defaultLang == "" {
		defaultLang = "en"
	}
	return &DetectLanguage{detector: detector, defaultLang: defaultLang}
}

func (s *DetectLanguage) Name() string { return "detect_language" }

func (s *DetectLanguage) Process(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error) {
	out := *item
	reprocess := out.Reprocess
	out.Reprocess = false

	if needsDetection(out.Lang, reprocess) {
		code, err := s.detect(ctx, out.Text)
		if err != nil {
			return nil, err
		}
		out.Lang = code
	}

	if len(out.EntitiesInImages) > 0 {
		images := make([]models.ImageText, len(out.EntitiesInImages))
		copy(images, out.EntitiesInImages)
		for i := range images {
			if !needsDetection(images[i].Lang, reprocess) {
				continue
			}
			code, err := s.detect(ctx, images[i].Text)
			if err != nil {
				return nil, err
			}
			images[i].Lang = code
		}
		out.EntitiesInImages = images
	}

	return &out, nil
}

// detect calls the detector only when the text is inside its supported
// range; anything else falls back to the configured default.
func (s *DetectLanguage) detect(ctx context.Context, text string) (string, error) {
	if !detectable(text) {
		return s.defaultLang, nil
	}

	detected, err := s.detector.DetectDominantLanguage(ctx, text)
	if err != nil {
		return "", fmt.Errorf("detect language: %w", err)
	}
	if detected.Code == "" {
		return s.defaultLang, nil
	}
	return detected.Code, nil
}

func detectable(text string) bool {
	return utf8.RuneCountInString(text) >= minDetectableRunes && len(text) <= maxDetectableBytes
}

// needsDetection reports whether lang must be (re)detected. A concrete,
// parseable code short-circuits detection unless reprocess is set.
func needsDetection(lang string, reprocess bool) bool {
	if reprocess {
		return true
	}
	if lang == "" || lang == models.LangUnknown {
		return true
	}
	_, err := language.Parse(lang)
	return err != nil
}
