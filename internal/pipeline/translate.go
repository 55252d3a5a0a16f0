package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hotsignals/hotsignals/internal/ml"
	"github.com/hotsignals/hotsignals/internal/models"
	"github.com/hotsignals/hotsignals/internal/textproc"
)

// RecordSink is the append-only audit sink the pipeline lands raw and
// topic-model records on.
type RecordSink interface {
	PutRecord(ctx context.Context, streamName string, data []byte) error
	PutRecordBatch(ctx context.Context, streamName string, records [][]byte) error
}

// Source languages are reported in forms the translator does not accept
// verbatim.
var langAliases = map[string]string{
	"zh-cn": "zh",
	"zh-tw": "zh-TW",
}

// TranslateCleanseConfig holds the stage's routing parameters.
type TranslateCleanseConfig struct {
	TargetLang string
	// RawStream receives one audit record per item, always.
	RawStream string
	// TopicBase is the bucket records for topic modeling land under,
	// partitioned per platform.
	TopicBase string
	// TopicPlatforms lists platforms eligible for topic modeling.
	TopicPlatforms []string
}

// TranslateCleanse translates each text-bearing element into the target
// language and always cleanses into the derived text fields, whatever the
// translation outcome.
type TranslateCleanse struct {
	translator ml.Translator
	sink       RecordSink
	cfg        TranslateCleanseConfig
	topicSet   map[string]bool
}

// NewTranslateCleanse creates the translate+cleanse stage.
func NewTranslateCleanse(translator ml.Translator, sink RecordSink, cfg TranslateCleanseConfig) *TranslateCleanse {
	topicSet := make(map[string]bool, len(cfg.TopicPlatforms))
	for _, p := range cfg.TopicPlatforms {
		topicSet[p] = true
	}
	return &TranslateCleanse{translator: translator, sink: sink, cfg: cfg, topicSet: topicSet}
}

func (s *TranslateCleanse) Name() string { return "translate_cleanse" }

func (s *TranslateCleanse) Process(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error) {
	// The audit record is the item exactly as it arrived, written before
	// any translation attempt so a failed translation still leaves a
	// durable trace.
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshal raw item %s: %w", item.ID, err)
	}
	if err := s.sink.PutRecord(ctx, s.cfg.RawStream, raw); err != nil {
		return nil, fmt.Errorf("sink raw item %s: %w", item.ID, err)
	}

	out := *item

	translated, err := s.translateText(ctx, out.Text, out.Lang)
	if err != nil {
		return nil, err
	}
	out.TranslatedText = translated
	out.CleansedText = textproc.CleanText(effectiveText(out.Text, translated))

	if len(out.EntitiesInImages) > 0 {
		images := make([]models.ImageText, len(out.EntitiesInImages))
		copy(images, out.EntitiesInImages)
		for i := range images {
			img := &images[i]
			imgTranslated, err := s.translateText(ctx, img.Text, img.Lang)
			if err != nil {
				return nil, err
			}
			if imgTranslated != "" {
				img.Text = imgTranslated
			}
			img.CleansedText = textproc.CleanText(img.Text)
		}
		out.EntitiesInImages = images
	}

	if err := s.sinkTopicRecord(ctx, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// translateText translates one element when its source language differs
// from the target. Returns empty when no translation is needed.
func (s *TranslateCleanse) translateText(ctx context.Context, text, lang string) (string, error) {
	if text == "" {
		return "", nil
	}

	source := lang
	if alias, ok := langAliases[source]; ok {
		source = alias
	}
	if source == "" || source == models.LangUnknown || source == s.cfg.TargetLang {
		return "", nil
	}

	translated, err := s.translator.Translate(ctx, text, source, s.cfg.TargetLang)
	if err != nil {
		return "", fmt.Errorf("translate from %s: %w", source, err)
	}
	return translated, nil
}

// sinkTopicRecord lands one `{id},{text}` line for topic modeling, keyed
// by platform. Items from ineligible platforms and items with nothing left
// after cleansing are skipped.
func (s *TranslateCleanse) sinkTopicRecord(ctx context.Context, item *models.ContentItem) error {
	if !s.topicSet[string(item.Platform)] {
		return nil
	}

	text := textproc.TopicModelText(item.CleansedText)
	if text == "" {
		return nil
	}

	record := []byte(item.ID + "," + text)
	streamName := s.cfg.TopicBase + "/" + string(item.Platform)
	if err := s.sink.PutRecord(ctx, streamName, record); err != nil {
		return fmt.Errorf("sink topic record %s: %w", item.ID, err)
	}
	return nil
}

// effectiveText picks the translated variant when present.
func effectiveText(text, translated string) string {
	if translated != "" {
		return translated
	}
	return text
}
