package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/hotsignals/hotsignals/internal/ml"
	"github.com/hotsignals/hotsignals/internal/models"
)

// sinkRecord is one captured PutRecord call.
type sinkRecord struct {
	stream string
	data   []byte
}

type capturingSink struct {
	records []sinkRecord
	err     error
}

func (s *capturingSink) PutRecord(ctx context.Context, streamName string, data []byte) error {
	if s.err != nil {
		return s.err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.records = append(s.records, sinkRecord{stream: streamName, data: buf})
	return nil
}

func (s *capturingSink) PutRecordBatch(ctx context.Context, streamName string, records [][]byte) error {
	for _, r := range records {
		if err := s.PutRecord(ctx, streamName, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *capturingSink) forStream(name string) []sinkRecord {
	var out []sinkRecord
	for _, r := range s.records {
		if r.stream == name {
			out = append(out, r)
		}
	}
	return out
}

// failingTranslator lets tests assert the source language actually sent.
type failingTranslator struct {
	err     error
	sources []string
}

func (f *failingTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	f.sources = append(f.sources, sourceLang)
	if f.err != nil {
		return "", f.err
	}
	return "translated: " + text, nil
}

func translateConfig() TranslateCleanseConfig {
	return TranslateCleanseConfig{
		TargetLang:     "en",
		RawStream:      "raw-feed",
		TopicBase:      "topic-ingestion",
		TopicPlatforms: []string{"twitter", "reddit"},
	}
}

func TestTranslateCleanseForeignText(t *testing.T) {
	sink := &capturingSink{}
	stage := NewTranslateCleanse(ml.NewMockProvider(), sink, translateConfig())

	in := &models.ContentItem{
		ID:       "1",
		Platform: models.PlatformNewsFeed,
		Text:     "hola, mundo!",
		Lang:     "es",
	}
	out, err := stage.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if out.TranslatedText == "" {
		t.Fatal("expected a translation for foreign text")
	}
	if !strings.Contains(out.CleansedText, "hola mundo") {
		t.Errorf("cleansed text should derive from the translated variant, got %q", out.CleansedText)
	}
	if in.TranslatedText != "" || in.CleansedText != "" {
		t.Error("input item must not be mutated")
	}
}

func TestTranslateCleanseSameLangSkipsTranslation(t *testing.T) {
	sink := &capturingSink{}
	translator := &failingTranslator{}
	stage := NewTranslateCleanse(translator, sink, translateConfig())

	out, err := stage.Process(context.Background(), &models.ContentItem{
		ID:       "1",
		Platform: models.PlatformNewsFeed,
		Text:     "already english, with punctuation.",
		Lang:     "en",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(translator.sources) != 0 {
		t.Errorf("expected no translator calls, got %v", translator.sources)
	}
	if out.TranslatedText != "" {
		t.Errorf("expected empty translated text, got %q", out.TranslatedText)
	}
	if out.CleansedText != "already english with punctuation" {
		t.Errorf("unexpected cleansed text %q", out.CleansedText)
	}
}

func TestTranslateCleanseLangAliases(t *testing.T) {
	translator := &failingTranslator{}
	stage := NewTranslateCleanse(translator, &capturingSink{}, translateConfig())

	_, err := stage.Process(context.Background(), &models.ContentItem{
		ID:       "1",
		Platform: models.PlatformNewsFeed,
		Text:     "某些文本",
		Lang:     "zh-cn",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(translator.sources) != 1 || translator.sources[0] != "zh" {
		t.Errorf("expected zh-cn aliased to zh, got %v", translator.sources)
	}
}

func TestTranslateCleanseSinksRawBeforeTranslating(t *testing.T) {
	sink := &capturingSink{}
	translator := &failingTranslator{err: errors.New("translator down")}
	stage := NewTranslateCleanse(translator, sink, translateConfig())

	in := &models.ContentItem{
		ID:       "1",
		Platform: models.PlatformTwitter,
		Text:     "texto original",
		Lang:     "es",
	}
	if _, err := stage.Process(context.Background(), in); err == nil {
		t.Fatal("expected translation error to propagate")
	}

	raw := sink.forStream("raw-feed")
	if len(raw) != 1 {
		t.Fatalf("expected 1 raw audit record despite the failure, got %d", len(raw))
	}
	var recorded models.ContentItem
	if err := json.Unmarshal(raw[0].data, &recorded); err != nil {
		t.Fatalf("unmarshal raw record: %v", err)
	}
	if recorded.Text != "texto original" || recorded.TranslatedText != "" {
		t.Errorf("raw record should be the untranslated item: %+v", recorded)
	}
}

func TestTranslateCleanseTopicRecordRouting(t *testing.T) {
	tests := []struct {
		name       string
		platform   models.Platform
		wantStream string
	}{
		{"eligible platform", models.PlatformTwitter, "topic-ingestion/twitter"},
		{"other eligible platform", models.PlatformReddit, "topic-ingestion/reddit"},
		{"ineligible platform", models.PlatformYouTube, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &capturingSink{}
			stage := NewTranslateCleanse(ml.NewMockProvider(), sink, translateConfig())

			out, err := stage.Process(context.Background(), &models.ContentItem{
				ID:       "42",
				Platform: tt.platform,
				Text:     "climate summit opens in geneva today",
				Lang:     "en",
			})
			if err != nil {
				t.Fatalf("Process: %v", err)
			}

			if tt.wantStream == "" {
				for _, r := range sink.records {
					if strings.HasPrefix(r.stream, "topic-ingestion/") {
						t.Errorf("unexpected topic record on %s", r.stream)
					}
				}
				return
			}

			topic := sink.forStream(tt.wantStream)
			if len(topic) != 1 {
				t.Fatalf("expected 1 topic record on %s, got %d", tt.wantStream, len(topic))
			}
			want := "42," + out.CleansedText
			if string(topic[0].data) != want {
				t.Errorf("topic record = %q, want %q", topic[0].data, want)
			}
		})
	}
}

func TestTranslateCleanseImageText(t *testing.T) {
	sink := &capturingSink{}
	stage := NewTranslateCleanse(ml.NewMockProvider(), sink, translateConfig())

	in := &models.ContentItem{
		ID:       "1",
		Platform: models.PlatformNewsFeed,
		Text:     "plain english text",
		Lang:     "en",
		EntitiesInImages: []models.ImageText{
			{ImageURL: "http://img/a.png", Text: "texto en la imagen", Lang: "es"},
			{ImageURL: "http://img/b.png", Text: "english caption, truly.", Lang: "en"},
		},
	}
	out, err := stage.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if !strings.Contains(out.EntitiesInImages[0].Text, "texto en la imagen") {
		t.Errorf("foreign image text should be replaced by its translation, got %q", out.EntitiesInImages[0].Text)
	}
	if out.EntitiesInImages[1].Text != "english caption, truly." {
		t.Errorf("same-language image text should be untouched, got %q", out.EntitiesInImages[1].Text)
	}
	if out.EntitiesInImages[1].CleansedText != "english caption truly" {
		t.Errorf("unexpected cleansed image text %q", out.EntitiesInImages[1].CleansedText)
	}
	if in.EntitiesInImages[0].CleansedText != "" {
		t.Error("input image slice must not be mutated")
	}
}
