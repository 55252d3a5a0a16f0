package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hotsignals/hotsignals/internal/ml"
	"github.com/hotsignals/hotsignals/internal/models"
	"github.com/hotsignals/hotsignals/internal/objectstore"
)

// fakeVision serves canned detections keyed by staged object key and can
// fail specific keys.
type fakeVision struct {
	texts      map[string][]ml.TextDetection
	textErrs   map[string]error
	labels     map[string][]models.ModerationLabel
	labelErrs  map[string]error
	textCalls  []string
	labelCalls []string
}

func (v *fakeVision) DetectTextInImage(ctx context.Context, ref ml.ObjectRef) ([]ml.TextDetection, error) {
	v.textCalls = append(v.textCalls, ref.Key)
	if err := v.textErrs[ref.Key]; err != nil {
		return nil, err
	}
	return v.texts[ref.Key], nil
}

func (v *fakeVision) DetectModerationLabels(ctx context.Context, ref ml.ObjectRef) ([]models.ModerationLabel, error) {
	v.labelCalls = append(v.labelCalls, ref.Key)
	if err := v.labelErrs[ref.Key]; err != nil {
		return nil, err
	}
	return v.labels[ref.Key], nil
}

// imageServer serves fake image bytes, returning 500 for paths in broken.
func imageServer(t *testing.T, broken map[string]bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if broken[r.URL.Path] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("image-bytes"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestImageTextExtract(t *testing.T) {
	srv := imageServer(t, nil)
	store := objectstore.NewMemoryStore()
	vision := &fakeVision{
		texts: map[string][]ml.TextDetection{
			"1/a.png": {
				{Type: "LINE", Text: "STOP THE", Confidence: 0.99},
				{Type: "WORD", Text: "STOP", Confidence: 0.99},
				{Type: "LINE", Text: "PRESSES", Confidence: 0.97},
			},
			"1/b.png": {},
		},
	}
	stage := NewImageTextExtract(vision, store, "staging", testLogger())

	out, err := stage.Process(context.Background(), &models.ContentItem{
		ID:    "1",
		Media: []string{srv.URL + "/a.png", srv.URL + "/b.png"},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(out.EntitiesInImages) != 1 {
		t.Fatalf("expected 1 image with text, got %d", len(out.EntitiesInImages))
	}
	if out.EntitiesInImages[0].Text != "STOP THE PRESSES" {
		t.Errorf("expected joined LINE detections, got %q", out.EntitiesInImages[0].Text)
	}

	staged, err := store.List(context.Background(), "staging", "1/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(staged) != 2 {
		t.Errorf("expected both images staged, got %v", staged)
	}
}

func TestImageTextExtractStopsOnFailureKeepingPartial(t *testing.T) {
	srv := imageServer(t, map[string]bool{"/b.png": true})
	store := objectstore.NewMemoryStore()
	vision := &fakeVision{
		texts: map[string][]ml.TextDetection{
			"1/a.png": {{Type: "LINE", Text: "first image", Confidence: 0.9}},
			"1/c.png": {{Type: "LINE", Text: "never reached", Confidence: 0.9}},
		},
	}
	stage := NewImageTextExtract(vision, store, "staging", testLogger())

	out, err := stage.Process(context.Background(), &models.ContentItem{
		ID:    "1",
		Media: []string{srv.URL + "/a.png", srv.URL + "/b.png", srv.URL + "/c.png"},
	})
	if err != nil {
		t.Fatalf("per-image failure must not fail the stage: %v", err)
	}

	if len(out.EntitiesInImages) != 1 || out.EntitiesInImages[0].Text != "first image" {
		t.Fatalf("expected only the first image's text, got %+v", out.EntitiesInImages)
	}
	for _, key := range vision.textCalls {
		if key == "1/c.png" {
			t.Error("images after the failure should not be processed")
		}
	}
}

func TestImageTextExtractNoMedia(t *testing.T) {
	stage := NewImageTextExtract(&fakeVision{}, objectstore.NewMemoryStore(), "staging", testLogger())

	out, err := stage.Process(context.Background(), &models.ContentItem{ID: "1", Text: "no images"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out.EntitiesInImages) != 0 {
		t.Errorf("expected no image results, got %+v", out.EntitiesInImages)
	}
}

func TestStagedKeyDeterministic(t *testing.T) {
	a := stagedKey("item1", "http://cdn.example.com/media/photo.jpg?sig=abc")
	b := stagedKey("item1", "http://cdn.example.com/media/photo.jpg?sig=def")
	if a != b {
		t.Errorf("keys should ignore query strings: %q vs %q", a, b)
	}
	if a != "item1/photo.jpg" {
		t.Errorf("unexpected key %q", a)
	}
}
