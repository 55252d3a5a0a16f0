package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/hotsignals/hotsignals/internal/ml"
	"github.com/hotsignals/hotsignals/internal/models"
	"github.com/hotsignals/hotsignals/internal/objectstore"
)

const maxImageBytes = 15 << 20

// stagedKey derives the staging key for one media URL. It is a pure
// function of the item id and the URL so redelivered envelopes overwrite
// their own objects instead of accumulating copies.
func stagedKey(itemID, mediaURL string) string {
	base := "image"
	if u, err := url.Parse(mediaURL); err == nil && u.Path != "" {
		base = path.Base(u.Path)
	}
	return itemID + "/" + base
}

// ImageTextExtract downloads and stages each media attachment, runs text
// detection, and joins the detected lines into one sentence per image. A
// per-image failure stops the remaining images for this item but keeps
// what was already extracted.
type ImageTextExtract struct {
	vision        ml.VisionAnalyzer
	store         objectstore.Store
	client        *http.Client
	stagingBucket string
	logger        *slog.Logger
}

// NewImageTextExtract creates the image-text stage staging into the given
// bucket.
func NewImageTextExtract(vision ml.VisionAnalyzer, store objectstore.Store, stagingBucket string, logger *slog.Logger) *ImageTextExtract {
	return &ImageTextExtract{
		vision:        vision,
		store:         store,
		client:        &http.Client{Timeout: 30 * time.Second},
		stagingBucket: stagingBucket,
		logger:        logger,
	}
}

func (s *ImageTextExtract) Name() string { return "image_text_extract" }

func (s *ImageTextExtract) Process(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error) {
	out := *item
	if !out.HasMedia() {
		return &out, nil
	}

	results := make([]models.ImageText, 0, len(out.Media))
	for _, mediaURL := range out.Media {
		sentence, err := s.extractOne(ctx, out.ID, mediaURL)
		if err != nil {
			s.logger.Warn("image text extraction stopped",
				"item", out.ID,
				"image", mediaURL,
				"error", err,
			)
			break
		}
		if sentence == "" {
			continue
		}
		results = append(results, models.ImageText{
			ImageURL: mediaURL,
			Text:     sentence,
		})
	}

	out.EntitiesInImages = results
	return &out, nil
}

func (s *ImageTextExtract) extractOne(ctx context.Context, itemID, mediaURL string) (string, error) {
	key := stagedKey(itemID, mediaURL)

	data, err := s.download(ctx, mediaURL)
	if err != nil {
		return "", err
	}
	if err := s.store.Put(ctx, s.stagingBucket, key, data); err != nil {
		return "", fmt.Errorf("stage image: %w", err)
	}

	detections, err := s.vision.DetectTextInImage(ctx, ml.ObjectRef{Bucket: s.stagingBucket, Key: key})
	if err != nil {
		return "", fmt.Errorf("detect text: %w", err)
	}

	return joinLines(detections), nil
}

func (s *ImageTextExtract) download(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	return data, nil
}

// joinLines concatenates LINE-level detections into one sentence, skipping
// empty text.
func joinLines(detections []ml.TextDetection) string {
	var lines []string
	for _, d := range detections {
		if d.Type != "LINE" || d.Text == "" {
			continue
		}
		lines = append(lines, d.Text)
	}
	return strings.Join(lines, " ")
}
