package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hotsignals/hotsignals/internal/ml"
	"github.com/hotsignals/hotsignals/internal/models"
	"github.com/hotsignals/hotsignals/internal/objectstore"
)

// ModerateImages runs unsafe-content detection over each staged media
// attachment, mirroring the image-text stage's per-image loop and its
// stop-on-error policy. When the loop is done the item's whole staging
// prefix is deleted in one best-effort pass.
type ModerateImages struct {
	vision        ml.VisionAnalyzer
	store         objectstore.Store
	client        *http.Client
	stagingBucket string
	logger        *slog.Logger
}

// NewModerateImages creates the image-moderation stage over the given
// staging bucket.
func NewModerateImages(vision ml.VisionAnalyzer, store objectstore.Store, stagingBucket string, logger *slog.Logger) *ModerateImages {
	return &ModerateImages{
		vision:        vision,
		store:         store,
		client:        &http.Client{Timeout: 30 * time.Second},
		stagingBucket: stagingBucket,
		logger:        logger,
	}
}

func (s *ModerateImages) Name() string { return "moderate_images" }

func (s *ModerateImages) Process(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error) {
	out := *item
	if !out.HasMedia() {
		return &out, nil
	}

	results := make([]models.ModerationResult, 0, len(out.Media))
	for _, mediaURL := range out.Media {
		labels, err := s.moderateOne(ctx, out.ID, mediaURL)
		if err != nil {
			s.logger.Warn("image moderation stopped",
				"item", out.ID,
				"image", mediaURL,
				"error", err,
			)
			break
		}
		if len(labels) == 0 {
			continue
		}
		results = append(results, models.ModerationResult{
			ImageURL: mediaURL,
			Labels:   labels,
		})
	}

	// Cleanup runs once per item, after the loop, and never blocks the
	// result path.
	s.cleanup(ctx, out.ID)

	out.ModerationLabels = results
	return &out, nil
}

func (s *ModerateImages) moderateOne(ctx context.Context, itemID, mediaURL string) ([]models.ModerationLabel, error) {
	key := stagedKey(itemID, mediaURL)

	// The text stage may have stopped before staging this image; stage it
	// here so moderation does not depend on the earlier stage's progress.
	if _, err := s.store.Get(ctx, s.stagingBucket, key); err != nil {
		data, err := s.download(ctx, mediaURL)
		if err != nil {
			return nil, err
		}
		if err := s.store.Put(ctx, s.stagingBucket, key, data); err != nil {
			return nil, fmt.Errorf("stage image: %w", err)
		}
	}

	labels, err := s.vision.DetectModerationLabels(ctx, ml.ObjectRef{Bucket: s.stagingBucket, Key: key})
	if err != nil {
		return nil, fmt.Errorf("detect moderation labels: %w", err)
	}
	return labels, nil
}

func (s *ModerateImages) download(ctx context.Context, mediaURL string) ([]byte, error) {
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

// cleanup deletes everything staged under the item's prefix. Failures are
// logged only.
func (s *ModerateImages) cleanup(ctx context.Context, itemID string) {
	keys, err := s.store.List(ctx, s.stagingBucket, itemID+"/")
	if err != nil {
		s.logger.Warn("staging cleanup list failed", "item", itemID, "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := s.store.DeleteMany(ctx, s.stagingBucket, keys); err != nil {
		s.logger.Warn("staging cleanup failed", "item", itemID, "error", err)
	}
}
