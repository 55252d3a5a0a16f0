package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hotsignals/hotsignals/internal/models"
)

// Deduplicator identifies and filters duplicate content.
type Deduplicator interface {
	// IsNew checks if an item is new (not a duplicate).
	IsNew(item models.ContentItem) bool

	// Mark records an item as seen.
	Mark(item models.ContentItem)

	// Cleanup removes old entries from the deduplication cache.
	Cleanup(olderThan time.Time)
}

// ContentFingerprint represents a unique identifier for content.
type ContentFingerprint struct {
	ContentHash string
	ItemID      string
	Platform    models.Platform
	SeenAt      time.Time
}

// MemoryDeduplicator implements in-memory deduplication using fingerprints.
type MemoryDeduplicator struct {
	fingerprints map[string]ContentFingerprint
	window       time.Duration
}

// NewMemoryDeduplicator creates a new in-memory deduplicator.
func NewMemoryDeduplicator(window time.Duration) *MemoryDeduplicator {
	return &MemoryDeduplicator{
		fingerprints: make(map[string]ContentFingerprint),
		window:       window,
	}
}

// IsNew checks if an item has been seen before.
func (d *MemoryDeduplicator) IsNew(item models.ContentItem) bool {
	hash := ComputeContentHash(item)
	_, exists := d.fingerprints[hash]
	return !exists
}

// Mark records an item as seen.
func (d *MemoryDeduplicator) Mark(item models.ContentItem) {
	hash := ComputeContentHash(item)
	d.fingerprints[hash] = ContentFingerprint{
		ContentHash: hash,
		ItemID:      item.ID,
		Platform:    item.Platform,
		SeenAt:      time.Now(),
	}
}

// Cleanup removes fingerprints older than the specified time.
func (d *MemoryDeduplicator) Cleanup(olderThan time.Time) {
	for hash, fp := range d.fingerprints {
		if fp.SeenAt.Before(olderThan) {
			delete(d.fingerprints, hash)
		}
	}
}

// Size returns the number of fingerprints in the cache.
func (d *MemoryDeduplicator) Size() int {
	return len(d.fingerprints)
}

// ComputeContentHash generates a fingerprint hash for an item. The platform
// and id participate so identical text cross-posted to two platforms is
// still ingested for both.
func ComputeContentHash(item models.ContentItem) string {
	normalized := NormalizeContent(item.Text)

	data := fmt.Sprintf("%s|%s|%s|%s",
		item.Platform,
		item.ID,
		item.AccountName,
		normalized,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

var (
	whitespaceRun  = regexp.MustCompile(`\s+`)
	urlRun         = regexp.MustCompile(`https?://[^\s]+`)
	mentionRun     = regexp.MustCompile(`@\w+`)
	hashtagRun     = regexp.MustCompile(`#\w+`)
	punctuationRun = regexp.MustCompile(`[.,!?;:""''""]+`)
)

// NormalizeContent standardizes content for comparison.
func NormalizeContent(content string) string {
	normalized := strings.ToLower(content)
	normalized = whitespaceRun.ReplaceAllString(normalized, " ")
	normalized = strings.TrimSpace(normalized)

	// Collapse variable tokens so the same post shared with different
	// links or tags still collides.
	normalized = urlRun.ReplaceAllString(normalized, "[URL]")
	normalized = mentionRun.ReplaceAllString(normalized, "[MENTION]")
	normalized = hashtagRun.ReplaceAllString(normalized, "[TAG]")
	normalized = punctuationRun.ReplaceAllString(normalized, "")

	return normalized
}

// DeduplicationStats tracks deduplication metrics.
type DeduplicationStats struct {
	TotalProcessed int
	Duplicates     int
	Unique         int
	DuplicateRate  float64
}

// DeduplicationFilter wraps a deduplicator to track statistics.
type DeduplicationFilter struct {
	dedup Deduplicator
	stats DeduplicationStats
}

// NewDeduplicationFilter creates a new filter with stats tracking.
func NewDeduplicationFilter(dedup Deduplicator) *DeduplicationFilter {
	return &DeduplicationFilter{
		dedup: dedup,
	}
}

// Filter removes duplicates from a list of items.
func (f *DeduplicationFilter) Filter(items []models.ContentItem) []models.ContentItem {
	unique := make([]models.ContentItem, 0, len(items))

	for _, item := range items {
		f.stats.TotalProcessed++

		if f.dedup.IsNew(item) {
			f.dedup.Mark(item)
			unique = append(unique, item)
			f.stats.Unique++
		} else {
			f.stats.Duplicates++
		}
	}

	if f.stats.TotalProcessed > 0 {
		f.stats.DuplicateRate = float64(f.stats.Duplicates) / float64(f.stats.TotalProcessed)
	}

	return unique
}

// GetStats returns the current deduplication statistics.
func (f *DeduplicationFilter) GetStats() DeduplicationStats {
	return f.stats
}

// ResetStats clears the statistics counters.
func (f *DeduplicationFilter) ResetStats() {
	f.stats = DeduplicationStats{}
}
