package tracker

import (
	"context"
	"sync"
	"time"
)

// SentinelCursor means "from the beginning", the value a source starts
// from before its first checkpoint is written.
const SentinelCursor = "0"

// DefaultTTL is how long a checkpoint stays valid without being refreshed.
const DefaultTTL = 7 * 24 * time.Hour

// Checkpoint is the durable progress marker for one crawled/polled source.
type Checkpoint struct {
	SourceKey string    `json:"source_key"`
	Cursor    string    `json:"cursor"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SourceKey builds the canonical checkpoint key for a platform-scoped
// source, e.g. "reddit#r/golang" or "twitter#en".
func SourceKey(platform, source string) string {
	return platform + "#" + source
}

// Repository stores crawl checkpoints. There is a single writer per source
// key; concurrent crawls of the same source are not supported.
type Repository interface {
	// Get returns the cursor for a source, or SentinelCursor when the source
	// has never been checkpointed (or its checkpoint expired).
	Get(ctx context.Context, sourceKey string) (string, error)

	// Save upserts the cursor for a source and refreshes its TTL.
	Save(ctx context.Context, sourceKey, cursor string) error

	// ResetPlatform wipes every checkpoint whose key belongs to the given
	// platform. Administrative operation only.
	ResetPlatform(ctx context.Context, platform string) (int, error)
}

// MemoryRepository is an in-memory Repository for tests and development.
type MemoryRepository struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
	ttl         time.Duration
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		checkpoints: make(map[string]Checkpoint),
		ttl:         DefaultTTL,
	}
}

// Get returns the stored cursor or the sentinel.
func (r *MemoryRepository) Get(ctx context.Context, sourceKey string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp, ok := r.checkpoints[sourceKey]
	if !ok || time.Now().After(cp.ExpiresAt) {
		return SentinelCursor, nil
	}
	return cp.Cursor, nil
}

// Save upserts the cursor.
func (r *MemoryRepository) Save(ctx context.Context, sourceKey, cursor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.checkpoints[sourceKey] = Checkpoint{
		SourceKey: sourceKey,
		Cursor:    cursor,
		ExpiresAt: time.Now().Add(r.ttl),
	}
	return nil
}

// ResetPlatform deletes all checkpoints for a platform.
func (r *MemoryRepository) ResetPlatform(ctx context.Context, platform string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := platform + "#"
	removed := 0
	for key := range r.checkpoints {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(r.checkpoints, key)
			removed++
		}
	}
	return removed, nil
}
