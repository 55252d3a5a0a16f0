package ingestion

import (
	"context"
	"errors"

	"github.com/hotsignals/hotsignals/internal/models"
	"github.com/hotsignals/hotsignals/internal/stream"
)

// ErrQuotaExhausted is returned by a source client when the remote API
// rejects a call for exceeding its rate window. The poller does not retry
// in-process; the scheduler re-invokes on the next interval.
var ErrQuotaExhausted = errors.New("source quota exhausted")

// Publisher is the slice of the stream producer the ingestion paths use.
type Publisher interface {
	PublishBatch(ctx context.Context, records []stream.Record) error
}

// SearchQuery describes one bounded search call against a content source.
type SearchQuery struct {
	// Query is the search term, Language an optional language filter.
	Query    string
	Language string
	// SinceID restricts results to items strictly after the cursor. The
	// checkpoint sentinel means "from the beginning".
	SinceID string
	// Limit caps how many records the call may return.
	Limit int
}

// SearchPage is one page of normalized results plus the forward cursor.
type SearchPage struct {
	Items []SearchRecord
	// NextCursor is the maximum-id cursor for the next call. Empty means
	// the source returned no new data and the checkpoint must be left
	// untouched.
	NextCursor string
}

// SearchRecord pairs an item with the source's full-text variant, which is
// present when the primary text field was truncated by the API.
type SearchRecord struct {
	Item     models.ContentItem
	FullText string
}

// SearchClient is a content source the poller queries under a quota.
type SearchClient interface {
	// Platform names the source, used for checkpoint keys and metrics.
	Platform() models.Platform

	// RemainingQuota reports how many search calls the current rate
	// window still allows. Consulted once per invocation, before any
	// search call is issued.
	RemainingQuota(ctx context.Context) (int, error)

	// Search issues one bounded call. Returns ErrQuotaExhausted (possibly
	// wrapped) when the source signals throttling mid-invocation.
	Search(ctx context.Context, q SearchQuery) (SearchPage, error)
}

// TreeClient is a source whose items form reply trees, walked by the
// crawler one source at a time.
type TreeClient interface {
	Platform() models.Platform

	// FetchRoots returns root-level items for the source posted strictly
	// after the cursor, oldest first.
	FetchRoots(ctx context.Context, source, cursor string, limit int) ([]models.ContentItem, error)

	// FetchReplies returns up to limit direct replies to the given item,
	// oldest first.
	FetchReplies(ctx context.Context, source, parentID string, limit int) ([]models.ContentItem, error)
}
