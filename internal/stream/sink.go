package stream

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hotsignals/hotsignals/internal/objectstore"
)

// Sink is the append-only record sink: newline-delimited JSON records, one
// logical record per line, landed under time-partitioned prefixes so a
// trailing ingestion window can be read back by hour.
type Sink interface {
	PutRecord(ctx context.Context, streamName string, data []byte) error
	PutRecordBatch(ctx context.Context, streamName string, records [][]byte) error
}

// ObjectSink lands NDJSON batches in the object store, one object per
// batch, keyed YYYY/MM/DD/HH/<uuid>. The stream name selects the bucket.
type ObjectSink struct {
	store  objectstore.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewObjectSink creates a sink writing into the given object store.
func NewObjectSink(store objectstore.Store, logger *slog.Logger) *ObjectSink {
	return &ObjectSink{store: store, logger: logger, now: time.Now}
}

// PutRecord appends one record.
func (s *ObjectSink) PutRecord(ctx context.Context, streamName string, data []byte) error {
	return s.PutRecordBatch(ctx, streamName, [][]byte{data})
}

// PutRecordBatch appends records as one NDJSON object.
func (s *ObjectSink) PutRecordBatch(ctx context.Context, streamName string, records [][]byte) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, record := range records {
		buf.Write(bytes.TrimRight(record, "\n"))
		buf.WriteByte('\n')
	}

	key := HourPrefix(s.now().UTC()) + uuid.NewString()
	if err := s.store.Put(ctx, streamName, key, buf.Bytes()); err != nil {
		return fmt.Errorf("sink write %s/%s: %w", streamName, key, err)
	}

	s.logger.Debug("sink batch landed", "stream", streamName, "key", key, "records", len(records))
	return nil
}

// HourPrefix formats the time-partition prefix for t: "YYYY/MM/DD/HH/".
func HourPrefix(t time.Time) string {
	return t.Format("2006/01/02/15") + "/"
}

// IngestionWindow returns the hour prefixes covering the trailing window of
// the given size, most recent full hour first.
func IngestionWindow(now time.Time, hours int) []string {
	prefixes := make([]string, 0, hours)
	for i := 1; i <= hours; i++ {
		prefixes = append(prefixes, HourPrefix(now.UTC().Add(-time.Duration(i)*time.Hour)))
	}
	return prefixes
}
