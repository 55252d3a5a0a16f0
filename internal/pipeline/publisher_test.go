package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hotsignals/hotsignals/internal/models"
	"github.com/hotsignals/hotsignals/internal/stream"
)

// fakeBus captures entries and can fail the whole call or individual
// entries by index.
type fakeBus struct {
	entries  []stream.BusEntry
	err      error
	failIdx  map[int]error
	putCalls int
}

func (b *fakeBus) PutEvents(ctx context.Context, entries []stream.BusEntry) (stream.PutEventsResult, error) {
	b.putCalls++
	if b.err != nil {
		return stream.PutEventsResult{}, b.err
	}

	result := stream.PutEventsResult{EntryErrors: make([]error, len(entries))}
	for i := range entries {
		if err, ok := b.failIdx[i]; ok {
			result.EntryErrors[i] = err
			result.FailedEntryCount++
			continue
		}
		b.entries = append(b.entries, entries[i])
	}
	return result, nil
}

func TestPublisherRoutesByPlatformAndAccount(t *testing.T) {
	bus := &fakeBus{}
	pub := NewPublisher(bus, "com.hotsignals.inference", testCollector(t), testLogger())

	item := &models.ContentItem{
		ID:          "1",
		Platform:    models.PlatformTwitter,
		AccountName: "newsdesk",
		Text:        "done",
	}
	if err := pub.Publish(context.Background(), item); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(bus.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(bus.entries))
	}
	entry := bus.entries[0]
	if entry.DetailType != "twitter.newsdesk" {
		t.Errorf("expected detail type twitter.newsdesk, got %q", entry.DetailType)
	}
	if entry.Source != "com.hotsignals.inference" {
		t.Errorf("unexpected source %q", entry.Source)
	}

	var decoded models.ContentItem
	if err := json.Unmarshal(entry.Detail, &decoded); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if decoded.ID != "1" {
		t.Errorf("unexpected detail payload %+v", decoded)
	}
}

func TestPublisherPartialFailureIsHardError(t *testing.T) {
	bus := &fakeBus{failIdx: map[int]error{1: errors.New("entry rejected")}}
	pub := NewPublisher(bus, "com.hotsignals.inference", testCollector(t), testLogger())

	items := []*models.ContentItem{
		{ID: "1", Platform: models.PlatformTwitter, AccountName: "a"},
		{ID: "2", Platform: models.PlatformTwitter, AccountName: "b"},
	}
	err := pub.PublishBatch(context.Background(), items)
	if !errors.Is(err, ErrPartialPublish) {
		t.Fatalf("expected ErrPartialPublish, got %v", err)
	}
}

func TestPublisherTransportError(t *testing.T) {
	bus := &fakeBus{err: errors.New("bus unreachable")}
	pub := NewPublisher(bus, "com.hotsignals.inference", testCollector(t), testLogger())

	err := pub.Publish(context.Background(), &models.ContentItem{ID: "1", Platform: models.PlatformReddit, AccountName: "r"})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if errors.Is(err, ErrPartialPublish) {
		t.Error("transport failure should not be reported as partial")
	}
}

func TestPublisherEmptyBatch(t *testing.T) {
	bus := &fakeBus{}
	pub := NewPublisher(bus, "com.hotsignals.inference", testCollector(t), testLogger())

	if err := pub.PublishBatch(context.Background(), nil); err != nil {
		t.Fatalf("empty batch should be a no-op: %v", err)
	}
	if bus.putCalls != 0 {
		t.Errorf("expected no bus calls, got %d", bus.putCalls)
	}
}
