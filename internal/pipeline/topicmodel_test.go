package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hotsignals/hotsignals/internal/ml"
	"github.com/hotsignals/hotsignals/internal/models"
	"github.com/hotsignals/hotsignals/internal/objectstore"
	"github.com/hotsignals/hotsignals/internal/stream"
)

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []models.TopicJobStatus
		want     models.TopicJobStatus
	}{
		{
			name:     "all completed",
			statuses: []models.TopicJobStatus{models.TopicJobCompleted, models.TopicJobCompleted},
			want:     models.TopicJobCompleted,
		},
		{
			name:     "all failed",
			statuses: []models.TopicJobStatus{models.TopicJobFailed, models.TopicJobFailed},
			want:     models.TopicJobFailed,
		},
		{
			name:     "completed and in progress",
			statuses: []models.TopicJobStatus{models.TopicJobCompleted, models.TopicJobInProgress},
			want:     models.TopicJobInProgress,
		},
		{
			name:     "completed and failed",
			statuses: []models.TopicJobStatus{models.TopicJobCompleted, models.TopicJobFailed},
			want:     models.TopicJobInProgress,
		},
		{
			name:     "no data counts as failure",
			statuses: []models.TopicJobStatus{models.TopicJobNoData, models.TopicJobFailed},
			want:     models.TopicJobFailed,
		},
		{
			name:     "empty",
			statuses: nil,
			want:     models.TopicJobCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AggregateStatus(tt.statuses); got != tt.want {
				t.Errorf("AggregateStatus(%v) = %v, want %v", tt.statuses, got, tt.want)
			}
		})
	}
}

// fakeModeler scripts per-platform status sequences. The job id is the
// platform name, recovered from the input URI.
type fakeModeler struct {
	plan          map[string][]models.TopicJobStatus
	submits       map[string]string // platform -> inputURI
	describeCalls int
}

func (m *fakeModeler) SubmitTopicJob(ctx context.Context, inputURI, outputURI string, numTopics int) (string, error) {
	parts := strings.Split(strings.TrimPrefix(inputURI, "store://"), "/")
	platform := parts[1]
	if m.submits == nil {
		m.submits = make(map[string]string)
	}
	m.submits[platform] = inputURI
	return platform, nil
}

func (m *fakeModeler) DescribeTopicJob(ctx context.Context, jobID string) (ml.TopicJob, error) {
	m.describeCalls++
	queue := m.plan[jobID]
	if len(queue) == 0 {
		return ml.TopicJob{JobID: jobID, Status: models.TopicJobFailed, Message: "unplanned job"}, nil
	}
	status := queue[0]
	if len(queue) > 1 {
		m.plan[jobID] = queue[1:]
	}
	return ml.TopicJob{JobID: jobID, Status: status}, nil
}

var fixedNow = time.Date(2024, 3, 7, 12, 30, 0, 0, time.UTC)

func newTopicFixture(t *testing.T, modeler ml.TopicModeler, platforms ...models.Platform) (*TopicPipeline, *objectstore.MemoryStore, *fakeBus) {
	t.Helper()
	store := objectstore.NewMemoryStore()
	bus := &fakeBus{}
	p := NewTopicPipeline(modeler, store, bus, "com.hotsignals.inference", testCollector(t), testLogger(), TopicModelConfig{
		Platforms:       platforms,
		IngestionBucket: "topic-ingestion",
		InferenceBucket: "topic-inference",
		WindowHours:     2,
		NumTopics:       10,
		PollInterval:    time.Millisecond,
	})
	p.now = func() time.Time { return fixedNow }
	return p, store, bus
}

func seedCorpus(t *testing.T, store objectstore.Store, platform string, docs int) {
	t.Helper()
	for i := 0; i < docs; i++ {
		key := stream.HourPrefix(fixedNow) + fmt.Sprintf("doc%d", i)
		data := []byte(fmt.Sprintf("%d,some document text %d", i, i))
		if err := store.Put(context.Background(), "topic-ingestion/"+platform, key, data); err != nil {
			t.Fatalf("seed corpus: %v", err)
		}
	}
}

func runID() string {
	return fixedNow.Format("20060102T150405Z")
}

func TestTopicPipelineRun(t *testing.T) {
	modeler := &fakeModeler{
		plan: map[string][]models.TopicJobStatus{
			"twitter": {models.TopicJobCompleted},
		},
	}
	p, store, bus := newTopicFixture(t, modeler, models.PlatformTwitter)
	seedCorpus(t, store, "twitter", 3)

	outputKey := runID() + "/twitter/topic-terms.json"
	if err := store.Put(context.Background(), "topic-inference/twitter", outputKey, []byte(`{"topics":[]}`)); err != nil {
		t.Fatalf("seed output: %v", err)
	}

	status, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != models.TopicJobCompleted {
		t.Errorf("expected COMPLETED, got %v", status)
	}

	wantInput := "store://topic-ingestion/twitter/input/" + runID()
	if modeler.submits["twitter"] != wantInput {
		t.Errorf("input URI = %q, want %q", modeler.submits["twitter"], wantInput)
	}

	staged, err := store.List(context.Background(), "topic-ingestion/twitter", "input/"+runID()+"/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(staged) != 3 {
		t.Errorf("expected 3 transferred documents, got %v", staged)
	}

	if len(bus.entries) != 1 {
		t.Fatalf("expected 1 published topic result, got %d", len(bus.entries))
	}
	if bus.entries[0].DetailType != "topics.twitter" {
		t.Errorf("unexpected detail type %q", bus.entries[0].DetailType)
	}
}

func TestTopicPipelineNoData(t *testing.T) {
	modeler := &fakeModeler{plan: map[string][]models.TopicJobStatus{}}
	p, _, bus := newTopicFixture(t, modeler, models.PlatformTwitter)

	status, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != models.TopicJobFailed {
		t.Errorf("empty window should aggregate to FAILED, got %v", status)
	}
	if len(modeler.submits) != 0 {
		t.Errorf("no job should be submitted without documents, got %v", modeler.submits)
	}
	if len(bus.entries) != 0 {
		t.Errorf("nothing should be published, got %d entries", len(bus.entries))
	}
}

func TestTopicPipelinePollsUntilTerminal(t *testing.T) {
	modeler := &fakeModeler{
		plan: map[string][]models.TopicJobStatus{
			"twitter": {models.TopicJobInProgress, models.TopicJobInProgress, models.TopicJobCompleted},
		},
	}
	p, store, _ := newTopicFixture(t, modeler, models.PlatformTwitter)
	seedCorpus(t, store, "twitter", 1)

	status, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != models.TopicJobCompleted {
		t.Errorf("expected COMPLETED, got %v", status)
	}
	if modeler.describeCalls != 3 {
		t.Errorf("expected 3 polls, got %d", modeler.describeCalls)
	}
}

func TestTopicPipelineMixedOutcomes(t *testing.T) {
	modeler := &fakeModeler{
		plan: map[string][]models.TopicJobStatus{
			"twitter": {models.TopicJobCompleted},
			"reddit":  {models.TopicJobFailed},
		},
	}
	p, store, bus := newTopicFixture(t, modeler, models.PlatformTwitter, models.PlatformReddit)
	seedCorpus(t, store, "twitter", 2)
	seedCorpus(t, store, "reddit", 2)

	outputKey := runID() + "/twitter/topic-terms.json"
	if err := store.Put(context.Background(), "topic-inference/twitter", outputKey, []byte(`{"topics":[]}`)); err != nil {
		t.Fatalf("seed output: %v", err)
	}

	status, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status != models.TopicJobInProgress {
		t.Errorf("mixed terminal outcomes should aggregate to IN_PROGRESS, got %v", status)
	}

	for _, entry := range bus.entries {
		if entry.DetailType == "topics.reddit" {
			t.Error("failed platform must not publish")
		}
	}
	if len(bus.entries) != 1 {
		t.Errorf("expected 1 entry for the completed platform, got %d", len(bus.entries))
	}
}

func TestTopicPipelineCancelledWhilePolling(t *testing.T) {
	modeler := &fakeModeler{
		plan: map[string][]models.TopicJobStatus{
			"twitter": {models.TopicJobInProgress},
		},
	}
	p, store, _ := newTopicFixture(t, modeler, models.PlatformTwitter)
	seedCorpus(t, store, "twitter", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := p.Run(ctx); err == nil {
		t.Fatal("expected context error while polling a stuck job")
	}
}
