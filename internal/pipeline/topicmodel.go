package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hotsignals/hotsignals/internal/metrics"
	"github.com/hotsignals/hotsignals/internal/ml"
	"github.com/hotsignals/hotsignals/internal/models"
	"github.com/hotsignals/hotsignals/internal/objectstore"
	"github.com/hotsignals/hotsignals/internal/stream"
)

// TopicModelConfig parameterizes one topic-modeling run.
type TopicModelConfig struct {
	// Platforms tracked by the sub-pipeline. Each gets its own job.
	Platforms []models.Platform
	// IngestionBucket holds the per-platform document corpus written by the
	// translate stage; InferenceBucket receives job outputs.
	IngestionBucket string
	InferenceBucket string
	// WindowHours is the trailing window of hour partitions rolled up into
	// each job's input.
	WindowHours int
	NumTopics   int
	// PollInterval between status checks on running jobs.
	PollInterval time.Duration
}

// TopicPipeline runs the periodic topic-modeling sub-pipeline: it rolls the
// trailing ingestion window into a per-platform input corpus, submits one
// asynchronous job per platform, polls until every job is terminal, and
// publishes the results of completed jobs to the event bus.
type TopicPipeline struct {
	modeler   ml.TopicModeler
	store     objectstore.Store
	bus       stream.Bus
	source    string
	collector *metrics.Collector
	logger    *slog.Logger
	cfg       TopicModelConfig

	now func() time.Time
}

// platformJob tracks one platform's job through the run.
type platformJob struct {
	platform models.Platform
	jobID    string
	status   models.TopicJobStatus
	message  string
}

// NewTopicPipeline constructs the sub-pipeline.
func NewTopicPipeline(
	modeler ml.TopicModeler,
	store objectstore.Store,
	bus stream.Bus,
	source string,
	collector *metrics.Collector,
	logger *slog.Logger,
	cfg TopicModelConfig,
) *TopicPipeline {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &TopicPipeline{
		modeler:   modeler,
		store:     store,
		bus:       bus,
		source:    source,
		collector: collector,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run executes one full topic-modeling cycle and returns the aggregate
// status across platforms.
func (p *TopicPipeline) Run(ctx context.Context) (models.TopicJobStatus, error) {
	runID := p.now().UTC().Format("20060102T150405Z")

	jobs := make([]*platformJob, 0, len(p.cfg.Platforms))
	for _, platform := range p.cfg.Platforms {
		job := &platformJob{platform: platform}
		jobs = append(jobs, job)

		count, err := p.transferWindow(ctx, platform, runID)
		if err != nil {
			return "", fmt.Errorf("assemble %s corpus: %w", platform, err)
		}
		if count == 0 {
			job.status = models.TopicJobNoData
			job.message = "no documents in ingestion window"
			p.logger.Info("no documents for topic job", "platform", platform, "run", runID)
			p.collector.TopicJobFinished(string(platform), string(job.status))
			continue
		}

		inputURI := fmt.Sprintf("store://%s/%s/input/%s", p.cfg.IngestionBucket, platform, runID)
		outputURI := fmt.Sprintf("store://%s/%s/%s", p.cfg.InferenceBucket, platform, runID)

		jobID, err := p.modeler.SubmitTopicJob(ctx, inputURI, outputURI, p.cfg.NumTopics)
		if err != nil {
			job.status = models.TopicJobFailed
			job.message = err.Error()
			p.logger.Error("topic job submit failed", "platform", platform, "error", err)
			p.collector.TopicJobFinished(string(platform), string(job.status))
			continue
		}
		job.jobID = jobID
		job.status = models.TopicJobSubmitted
		p.logger.Info("topic job submitted",
			"platform", platform,
			"job_id", jobID,
			"documents", count,
		)
	}

	if err := p.awaitJobs(ctx, jobs); err != nil {
		return "", err
	}

	if err := p.publishCompleted(ctx, jobs, runID); err != nil {
		return "", err
	}

	overall := AggregateStatus(jobStatuses(jobs))
	p.logger.Info("topic run finished", "run", runID, "status", overall)
	return overall, nil
}

// transferWindow copies the trailing window of corpus documents for one
// platform into the run's input prefix and returns how many it found.
func (p *TopicPipeline) transferWindow(ctx context.Context, platform models.Platform, runID string) (int, error) {
	bucket := p.cfg.IngestionBucket + "/" + string(platform)

	count := 0
	for _, prefix := range stream.IngestionWindow(p.now(), p.cfg.WindowHours) {
		keys, err := p.store.List(ctx, bucket, prefix)
		if err != nil {
			return 0, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
		}
		for _, key := range keys {
			data, err := p.store.Get(ctx, bucket, key)
			if err != nil {
				return 0, fmt.Errorf("read %s/%s: %w", bucket, key, err)
			}
			dest := fmt.Sprintf("input/%s/%d", runID, count)
			if err := p.store.Put(ctx, bucket, dest, data); err != nil {
				return 0, fmt.Errorf("stage %s/%s: %w", bucket, dest, err)
			}
			count++
		}
	}
	return count, nil
}

// awaitJobs polls the modeler until every submitted job is terminal.
func (p *TopicPipeline) awaitJobs(ctx context.Context, jobs []*platformJob) error {
	for {
		pending := 0
		for _, job := range jobs {
			if job.status.Terminal() {
				continue
			}

			described, err := p.modeler.DescribeTopicJob(ctx, job.jobID)
			if err != nil {
				return fmt.Errorf("describe topic job %s: %w", job.jobID, err)
			}
			job.status = described.Status
			job.message = described.Message

			if job.status.Terminal() {
				p.collector.TopicJobFinished(string(job.platform), string(job.status))
				if job.status != models.TopicJobCompleted {
					p.logger.Warn("topic job did not complete",
						"platform", job.platform,
						"job_id", job.jobID,
						"status", job.status,
						"message", job.message,
					)
				}
			} else {
				pending++
			}
		}

		if pending == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// publishCompleted fans out one publish task per completed platform,
// running them in parallel.
func (p *TopicPipeline) publishCompleted(ctx context.Context, jobs []*platformJob, runID string) error {
	var wg sync.WaitGroup
	errs := make([]error, len(jobs))

	for i, job := range jobs {
		if job.status != models.TopicJobCompleted {
			continue
		}
		wg.Add(1)
		go func(i int, job *platformJob) {
			defer wg.Done()
			errs[i] = p.publishPlatform(ctx, job, runID)
		}(i, job)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// publishPlatform posts one platform's inference output to the event bus.
func (p *TopicPipeline) publishPlatform(ctx context.Context, job *platformJob, runID string) error {
	bucket := p.cfg.InferenceBucket + "/" + string(job.platform)
	prefix := runID + "/"

	keys, err := p.store.List(ctx, bucket, prefix)
	if err != nil {
		return fmt.Errorf("list inference output %s/%s: %w", bucket, prefix, err)
	}

	entries := make([]stream.BusEntry, 0, len(keys))
	for _, key := range keys {
		data, err := p.store.Get(ctx, bucket, key)
		if err != nil {
			return fmt.Errorf("read inference output %s/%s: %w", bucket, key, err)
		}

		detail, err := json.Marshal(map[string]any{
			"platform": job.platform,
			"run":      runID,
			"job_id":   job.jobID,
			"key":      key,
			"result":   json.RawMessage(data),
		})
		if err != nil {
			return fmt.Errorf("encode topic result: %w", err)
		}
		entries = append(entries, stream.BusEntry{
			Source:     p.source,
			DetailType: "topics." + string(job.platform),
			Detail:     detail,
		})
	}

	if len(entries) == 0 {
		return nil
	}

	result, err := p.bus.PutEvents(ctx, entries)
	if err != nil {
		return fmt.Errorf("publish topic results for %s: %w", job.platform, err)
	}
	if result.FailedEntryCount > 0 {
		p.collector.AddPublishFailures("topics."+string(job.platform), result.FailedEntryCount)
		return fmt.Errorf("%w: %d of %d topic entries", ErrPartialPublish, result.FailedEntryCount, len(entries))
	}

	p.logger.Info("topic results published", "platform", job.platform, "entries", len(entries))
	return nil
}

func jobStatuses(jobs []*platformJob) []models.TopicJobStatus {
	statuses := make([]models.TopicJobStatus, 0, len(jobs))
	for _, job := range jobs {
		statuses = append(statuses, job.status)
	}
	return statuses
}

// AggregateStatus folds per-platform job statuses into one overall status:
// COMPLETED only when every job completed, FAILED only when every job
// failed, IN_PROGRESS otherwise. NO_DATA counts as a failure.
func AggregateStatus(statuses []models.TopicJobStatus) models.TopicJobStatus {
	if len(statuses) == 0 {
		return models.TopicJobCompleted
	}

	allCompleted := true
	allFailed := true
	for _, status := range statuses {
		if status != models.TopicJobCompleted {
			allCompleted = false
		}
		if status != models.TopicJobFailed && status != models.TopicJobNoData {
			allFailed = false
		}
	}

	switch {
	case allCompleted:
		return models.TopicJobCompleted
	case allFailed:
		return models.TopicJobFailed
	default:
		return models.TopicJobInProgress
	}
}
