package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hotsignals/hotsignals/internal/ingestion"
	"github.com/hotsignals/hotsignals/internal/metrics"
	"github.com/hotsignals/hotsignals/internal/models"
)

// Stage is one annotation step. Process must not mutate the input item;
// it returns an augmented copy so a failed stage leaves the envelope's
// payload untouched for redelivery.
type Stage interface {
	Name() string
	Process(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error)
}

// DataError marks an item whose shape is unusable (missing or malformed
// field). It is fatal for that item and never retried.
type DataError struct {
	Field string
	Msg   string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error on %s: %s", e.Field, e.Msg)
}

// ErrorCategory classifies an error for the failure signal, mirroring an
// exception class name.
func ErrorCategory(err error) string {
	var dataErr *DataError
	switch {
	case errors.As(err, &dataErr):
		return "DataError"
	case errors.Is(err, ingestion.ErrQuotaExhausted):
		return "ThrottlingError"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "TimeoutError"
	default:
		return "StageError"
	}
}

// Runner executes a stage over a batch of envelopes. Items are processed in
// delivery order; a failure signals that envelope's token and the batch
// continues with the next one.
type Runner struct {
	signaler  Signaler
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewRunner creates a batch runner signaling on the given signaler.
func NewRunner(signaler Signaler, collector *metrics.Collector, logger *slog.Logger) *Runner {
	return &Runner{signaler: signaler, collector: collector, logger: logger}
}

// Run processes every envelope in the batch through the stage.
func (r *Runner) Run(ctx context.Context, stage Stage, envelopes []models.TaskEnvelope) {
	for _, env := range envelopes {
		r.runOne(ctx, stage, env)
	}
}

func (r *Runner) runOne(ctx context.Context, stage Stage, env models.TaskEnvelope) {
	start := time.Now()

	if env.Input == nil {
		err := &DataError{Field: "input", Msg: "envelope has no item"}
		r.fail(ctx, stage, env, err, start)
		return
	}

	output, err := stage.Process(ctx, env.Input)
	if err != nil {
		r.fail(ctx, stage, env, err, start)
		return
	}

	r.collector.ObserveStage(stage.Name(), "success", time.Since(start))

	if err := r.signaler.SignalSuccess(ctx, env.TaskToken, output); err != nil {
		r.logger.Error("success signal failed",
			"stage", stage.Name(),
			"item", env.Input.ID,
			"error", err,
		)
	}
}

func (r *Runner) fail(ctx context.Context, stage Stage, env models.TaskEnvelope, err error, start time.Time) {
	r.collector.ObserveStage(stage.Name(), "failure", time.Since(start))

	itemID := ""
	if env.Input != nil {
		itemID = env.Input.ID
	}
	r.logger.Error("stage failed",
		"stage", stage.Name(),
		"item", itemID,
		"error", err,
	)

	if sigErr := r.signaler.SignalFailure(ctx, env.TaskToken, ErrorCategory(err), err.Error()); sigErr != nil {
		r.logger.Error("failure signal failed",
			"stage", stage.Name(),
			"item", itemID,
			"error", sigErr,
		)
	}
}
