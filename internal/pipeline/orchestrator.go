package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hotsignals/hotsignals/internal/models"
	"github.com/hotsignals/hotsignals/internal/stream"
)

// MessageSource is the slice of the stream consumer the orchestrator
// drives. Unacknowledged messages are redelivered through Claim, which is
// the pipeline's retry mechanism.
type MessageSource interface {
	Read(ctx context.Context, count int64, block time.Duration) ([]stream.Message, error)
	Ack(ctx context.Context, id string) error
	Claim(ctx context.Context, minIdle time.Duration, count int64) ([]stream.Message, error)
}

// OrchestratorConfig holds the consumer-loop parameters.
type OrchestratorConfig struct {
	// ReadCount and Block shape each stream read.
	ReadCount int64
	Block     time.Duration
	// ClaimMinIdle is how long a message may stay pending before another
	// run of the loop claims and reprocesses it.
	ClaimMinIdle time.Duration
}

// DefaultOrchestratorConfig returns the consumer-loop parameters used in
// production.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		ReadCount:    10,
		Block:        5 * time.Second,
		ClaimMinIdle: time.Minute,
	}
}

// Orchestrator sequences the annotation stages for each item read off the
// ingest stream. Stages communicate back through task tokens; a failed
// token fails the item's workflow and the message stays pending for
// redelivery.
type Orchestrator struct {
	source    MessageSource
	waiter    *TokenWaiter
	runner    *Runner
	detect    Stage
	translate Stage
	analyze   Stage
	imageText Stage
	moderate  Stage
	publisher *Publisher
	logger    *slog.Logger
	cfg       OrchestratorConfig
}

// NewOrchestrator wires the stages into a state machine over the given
// message source.
func NewOrchestrator(
	source MessageSource,
	waiter *TokenWaiter,
	runner *Runner,
	detect, translate, analyze, imageText, moderate Stage,
	publisher *Publisher,
	logger *slog.Logger,
	cfg OrchestratorConfig,
) *Orchestrator {
	return &Orchestrator{
		source:    source,
		waiter:    waiter,
		runner:    runner,
		detect:    detect,
		translate: translate,
		analyze:   analyze,
		imageText: imageText,
		moderate:  moderate,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run consumes the ingest stream until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		messages, err := o.source.Read(ctx, o.cfg.ReadCount, o.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Error("stream read failed", "error", err)
			continue
		}

		stale, err := o.source.Claim(ctx, o.cfg.ClaimMinIdle, o.cfg.ReadCount)
		if err != nil {
			o.logger.Error("stale claim failed", "error", err)
		} else {
			messages = append(messages, stale...)
		}

		for _, msg := range messages {
			o.handleMessage(ctx, msg)
		}
	}
}

// handleMessage runs one item's workflow. Only a fully published item is
// acknowledged; transient failures leave the message pending so the claim
// path retries it.
func (o *Orchestrator) handleMessage(ctx context.Context, msg stream.Message) {
	var item models.ContentItem
	if err := json.Unmarshal(msg.Data, &item); err != nil {
		// Unparseable payloads never become parseable; drop them.
		o.logger.Error("dropping malformed message", "id", msg.ID, "error", err)
		o.ack(ctx, msg.ID)
		return
	}

	annotated, err := o.Execute(ctx, &item)
	if err != nil {
		o.logger.Error("workflow failed",
			"id", msg.ID,
			"item", item.ID,
			"error", err,
		)
		var dataErr *DataError
		if errors.As(err, &dataErr) {
			// Fatal for this item under any delivery; retrying cannot
			// change its shape.
			o.ack(ctx, msg.ID)
		}
		return
	}

	if err := o.publisher.Publish(ctx, annotated); err != nil {
		o.logger.Error("result publish failed", "item", item.ID, "error", err)
		return
	}

	o.ack(ctx, msg.ID)
}

// Execute drives one item through the stage state machine. Image analysis
// runs first so the extracted text elements flow through the text stages
// alongside the primary text:
//
//	HasMedia? --yes-> ExtractImageText -> ModerateImages
//	          --no--> (skip)
//	LanguageKnown? --no--> DetectLanguage --> Translate&Cleanse
//	               --yes-> Translate&Cleanse
//	Translate&Cleanse -> AnalyzeText -> done
func (o *Orchestrator) Execute(ctx context.Context, item *models.ContentItem) (*models.ContentItem, error) {
	current := item
	var err error

	if current.HasMedia() {
		if current, err = o.invoke(ctx, o.imageText, current); err != nil {
			return nil, err
		}
		if current, err = o.invoke(ctx, o.moderate, current); err != nil {
			return nil, err
		}
	}

	// Image-derived elements carry no language yet, so their presence
	// forces the detect stage even when the item's own lang is concrete.
	if needsDetection(current.Lang, current.Reprocess) || len(current.EntitiesInImages) > 0 {
		if current, err = o.invoke(ctx, o.detect, current); err != nil {
			return nil, err
		}
	}

	if current, err = o.invoke(ctx, o.translate, current); err != nil {
		return nil, err
	}

	if current, err = o.invoke(ctx, o.analyze, current); err != nil {
		return nil, err
	}

	return current, nil
}

// invoke hands one envelope to a stage and waits for its token to resolve.
func (o *Orchestrator) invoke(ctx context.Context, stage Stage, item *models.ContentItem) (*models.ContentItem, error) {
	token, ch := o.waiter.NewToken()
	envelope := models.TaskEnvelope{Input: item, TaskToken: token}

	go o.runner.Run(ctx, stage, []models.TaskEnvelope{envelope})

	select {
	case <-ctx.Done():
		o.waiter.Abandon(token)
		return nil, ctx.Err()
	case result := <-ch:
		if result.Failed {
			if result.Category == "DataError" {
				return nil, &DataError{Field: "payload", Msg: result.Message}
			}
			return nil, fmt.Errorf("stage %s failed: %s: %s", stage.Name(), result.Category, result.Message)
		}
		return result.Output, nil
	}
}

func (o *Orchestrator) ack(ctx context.Context, id string) {
	if err := o.source.Ack(ctx, id); err != nil {
		o.logger.Error("ack failed", "id", id, "error", err)
	}
}
