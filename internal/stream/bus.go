package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// BusEntry is one event posted to the bus. DetailType is the routing key
// downstream consumers subscribe on.
type BusEntry struct {
	Source     string
	DetailType string
	Detail     []byte
}

// PutEventsResult reports per-entry outcomes of a bus publish. The call can
// succeed at the transport level while individual entries fail, so callers
// must inspect FailedEntryCount.
type PutEventsResult struct {
	FailedEntryCount int
	EntryErrors      []error
}

// Bus publishes routed events to downstream consumers. Backed by Redis
// streams, one stream per routing key under the bus namespace.
type Bus interface {
	PutEvents(ctx context.Context, entries []BusEntry) (PutEventsResult, error)
}

// RedisBus implements Bus on Redis streams.
type RedisBus struct {
	client    *redis.Client
	namespace string
	logger    *slog.Logger
}

// NewRedisBus creates a bus writing under the given stream namespace.
func NewRedisBus(client *redis.Client, namespace string, logger *slog.Logger) *RedisBus {
	return &RedisBus{client: client, namespace: namespace, logger: logger}
}

// PutEvents posts entries, one XADD each, in a single pipeline. Individual
// command failures are reported per entry rather than failing the call.
func (b *RedisBus) PutEvents(ctx context.Context, entries []BusEntry) (PutEventsResult, error) {
	result := PutEventsResult{EntryErrors: make([]error, len(entries))}
	if len(entries) == 0 {
		return result, nil
	}

	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(entries))
	for i, entry := range entries {
		cmds[i] = pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: b.namespace + ":" + entry.DetailType,
			Values: map[string]interface{}{
				"source":      entry.Source,
				"detail_type": entry.DetailType,
				"detail":      entry.Detail,
			},
		})
	}

	// Exec returns an error when any command fails; per-entry outcomes are
	// read off the individual commands instead.
	_, execErr := pipe.Exec(ctx)

	for i, cmd := range cmds {
		if err := cmd.Err(); err != nil && err != redis.Nil {
			result.EntryErrors[i] = err
			result.FailedEntryCount++
		}
	}

	// A transport-level failure takes down every entry; surface it as a call
	// error rather than a partial result.
	if execErr != nil && execErr != redis.Nil && result.FailedEntryCount == len(entries) {
		return result, fmt.Errorf("bus publish failed: %w", execErr)
	}

	return result, nil
}
