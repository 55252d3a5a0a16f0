package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Record is one unit published to a stream, partitioned by key so all
// records for one content item land in order.
type Record struct {
	Data         []byte
	PartitionKey string
}

// Message is one delivered stream entry awaiting acknowledgement.
type Message struct {
	ID   string
	Data []byte
}

// Producer publishes records to a Redis stream.
type Producer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

// NewProducer creates a producer for the named stream.
func NewProducer(client *redis.Client, stream string, logger *slog.Logger) *Producer {
	return &Producer{client: client, stream: stream, logger: logger}
}

// Publish appends a single record to the stream.
func (p *Producer) Publish(ctx context.Context, record Record) error {
	return p.PublishBatch(ctx, []Record{record})
}

// PublishBatch appends records to the stream in one round trip. A failure of
// any entry fails the whole batch.
func (p *Producer) PublishBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	pipe := p.client.Pipeline()
	for _, record := range records {
		key := record.PartitionKey
		if key == "" {
			key = uuid.NewString()
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			Values: map[string]interface{}{
				"data":          record.Data,
				"partition_key": key,
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish batch to %s: %w", p.stream, err)
	}

	p.logger.Debug("published records", "stream", p.stream, "count", len(records))
	return nil
}

// Consumer reads a Redis stream through a consumer group, giving
// at-least-once delivery: entries stay pending until acknowledged.
type Consumer struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	logger   *slog.Logger
}

// NewConsumer creates a consumer group member for the named stream,
// creating the group if it does not exist yet.
func NewConsumer(ctx context.Context, client *redis.Client, streamName, group string, logger *slog.Logger) (*Consumer, error) {
	err := client.XGroupCreateMkStream(ctx, streamName, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("create consumer group %s on %s: %w", group, streamName, err)
	}

	return &Consumer{
		client:   client,
		stream:   streamName,
		group:    group,
		consumer: uuid.NewString(),
		logger:   logger,
	}, nil
}

// Read blocks up to the given duration for at most count new entries.
func (c *Consumer) Read(ctx context.Context, count int64, block time.Duration) ([]Message, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read from %s: %w", c.stream, err)
	}

	var messages []Message
	for _, s := range streams {
		for _, entry := range s.Messages {
			data, ok := entry.Values["data"].(string)
			if !ok {
				c.logger.Warn("stream entry missing data field", "stream", c.stream, "id", entry.ID)
				continue
			}
			messages = append(messages, Message{ID: entry.ID, Data: []byte(data)})
		}
	}
	return messages, nil
}

// Ack acknowledges a processed entry. Unacknowledged entries are redelivered
// to the group, which is the pipeline's retry mechanism.
func (c *Consumer) Ack(ctx context.Context, id string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		return fmt.Errorf("ack %s on %s: %w", id, c.stream, err)
	}
	return nil
}

// Claim takes over entries that have been pending longer than minIdle,
// redelivering work orphaned by a dead consumer.
func (c *Consumer) Claim(ctx context.Context, minIdle time.Duration, count int64) ([]Message, error) {
	entries, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdle,
		Start:    "0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("claim pending on %s: %w", c.stream, err)
	}

	var messages []Message
	for _, entry := range entries {
		if data, ok := entry.Values["data"].(string); ok {
			messages = append(messages, Message{ID: entry.ID, Data: []byte(data)})
		}
	}
	return messages, nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}
