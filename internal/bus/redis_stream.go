// Package bus provides the Redis Streams event bus the outbox publisher
// writes to and the agent runtime consumes from. Entries carry one serialized
// AgentEvent under the "event" field; consumer groups provide work
// partitioning and crash recovery.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/models"
)

const (
	defaultReadBlock = 250 * time.Millisecond
	defaultReadCount = 1

	eventField = "event"
)

// StreamEntry is one delivered bus entry. It exists only between ReadGroup
// and Acknowledge; the entry id is bus-assigned and monotonic within the
// stream.
type StreamEntry struct {
	StreamEntryID string
	Event         models.AgentEvent
}

// ReadGroupOptions bounds one consumer-group read.
type ReadGroupOptions struct {
	// Block is how long the read waits for entries before returning empty.
	// Zero means the 250ms default.
	Block time.Duration
	// Count caps the number of entries returned. Zero means 1.
	Count int64
}

// RedisStreamBus implements the event bus on a single Redis stream.
type RedisStreamBus struct {
	client    redis.Cmdable
	streamKey string
	logger    zerolog.Logger
}

// NewRedisStreamBus creates a bus over the given stream key.
func NewRedisStreamBus(client redis.Cmdable, streamKey string, logger zerolog.Logger) *RedisStreamBus {
	return &RedisStreamBus{
		client:    client,
		streamKey: streamKey,
		logger:    logger,
	}
}

// Publish appends the serialized event to the stream and returns once Redis
// has durably appended it.
func (b *RedisStreamBus) Publish(ctx context.Context, event models.AgentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.streamKey,
		Values: map[string]any{eventField: string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append event %s to stream: %w", event.ID, err)
	}

	return nil
}

// EnsureConsumerGroup creates the consumer group at the tail of the stream if
// it does not exist yet. The BUSYGROUP reply from Redis is swallowed so the
// call is idempotent; all other errors propagate.
func (b *RedisStreamBus) EnsureConsumerGroup(ctx context.Context, groupName string) error {
	err := b.client.XGroupCreateMkStream(ctx, b.streamKey, groupName, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("failed to create consumer group %s: %w", groupName, err)
	}

	return nil
}

// ReadGroup requests up to opts.Count not-yet-delivered entries for the
// group, blocking up to opts.Block when none are ready. A read timeout
// returns an empty slice, not an error. Entries whose event field is missing
// or unparseable are skipped.
func (b *RedisStreamBus) ReadGroup(ctx context.Context, groupName, consumerName string, opts ReadGroupOptions) ([]StreamEntry, error) {
	block := opts.Block
	if block <= 0 {
		block = defaultReadBlock
	}
	count := opts.Count
	if count <= 0 {
		count = defaultReadCount
	}

	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    groupName,
		Consumer: consumerName,
		Streams:  []string{b.streamKey, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read group %s: %w", groupName, err)
	}

	var entries []StreamEntry
	for _, stream := range streams {
		for _, message := range stream.Messages {
			raw, ok := message.Values[eventField].(string)
			if !ok {
				b.logger.Warn().
					Str("streamEntryId", message.ID).
					Msg("stream entry missing event field")
				continue
			}

			var event models.AgentEvent
			if err := json.Unmarshal([]byte(raw), &event); err != nil {
				b.logger.Warn().
					Str("streamEntryId", message.ID).
					Err(err).
					Msg("stream entry holds unparseable event")
				continue
			}

			entries = append(entries, StreamEntry{
				StreamEntryID: message.ID,
				Event:         event,
			})
		}
	}

	return entries, nil
}

// Acknowledge marks the entry processed for the group. Unacknowledged entries
// stay eligible for redelivery to any consumer in the group.
func (b *RedisStreamBus) Acknowledge(ctx context.Context, groupName, streamEntryID string) error {
	if err := b.client.XAck(ctx, b.streamKey, groupName, streamEntryID).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge entry %s: %w", streamEntryID, err)
	}
	return nil
}

// Key returns the underlying stream key.
func (b *RedisStreamBus) Key() string {
	return b.streamKey
}
