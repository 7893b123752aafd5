// Package eventstream implements the durable, at-least-once event queue
// that sits between source adapters and the dispatcher, backed by Redis
// Streams consumer groups.
package eventstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaywire/eventcore/eventmodel"
	"github.com/relaywire/eventcore/telemetry"
)

const (
	// DefaultStreamName is the single stream all source adapters append to.
	DefaultStreamName = "events:incoming"
	// DefaultGroupName is the consumer group the dispatcher reads through.
	DefaultGroupName = "event-processors"
	// DefaultMaxLen is the approximate cap the stream is trimmed to on append.
	DefaultMaxLen = 10000
)

// ErrPoison marks a stream entry that could not be decoded into a
// UnifiedEvent. Poison entries are acknowledged immediately so they never
// block the consumer group; Read logs and skips them rather than
// returning them to the caller.
var ErrPoison = errors.New("eventstream: poison message")

// Message pairs a decoded UnifiedEvent with the stream entry ID needed to
// acknowledge it.
type Message struct {
	ID    string
	Event eventmodel.UnifiedEvent
}

// Info summarizes XINFO STREAM for the operator surface.
type Info struct {
	Length int64
}

// GroupInfo summarizes one consumer group's XINFO GROUPS entry.
type GroupInfo struct {
	Name    string
	Pending int64
}

// Stream is the event stream port, backed by a Redis client.
type Stream struct {
	client *redis.Client
	name   string
	logger telemetry.Logger
}

// New builds a Stream bound to the given Redis client and stream name.
func New(client *redis.Client, name string, logger telemetry.Logger) *Stream {
	if name == "" {
		name = DefaultStreamName
	}
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Stream{client: client, name: name, logger: logger}
}

// EnsureGroup creates the named consumer group, starting from the
// beginning of the stream, creating the stream itself if it does not yet
// exist. An existing group is not an error.
func (s *Stream) EnsureGroup(ctx context.Context, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, s.name, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("eventstream: create group %s: %w", group, err)
	}
	return nil
}

// Append encodes event and appends it to the stream, trimming the stream
// to approximately maxLen entries. It returns the assigned stream entry
// ID.
func (s *Stream) Append(ctx context.Context, event eventmodel.UnifiedEvent, maxLen int64) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	fields, err := eventmodel.Encode(event)
	if err != nil {
		return "", fmt.Errorf("eventstream: encode event %s: %w", event.EventID, err)
	}

	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.name,
		MaxLen: maxLen,
		Approx: true,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("eventstream: append event %s: %w", event.EventID, err)
	}
	return id, nil
}

// Read reads up to count new (never-delivered) entries for consumer in
// group, blocking for up to block waiting for at least one. Entries that
// fail to decode are acknowledged immediately (the poison-pill policy:
// ack and log, never block the consumer) and are not included in the
// returned slice.
func (s *Stream) Read(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	return s.read(ctx, group, consumer, count, block, ">")
}

// ReadPending re-reads entries already delivered to consumer but never
// acknowledged, for recovery after a crash mid-processing.
func (s *Stream) ReadPending(ctx context.Context, group, consumer string, count int64) ([]Message, error) {
	return s.read(ctx, group, consumer, count, 0, "0")
}

func (s *Stream) read(ctx context.Context, group, consumer string, count int64, block time.Duration, start string) ([]Message, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{s.name, start},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventstream: read group %s consumer %s: %w", group, consumer, err)
	}

	var messages []Message
	for _, stream := range res {
		for _, entry := range stream.Messages {
			fields := stringifyValues(entry.Values)
			event, decodeErr := eventmodel.Decode(fields)
			if decodeErr != nil {
				s.logger.Warn(ctx, "eventstream: poison message, acking and skipping",
					"stream_id", entry.ID, "error", decodeErr.Error())
				if ackErr := s.Ack(ctx, group, entry.ID); ackErr != nil {
					s.logger.Error(ctx, "eventstream: failed to ack poison message",
						"stream_id", entry.ID, "error", ackErr.Error())
				}
				continue
			}
			messages = append(messages, Message{ID: entry.ID, Event: event})
		}
	}
	return messages, nil
}

// Ack acknowledges a stream entry has been fully handled, removing it
// from the group's pending entries list.
func (s *Stream) Ack(ctx context.Context, group, id string) error {
	if err := s.client.XAck(ctx, s.name, group, id).Err(); err != nil {
		return fmt.Errorf("eventstream: ack %s: %w", id, err)
	}
	return nil
}

// Info reports the stream's current length.
func (s *Stream) Info(ctx context.Context) (Info, error) {
	res, err := s.client.XInfoStream(ctx, s.name).Result()
	if err != nil {
		return Info{}, fmt.Errorf("eventstream: info: %w", err)
	}
	return Info{Length: res.Length}, nil
}

// GroupInfo reports a consumer group's pending-entry count.
func (s *Stream) GroupInfo(ctx context.Context, group string) (GroupInfo, error) {
	groups, err := s.client.XInfoGroups(ctx, s.name).Result()
	if err != nil {
		return GroupInfo{}, fmt.Errorf("eventstream: group info: %w", err)
	}
	for _, g := range groups {
		if g.Name == group {
			return GroupInfo{Name: g.Name, Pending: g.Pending}, nil
		}
	}
	return GroupInfo{}, fmt.Errorf("eventstream: group %s not found", group)
}

// PendingCount is a convenience wrapper over GroupInfo for the operator
// surface's broker-pending-count metric.
func (s *Stream) PendingCount(ctx context.Context, group string) (int64, error) {
	info, err := s.GroupInfo(ctx, group)
	if err != nil {
		return 0, err
	}
	return info.Pending, nil
}

// stringifyValues converts XReadGroup's map[string]interface{} field
// values (go-redis decodes stream fields as strings already, but typed as
// any) into the plain map[string]string eventmodel.Decode expects.
func stringifyValues(values map[string]any) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
