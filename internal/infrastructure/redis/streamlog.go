package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ioriimasu34/weft/internal/domain/stream"

	"github.com/redis/go-redis/v9"
)

const (
	streamPrefix = "org:"
	streamSuffix = ":rfid"
)

// StreamLog implements stream.Log over Redis Streams. Each tenant owns one
// stream keyed "org:<tenant>:rfid"; entry ids are monotonically increasing
// within a stream only.
type StreamLog struct {
	client *redis.Client
}

func NewStreamLog(client *redis.Client) *StreamLog {
	return &StreamLog{client: client}
}

func streamKey(tenantID string) string {
	return streamPrefix + tenantID + streamSuffix
}

func tenantFromKey(key string) string {
	return strings.TrimSuffix(strings.TrimPrefix(key, streamPrefix), streamSuffix)
}

// Append durably records an entry on the tenant's partition and returns the
// log-assigned sequence id.
func (l *StreamLog) Append(ctx context.Context, tenantID string, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(tenantID),
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", streamKey(tenantID), err)
	}
	return id, nil
}

// Discover returns the tenant ids that currently have a stream. New tenants
// appear at runtime, so callers re-scan every cycle.
func (l *StreamLog) Discover(ctx context.Context) ([]string, error) {
	keys, err := l.client.Keys(ctx, streamPrefix+"*"+streamSuffix).Result()
	if err != nil {
		return nil, fmt.Errorf("discover streams: %w", err)
	}

	tenants := make([]string, 0, len(keys))
	for _, key := range keys {
		if tenant := tenantFromKey(key); tenant != "" {
			tenants = append(tenants, tenant)
		}
	}
	return tenants, nil
}

// EnsureGroup creates the consumer group from the beginning of the stream,
// tolerating a group that already exists.
func (l *StreamLog) EnsureGroup(ctx context.Context, tenantID, group string) error {
	err := l.client.XGroupCreateMkStream(ctx, streamKey(tenantID), group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, streamKey(tenantID), err)
	}
	return nil
}

// ReadGroup blocks up to block for at most count new entries across the given
// tenant partitions. An empty result after the block time is not an error.
func (l *StreamLog) ReadGroup(ctx context.Context, tenantIDs []string, group, consumer string, count int64, block time.Duration) ([]stream.Batch, error) {
	streams := make([]string, 0, len(tenantIDs)*2)
	for _, t := range tenantIDs {
		streams = append(streams, streamKey(t))
	}
	for range tenantIDs {
		streams = append(streams, ">")
	}

	res, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  streams,
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	batches := make([]stream.Batch, 0, len(res))
	for _, s := range res {
		b := stream.Batch{TenantID: tenantFromKey(s.Stream), Entries: make([]stream.Entry, 0, len(s.Messages))}
		for _, msg := range s.Messages {
			b.Entries = append(b.Entries, stream.Entry{ID: msg.ID, Fields: stringFields(msg.Values)})
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// Ack marks an entry as done for the group; it will no longer show up as
// pending.
func (l *StreamLog) Ack(ctx context.Context, tenantID, group, id string) error {
	if err := l.client.XAck(ctx, streamKey(tenantID), group, id).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", streamKey(tenantID), id, err)
	}
	return nil
}

// Pending enumerates entries claimed longer than minIdle ago without an ack,
// up to count.
func (l *StreamLog) Pending(ctx context.Context, tenantID, group string, minIdle time.Duration, count int64) ([]stream.PendingEntry, error) {
	res, err := l.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamKey(tenantID),
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
		Idle:   minIdle,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending %s: %w", streamKey(tenantID), err)
	}

	pending := make([]stream.PendingEntry, 0, len(res))
	for _, p := range res {
		pending = append(pending, stream.PendingEntry{ID: p.ID, Consumer: p.Consumer, Idle: p.Idle})
	}
	return pending, nil
}

// Claim reassigns the given entries to consumer and returns their payloads.
// Entries whose idle time dropped below minIdle in the meantime (another
// worker got there first) are omitted by Redis.
func (l *StreamLog) Claim(ctx context.Context, tenantID, group, consumer string, minIdle time.Duration, ids []string) ([]stream.Entry, error) {
	msgs, err := l.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   streamKey(tenantID),
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("xclaim %s: %w", streamKey(tenantID), err)
	}

	entries := make([]stream.Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, stream.Entry{ID: msg.ID, Fields: stringFields(msg.Values)})
	}
	return entries, nil
}

func stringFields(values map[string]interface{}) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			fields[k] = s
		} else {
			fields[k] = fmt.Sprint(v)
		}
	}
	return fields
}
