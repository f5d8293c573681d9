// Package stream defines the partitioned log contract the pipeline is built
// on: an ordered, append-only, multi-consumer-group log addressed by tenant.
package stream

import (
	"context"
	"time"
)

// Entry is one record read from a tenant partition.
type Entry struct {
	ID     string
	Fields map[string]string
}

// Batch groups entries read from a single tenant partition.
type Batch struct {
	TenantID string
	Entries  []Entry
}

// PendingEntry describes a claimed-but-unacknowledged record.
type PendingEntry struct {
	ID       string
	Consumer string
	Idle     time.Duration
}

// Log is implemented by the Redis Streams infrastructure. The log's
// consumer-group primitive is the sole arbiter of which worker owns which
// entry; the pipeline never takes an application-level lock across workers.
type Log interface {
	Append(ctx context.Context, tenantID string, fields map[string]string) (string, error)
	Discover(ctx context.Context) ([]string, error)
	EnsureGroup(ctx context.Context, tenantID, group string) error
	ReadGroup(ctx context.Context, tenantIDs []string, group, consumer string, count int64, block time.Duration) ([]Batch, error)
	Ack(ctx context.Context, tenantID, group, id string) error
	Pending(ctx context.Context, tenantID, group string, minIdle time.Duration, count int64) ([]PendingEntry, error)
	Claim(ctx context.Context, tenantID, group, consumer string, minIdle time.Duration, ids []string) ([]Entry, error)
}
