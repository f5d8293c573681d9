package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ioriimasu34/weft/internal/domain/read"
	"github.com/ioriimasu34/weft/internal/domain/stream"
	"github.com/ioriimasu34/weft/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLog struct {
	mu       sync.Mutex
	tenants  []string
	batches  []stream.Batch
	pending  map[string][]stream.PendingEntry
	claimed  map[string][]stream.Entry
	acked    map[string][]string
	ensured  map[string]int
	readDone bool
}

func newFakeLog(tenants ...string) *fakeLog {
	return &fakeLog{
		tenants: tenants,
		pending: make(map[string][]stream.PendingEntry),
		claimed: make(map[string][]stream.Entry),
		acked:   make(map[string][]string),
		ensured: make(map[string]int),
	}
}

func (l *fakeLog) Append(ctx context.Context, tenantID string, fields map[string]string) (string, error) {
	return "", errors.New("not used")
}

func (l *fakeLog) Discover(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tenants, nil
}

func (l *fakeLog) EnsureGroup(ctx context.Context, tenantID, group string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensured[tenantID]++
	return nil
}

func (l *fakeLog) ReadGroup(ctx context.Context, tenantIDs []string, group, consumer string, count int64, block time.Duration) ([]stream.Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readDone {
		return nil, nil
	}
	l.readDone = true
	return l.batches, nil
}

func (l *fakeLog) Ack(ctx context.Context, tenantID, group, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acked[tenantID] = append(l.acked[tenantID], id)
	return nil
}

func (l *fakeLog) Pending(ctx context.Context, tenantID, group string, minIdle time.Duration, count int64) ([]stream.PendingEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending[tenantID], nil
}

func (l *fakeLog) Claim(ctx context.Context, tenantID, group, consumer string, minIdle time.Duration, ids []string) ([]stream.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.claimed[tenantID], nil
}

func (l *fakeLog) ackedIDs(tenantID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.acked[tenantID]...)
}

type fakeSink struct {
	mu       sync.Mutex
	applied  map[string]read.TagRead
	failures int
	calls    int
}

func newFakeSink() *fakeSink {
	return &fakeSink{applied: make(map[string]read.TagRead)}
}

func (s *fakeSink) Upsert(ctx context.Context, tr read.TagRead) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return false, errors.New("sink unavailable")
	}
	if _, ok := s.applied[tr.IdemKey]; ok {
		return false, nil
	}
	s.applied[tr.IdemKey] = tr
	return true, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	err       error
	published []read.Summary
}

func (p *fakePublisher) Publish(ctx context.Context, summary read.Summary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, summary)
	return nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func makeEntry(id, epc, readerID string, antenna int, readAt time.Time) stream.Entry {
	eventJSON := fmt.Sprintf(
		`{"id":"evt-%s","type":"com.rfid.read","source":"%s","data":{"epc":"%s","reader_id":"%s","antenna":%d,"rssi":-62.5,"reader_ts":"%s"}}`,
		id, readerID, epc, readerID, antenna, readAt.Format(time.RFC3339))
	return stream.Entry{ID: id, Fields: map[string]string{
		"event":     eventJSON,
		"device_id": readerID,
	}}
}

func newTestWorker(log stream.Log, sink Sink, pub Publisher) *Worker {
	return New(Config{
		Group:           "ingest-workers",
		Consumer:        "worker-test",
		BatchSize:       100,
		Block:           10 * time.Millisecond,
		ReclaimIdle:     time.Minute,
		ReclaimInterval: 10 * time.Millisecond,
		ReclaimLimit:    1000,
	}, log, sink, pub, fastPolicy())
}

func TestProcessBatchAppliesAndAcks(t *testing.T) {
	log := newFakeLog("org-1")
	sink := newFakeSink()
	pub := &fakePublisher{}
	w := newTestWorker(log, sink, pub)

	readAt := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	entries := []stream.Entry{makeEntry("1-0", "E2000012345678901234", "reader-001", 1, readAt)}

	acked := w.processBatch(context.Background(), "org-1", entries)

	assert.Equal(t, 1, acked)
	assert.Equal(t, []string{"1-0"}, log.ackedIDs("org-1"))
	assert.Len(t, sink.applied, 1)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "rfid.read.summary", pub.published[0].Type)
	assert.Equal(t, "org-1", pub.published[0].TenantID)
}

func TestProcessBatchDeduplicatesSameSecond(t *testing.T) {
	log := newFakeLog("org-1")
	sink := newFakeSink()
	pub := &fakePublisher{}
	w := newTestWorker(log, sink, pub)

	// Two reads of the same tag by the same antenna within one second plus
	// one distinct read: exactly two applied records.
	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	entries := []stream.Entry{
		makeEntry("1-0", "E2000012345678901234", "reader-001", 1, base),
		makeEntry("1-1", "E2000012345678901234", "reader-001", 1, base.Add(400*time.Millisecond)),
		makeEntry("1-2", "E2000012345678905678", "reader-001", 1, base),
	}

	acked := w.processBatch(context.Background(), "org-1", entries)

	assert.Equal(t, 3, acked, "duplicates are still acknowledged")
	assert.Len(t, sink.applied, 2, "only two distinct idempotency keys")
	assert.Equal(t, 3, sink.calls)
}

func TestProcessBatchAcksMalformedEntries(t *testing.T) {
	log := newFakeLog("org-1")
	sink := newFakeSink()
	pub := &fakePublisher{}
	w := newTestWorker(log, sink, pub)

	tests := []struct {
		name  string
		entry stream.Entry
	}{
		{"no event field", stream.Entry{ID: "1-0", Fields: map[string]string{"device_id": "reader-001"}}},
		{"corrupt json", stream.Entry{ID: "1-1", Fields: map[string]string{"event": `{"id":`}}},
		{"empty envelope fields", stream.Entry{ID: "1-2", Fields: map[string]string{"event": `{"id":"x","type":"","source":"y"}`}}},
		{"missing antenna", stream.Entry{ID: "1-3", Fields: map[string]string{
			"event": `{"id":"x","type":"com.rfid.read","source":"y","data":{"epc":"E2000012345678901234","reader_id":"reader-001","rssi":-60,"reader_ts":"2026-09-01T10:00:00Z"}}`,
		}}},
		{"invalid epc", stream.Entry{ID: "1-4", Fields: map[string]string{
			"event": `{"id":"x","type":"com.rfid.read","source":"y","data":{"epc":"NOT-HEX!","reader_id":"reader-001","antenna":1,"rssi":-60,"reader_ts":"2026-09-01T10:00:00Z"}}`,
		}}},
		{"invalid timestamp", stream.Entry{ID: "1-5", Fields: map[string]string{
			"event": `{"id":"x","type":"com.rfid.read","source":"y","data":{"epc":"E2000012345678901234","reader_id":"reader-001","antenna":1,"rssi":-60,"reader_ts":"not a time"}}`,
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acked := w.processBatch(context.Background(), "org-1", []stream.Entry{tt.entry})
			assert.Equal(t, 1, acked, "malformed entry must not block the partition")
		})
	}

	assert.Zero(t, sink.calls, "malformed entries never reach the sink")
	assert.Empty(t, pub.published)
}

func TestProcessBatchLeavesEntryPendingOnSinkOutage(t *testing.T) {
	log := newFakeLog("org-1")
	sink := newFakeSink()
	sink.failures = 100 // outlasts every retry
	pub := &fakePublisher{}
	w := newTestWorker(log, sink, pub)

	readAt := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	entries := []stream.Entry{makeEntry("1-0", "E2000012345678901234", "reader-001", 1, readAt)}

	acked := w.processBatch(context.Background(), "org-1", entries)

	assert.Zero(t, acked)
	assert.Empty(t, log.ackedIDs("org-1"))
	assert.Equal(t, 3, sink.calls, "bounded retries within the attempt")
}

func TestProcessBatchAcksDespitePublishFailure(t *testing.T) {
	log := newFakeLog("org-1")
	sink := newFakeSink()
	pub := &fakePublisher{err: errors.New("broker down")}
	w := newTestWorker(log, sink, pub)

	readAt := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	entries := []stream.Entry{makeEntry("1-0", "E2000012345678901234", "reader-001", 1, readAt)}

	acked := w.processBatch(context.Background(), "org-1", entries)

	assert.Equal(t, 1, acked, "fan-out is best-effort")
	assert.Len(t, sink.applied, 1)
}

func TestReclaimOnceReprocessesStuckEntries(t *testing.T) {
	log := newFakeLog("org-1")
	sink := newFakeSink()
	pub := &fakePublisher{}
	w := newTestWorker(log, sink, pub)

	readAt := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	stuck := makeEntry("1-0", "E2000012345678901234", "reader-001", 1, readAt)

	// First attempt applied the read but crashed before the ack.
	_, err := sink.Upsert(context.Background(), read.TagRead{
		TenantID: "org-1",
		IdemKey:  mustParse(t, "org-1", stuck).IdemKey,
	})
	require.NoError(t, err)

	log.pending["org-1"] = []stream.PendingEntry{{ID: "1-0", Consumer: "worker-crashed", Idle: 2 * time.Minute}}
	log.claimed["org-1"] = []stream.Entry{stuck}

	w.reclaimOnce(context.Background())

	assert.Equal(t, []string{"1-0"}, log.ackedIDs("org-1"), "reclaimed entry is acked after reprocessing")
	assert.Len(t, sink.applied, 1, "at most one applied record despite two attempts")
}

func TestRunShutsDownCleanly(t *testing.T) {
	log := newFakeLog("org-1")
	readAt := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	log.batches = []stream.Batch{{
		TenantID: "org-1",
		Entries:  []stream.Entry{makeEntry("1-0", "E2000012345678901234", "reader-001", 1, readAt)},
	}}
	sink := newFakeSink()
	pub := &fakePublisher{}
	w := newTestWorker(log, sink, pub)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.NoError(t, w.Run(ctx))

	assert.Equal(t, []string{"1-0"}, log.ackedIDs("org-1"))
	assert.Equal(t, 1, log.ensured["org-1"], "group ensured once per tenant")
}

func mustParse(t *testing.T, tenantID string, e stream.Entry) *read.TagRead {
	t.Helper()
	tr, err := parseEntry(tenantID, e)
	require.NoError(t, err)
	return tr
}
