// Package worker turns at-least-once log delivery into effectively-once sink
// processing: it reads batches under a consumer group, derives an idempotency
// key per read, upserts into the sink, fans out a summary and acknowledges.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ioriimasu34/weft/internal/dedupe"
	"github.com/ioriimasu34/weft/internal/domain/event"
	"github.com/ioriimasu34/weft/internal/domain/read"
	"github.com/ioriimasu34/weft/internal/domain/stream"
	"github.com/ioriimasu34/weft/internal/retry"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_rfid_reads_processed_total",
		Help: "The total number of RFID reads applied to the sink",
	})
	readsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_rfid_reads_deduplicated_total",
		Help: "The total number of redelivered reads dropped by the sink upsert",
	})
	readsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_rfid_reads_rejected_total",
		Help: "The total number of malformed entries acknowledged and dropped",
	})
	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_summary_publish_errors_total",
		Help: "The total number of failed summary publish attempts",
	})
	entriesReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_entries_reclaimed_total",
		Help: "The total number of stuck entries reclaimed for reprocessing",
	})
	processingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "worker_entry_processing_duration_seconds",
		Help:    "Time taken to process a single log entry",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
)

// Sink is the external dedup-upsert store. Upsert must be idempotent keyed on
// the read's idempotency key: true means the row was applied, false means it
// was already present.
type Sink interface {
	Upsert(ctx context.Context, tr read.TagRead) (bool, error)
}

// Publisher is the external fan-out target. Publishing is best-effort; a
// failure never blocks the ack path beyond the bounded retries.
type Publisher interface {
	Publish(ctx context.Context, summary read.Summary) error
}

type Config struct {
	Group           string
	Consumer        string
	BatchSize       int64
	Block           time.Duration
	ReclaimIdle     time.Duration
	ReclaimInterval time.Duration
	ReclaimLimit    int64
}

type Worker struct {
	cfg    Config
	log    stream.Log
	sink   Sink
	pub    Publisher
	policy retry.Policy

	// tenants whose consumer group is already ensured
	known map[string]struct{}
}

func New(cfg Config, log stream.Log, sink Sink, pub Publisher, policy retry.Policy) *Worker {
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-" + uuid.NewString()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	if cfg.ReclaimIdle <= 0 {
		cfg.ReclaimIdle = time.Minute
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = 30 * time.Second
	}
	if cfg.ReclaimLimit <= 0 {
		cfg.ReclaimLimit = 1000
	}

	return &Worker{
		cfg:    cfg,
		log:    log,
		sink:   sink,
		pub:    pub,
		policy: policy,
		known:  make(map[string]struct{}),
	}
}

// Run drives the read/process/ack loop until ctx is cancelled. The reclaimer
// runs concurrently on its own timer and is joined before Run returns.
// Cancellation stops new reads; the entry being processed finishes its current
// attempt and is either acked or left pending for reclaim.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker started", "consumer", w.cfg.Consumer, "group", w.cfg.Group)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.runReclaimer(ctx)
	}()

	for ctx.Err() == nil {
		tenants, err := w.discoverAndEnsure(ctx)
		if err != nil {
			slog.Error("stream discovery failed", "error", err)
			sleep(ctx, 5*time.Second)
			continue
		}
		if len(tenants) == 0 {
			sleep(ctx, w.cfg.Block)
			continue
		}

		batches, err := w.log.ReadGroup(ctx, tenants, w.cfg.Group, w.cfg.Consumer, w.cfg.BatchSize, w.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("group read failed", "error", err)
			sleep(ctx, 5*time.Second)
			continue
		}

		total := 0
		for _, b := range batches {
			total += w.processBatch(ctx, b.TenantID, b.Entries)
		}
		if total > 0 {
			slog.Info("processed entries", "count", total)
		}
	}

	wg.Wait()
	slog.Info("worker stopped", "consumer", w.cfg.Consumer)
	return nil
}

func (w *Worker) discoverAndEnsure(ctx context.Context) ([]string, error) {
	tenants, err := w.log.Discover(ctx)
	if err != nil {
		return nil, err
	}

	for _, t := range tenants {
		if _, ok := w.known[t]; ok {
			continue
		}
		if err := w.log.EnsureGroup(ctx, t, w.cfg.Group); err != nil {
			return nil, err
		}
		w.known[t] = struct{}{}
	}
	return tenants, nil
}

// processBatch runs each entry through the processing path and acks the ones
// that finished. Entries that fail transiently stay pending for the
// reclaimer. Returns the number of acked entries.
func (w *Worker) processBatch(ctx context.Context, tenantID string, entries []stream.Entry) int {
	acked := 0
	for _, e := range entries {
		if err := w.processEntry(ctx, tenantID, e); err != nil {
			slog.Error("entry left pending", "org_id", tenantID, "entry_id", e.ID, "error", err)
			continue
		}
		if err := w.log.Ack(ctx, tenantID, w.cfg.Group, e.ID); err != nil {
			slog.Error("ack failed", "org_id", tenantID, "entry_id", e.ID, "error", err)
			continue
		}
		acked++
	}
	return acked
}

// processEntry applies one log entry. A nil return means the entry is done
// and must be acked; that includes malformed entries, which are logged and
// dropped so they cannot block the partition forever. A non-nil return means
// a transient failure after bounded retries.
func (w *Worker) processEntry(ctx context.Context, tenantID string, e stream.Entry) error {
	started := time.Now()
	defer func() {
		processingDuration.Observe(time.Since(started).Seconds())
	}()

	tr, err := parseEntry(tenantID, e)
	if err != nil {
		readsRejected.Inc()
		slog.Warn("dropping malformed entry", "org_id", tenantID, "entry_id", e.ID, "error", err)
		return nil
	}

	var applied bool
	err = w.policy.Do(ctx, func(ctx context.Context) error {
		var upsertErr error
		applied, upsertErr = w.sink.Upsert(ctx, *tr)
		return upsertErr
	})
	if err != nil {
		return fmt.Errorf("sink upsert: %w", err)
	}

	if !applied {
		readsDeduplicated.Inc()
		slog.Debug("duplicate read dropped by sink", "org_id", tenantID, "idem_key", tr.IdemKey)
		return nil
	}

	summary := read.Summary{
		ID:        uuid.NewString(),
		Type:      "rfid.read.summary",
		TenantID:  tr.TenantID,
		EPC:       tr.EPC,
		ReaderID:  tr.ReaderID,
		RSSI:      tr.RSSI,
		ReadAt:    tr.ReadAt,
		Timestamp: time.Now().UTC(),
	}
	err = w.policy.Do(ctx, func(ctx context.Context) error {
		return w.pub.Publish(ctx, summary)
	})
	if err != nil {
		// Fan-out is best-effort: the read is durably applied, so the
		// entry is still acked.
		publishErrors.Inc()
		slog.Error("summary publish failed", "org_id", tenantID, "idem_key", tr.IdemKey, "error", err)
	}

	readsProcessed.Inc()
	slog.Info("rfid read processed",
		"org_id", tr.TenantID, "epc", tr.EPC, "reader_id", tr.ReaderID,
		"antenna", tr.Antenna, "rssi", tr.RSSI, "idem_key", tr.IdemKey)
	return nil
}

// parseEntry extracts and validates a tag read from a raw log entry. Any
// failure here is permanent: redelivering the entry cannot fix its payload.
func parseEntry(tenantID string, e stream.Entry) (*read.TagRead, error) {
	raw, ok := e.Fields["event"]
	if !ok || raw == "" {
		return nil, fmt.Errorf("entry has no event field")
	}

	var env event.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("envelope has no data")
	}

	var data struct {
		EPC      string   `json:"epc"`
		ReaderID string   `json:"reader_id"`
		Antenna  *int     `json:"antenna"`
		RSSI     *float64 `json:"rssi"`
		ReaderTS string   `json:"reader_ts"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("unmarshal read data: %w", err)
	}
	if data.EPC == "" || data.ReaderID == "" || data.Antenna == nil || data.RSSI == nil || data.ReaderTS == "" {
		return nil, fmt.Errorf("missing required read fields")
	}
	if !validEPC(data.EPC) {
		return nil, fmt.Errorf("invalid epc %q", data.EPC)
	}

	readAt, err := time.Parse(time.RFC3339, data.ReaderTS)
	if err != nil {
		return nil, fmt.Errorf("invalid reader_ts %q: %w", data.ReaderTS, err)
	}

	epc := strings.ToUpper(data.EPC)
	return &read.TagRead{
		TenantID: tenantID,
		EPC:      epc,
		ReaderID: data.ReaderID,
		Antenna:  *data.Antenna,
		RSSI:     *data.RSSI,
		ReadAt:   readAt,
		IdemKey:  dedupe.Key(tenantID, epc, data.ReaderID, *data.Antenna, readAt),
	}, nil
}

// validEPC accepts hex strings of at least 8 characters.
func validEPC(epc string) bool {
	if len(epc) < 8 {
		return false
	}
	for _, c := range epc {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
