package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ioriimasu34/weft/internal/api/middleware"
	"github.com/ioriimasu34/weft/internal/domain/event"
	"github.com/ioriimasu34/weft/internal/domain/read"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_rfid_reads_accepted_total",
		Help: "The total number of RFID reads accepted onto the log",
	})
	readsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_rfid_reads_rejected_total",
		Help: "The total number of RFID reads rejected at the edge",
	})
)

// Appender is the log-facing slice of the stream contract the gateway needs.
type Appender interface {
	Append(ctx context.Context, tenantID string, fields map[string]string) (string, error)
}

type DeviceStore interface {
	GetByDeviceID(ctx context.Context, deviceID string) (*read.Reader, error)
	TouchLastSeen(ctx context.Context, readerID string) error
	UpdateHeartbeat(ctx context.Context, readerID, status string, metadata []byte) error
}

type Handlers struct {
	log     Appender
	devices DeviceStore
	checks  map[string]func(ctx context.Context) error
	version string
	started time.Time
}

func NewHandlers(log Appender, devices DeviceStore, checks map[string]func(ctx context.Context) error, version string) *Handlers {
	return &Handlers{
		log:     log,
		devices: devices,
		checks:  checks,
		version: version,
		started: time.Now(),
	}
}

// IngestRead accepts an authenticated read envelope and appends it to the
// tenant's partition. A 202 means the event is durably queued, not that
// downstream processing has completed. The gateway does no dedup of its own;
// client retries are resolved by the worker's idempotency key.
func (h *Handlers) IngestRead(w http.ResponseWriter, r *http.Request) {
	rd := middleware.ReaderFrom(r.Context())
	if rd == nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	var env event.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		readsRejected.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_envelope"})
		return
	}
	if err := env.Validate(); err != nil {
		readsRejected.Inc()
		slog.Warn("invalid envelope", "device_id", rd.DeviceID, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_envelope"})
		return
	}

	// Last-seen bookkeeping is best-effort and must not fail the ingest.
	if err := h.devices.TouchLastSeen(r.Context(), rd.ID); err != nil {
		slog.Error("failed to touch reader last seen", "reader_id", rd.ID, "error", err)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	seqID, err := h.log.Append(r.Context(), rd.TenantID, map[string]string{
		"event":       string(payload),
		"device_id":   rd.DeviceID,
		"timestamp":   r.Header.Get(middleware.HeaderTimestamp),
		"received_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		slog.Error("failed to append read", "org_id", rd.TenantID, "device_id", rd.DeviceID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	readsAccepted.Inc()
	slog.Info("rfid read ingested",
		"org_id", rd.TenantID, "device_id", rd.DeviceID, "event_id", env.ID, "sequence_id", seqID)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message":     "accepted",
		"sequence_id": seqID,
		"org_id":      rd.TenantID,
	})
}

func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string          `json:"device_id"`
		Status   string          `json:"status"`
		Metadata json.RawMessage `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if !read.ValidStatus(req.Status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_status"})
		return
	}

	rd, err := h.devices.GetByDeviceID(r.Context(), req.DeviceID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "reader_not_found"})
		return
	}

	if err := h.devices.UpdateHeartbeat(r.Context(), rd.ID, req.Status, req.Metadata); err != nil {
		slog.Error("failed to update heartbeat", "reader_id", rd.ID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	slog.Info("reader heartbeat updated", "device_id", req.DeviceID, "status", req.Status)
	writeJSON(w, http.StatusOK, map[string]string{"message": "heartbeat updated"})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	ok := true
	services := make(map[string]bool, len(h.checks))
	for name, check := range h.checks {
		err := check(ctx)
		services[name] = err == nil
		if err != nil {
			ok = false
		}
	}

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"ok":       ok,
		"version":  h.version,
		"uptime":   time.Since(h.started).Seconds(),
		"services": services,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
