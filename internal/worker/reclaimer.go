package worker

import (
	"context"
	"log/slog"
	"time"
)

// runReclaimer periodically sweeps every partition for entries claimed longer
// than the idle threshold without an ack, takes them over and pushes them back
// through the normal processing path. This is how a worker crash mid-entry is
// recovered. The per-scan limit keeps a reclaim storm from starving fresh
// reads.
func (w *Worker) runReclaimer(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reclaimOnce(ctx)
		}
	}
}

func (w *Worker) reclaimOnce(ctx context.Context) {
	tenants, err := w.log.Discover(ctx)
	if err != nil {
		slog.Error("reclaim discovery failed", "error", err)
		return
	}

	for _, tenantID := range tenants {
		pending, err := w.log.Pending(ctx, tenantID, w.cfg.Group, w.cfg.ReclaimIdle, w.cfg.ReclaimLimit)
		if err != nil {
			slog.Error("pending scan failed", "org_id", tenantID, "error", err)
			continue
		}
		if len(pending) == 0 {
			continue
		}

		ids := make([]string, 0, len(pending))
		for _, p := range pending {
			ids = append(ids, p.ID)
		}

		entries, err := w.log.Claim(ctx, tenantID, w.cfg.Group, w.cfg.Consumer, w.cfg.ReclaimIdle, ids)
		if err != nil {
			slog.Error("claim failed", "org_id", tenantID, "error", err)
			continue
		}

		slog.Info("reclaiming stuck entries", "org_id", tenantID, "count", len(entries))

		for _, e := range entries {
			if err := w.processEntry(ctx, tenantID, e); err != nil {
				slog.Error("reclaimed entry left pending", "org_id", tenantID, "entry_id", e.ID, "error", err)
				continue
			}
			if err := w.log.Ack(ctx, tenantID, w.cfg.Group, e.ID); err != nil {
				slog.Error("reclaimed entry ack failed", "org_id", tenantID, "entry_id", e.ID, "error", err)
				continue
			}
			entriesReclaimed.Inc()
		}
	}
}
