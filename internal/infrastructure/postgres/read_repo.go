package postgres

import (
	"context"
	"fmt"

	"github.com/ioriimasu34/weft/internal/domain/read"

	"github.com/jackc/pgx/v5/pgxpool"
)

type ReadRepository struct {
	pool *pgxpool.Pool
}

func NewReadRepository(pool *pgxpool.Pool) *ReadRepository {
	return &ReadRepository{pool: pool}
}

// Upsert inserts a tag read keyed by its idempotency key. Returns true if the
// row was applied and false if a read with the same key was already present;
// redelivered entries are therefore safe to reapply.
func (r *ReadRepository) Upsert(ctx context.Context, tr read.TagRead) (bool, error) {
	const sql = `
		INSERT INTO rfid_reads (org_id, epc, reader_id, antenna, rssi, read_at, idem_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (idem_key) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, sql,
		tr.TenantID, tr.EPC, tr.ReaderID, tr.Antenna, tr.RSSI, tr.ReadAt, tr.IdemKey)
	if err != nil {
		return false, fmt.Errorf("upsert rfid read: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}
