package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ioriimasu34/weft/internal/domain/read"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DeviceRepository struct {
	pool *pgxpool.Pool
}

func NewDeviceRepository(pool *pgxpool.Pool) *DeviceRepository {
	return &DeviceRepository{pool: pool}
}

func (r *DeviceRepository) GetByDeviceID(ctx context.Context, deviceID string) (*read.Reader, error) {
	const sql = `
		SELECT id, device_id, org_id, api_key_hash, status, COALESCE(last_seen_at, 'epoch'::timestamptz)
		FROM readers
		WHERE device_id = $1
	`

	rd := &read.Reader{}
	err := r.pool.QueryRow(ctx, sql, deviceID).Scan(
		&rd.ID, &rd.DeviceID, &rd.TenantID, &rd.APIKeyHash, &rd.Status, &rd.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, read.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query reader %s: %w", deviceID, err)
	}

	return rd, nil
}

func (r *DeviceRepository) TouchLastSeen(ctx context.Context, readerID string) error {
	const sql = `UPDATE readers SET last_seen_at = NOW() WHERE id = $1`

	if _, err := r.pool.Exec(ctx, sql, readerID); err != nil {
		return fmt.Errorf("touch reader %s: %w", readerID, err)
	}
	return nil
}

func (r *DeviceRepository) UpdateHeartbeat(ctx context.Context, readerID, status string, metadata []byte) error {
	const sql = `
		UPDATE readers
		SET status = $2, metadata = COALESCE($3, metadata), last_seen_at = NOW()
		WHERE id = $1
	`

	if _, err := r.pool.Exec(ctx, sql, readerID, status, nullIfEmptyBytes(metadata)); err != nil {
		return fmt.Errorf("update heartbeat %s: %w", readerID, err)
	}
	return nil
}

func nullIfEmptyBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
