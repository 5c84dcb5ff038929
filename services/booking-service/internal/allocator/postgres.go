package allocator

import (
	"context"

	"github.com/md-rashed-zaman/tenantbook/libs/db"
)

// Postgres keeps counters in slot_counters, primary key (tenant_id, resource_id, slot_start).
type Postgres struct {
	pool *db.Pool
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// acquireSQL inserts the row at count 1 or increments it while count < capacity. When
// the WHERE clause rejects the update no row is returned.
const acquireSQL = `
	INSERT INTO slot_counters (tenant_id, resource_id, slot_start, count)
	VALUES ($1, $2, $3, 1)
	ON CONFLICT (tenant_id, resource_id, slot_start)
	DO UPDATE SET count = slot_counters.count + 1,
	              updated_at = now()
	WHERE slot_counters.count < $4
	RETURNING count
`

const releaseSQL = `
	UPDATE slot_counters
	SET count = count - 1,
		updated_at = now()
	WHERE tenant_id = $1
	  AND resource_id = $2
	  AND slot_start = $3
	  AND count > 0
`

const countSQL = `
	SELECT count FROM slot_counters
	WHERE tenant_id = $1 AND resource_id = $2 AND slot_start = $3
`

func (a *Postgres) Acquire(ctx context.Context, key Key, capacity int) (bool, error) {
	if capacity <= 0 {
		return false, nil
	}
	var count int
	err := a.pool.QueryRow(ctx, acquireSQL, key.TenantID, key.ResourceID, key.SlotStart.UTC(), capacity).Scan(&count)
	if err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *Postgres) Release(ctx context.Context, key Key) (bool, error) {
	tag, err := a.pool.Exec(ctx, releaseSQL, key.TenantID, key.ResourceID, key.SlotStart.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (a *Postgres) Count(ctx context.Context, key Key) (int, error) {
	var count int
	err := a.pool.QueryRow(ctx, countSQL, key.TenantID, key.ResourceID, key.SlotStart.UTC()).Scan(&count)
	if db.IsNoRows(err) {
		return 0, nil
	}
	return count, err
}
