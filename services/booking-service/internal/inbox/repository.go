// Package inbox remembers which broker events have been applied, keyed by event id.
package inbox

import (
	"context"

	"github.com/md-rashed-zaman/tenantbook/libs/db"
)

const seenSQL = `SELECT EXISTS (SELECT 1 FROM inbox_events WHERE event_id = $1)`

// markAppliedSQL is a no-op when a concurrent delivery already recorded the event.
const markAppliedSQL = `
	INSERT INTO inbox_events (event_id, event_type)
	VALUES ($1, $2)
	ON CONFLICT (event_id) DO NOTHING
`

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	if err := r.pool.QueryRow(ctx, seenSQL, eventID).Scan(&seen); err != nil {
		return false, err
	}
	return seen, nil
}

// MarkApplied is called once the event's handler has succeeded. It reports false when
// the event was already recorded.
func (r *Repository) MarkApplied(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := r.pool.Exec(ctx, markAppliedSQL, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
