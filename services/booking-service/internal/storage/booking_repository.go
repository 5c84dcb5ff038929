package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/tenantbook/libs/db"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/outbox"
)

const bookingColumns = `id::text, tenant_id, resource_id, start_time, end_time, slot_start,
	user_name, user_email, COALESCE(user_phone, ''), status, source, payment, metadata, created_at, updated_at`

// BookingRepository stores bookings in PostgreSQL. Every state change writes its outbox
// event in the same transaction.
type BookingRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewBookingRepository(pool *db.Pool, outboxRepo *outbox.Repository) *BookingRepository {
	return &BookingRepository{pool: pool, outbox: outboxRepo}
}

var _ booking.Store = (*BookingRepository)(nil)

// claimIdempotencySQL takes the key for the booking being inserted. No row affected
// means a committed booking already holds it.
const claimIdempotencySQL = `
	INSERT INTO booking_idempotency_keys (tenant_id, idempotency_key, booking_id)
	VALUES ($1, $2, $3)
	ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
`

func (r *BookingRepository) Create(ctx context.Context, b model.Booking, idempotencyKey string) (model.Booking, error) {
	payment, err := encodePayment(b.Payment)
	if err != nil {
		return model.Booking{}, err
	}
	metadata, err := encodeMetadata(b.Metadata)
	if err != nil {
		return model.Booking{}, err
	}
	evt, err := outbox.BookingEvent(outbox.EventBookingCreated, b, b.CreatedAt)
	if err != nil {
		return model.Booking{}, err
	}

	err = r.pool.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO bookings
				(id, tenant_id, resource_id, start_time, end_time, slot_start, user_name, user_email, user_phone,
				 status, source, payment, metadata, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12, $13, $14, $15)
		`, b.ID, b.TenantID, b.ResourceID, b.Start, b.End, b.SlotStart, b.User.Name, b.User.Email, b.User.Phone,
			string(b.Status), string(b.Source), payment, metadata, b.CreatedAt, b.UpdatedAt)
		if err != nil {
			return err
		}
		if idempotencyKey != "" {
			tag, err := tx.Exec(ctx, claimIdempotencySQL, b.TenantID, idempotencyKey, b.ID)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return booking.ErrIdempotencyKeyUsed
			}
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
	if err != nil {
		if errors.Is(err, booking.ErrIdempotencyKeyUsed) {
			return model.Booking{}, err
		}
		if db.IsUniqueViolation(err) {
			return model.Booking{}, fmt.Errorf("%w: booking %s already exists", booking.ErrValidation, b.ID)
		}
		return model.Booking{}, err
	}
	return b, nil
}

func (r *BookingRepository) Get(ctx context.Context, tenantID, id string) (model.Booking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Booking{}, notFound(id)
	}
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
	if err != nil {
		if db.IsNoRows(err) {
			return model.Booking{}, notFound(id)
		}
		return model.Booking{}, err
	}
	return b, nil
}

func (r *BookingRepository) FindByIdempotencyKey(ctx context.Context, tenantID, key string) (model.Booking, bool, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE tenant_id = $1
			AND id = (
				SELECT booking_id FROM booking_idempotency_keys
				WHERE tenant_id = $1 AND idempotency_key = $2
			)
	`, tenantID, key))
	if err != nil {
		if db.IsNoRows(err) {
			return model.Booking{}, false, nil
		}
		return model.Booking{}, false, err
	}
	return b, true, nil
}

// Cancel only touches rows that are not cancelled yet, so of two racing cancels exactly
// one reports changed.
func (r *BookingRepository) Cancel(ctx context.Context, tenantID, id, reason string, at time.Time) (model.Booking, bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Booking{}, false, notFound(id)
	}
	patch := map[string]string{"cancelled_at": at.UTC().Format(time.RFC3339)}
	if reason != "" {
		patch["cancel_reason"] = reason
	}
	metadata, err := encodeMetadata(patch)
	if err != nil {
		return model.Booking{}, false, err
	}
	return r.transition(ctx, tenantID, id, outbox.EventBookingCancelled, at, `
		UPDATE bookings
		SET status = 'cancelled',
			metadata = metadata || $4::jsonb,
			updated_at = $3
		WHERE tenant_id = $1 AND id = $2 AND status <> 'cancelled'
		RETURNING `+bookingColumns, metadata)
}

func (r *BookingRepository) Confirm(ctx context.Context, tenantID, id string, at time.Time) (model.Booking, bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Booking{}, false, notFound(id)
	}
	return r.transition(ctx, tenantID, id, outbox.EventBookingConfirmed, at, `
		UPDATE bookings
		SET status = 'confirmed',
			updated_at = $3
		WHERE tenant_id = $1 AND id = $2 AND status = 'pending'
		RETURNING `+bookingColumns)
}

// transition runs a conditional status update with args $1=tenant, $2=id, $3=at, then
// extra. When the WHERE clause rejects the row the current booking is returned with
// changed=false and no event is written.
func (r *BookingRepository) transition(ctx context.Context, tenantID, id, eventType string, at time.Time, query string, extra ...any) (model.Booking, bool, error) {
	args := append([]any{tenantID, id, at}, extra...)
	var (
		out     model.Booking
		changed bool
	)
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		b, err := scanBooking(tx.QueryRow(ctx, query, args...))
		switch {
		case err == nil:
			evt, err := outbox.BookingEvent(eventType, b, at)
			if err != nil {
				return err
			}
			if err := r.outbox.Insert(ctx, tx, evt); err != nil {
				return err
			}
			out, changed = b, true
			return nil
		case db.IsNoRows(err):
		default:
			return err
		}

		b, err = scanBooking(tx.QueryRow(ctx, `
			SELECT `+bookingColumns+`
			FROM bookings
			WHERE tenant_id = $1 AND id = $2
		`, tenantID, id))
		if err != nil {
			if db.IsNoRows(err) {
				return notFound(id)
			}
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return model.Booking{}, false, err
	}
	return out, changed, nil
}

func (r *BookingRepository) ListActiveOverlapping(ctx context.Context, tenantID, resourceID string, from, to time.Time) ([]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM bookings
		WHERE tenant_id = $1
			AND resource_id = $2
			AND status <> 'cancelled'
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, tenantID, resourceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *BookingRepository) List(ctx context.Context, tenantID string, f model.ListFilter) ([]model.Booking, error) {
	query, args := listQuery(tenantID, f)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// listQuery filters on overlap with [From, To) when either bound is set.
func listQuery(tenantID string, f model.ListFilter) (string, []any) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ResourceID != "" {
		add("resource_id = $%d", f.ResourceID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.To.IsZero() {
		add("start_time < $%d", f.To)
	}
	if !f.From.IsZero() {
		add("end_time > $%d", f.From)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = booking.DefaultListLimit
	}
	args = append(args, limit)
	return fmt.Sprintf(`
		SELECT %s
		FROM bookings
		WHERE %s
		ORDER BY start_time ASC, id ASC
		LIMIT $%d
	`, bookingColumns, strings.Join(where, " AND "), len(args)), args
}

func scanBooking(row pgx.Row) (model.Booking, error) {
	var (
		b                 model.Booking
		status, source    string
		payment, metadata []byte
	)
	if err := row.Scan(
		&b.ID,
		&b.TenantID,
		&b.ResourceID,
		&b.Start,
		&b.End,
		&b.SlotStart,
		&b.User.Name,
		&b.User.Email,
		&b.User.Phone,
		&status,
		&source,
		&payment,
		&metadata,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return model.Booking{}, err
	}
	b.Status = model.Status(status)
	b.Source = model.Source(source)
	if len(payment) > 0 {
		var p model.Payment
		if err := json.Unmarshal(payment, &p); err != nil {
			return model.Booking{}, fmt.Errorf("decode payment: %w", err)
		}
		b.Payment = &p
	}
	b.Metadata = map[string]string{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &b.Metadata); err != nil {
			return model.Booking{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	b.Start, b.End, b.SlotStart = b.Start.UTC(), b.End.UTC(), b.SlotStart.UTC()
	return b, nil
}

func encodePayment(p *model.Payment) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func notFound(id string) error {
	return fmt.Errorf("%w: booking %s", booking.ErrNotFound, id)
}
