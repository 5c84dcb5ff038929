package storage

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
)

func TestListQuery(t *testing.T) {
	from := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	q, args := listQuery("acme", model.ListFilter{
		ResourceID: "room-1",
		Status:     model.StatusConfirmed,
		From:       from,
		To:         from.Add(24 * time.Hour),
		Limit:      10,
	})
	for _, want := range []string{"tenant_id = $1", "resource_id = $2", "status = $3", "start_time < $4", "end_time > $5", "LIMIT $6"} {
		if !strings.Contains(q, want) {
			t.Fatalf("query missing %q:\n%s", want, q)
		}
	}
	if len(args) != 6 || args[5] != 10 {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestListQuery_Defaults(t *testing.T) {
	q, args := listQuery("acme", model.ListFilter{})
	if !strings.Contains(q, "LIMIT $2") || strings.Contains(q, "status =") {
		t.Fatalf("unexpected query:\n%s", q)
	}
	if args[1] != booking.DefaultListLimit {
		t.Fatalf("expected default limit, got %v", args[1])
	}
}

func TestNotFoundWrapsSentinel(t *testing.T) {
	if err := notFound("x"); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEncodeMetadata(t *testing.T) {
	raw, err := encodeMetadata(nil)
	if err != nil || string(raw) != "{}" {
		t.Fatalf("nil metadata should encode as {}, got %q %v", raw, err)
	}
	raw, err = encodePayment(nil)
	if err != nil || raw != nil {
		t.Fatalf("nil payment should encode as NULL, got %q %v", raw, err)
	}
}

func TestClaimIdempotencyStatement(t *testing.T) {
	for _, want := range []string{"booking_idempotency_keys", "ON CONFLICT (tenant_id, idempotency_key) DO NOTHING"} {
		if !strings.Contains(claimIdempotencySQL, want) {
			t.Fatalf("claim statement is missing %q", want)
		}
	}
}
