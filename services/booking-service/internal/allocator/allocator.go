// Package allocator holds per-slot occupancy counters bounded by resource capacity.
//
// Every mutation is a single conditional statement against the backing store, so
// concurrent callers on any number of instances never both observe spare capacity
// for the last unit.
package allocator

import (
	"context"
	"fmt"
	"time"
)

type Key struct {
	TenantID   string
	ResourceID string
	SlotStart  time.Time
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TenantID, k.ResourceID, k.SlotStart.UTC().Format(time.RFC3339))
}

// Allocator implementations fail closed: when the store errors, Acquire reports false.
// Count is read-only and only used for diagnostics.
type Allocator interface {
	Acquire(ctx context.Context, key Key, capacity int) (bool, error)
	Release(ctx context.Context, key Key) (bool, error)
	Count(ctx context.Context, key Key) (int, error)
}

var (
	_ Allocator = (*Postgres)(nil)
	_ Allocator = (*Redis)(nil)
)
