package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrInvalidPolicy   = errors.New("invalid tenant policy")
	ErrUnknownTimezone = errors.New("unknown timezone")
)

const FeatureBookings = "bookings"

// DayHours is one weekday of the working calendar. Start and End are local "HH:MM";
// End may be "24:00".
type DayHours struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Enabled bool   `json:"enabled"`
}

type Resource struct {
	ID       string `json:"resource_id"`
	Capacity int    `json:"capacity"`
}

// TenantPolicy is owned by the tenant-configuration service and is read-only here.
type TenantPolicy struct {
	TenantID                string              `json:"tenant_id"`
	Timezone                string              `json:"timezone"`
	WorkingHours            map[string]DayHours `json:"working_hours"`
	SlotDurationMinutes     int                 `json:"slot_duration_minutes"`
	BufferMinutes           int                 `json:"buffer_minutes"`
	MinAdvanceNoticeMinutes int                 `json:"min_advance_notice_minutes"`
	MaxAdvanceDays          int                 `json:"max_advance_days"`
	RequireApproval         bool                `json:"require_approval"`
	Resources               []Resource          `json:"resources"`
}

func (p TenantPolicy) SlotDuration() time.Duration {
	return time.Duration(p.SlotDurationMinutes) * time.Minute
}

func (p TenantPolicy) Buffer() time.Duration {
	return time.Duration(p.BufferMinutes) * time.Minute
}

// Resource returns the named resource, or the first one when id is empty.
func (p TenantPolicy) Resource(id string) (Resource, bool) {
	if id == "" {
		if len(p.Resources) == 0 {
			return Resource{}, false
		}
		return p.Resources[0], true
	}
	for _, r := range p.Resources {
		if r.ID == id {
			return r, true
		}
	}
	return Resource{}, false
}

// AdvanceBounds returns the earliest and latest allowed booking start relative to now.
// latest is zero when MaxAdvanceDays is 0 (no upper bound).
func (p TenantPolicy) AdvanceBounds(now time.Time) (earliest, latest time.Time) {
	earliest = now.Add(time.Duration(p.MinAdvanceNoticeMinutes) * time.Minute)
	if p.MaxAdvanceDays > 0 {
		latest = now.Add(time.Duration(p.MaxAdvanceDays) * 24 * time.Hour)
	}
	return earliest, latest
}

func (p TenantPolicy) Validate() error {
	if strings.TrimSpace(p.TenantID) == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidPolicy)
	}
	if _, err := LoadLocation(p.Timezone); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if p.SlotDurationMinutes < 0 || p.BufferMinutes < 0 || p.MinAdvanceNoticeMinutes < 0 || p.MaxAdvanceDays < 0 {
		return fmt.Errorf("%w: durations must be >= 0", ErrInvalidPolicy)
	}
	for day, h := range p.WorkingHours {
		if _, ok := weekdayByKey[strings.ToLower(day)]; !ok {
			return fmt.Errorf("%w: unknown weekday %q", ErrInvalidPolicy, day)
		}
		if !h.Enabled {
			continue
		}
		if _, err := parseClock(h.Start); err != nil {
			return fmt.Errorf("%w: %s start: %v", ErrInvalidPolicy, day, err)
		}
		if _, err := parseClock(h.End); err != nil {
			return fmt.Errorf("%w: %s end: %v", ErrInvalidPolicy, day, err)
		}
	}
	seen := map[string]struct{}{}
	for _, r := range p.Resources {
		if r.ID == "" {
			return fmt.Errorf("%w: resource_id is required", ErrInvalidPolicy)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate resource %q", ErrInvalidPolicy, r.ID)
		}
		if r.Capacity < 0 {
			return fmt.Errorf("%w: resource %q capacity must be >= 0", ErrInvalidPolicy, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
