package policy

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

var weekdayByKey = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var locations sync.Map // zone name -> *time.Location

// LoadLocation caches time.LoadLocation results; an empty name means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	if v, ok := locations.Load(name); ok {
		return v.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	locations.Store(name, loc)
	return loc, nil
}

// Date is a tenant-local calendar date.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// DateOf is the local calendar date of instant in loc.
func DateOf(instant time.Time, loc *time.Location) Date {
	y, m, d := instant.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Weekday()
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// WeekdayKey is the lower-case English weekday name of instant in the given zone.
func WeekdayKey(instant time.Time, timezone string) (string, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return "", err
	}
	return weekdayKey(instant.In(loc).Weekday()), nil
}

func weekdayKey(wd time.Weekday) string {
	return strings.ToLower(wd.String())
}

// LocalToUTC converts a wall-clock time in timezone to an absolute instant.
//
// The offset is sampled once, at the instant obtained by reading the wall clock as UTC.
// Around a DST transition this can be off by the transition delta; slots are coarse
// enough that a single pass is accepted.
func LocalToUTC(year int, month time.Month, day, hour, minute int, timezone string) (time.Time, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}
	return localToUTC(year, month, day, hour, minute, loc), nil
}

func localToUTC(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	guess := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
	_, offset := guess.In(loc).Zone()
	return guess.Add(-time.Duration(offset) * time.Second)
}

type Window struct {
	Start time.Time
	End   time.Time
}

// WorkingWindow returns the UTC working interval for a local date. ok is false when the
// weekday is absent, disabled, or has end <= start.
func WorkingWindow(date Date, timezone string, hours map[string]DayHours) (Window, bool, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return Window{}, false, err
	}
	h, found := lookupDay(hours, date.Weekday())
	if !found || !h.Enabled {
		return Window{}, false, nil
	}
	start, err := parseClock(h.Start)
	if err != nil {
		return Window{}, false, fmt.Errorf("%w: start: %v", ErrInvalidPolicy, err)
	}
	end, err := parseClock(h.End)
	if err != nil {
		return Window{}, false, fmt.Errorf("%w: end: %v", ErrInvalidPolicy, err)
	}
	if end <= start {
		return Window{}, false, nil
	}
	w := Window{
		Start: localToUTC(date.Year, date.Month, date.Day, start/60, start%60, loc),
		End:   localToUTC(date.Year, date.Month, date.Day, end/60, end%60, loc),
	}
	if !w.End.After(w.Start) {
		return Window{}, false, nil
	}
	return w, true, nil
}

func lookupDay(hours map[string]DayHours, wd time.Weekday) (DayHours, bool) {
	key := weekdayKey(wd)
	if h, ok := hours[key]; ok {
		return h, true
	}
	// Tolerate "Monday"-style keys from hand-written configs.
	for k, h := range hours {
		if strings.EqualFold(k, key) {
			return h, true
		}
	}
	return DayHours{}, false
}

// parseClock returns minutes since midnight for "HH:MM" (00:00..24:00).
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || len(mm) != 2 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	return h*60 + m, nil
}

// SlotStart rounds instant down onto the slot grid anchored at windowStart. With no
// slot duration the instant is truncated to the minute.
func SlotStart(instant, windowStart time.Time, slot time.Duration) time.Time {
	if slot <= 0 {
		return instant.UTC().Truncate(time.Minute)
	}
	diff := instant.Sub(windowStart)
	n := diff / slot
	if diff < 0 && diff%slot != 0 {
		n--
	}
	return windowStart.Add(n * slot).UTC()
}
