package availability

import (
	"iter"
	"slices"
	"time"
)

// Reasons a slot is reported unavailable.
const (
	ReasonAdvanceNotice = "advance_notice"
	ReasonAdvanceWindow = "advance_window"
	ReasonFull          = "full"
)

// Interval is half-open: [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Expand widens the interval by d on both sides.
func (i Interval) Expand(d time.Duration) Interval {
	return Interval{Start: i.Start.Add(-d), End: i.End.Add(d)}
}

type Slot struct {
	Start     time.Time
	End       time.Time
	Available bool
	Capacity  int
	Occupancy int
	Reason    string
}

// Request describes one resource on one working day. All times are UTC.
type Request struct {
	Window   Interval
	Slot     time.Duration
	Buffer   time.Duration
	Capacity int
	// Earliest and Latest bound slot starts, inclusive. A zero Latest means unbounded.
	Earliest time.Time
	Latest   time.Time
	// Busy holds the non-cancelled bookings returned by QueryRange.
	Busy []Interval
}

// QueryRange is the single range the busy query must cover so that buffer-expanded
// overlaps at the window edges are counted.
func QueryRange(window Interval, buffer time.Duration) Interval {
	return window.Expand(2 * buffer)
}

// CountOverlapping counts busy intervals whose buffer-expanded window intersects the
// buffer-expanded candidate.
func CountOverlapping(candidate Interval, busy []Interval, buffer time.Duration) int {
	c := candidate.Expand(buffer)
	n := 0
	for _, b := range busy {
		if c.Overlaps(b.Expand(buffer)) {
			n++
		}
	}
	return n
}

// Slots yields consecutive slots that fit entirely inside the window. The sequence is
// restartable and yields the same slots for the same Request.
func Slots(req Request) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		if req.Slot <= 0 || !req.Window.End.After(req.Window.Start) {
			return
		}
		for s := req.Window.Start; !s.Add(req.Slot).After(req.Window.End); s = s.Add(req.Slot) {
			slot := Slot{Start: s, End: s.Add(req.Slot), Capacity: req.Capacity}
			slot.Occupancy = CountOverlapping(Interval{Start: slot.Start, End: slot.End}, req.Busy, req.Buffer)
			switch {
			case s.Before(req.Earliest):
				slot.Reason = ReasonAdvanceNotice
			case !req.Latest.IsZero() && s.After(req.Latest):
				slot.Reason = ReasonAdvanceWindow
			case slot.Occupancy >= req.Capacity:
				slot.Reason = ReasonFull
			default:
				slot.Available = true
			}
			if !yield(slot) {
				return
			}
		}
	}
}

func Compute(req Request) []Slot {
	return slices.Collect(Slots(req))
}
