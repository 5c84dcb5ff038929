package availability

import (
	"testing"
	"time"
)

func day(h, m int) time.Time {
	return time.Date(2026, 1, 5, h, m, 0, 0, time.UTC)
}

func TestCompute_FullWorkingDay(t *testing.T) {
	req := Request{
		Window:   Interval{Start: day(9, 0), End: day(17, 0)},
		Slot:     30 * time.Minute,
		Capacity: 1,
		Earliest: day(0, 0),
	}
	slots := Compute(req)
	if len(slots) != 16 {
		t.Fatalf("expected 16 slots, got %d", len(slots))
	}
	for i, s := range slots {
		if !s.Available {
			t.Fatalf("slot %d should be available: %+v", i, s)
		}
	}
	if !slots[15].End.Equal(day(17, 0)) {
		t.Fatalf("last slot should end at 17:00, got %s", slots[15].End)
	}

	req.Busy = []Interval{{Start: day(9, 0), End: day(9, 30)}}
	slots = Compute(req)
	if slots[0].Available || slots[0].Reason != ReasonFull || slots[0].Occupancy != 1 {
		t.Fatalf("09:00 should be full, got %+v", slots[0])
	}
	if !slots[1].Available {
		t.Fatalf("09:30 should stay available with no buffer: %+v", slots[1])
	}
}

func TestCompute_PartialSlotDropped(t *testing.T) {
	slots := Compute(Request{
		Window:   Interval{Start: day(9, 0), End: day(10, 10)},
		Slot:     30 * time.Minute,
		Capacity: 1,
	})
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
}

func TestCompute_AdvanceBounds(t *testing.T) {
	slots := Compute(Request{
		Window:   Interval{Start: day(9, 0), End: day(11, 0)},
		Slot:     30 * time.Minute,
		Capacity: 1,
		Earliest: day(9, 30),
		Latest:   day(10, 0),
	})
	want := []string{ReasonAdvanceNotice, "", "", ReasonAdvanceWindow}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(slots))
	}
	for i, reason := range want {
		if slots[i].Reason != reason || slots[i].Available != (reason == "") {
			t.Fatalf("slot %d: got available=%v reason=%q, want reason %q", i, slots[i].Available, slots[i].Reason, reason)
		}
	}
}

func TestCompute_BufferBlocksNeighbours(t *testing.T) {
	busy := []Interval{{Start: day(10, 0), End: day(10, 30)}}
	slots := Compute(Request{
		Window:   Interval{Start: day(9, 0), End: day(12, 0)},
		Slot:     30 * time.Minute,
		Buffer:   15 * time.Minute,
		Capacity: 1,
		Busy:     busy,
	})
	// 09:30 and 10:30 touch the busy booking once both sides carry 15 minutes of buffer.
	for i, s := range slots {
		full := s.Start.Equal(day(9, 30)) || s.Start.Equal(day(10, 0)) || s.Start.Equal(day(10, 30))
		if s.Available == full {
			t.Fatalf("slot %d (%s): available=%v", i, s.Start.Format("15:04"), s.Available)
		}
	}
}

func TestCompute_CapacityTwo(t *testing.T) {
	busy := []Interval{{Start: day(9, 0), End: day(9, 30)}}
	slots := Compute(Request{
		Window:   Interval{Start: day(9, 0), End: day(10, 0)},
		Slot:     30 * time.Minute,
		Capacity: 2,
		Busy:     busy,
	})
	if !slots[0].Available || slots[0].Occupancy != 1 || slots[0].Capacity != 2 {
		t.Fatalf("unexpected first slot %+v", slots[0])
	}
}

func TestCompute_EmptyInputs(t *testing.T) {
	if got := Compute(Request{Window: Interval{Start: day(9, 0), End: day(17, 0)}}); len(got) != 0 {
		t.Fatalf("zero slot duration should yield nothing, got %d", len(got))
	}
	if got := Compute(Request{Window: Interval{Start: day(17, 0), End: day(9, 0)}, Slot: time.Hour}); len(got) != 0 {
		t.Fatalf("inverted window should yield nothing, got %d", len(got))
	}
}

func TestSlots_StopsEarly(t *testing.T) {
	n := 0
	for range Slots(Request{Window: Interval{Start: day(9, 0), End: day(17, 0)}, Slot: 30 * time.Minute, Capacity: 1}) {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Fatalf("expected to stop after 3, got %d", n)
	}
}

func TestQueryRange(t *testing.T) {
	r := QueryRange(Interval{Start: day(9, 0), End: day(17, 0)}, 10*time.Minute)
	if !r.Start.Equal(day(8, 40)) || !r.End.Equal(day(17, 20)) {
		t.Fatalf("unexpected range %s - %s", r.Start, r.End)
	}
}

func TestCountOverlapping_HalfOpen(t *testing.T) {
	busy := []Interval{{Start: day(9, 0), End: day(9, 30)}}
	if n := CountOverlapping(Interval{Start: day(9, 30), End: day(10, 0)}, busy, 0); n != 0 {
		t.Fatalf("adjacent intervals must not overlap, got %d", n)
	}
	if n := CountOverlapping(Interval{Start: day(9, 29), End: day(10, 0)}, busy, 0); n != 1 {
		t.Fatalf("expected overlap, got %d", n)
	}
}
