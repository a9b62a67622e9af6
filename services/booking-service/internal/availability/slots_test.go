package availability

import (
	"testing"
	"time"

	"github.com/bolttesting/bookly/libs/clock"
)

func mustClock(t *testing.T, s string) clock.TimeOfDay {
	t.Helper()
	v, err := clock.ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

// nextMonday returns a Monday far enough in the future that "now" filtering
// never interferes unless a test wants it to.
func nextMonday() time.Time {
	d := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC) // a Monday
	return d
}

func openDay(t *testing.T, open, close string) DaySnapshot {
	t.Helper()
	return DaySnapshot{
		Hours: &DayHours{
			Weekday: time.Monday,
			Open:    mustClock(t, open),
			Close:   mustClock(t, close),
		},
	}
}

func starts(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Start.String())
	}
	return out
}

func TestComputeSlots_FullOpenDay(t *testing.T) {
	// Mon 09:00-18:00, 60min/0 buffer/capacity 1, no bookings: 09:00..17:00.
	snap := openDay(t, "09:00", "18:00")
	svc := ServiceConfig{DurationMins: 60, Capacity: 1}
	day := nextMonday()

	slots := ComputeSlots(snap, svc, day, day.AddDate(0, 0, -7))
	if len(slots) != 9 {
		t.Fatalf("expected 9 slots, got %d: %v", len(slots), starts(slots))
	}
	if slots[0].Start.String() != "09:00" {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Start)
	}
	if slots[8].Start.String() != "17:00" {
		t.Fatalf("expected last slot 17:00, got %s", slots[8].Start)
	}
}

func TestComputeSlots_SlotBlockRemovesTime(t *testing.T) {
	snap := openDay(t, "09:00", "18:00")
	snap.Blocked = map[clock.TimeOfDay]bool{mustClock(t, "12:00"): true}
	svc := ServiceConfig{DurationMins: 60, Capacity: 1}
	day := nextMonday()

	slots := ComputeSlots(snap, svc, day, day.AddDate(0, 0, -7))
	if len(slots) != 8 {
		t.Fatalf("expected 8 slots, got %d: %v", len(slots), starts(slots))
	}
	for _, s := range slots {
		if s.Start.String() == "12:00" {
			t.Fatalf("blocked 12:00 slot still present")
		}
	}
}

func TestComputeSlots_SingleSeatBookedSlotOmitted(t *testing.T) {
	snap := openDay(t, "09:00", "18:00")
	snap.BookedAt = map[clock.TimeOfDay]int{mustClock(t, "10:00"): 1}
	svc := ServiceConfig{DurationMins: 60, Capacity: 1}
	day := nextMonday()

	slots := ComputeSlots(snap, svc, day, day.AddDate(0, 0, -7))
	if len(slots) != 8 {
		t.Fatalf("expected 8 slots, got %d: %v", len(slots), starts(slots))
	}
	for _, s := range slots {
		if s.Start.String() == "10:00" {
			t.Fatalf("fully booked single-seat 10:00 slot still present")
		}
	}
}

func TestComputeSlots_CapacityArithmetic(t *testing.T) {
	// Capacity 3 with 2 bookings: available 1. With 3: available 0 but the
	// slot stays visible for group services.
	day := nextMonday()
	svc := ServiceConfig{DurationMins: 60, Capacity: 3}

	snap := openDay(t, "09:00", "12:00")
	snap.BookedAt = map[clock.TimeOfDay]int{
		mustClock(t, "09:00"): 2,
		mustClock(t, "10:00"): 3,
	}

	slots := ComputeSlots(snap, svc, day, day.AddDate(0, 0, -7))
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d: %v", len(slots), starts(slots))
	}
	if slots[0].Available != 1 || slots[0].Booked != 2 {
		t.Fatalf("09:00: expected available=1 booked=2, got available=%d booked=%d", slots[0].Available, slots[0].Booked)
	}
	if slots[1].Available != 0 || slots[1].Booked != 3 {
		t.Fatalf("10:00: expected available=0 booked=3, got available=%d booked=%d", slots[1].Available, slots[1].Booked)
	}
	if slots[2].Available != 3 {
		t.Fatalf("11:00: expected available=3, got %d", slots[2].Available)
	}
}

func TestComputeSlots_OverbookedNeverNegative(t *testing.T) {
	snap := openDay(t, "09:00", "11:00")
	snap.BookedAt = map[clock.TimeOfDay]int{mustClock(t, "09:00"): 5}
	svc := ServiceConfig{DurationMins: 60, Capacity: 2}
	day := nextMonday()

	slots := ComputeSlots(snap, svc, day, day.AddDate(0, 0, -7))
	if slots[0].Available != 0 {
		t.Fatalf("expected available clamped to 0, got %d", slots[0].Available)
	}
}

func TestComputeSlots_OffDayWinsOverEverything(t *testing.T) {
	snap := openDay(t, "09:00", "18:00")
	snap.OffDay = true
	snap.ServiceHasSchedule = true
	snap.ServiceWindows = []Window{{Start: mustClock(t, "09:00"), End: mustClock(t, "11:00")}}
	day := nextMonday()

	slots := ComputeSlots(snap, ServiceConfig{DurationMins: 60, Capacity: 1}, day, day.AddDate(0, 0, -7))
	if len(slots) != 0 {
		t.Fatalf("expected no slots on an off day, got %v", starts(slots))
	}
}

func TestComputeSlots_ClosedWeekday(t *testing.T) {
	snap := openDay(t, "09:00", "18:00")
	snap.Hours.Closed = true
	snap.ServiceHasSchedule = true
	snap.ServiceWindows = []Window{{Start: mustClock(t, "09:00"), End: mustClock(t, "11:00")}}
	day := nextMonday()

	slots := ComputeSlots(snap, ServiceConfig{DurationMins: 60, Capacity: 1}, day, day.AddDate(0, 0, -7))
	if len(slots) != 0 {
		t.Fatalf("expected no slots on a closed weekday, got %v", starts(slots))
	}
}

func TestResolveWindows_ServiceSchedulePrecedence(t *testing.T) {
	// A service day schedule fully replaces business hours and split ranges;
	// unrelated range data must not change the result.
	snap := openDay(t, "08:00", "20:00")
	snap.HourRanges = []Window{
		{Start: mustClock(t, "08:00"), End: mustClock(t, "12:00")},
		{Start: mustClock(t, "13:00"), End: mustClock(t, "20:00")},
	}
	snap.ServiceHasSchedule = true
	snap.ServiceWindows = []Window{{Start: mustClock(t, "09:00"), End: mustClock(t, "11:00")}}

	windows := ResolveWindows(snap)
	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(windows))
	}
	if windows[0].Start.String() != "09:00" || windows[0].End.String() != "11:00" {
		t.Fatalf("expected [09:00,11:00), got [%s,%s)", windows[0].Start, windows[0].End)
	}

	// Removing the unrelated layers changes nothing.
	snap.HourRanges = nil
	snap.Hours = nil
	again := ResolveWindows(snap)
	if len(again) != 1 || again[0] != windows[0] {
		t.Fatalf("service schedule result depends on lower layers: %v vs %v", again, windows)
	}
}

func TestResolveWindows_ServiceScheduleEmptyWeekdayMeansClosed(t *testing.T) {
	// The service has schedule rows (for other weekdays), but none today:
	// closed for this service, no fallthrough to business hours.
	snap := openDay(t, "09:00", "18:00")
	snap.ServiceHasSchedule = true
	snap.ServiceWindows = nil

	if windows := ResolveWindows(snap); len(windows) != 0 {
		t.Fatalf("expected no windows, got %v", windows)
	}
}

func TestResolveWindows_DefaultWhenNoHoursRow(t *testing.T) {
	windows := ResolveWindows(DaySnapshot{})
	if len(windows) != 1 || windows[0] != DefaultWindow {
		t.Fatalf("expected global default window, got %v", windows)
	}
}

func TestComputeSlots_NoCrossWindowSpill(t *testing.T) {
	// Two disjoint windows [9:00,13:00) and [17:00,22:00), duration 90, no
	// buffer: no slot may end past 13:00 or straddle the afternoon gap.
	snap := openDay(t, "09:00", "22:00")
	snap.HourRanges = []Window{
		{Start: mustClock(t, "09:00"), End: mustClock(t, "13:00")},
		{Start: mustClock(t, "17:00"), End: mustClock(t, "22:00")},
	}
	svc := ServiceConfig{DurationMins: 90, Capacity: 1}
	day := nextMonday()

	slots := ComputeSlots(snap, svc, day, day.AddDate(0, 0, -7))
	gapStart := mustClock(t, "13:00")
	gapEnd := mustClock(t, "17:00")
	for _, s := range slots {
		if s.Start < gapStart && s.End > gapStart {
			t.Fatalf("slot [%s,%s) runs past the morning window end", s.Start, s.End)
		}
		if s.Start >= gapStart && s.Start < gapEnd {
			t.Fatalf("slot starts inside the closed gap: %s", s.Start)
		}
	}
	// Morning: 09:00, 10:30 (a 12:00 start would run to 13:30). Evening:
	// 17:00, 18:30, 20:00 (a 21:30 start would run to 23:00).
	want := []string{"09:00", "10:30", "17:00", "18:30", "20:00"}
	got := starts(slots)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestComputeSlots_TrailingBufferAdvancesCursor(t *testing.T) {
	// Duration 60 + buffer 30: slots step by 90 from the window start, and
	// the last slot only needs its 60 minutes to fit.
	snap := openDay(t, "09:00", "13:00")
	svc := ServiceConfig{DurationMins: 60, BufferMins: 30, Capacity: 1}
	day := nextMonday()

	got := starts(ComputeSlots(snap, svc, day, day.AddDate(0, 0, -7)))
	want := []string{"09:00", "10:30", "12:00"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestComputeSlots_PastSlotsDroppedToday(t *testing.T) {
	snap := openDay(t, "09:00", "12:00")
	svc := ServiceConfig{DurationMins: 60, Capacity: 1}
	day := nextMonday()

	// now = 10:00 on the same date: 09:00 is past, 10:00 itself remains.
	now := time.Date(day.Year(), day.Month(), day.Day(), 10, 0, 0, 0, time.UTC)
	got := starts(ComputeSlots(snap, svc, day, now))
	want := []string{"10:00", "11:00"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, got)
	}

	// A different date is unaffected by now's clock.
	tomorrow := day.AddDate(0, 0, 1)
	all := ComputeSlots(snap, svc, tomorrow, now)
	if len(all) != 3 {
		t.Fatalf("expected 3 slots on a future date, got %d", len(all))
	}
}

func TestComputeSlots_ZeroDuration(t *testing.T) {
	snap := openDay(t, "09:00", "18:00")
	if slots := ComputeSlots(snap, ServiceConfig{Capacity: 1}, nextMonday(), time.Time{}); slots != nil {
		t.Fatalf("expected nil for zero duration, got %v", slots)
	}
}
