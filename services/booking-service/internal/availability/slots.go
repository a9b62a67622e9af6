package availability

import (
	"sort"
	"time"

	"github.com/bolttesting/bookly/libs/clock"
)

// Window is a half-open interval [Start, End) of a business day within which
// slots may be generated.
type Window struct {
	Start clock.TimeOfDay
	End   clock.TimeOfDay
}

// DayHours is the weekly open/close rule resolved for one weekday, either
// location-specific or business-wide.
type DayHours struct {
	Weekday time.Weekday
	Open    clock.TimeOfDay
	Close   clock.TimeOfDay
	Closed  bool
}

// ServiceConfig carries the slot-shaping attributes of a service. Buffer
// minutes trail each booking: the next slot may not start until duration plus
// buffer have elapsed.
type ServiceConfig struct {
	DurationMins int
	BufferMins   int
	Capacity     int
}

// DaySnapshot is everything the calculator needs for one
// (business, service, date, location?, staff?) question, read once by the
// caller. The calculator itself performs no I/O.
type DaySnapshot struct {
	// OffDay marks the date as explicitly closed (business-wide, or for the
	// location being queried).
	OffDay bool

	// Hours is the resolved weekly rule for the date's weekday:
	// location-specific when one exists, else business-wide, else nil.
	Hours *DayHours

	// HourRanges are the split-shift sub-windows attached to Hours, in
	// display order. When non-empty they fully replace the single
	// [Open, Close) window.
	HourRanges []Window

	// ServiceWindows are the per-(service, weekday) schedule entries.
	// ServiceHasSchedule is true when the service has schedule rows for ANY
	// weekday; in that case ServiceWindows alone (possibly empty, meaning
	// closed for this service today) determine the day's windows.
	ServiceWindows     []Window
	ServiceHasSchedule bool

	// Blocked holds administratively blocked start times for (service, date).
	Blocked map[clock.TimeOfDay]bool

	// BookedAt counts non-cancelled ledger instances per exact start time.
	BookedAt map[clock.TimeOfDay]int
}

// Slot is a candidate start time with its capacity accounting.
// Available is never negative; a multi-seat slot with Available == 0 is
// returned so callers can render it as full.
type Slot struct {
	Start     clock.TimeOfDay `json:"start"`
	End       clock.TimeOfDay `json:"end"`
	Capacity  int             `json:"capacity"`
	Booked    int             `json:"booked"`
	Available int             `json:"available"`
}

// DefaultWindow applies when a weekday has no hours row at all.
var DefaultWindow = Window{Start: 9 * 60, End: 18 * 60}

// windowSource resolves one layer of the schedule configuration. Returning
// ok=false falls through to the next source; ok=true ends the chain even if
// the window list is empty.
type windowSource func(DaySnapshot) ([]Window, bool)

var windowSources = []windowSource{
	serviceScheduleSource,
	splitRangeSource,
	weeklyHoursSource,
}

func serviceScheduleSource(snap DaySnapshot) ([]Window, bool) {
	if !snap.ServiceHasSchedule {
		return nil, false
	}
	// The service's bookability is exhaustively defined by its schedule
	// table: no rows for this weekday means closed, not business hours.
	return snap.ServiceWindows, true
}

func splitRangeSource(snap DaySnapshot) ([]Window, bool) {
	if len(snap.HourRanges) == 0 {
		return nil, false
	}
	return snap.HourRanges, true
}

func weeklyHoursSource(snap DaySnapshot) ([]Window, bool) {
	if snap.Hours == nil {
		return []Window{DefaultWindow}, true
	}
	return []Window{{Start: snap.Hours.Open, End: snap.Hours.Close}}, true
}

// ResolveWindows merges the configuration layers in strict precedence order:
// service day schedule, then split-hour ranges, then the weekly open/close
// window. The first layer that answers wins outright; lower layers are never
// merged in.
func ResolveWindows(snap DaySnapshot) []Window {
	if snap.OffDay {
		return nil
	}
	if snap.Hours != nil && snap.Hours.Closed {
		return nil
	}
	for _, source := range windowSources {
		if windows, ok := source(snap); ok {
			return windows
		}
	}
	return nil
}

// ComputeSlots walks the resolved windows in duration+buffer steps and
// returns the bookable slots for the date, ordered by start time.
//
// The stepping is per window: a slot never spans the gap between two
// disjoint windows. A slot is emitted only when it fits entirely inside its
// window (start + duration <= window end). Candidates strictly before now
// are dropped when date is today; now is an explicit input so the
// computation stays deterministic.
//
// Closed days, off days and fully booked days produce an empty result, never
// an error.
func ComputeSlots(snap DaySnapshot, svc ServiceConfig, date time.Time, now time.Time) []Slot {
	if svc.DurationMins <= 0 {
		return nil
	}
	capacity := svc.Capacity
	if capacity < 1 {
		capacity = 1
	}

	duration := clock.TimeOfDay(svc.DurationMins)
	step := clock.TimeOfDay(svc.DurationMins + svc.BufferMins)

	cutoff := clock.TimeOfDay(-1)
	if clock.SameDate(date, now) {
		cutoff = clock.MinuteOf(now)
	}

	var slots []Slot
	for _, win := range ResolveWindows(snap) {
		if win.End <= win.Start {
			continue
		}
		for t := win.Start; t+duration <= win.End; t += step {
			if snap.Blocked[t] {
				continue
			}
			if t < cutoff {
				continue
			}
			booked := snap.BookedAt[t]
			available := capacity - booked
			if available < 0 {
				available = 0
			}
			// Single-seat services hide full slots; group services keep
			// them so the caller can render "full".
			if available == 0 && capacity == 1 {
				continue
			}
			slots = append(slots, Slot{
				Start:     t,
				End:       t + duration,
				Capacity:  capacity,
				Booked:    booked,
				Available: available,
			})
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Start < slots[j].Start })
	return slots
}
