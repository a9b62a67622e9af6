package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/bolttesting/bookly/libs/clock"
)

type Pattern string

const (
	PatternWeekly  Pattern = "weekly"
	PatternMonthly Pattern = "monthly"
)

var ErrInvalidRule = errors.New("invalid recurrence rule")

// Rule describes how a recurring series repeats. Exactly one end condition
// must be set: NeverEnds, EndDate, or MaxOccurrences.
type Rule struct {
	Pattern   Pattern
	Frequency int // every N weeks/months
	StartDate time.Time
	TimeOfDay clock.TimeOfDay

	NeverEnds      bool
	EndDate        *time.Time
	MaxOccurrences int
}

func (r Rule) Validate() error {
	if r.Pattern != PatternWeekly && r.Pattern != PatternMonthly {
		return fmt.Errorf("%w: unknown pattern %q", ErrInvalidRule, r.Pattern)
	}
	if r.Frequency < 1 {
		return fmt.Errorf("%w: frequency must be >= 1, got %d", ErrInvalidRule, r.Frequency)
	}
	if r.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidRule)
	}
	if !r.TimeOfDay.Valid() {
		return fmt.Errorf("%w: time of day out of range", ErrInvalidRule)
	}
	conditions := 0
	if r.NeverEnds {
		conditions++
	}
	if r.EndDate != nil {
		conditions++
	}
	if r.MaxOccurrences > 0 {
		conditions++
	}
	if conditions != 1 {
		return fmt.Errorf("%w: exactly one end condition required, got %d", ErrInvalidRule, conditions)
	}
	if r.EndDate != nil && r.EndDate.Before(r.StartDate) {
		return fmt.Errorf("%w: end date precedes start date", ErrInvalidRule)
	}
	return nil
}

// OccurrenceDate returns the i-th occurrence date (i = 0 is the start date).
// Monthly patterns keep the start's day-of-month, clamped to shorter months:
// a series on the 31st lands on Feb 28 (29 in a leap year) rather than being
// skipped.
func (r Rule) OccurrenceDate(i int) time.Time {
	switch r.Pattern {
	case PatternMonthly:
		return clock.AddMonthsClamped(r.StartDate, i*r.Frequency)
	default:
		return r.StartDate.AddDate(0, 0, i*7*r.Frequency)
	}
}

// OccurrencesUntil lists occurrence dates strictly after the high-water mark
// (nil = nothing generated yet) and no later than the horizon, honoring the
// rule's own end conditions. Occurrence indexes are date-deterministic, so
// the same inputs always yield the same dates regardless of how many calls
// it took to generate them.
func (r Rule) OccurrencesUntil(after *time.Time, horizon time.Time) []time.Time {
	var dates []time.Time
	for i := 0; ; i++ {
		if r.MaxOccurrences > 0 && i >= r.MaxOccurrences {
			break
		}
		d := r.OccurrenceDate(i)
		if d.After(horizon) {
			break
		}
		if r.EndDate != nil && d.After(*r.EndDate) {
			break
		}
		if after != nil && !d.After(*after) {
			continue
		}
		dates = append(dates, d)
	}
	return dates
}
