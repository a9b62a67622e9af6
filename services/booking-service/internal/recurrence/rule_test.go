package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/bolttesting/bookly/libs/clock"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func validWeekly() Rule {
	return Rule{
		Pattern:   PatternWeekly,
		Frequency: 1,
		StartDate: date(2024, 1, 1),
		TimeOfDay: clock.TimeOfDay(600),
		NeverEnds: true,
	}
}

func TestRuleValidate(t *testing.T) {
	if err := validWeekly().Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	r := validWeekly()
	r.Frequency = 0
	if err := r.Validate(); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule for frequency 0, got %v", err)
	}

	r = validWeekly()
	r.Pattern = "daily"
	if err := r.Validate(); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule for unknown pattern, got %v", err)
	}

	// Zero end conditions.
	r = validWeekly()
	r.NeverEnds = false
	if err := r.Validate(); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule for missing end condition, got %v", err)
	}

	// Multiple end conditions.
	r = validWeekly()
	end := date(2024, 6, 1)
	r.EndDate = &end
	if err := r.Validate(); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule for two end conditions, got %v", err)
	}

	// End date before start.
	r = validWeekly()
	r.NeverEnds = false
	before := date(2023, 12, 1)
	r.EndDate = &before
	if err := r.Validate(); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule for end before start, got %v", err)
	}
}

func TestOccurrencesUntil_BiweeklyWithEndDate(t *testing.T) {
	// Every 2 weeks from 2024-01-01 ending 2024-02-01: Jan 1, 15, 29 only.
	end := date(2024, 2, 1)
	r := Rule{
		Pattern:   PatternWeekly,
		Frequency: 2,
		StartDate: date(2024, 1, 1),
		TimeOfDay: clock.TimeOfDay(600),
		EndDate:   &end,
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("rule invalid: %v", err)
	}

	got := r.OccurrencesUntil(nil, end)
	want := []time.Time{date(2024, 1, 1), date(2024, 1, 15), date(2024, 1, 29)}
	if len(got) != len(want) {
		t.Fatalf("expected %d occurrences, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("occurrence %d: expected %s, got %s", i, clock.FormatDate(want[i]), clock.FormatDate(got[i]))
		}
	}

	// A later horizon changes nothing: the end date caps generation.
	if again := r.OccurrencesUntil(nil, date(2024, 6, 1)); len(again) != 3 {
		t.Fatalf("expected end date to cap occurrences, got %d", len(again))
	}
}

func TestOccurrencesUntil_MonthlyClampsDayOfMonth(t *testing.T) {
	// Monthly from Jan 31: Feb must clamp, not skip and not error.
	r := Rule{
		Pattern:   PatternMonthly,
		Frequency: 1,
		StartDate: date(2024, 1, 31),
		TimeOfDay: clock.TimeOfDay(540),
		NeverEnds: true,
	}
	got := r.OccurrencesUntil(nil, date(2024, 4, 30))
	want := []time.Time{date(2024, 1, 31), date(2024, 2, 29), date(2024, 3, 31), date(2024, 4, 30)}
	if len(got) != len(want) {
		t.Fatalf("expected %d occurrences, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("occurrence %d: expected %s, got %s", i, clock.FormatDate(want[i]), clock.FormatDate(got[i]))
		}
	}
}

func TestOccurrencesUntil_MaxOccurrencesCap(t *testing.T) {
	r := Rule{
		Pattern:        PatternWeekly,
		Frequency:      1,
		StartDate:      date(2024, 1, 1),
		TimeOfDay:      clock.TimeOfDay(600),
		MaxOccurrences: 2,
	}
	got := r.OccurrencesUntil(nil, date(2024, 12, 31))
	if len(got) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(got))
	}
	if !got[1].Equal(date(2024, 1, 8)) {
		t.Fatalf("expected second occurrence 2024-01-08, got %s", clock.FormatDate(got[1]))
	}
}

func TestOccurrencesUntil_AfterWatermark(t *testing.T) {
	r := validWeekly()
	after := date(2024, 1, 8)
	got := r.OccurrencesUntil(&after, date(2024, 1, 29))
	// Strictly after Jan 8: Jan 15, 22, 29.
	if len(got) != 3 {
		t.Fatalf("expected 3 occurrences after watermark, got %d: %v", len(got), got)
	}
	if !got[0].Equal(date(2024, 1, 15)) {
		t.Fatalf("expected first occurrence 2024-01-15, got %s", clock.FormatDate(got[0]))
	}

	// The watermark's own index still counts toward MaxOccurrences.
	r.NeverEnds = false
	r.MaxOccurrences = 3
	capped := r.OccurrencesUntil(&after, date(2024, 12, 31))
	if len(capped) != 1 || !capped[0].Equal(date(2024, 1, 15)) {
		t.Fatalf("expected only 2024-01-15 under the cap, got %v", capped)
	}
}
