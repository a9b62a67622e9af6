package clock

import (
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	cases := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{in: "09:00", want: 540},
		{in: "00:00", want: 0},
		{in: "23:59", want: 1439},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "noon", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseTimeOfDay(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseTimeOfDay(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseTimeOfDay(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseTimeOfDay(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestTimeOfDayString(t *testing.T) {
	if got := TimeOfDay(540).String(); got != "09:00" {
		t.Fatalf("expected 09:00, got %s", got)
	}
	if got := TimeOfDay(1439).String(); got != "23:59" {
		t.Fatalf("expected 23:59, got %s", got)
	}
}

func TestAddMonthsClamped(t *testing.T) {
	jan31 := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	feb := AddMonthsClamped(jan31, 1)
	if !feb.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 2024-02-29 (leap year), got %s", FormatDate(feb))
	}

	febNonLeap := AddMonthsClamped(time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC), 1)
	if !febNonLeap.Equal(time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 2023-02-28, got %s", FormatDate(febNonLeap))
	}

	// Day fits in target month: no clamping.
	mar := AddMonthsClamped(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), 2)
	if !mar.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 2024-03-15, got %s", FormatDate(mar))
	}

	// Spanning a year boundary.
	next := AddMonthsClamped(time.Date(2024, 11, 30, 0, 0, 0, 0, time.UTC), 3)
	if !next.Equal(time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 2025-02-28, got %s", FormatDate(next))
	}
}

func TestSameDate(t *testing.T) {
	a := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	b := time.Date(2026, 3, 1, 0, 1, 0, 0, time.UTC)
	if !SameDate(a, b) {
		t.Fatalf("expected same date")
	}
	if SameDate(a, b.AddDate(0, 0, 1)) {
		t.Fatalf("expected different dates")
	}
}
