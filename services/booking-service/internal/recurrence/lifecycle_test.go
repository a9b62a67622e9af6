package recurrence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bolttesting/bookly/libs/clock"
)

// fakeStore is an in-memory Store with the same conditional-write semantics
// as the Postgres repository.
type fakeStore struct {
	mu     sync.Mutex
	series map[string]Series
}

func newFakeStore() *fakeStore {
	return &fakeStore{series: map[string]Series{}}
}

func (f *fakeStore) Insert(_ context.Context, s *Series) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == "" {
		s.ID = "series-1"
	}
	f.series[s.ID] = *s
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[id]
	if !ok {
		return Series{}, ErrSeriesNotFound
	}
	return s, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id string, from, to Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[id]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	f.series[id] = s
	return true, nil
}

func (f *fakeStore) AdvanceProgress(_ context.Context, id string, prevTotal int, prevLast *time.Time, newTotal int, newLast time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[id]
	if !ok || s.Status != StatusActive || s.TotalCreated != prevTotal {
		return false, nil
	}
	if (s.LastGeneratedDate == nil) != (prevLast == nil) {
		return false, nil
	}
	if s.LastGeneratedDate != nil && !s.LastGeneratedDate.Equal(*prevLast) {
		return false, nil
	}
	s.TotalCreated = newTotal
	last := newLast
	s.LastGeneratedDate = &last
	f.series[id] = s
	return true, nil
}

// ruleExpander behaves like the ledger delegate: it materializes every
// occurrence after the watermark up to the horizon, deterministically.
type ruleExpander struct {
	calls int
	// failAfter > 0 makes Expand fail after reporting that many instances.
	failAfter int
	// beforeAdvance runs after expansion but before the lifecycle gets the
	// result back, to simulate concurrent bookkeeping.
	beforeAdvance func()
}

func (e *ruleExpander) Expand(_ context.Context, s Series, until time.Time) (ExpansionResult, error) {
	e.calls++
	dates := s.Rule.OccurrencesUntil(s.LastGeneratedDate, until)
	var res ExpansionResult
	for _, d := range dates {
		if e.failAfter > 0 && res.Created >= e.failAfter {
			if e.beforeAdvance != nil {
				e.beforeAdvance()
			}
			return res, errors.New("storage unreachable")
		}
		day := d
		res.Created++
		res.LastGenerated = &day
	}
	if e.beforeAdvance != nil {
		e.beforeAdvance()
	}
	return res, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeSeries(t *testing.T, store Store) Series {
	t.Helper()
	end := date(2024, 2, 1)
	s := Series{
		BusinessID: "biz-1",
		ServiceID:  "svc-1",
		Rule: Rule{
			Pattern:   PatternWeekly,
			Frequency: 2,
			StartDate: date(2024, 1, 1),
			TimeOfDay: clock.TimeOfDay(600),
			EndDate:   &end,
		},
	}
	lc := NewLifecycle(store, &ruleExpander{}, testLogger())
	if err := lc.CreateSeries(context.Background(), &s); err != nil {
		t.Fatalf("CreateSeries: %v", err)
	}
	return s
}

func TestCreateSeriesRejectsInvalidRule(t *testing.T) {
	store := newFakeStore()
	lc := NewLifecycle(store, &ruleExpander{}, testLogger())

	s := Series{Rule: Rule{Pattern: PatternWeekly, Frequency: 0, StartDate: date(2024, 1, 1), NeverEnds: true}}
	if err := lc.CreateSeries(context.Background(), &s); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
	if len(store.series) != 0 {
		t.Fatalf("invalid rule must not be persisted")
	}
}

func TestExpansionScenario(t *testing.T) {
	// Biweekly from 2024-01-01 ending 2024-02-01 at 10:00, expanded to the
	// end date: exactly Jan 1, 15, 29.
	store := newFakeStore()
	exp := &ruleExpander{}
	lc := NewLifecycle(store, exp, testLogger())
	s := activeSeries(t, store)

	res, err := lc.RequestExpansion(context.Background(), s.ID, date(2024, 2, 1))
	if err != nil {
		t.Fatalf("RequestExpansion: %v", err)
	}
	if res.Created != 3 {
		t.Fatalf("expected 3 instances, got %d", res.Created)
	}
	if res.LastGenerated == nil || !res.LastGenerated.Equal(date(2024, 1, 29)) {
		t.Fatalf("expected watermark 2024-01-29, got %v", res.LastGenerated)
	}

	got, _ := store.Get(context.Background(), s.ID)
	if got.TotalCreated != 3 {
		t.Fatalf("expected TotalCreated 3, got %d", got.TotalCreated)
	}
}

func TestExpansionIsMonotonicAndIdempotent(t *testing.T) {
	store := newFakeStore()
	exp := &ruleExpander{}
	lc := NewLifecycle(store, exp, testLogger())
	s := activeSeries(t, store)

	if _, err := lc.RequestExpansion(context.Background(), s.ID, date(2024, 2, 1)); err != nil {
		t.Fatalf("first expansion: %v", err)
	}

	// Same horizon again: no-op, nothing re-created, watermark untouched.
	res, err := lc.RequestExpansion(context.Background(), s.ID, date(2024, 2, 1))
	if err != nil {
		t.Fatalf("repeat expansion: %v", err)
	}
	if res.Created != 0 {
		t.Fatalf("repeat expansion created %d instances", res.Created)
	}

	// Earlier horizon: also a no-op, never a rollback.
	res, err = lc.RequestExpansion(context.Background(), s.ID, date(2024, 1, 10))
	if err != nil {
		t.Fatalf("earlier-horizon expansion: %v", err)
	}
	if res.Created != 0 {
		t.Fatalf("earlier horizon created %d instances", res.Created)
	}
	got, _ := store.Get(context.Background(), s.ID)
	if got.TotalCreated != 3 || got.LastGeneratedDate == nil || !got.LastGeneratedDate.Equal(date(2024, 1, 29)) {
		t.Fatalf("watermark moved: total=%d last=%v", got.TotalCreated, got.LastGeneratedDate)
	}
	// The earlier horizon short-circuits before the delegate; the repeated
	// horizon reaches it but materializes nothing.
	if exp.calls != 2 {
		t.Fatalf("expected 2 delegate calls, got %d", exp.calls)
	}
}

func TestExpansionRefusesNonActiveSeries(t *testing.T) {
	store := newFakeStore()
	lc := NewLifecycle(store, &ruleExpander{}, testLogger())
	s := activeSeries(t, store)

	if err := lc.Pause(context.Background(), s.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := lc.RequestExpansion(context.Background(), s.ID, date(2024, 2, 1)); !errors.Is(err, ErrSeriesNotActive) {
		t.Fatalf("expected ErrSeriesNotActive, got %v", err)
	}

	if err := lc.Cancel(context.Background(), s.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := lc.RequestExpansion(context.Background(), s.ID, date(2024, 2, 1)); !errors.Is(err, ErrSeriesNotActive) {
		t.Fatalf("expected ErrSeriesNotActive after cancel, got %v", err)
	}
}

func TestPartialExpansionAdvancesWatermark(t *testing.T) {
	store := newFakeStore()
	exp := &ruleExpander{failAfter: 2}
	lc := NewLifecycle(store, exp, testLogger())
	s := activeSeries(t, store)

	res, err := lc.RequestExpansion(context.Background(), s.ID, date(2024, 2, 1))
	if err == nil {
		t.Fatalf("expected delegate error")
	}
	if res.Created != 2 {
		t.Fatalf("expected 2 instances before the failure, got %d", res.Created)
	}

	// Partial progress is not lost: bookkeeping reached Jan 15.
	got, _ := store.Get(context.Background(), s.ID)
	if got.TotalCreated != 2 || got.LastGeneratedDate == nil || !got.LastGeneratedDate.Equal(date(2024, 1, 15)) {
		t.Fatalf("partial progress lost: total=%d last=%v", got.TotalCreated, got.LastGeneratedDate)
	}
	if got.Status != StatusActive {
		t.Fatalf("failed expansion must not change status, got %s", got.Status)
	}

	// Retrying the same horizon finishes the remainder without double counting.
	exp.failAfter = 0
	res, err = lc.RequestExpansion(context.Background(), s.ID, date(2024, 2, 1))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("expected 1 instance on retry, got %d", res.Created)
	}
	got, _ = store.Get(context.Background(), s.ID)
	if got.TotalCreated != 3 {
		t.Fatalf("expected TotalCreated 3 after retry, got %d", got.TotalCreated)
	}
}

func TestExpansionRetriesOnBookkeepingConflict(t *testing.T) {
	store := newFakeStore()
	lc := NewLifecycle(store, nil, testLogger())
	s := activeSeries(t, store)

	// First attempt loses the compare-and-advance to a concurrent writer
	// that covered Jan 1; the retry reads fresh state and finishes.
	raced := false
	exp := &ruleExpander{}
	exp.beforeAdvance = func() {
		if raced {
			return
		}
		raced = true
		first := date(2024, 1, 1)
		if ok, _ := store.AdvanceProgress(context.Background(), s.ID, 0, nil, 1, first); !ok {
			t.Fatalf("simulated concurrent advance failed")
		}
	}
	lc = NewLifecycle(store, exp, testLogger())

	res, err := lc.RequestExpansion(context.Background(), s.ID, date(2024, 2, 1))
	if err != nil {
		t.Fatalf("RequestExpansion: %v", err)
	}
	if res.Created != 2 {
		t.Fatalf("expected 2 instances on the retry attempt, got %d", res.Created)
	}
	got, _ := store.Get(context.Background(), s.ID)
	if got.TotalCreated != 3 || got.LastGeneratedDate == nil || !got.LastGeneratedDate.Equal(date(2024, 1, 29)) {
		t.Fatalf("expected total=3 last=2024-01-29, got total=%d last=%v", got.TotalCreated, got.LastGeneratedDate)
	}
	if exp.calls != 2 {
		t.Fatalf("expected 2 delegate calls, got %d", exp.calls)
	}
}

func TestStateMachineTransitions(t *testing.T) {
	store := newFakeStore()
	lc := NewLifecycle(store, &ruleExpander{}, testLogger())
	s := activeSeries(t, store)
	ctx := context.Background()

	if err := lc.Pause(ctx, s.ID); err != nil {
		t.Fatalf("active->paused: %v", err)
	}
	// Idempotent repeat.
	if err := lc.Pause(ctx, s.ID); err != nil {
		t.Fatalf("paused->paused should be a no-op: %v", err)
	}
	if err := lc.Resume(ctx, s.ID); err != nil {
		t.Fatalf("paused->active: %v", err)
	}
	if err := lc.Cancel(ctx, s.ID); err != nil {
		t.Fatalf("active->cancelled: %v", err)
	}

	// Nothing leaves cancelled.
	if err := lc.Resume(ctx, s.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("cancelled->active: expected ErrInvalidState, got %v", err)
	}
	if err := lc.Pause(ctx, s.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("cancelled->paused: expected ErrInvalidState, got %v", err)
	}
	// Cancelling again is a no-op success.
	if err := lc.Cancel(ctx, s.ID); err != nil {
		t.Fatalf("cancelled->cancelled should be a no-op: %v", err)
	}
}

func TestDefaultHorizon(t *testing.T) {
	today := date(2024, 1, 1)

	r := validWeekly()
	if h := DefaultHorizon(r, today); !h.Equal(date(2024, 3, 31)) {
		t.Fatalf("expected 2024-03-31, got %s", clock.FormatDate(h))
	}

	// End date sooner than the rolling window wins.
	r.NeverEnds = false
	end := date(2024, 2, 1)
	r.EndDate = &end
	if h := DefaultHorizon(r, today); !h.Equal(end) {
		t.Fatalf("expected end date horizon, got %s", clock.FormatDate(h))
	}
}
