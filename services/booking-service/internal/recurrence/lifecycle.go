package recurrence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bolttesting/bookly/libs/clock"
)

var (
	ErrSeriesNotFound  = errors.New("series not found")
	ErrSeriesNotActive = errors.New("series is not active")
	ErrInvalidState    = errors.New("invalid series state transition")
	// ErrConflictRetriesExhausted surfaces only after repeated optimistic
	// bookkeeping conflicts; the expansion itself is safe to retry.
	ErrConflictRetriesExhausted = errors.New("expansion bookkeeping conflict retries exhausted")
)

// DefaultHorizonDays bounds the look-ahead window for immediate and rolling
// expansion.
const DefaultHorizonDays = 90

const maxExpansionAttempts = 3

// Store persists series rows. UpdateStatus and AdvanceProgress are
// conditional writes: they apply only when the row still matches the given
// previous state and report whether they did.
type Store interface {
	Insert(ctx context.Context, s *Series) error
	Get(ctx context.Context, id string) (Series, error)
	UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error)
	AdvanceProgress(ctx context.Context, id string, prevTotal int, prevLast *time.Time, newTotal int, newLast time.Time) (bool, error)
}

// ExpansionResult reports what an expansion run actually materialized.
// Created counts ledger instances beyond the series' previous high-water
// mark; LastGenerated is the latest occurrence date reached, nil when none.
type ExpansionResult struct {
	Created       int
	LastGenerated *time.Time
}

// Expander materializes concrete booking instances for a series up to a
// horizon date. Implementations must be idempotent per (series, date range):
// re-expanding an already covered range must not duplicate instances. On
// failure partway through, the result must still report the progress made.
type Expander interface {
	Expand(ctx context.Context, s Series, until time.Time) (ExpansionResult, error)
}

// Lifecycle owns every mutation of a series row. No other code path writes
// series status or expansion progress.
type Lifecycle struct {
	store    Store
	expander Expander
	logger   *slog.Logger
}

func NewLifecycle(store Store, expander Expander, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{store: store, expander: expander, logger: logger}
}

// CreateSeries validates the rule and persists a fresh active series with
// zero progress. Nothing is persisted when validation fails.
func (l *Lifecycle) CreateSeries(ctx context.Context, s *Series) error {
	if err := s.Rule.Validate(); err != nil {
		return err
	}
	s.Status = StatusActive
	s.TotalCreated = 0
	s.LastGeneratedDate = nil
	return l.store.Insert(ctx, s)
}

func (l *Lifecycle) Pause(ctx context.Context, id string) error {
	return l.transition(ctx, id, StatusPaused)
}

// Resume reactivates a paused series. It does not backfill the paused
// interval; the next expansion call picks up from the high-water mark.
func (l *Lifecycle) Resume(ctx context.Context, id string) error {
	return l.transition(ctx, id, StatusActive)
}

// Cancel is terminal. Previously generated future instances are left alone;
// cancelling them is the booking-cancellation flow's decision, not ours.
func (l *Lifecycle) Cancel(ctx context.Context, id string) error {
	return l.transition(ctx, id, StatusCancelled)
}

func (l *Lifecycle) transition(ctx context.Context, id string, to Status) error {
	s, err := l.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Status == to {
		return nil
	}
	if !s.Status.CanTransitionTo(to) {
		return ErrInvalidState
	}
	applied, err := l.store.UpdateStatus(ctx, id, s.Status, to)
	if err != nil {
		return err
	}
	if !applied {
		// Lost a race with another transition; re-read for an accurate error.
		fresh, err := l.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if fresh.Status == to {
			return nil
		}
		return ErrInvalidState
	}
	return nil
}

// DefaultHorizon returns the initial expansion horizon for a rule:
// today + DefaultHorizonDays, pulled in to the rule's end date when sooner.
func DefaultHorizon(r Rule, today time.Time) time.Time {
	horizon := clock.DateOf(today).AddDate(0, 0, DefaultHorizonDays)
	if r.EndDate != nil && r.EndDate.Before(horizon) {
		horizon = *r.EndDate
	}
	return horizon
}

// RequestExpansion extends a series' materialized instances up to the given
// horizon. Only active series expand, and the horizon never moves the
// high-water mark backwards: a request at or before LastGeneratedDate is a
// no-op success.
//
// Bookkeeping is advanced with an optimistic compare-and-advance against the
// state read at the start of the attempt; a concurrent expansion of the same
// series makes the write a no-op and the whole attempt is retried against
// fresh state, a bounded number of times. A delegate failure leaves series
// state untouched except for the progress actually made, so the same horizon
// can simply be retried.
func (l *Lifecycle) RequestExpansion(ctx context.Context, id string, until time.Time) (ExpansionResult, error) {
	until = clock.DateOf(until)

	for attempt := 0; attempt < maxExpansionAttempts; attempt++ {
		s, err := l.store.Get(ctx, id)
		if err != nil {
			return ExpansionResult{}, err
		}
		if s.Status != StatusActive {
			return ExpansionResult{}, ErrSeriesNotActive
		}
		if s.LastGeneratedDate != nil && !until.After(*s.LastGeneratedDate) {
			return ExpansionResult{LastGenerated: s.LastGeneratedDate}, nil
		}

		res, expandErr := l.expander.Expand(ctx, s, until)

		if res.Created > 0 {
			if res.LastGenerated == nil {
				// Defect in the delegate; refuse to guess a watermark.
				return ExpansionResult{}, errors.New("expansion reported instances without a last generated date")
			}
			applied, err := l.store.AdvanceProgress(ctx, id,
				s.TotalCreated, s.LastGeneratedDate,
				s.TotalCreated+res.Created, *res.LastGenerated)
			if err != nil {
				return res, err
			}
			if !applied {
				if expandErr != nil {
					return res, expandErr
				}
				l.logger.Warn("expansion bookkeeping conflict; retrying with fresh state",
					"series_id", id, "attempt", attempt+1)
				continue
			}
		}
		return res, expandErr
	}
	return ExpansionResult{}, ErrConflictRetriesExhausted
}
