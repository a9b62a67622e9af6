package horizon

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bolttesting/bookly/libs/clock"
)

const horizonDays = 90

// Store is what the worker needs from the job table.
type Store interface {
	FetchDue(ctx context.Context, limit int, lease time.Duration) ([]Job, error)
	MarkProcessed(ctx context.Context, id int64, nextRunAt time.Time) error
	MarkFailed(ctx context.Context, id int64, attempts, maxAttempts int, nextRunAt time.Time, lastError string) error
	Deactivate(ctx context.Context, seriesID string) error
}

// Expander asks the booking service to top up one series to a horizon date.
type Expander interface {
	ExpandSeries(ctx context.Context, seriesID string, until time.Time) error
}

// Worker keeps every active series expanded through a rolling window. Each
// day-ish pass asks booking to expand through today plus the horizon; the
// expansion endpoint is idempotent, so reprocessing a job is safe.
type Worker struct {
	store      Store
	expander   Expander
	logger     *slog.Logger
	interval   time.Duration
	reschedule time.Duration
	batchSize  int
	backoff    time.Duration
	now        func() time.Time
}

type WorkerConfig struct {
	Interval   time.Duration
	Reschedule time.Duration
	BatchSize  int
	Backoff    time.Duration
}

func NewWorker(store Store, expander Expander, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Reschedule <= 0 {
		cfg.Reschedule = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		store:      store,
		expander:   expander,
		logger:     logger,
		interval:   cfg.Interval,
		reschedule: cfg.Reschedule,
		batchSize:  cfg.BatchSize,
		backoff:    cfg.Backoff,
		now:        time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ProcessBatch(ctx); err != nil {
				w.logger.Error("horizon batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) ProcessBatch(ctx context.Context) error {
	jobs, err := w.store.FetchDue(ctx, w.batchSize, w.backoff)
	if err != nil {
		return err
	}

	until := clock.DateOf(w.now().UTC()).AddDate(0, 0, horizonDays)
	for _, job := range jobs {
		err := w.expander.ExpandSeries(ctx, job.SeriesID, until)
		switch {
		case err == nil:
			if err := w.store.MarkProcessed(ctx, job.ID, w.now().UTC().Add(w.reschedule)); err != nil {
				return err
			}
		case errors.Is(err, ErrSeriesGone), errors.Is(err, ErrSeriesInactive):
			// Lifecycle events normally deactivate the job; this covers
			// deliveries we missed.
			w.logger.Info("series no longer expandable, deactivating", "series_id", job.SeriesID, "reason", err)
			if err := w.store.Deactivate(ctx, job.SeriesID); err != nil {
				return err
			}
		default:
			attempts := job.Attempts + 1
			w.logger.Error("series expansion failed", "series_id", job.SeriesID, "attempt", attempts, "err", err)
			if err := w.store.MarkFailed(ctx, job.ID, attempts, job.MaxAttempts, w.now().UTC().Add(w.backoff), err.Error()); err != nil {
				return err
			}
		}
	}
	return nil
}
