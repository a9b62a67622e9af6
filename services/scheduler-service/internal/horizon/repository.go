package horizon

import (
	"context"
	"time"

	"github.com/bolttesting/bookly/libs/db"
)

// Job is one series tracked by the rolling-horizon worker. Each active
// series has exactly one row; next_run_at says when its window should be
// topped up again.
type Job struct {
	ID          int64
	SeriesID    string
	BusinessID  string
	Attempts    int
	MaxAttempts int
	NextRunAt   time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert registers a series for horizon maintenance, reactivating and
// resetting it if a row already exists. Due immediately so a resumed series
// gets its window topped up on the next tick.
func (r *Repository) Upsert(ctx context.Context, seriesID, businessID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO horizon_jobs (series_id, business_id, next_run_at)
		VALUES ($1, $2, now())
		ON CONFLICT (series_id) DO UPDATE
		SET active = TRUE,
			attempts = 0,
			next_run_at = now(),
			last_error = NULL,
			updated_at = now()
	`, seriesID, businessID)
	return err
}

func (r *Repository) Deactivate(ctx context.Context, seriesID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE horizon_jobs
		SET active = FALSE, updated_at = now()
		WHERE series_id = $1
	`, seriesID)
	return err
}

// FetchDue claims up to limit due jobs. Claiming pushes next_run_at forward
// by the lease so a crashed worker's claim expires on its own; expansion is
// idempotent, so a double claim after a lease expiry is harmless.
func (r *Repository) FetchDue(ctx context.Context, limit int, lease time.Duration) ([]Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, series_id::text, business_id::text, attempts, max_attempts, next_run_at
		FROM horizon_jobs
		WHERE active AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.SeriesID, &j.BusinessID, &j.Attempts, &j.MaxAttempts, &j.NextRunAt); err != nil {
			rows.Close()
			return nil, err
		}
		jobs = append(jobs, j)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	for _, j := range jobs {
		if _, err := tx.Exec(ctx, `
			UPDATE horizon_jobs SET next_run_at = now() + $2, updated_at = now() WHERE id = $1
		`, j.ID, lease); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, id int64, nextRunAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE horizon_jobs
		SET attempts = 0,
			next_run_at = $2,
			last_error = NULL,
			updated_at = now()
		WHERE id = $1
	`, id, nextRunAt)
	return err
}

// MarkFailed backs the job off, deactivating it once attempts reach the cap.
func (r *Repository) MarkFailed(ctx context.Context, id int64, attempts, maxAttempts int, nextRunAt time.Time, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE horizon_jobs
		SET attempts = $2,
			active = ($2 < $3),
			next_run_at = $4,
			last_error = $5,
			updated_at = now()
		WHERE id = $1
	`, id, attempts, maxAttempts, nextRunAt, lastError)
	return err
}
