package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bolttesting/bookly/libs/clock"
	"github.com/bolttesting/bookly/libs/db"
	"github.com/bolttesting/bookly/services/booking-service/internal/recurrence"
)

// SeriesRepository implements recurrence.Store on Postgres. Status changes
// and expansion progress are conditional writes so concurrent callers can
// never clobber each other's bookkeeping.
type SeriesRepository struct {
	pool *db.Pool
}

func NewSeriesRepository(pool *db.Pool) *SeriesRepository {
	return &SeriesRepository{pool: pool}
}

var _ recurrence.Store = (*SeriesRepository)(nil)

func (r *SeriesRepository) Insert(ctx context.Context, s *recurrence.Series) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO recurring_series
			(business_id, service_id, location_id, staff_id,
			 customer_name, customer_email, customer_phone,
			 pattern, frequency, start_date, time_of_day_minute,
			 never_ends, end_date, max_occurrences,
			 status, total_created, last_generated_date)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id::text, created_at, updated_at
	`, s.BusinessID, s.ServiceID, s.LocationID, s.StaffID,
		s.CustomerName, s.CustomerEmail, s.CustomerPhone,
		string(s.Rule.Pattern), s.Rule.Frequency, s.Rule.StartDate, s.Rule.TimeOfDay.Minutes(),
		s.Rule.NeverEnds, s.Rule.EndDate, s.Rule.MaxOccurrences,
		string(s.Status), s.TotalCreated, s.LastGeneratedDate,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func (r *SeriesRepository) Get(ctx context.Context, id string) (recurrence.Series, error) {
	var (
		s        recurrence.Series
		pattern  string
		status   string
		minute   int
		endDate  *time.Time
		lastDate *time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, business_id::text, service_id::text,
			COALESCE(location_id::text, ''), COALESCE(staff_id::text, ''),
			customer_name, customer_email, customer_phone,
			pattern, frequency, start_date, time_of_day_minute,
			never_ends, end_date, max_occurrences,
			status, total_created, last_generated_date,
			created_at, updated_at
		FROM recurring_series
		WHERE id = $1
	`, id).Scan(
		&s.ID, &s.BusinessID, &s.ServiceID,
		&s.LocationID, &s.StaffID,
		&s.CustomerName, &s.CustomerEmail, &s.CustomerPhone,
		&pattern, &s.Rule.Frequency, &s.Rule.StartDate, &minute,
		&s.Rule.NeverEnds, &endDate, &s.Rule.MaxOccurrences,
		&status, &s.TotalCreated, &lastDate,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if IsNotFound(err) {
		return recurrence.Series{}, recurrence.ErrSeriesNotFound
	}
	if err != nil {
		return recurrence.Series{}, err
	}
	s.Rule.Pattern = recurrence.Pattern(pattern)
	s.Rule.TimeOfDay = clock.TimeOfDay(minute)
	s.Rule.EndDate = endDate
	s.Status = recurrence.Status(status)
	s.LastGeneratedDate = lastDate
	return s, nil
}

func (r *SeriesRepository) UpdateStatus(ctx context.Context, id string, from, to recurrence.Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recurring_series
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AdvanceProgress is the optimistic compare-and-advance behind the series
// high-water mark: it applies only while the row still carries the progress
// the caller read, and only for active series.
func (r *SeriesRepository) AdvanceProgress(ctx context.Context, id string, prevTotal int, prevLast *time.Time, newTotal int, newLast time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recurring_series
		SET total_created = $4, last_generated_date = $5, updated_at = now()
		WHERE id = $1
			AND status = 'active'
			AND total_created = $2
			AND last_generated_date IS NOT DISTINCT FROM $3
	`, id, prevTotal, prevLast, newTotal, newLast)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SeriesRepository) ListByBusiness(ctx context.Context, businessID string, limit int) ([]recurrence.Series, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text
		FROM recurring_series
		WHERE business_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}

	out := make([]recurrence.Series, 0, len(ids))
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ids, nil
}
