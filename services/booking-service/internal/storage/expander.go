package storage

import (
	"context"
	"time"

	"github.com/bolttesting/bookly/libs/db"
	"github.com/bolttesting/bookly/services/booking-service/internal/model"
	"github.com/bolttesting/bookly/services/booking-service/internal/recurrence"
)

// LedgerExpander materializes series occurrences as appointment rows. Each
// occurrence is written with ON CONFLICT DO NOTHING against the
// (series_id, start_time) unique key, so a rerun over the same horizon lands
// on existing rows instead of duplicating them.
//
// Inserts deliberately run outside any transaction: if the process dies
// mid-expansion the rows already written survive, and the lifecycle's
// bookkeeping retry picks up from the watermark.
type LedgerExpander struct {
	pool *db.Pool
}

func NewLedgerExpander(pool *db.Pool) *LedgerExpander {
	return &LedgerExpander{pool: pool}
}

var _ recurrence.Expander = (*LedgerExpander)(nil)

func (e *LedgerExpander) Expand(ctx context.Context, s recurrence.Series, until time.Time) (recurrence.ExpansionResult, error) {
	dates := s.Rule.OccurrencesUntil(s.LastGeneratedDate, until)

	var res recurrence.ExpansionResult
	if len(dates) == 0 {
		return res, nil
	}

	var durationMins int
	err := e.pool.QueryRow(ctx, `
		SELECT duration_minutes FROM business_services WHERE id = $1
	`, s.ServiceID).Scan(&durationMins)
	if err != nil {
		return res, err
	}

	for _, d := range dates {
		start := s.Rule.TimeOfDay.At(d)
		end := start.Add(time.Duration(durationMins) * time.Minute)
		if err := e.insertOccurrence(ctx, s, start, end); err != nil {
			return res, err
		}
		// Every date visited past the watermark counts, whether the insert
		// landed or the row was already there from an earlier attempt whose
		// bookkeeping got lost. The occurrence schedule is deterministic, so
		// this keeps total_created aligned with the occurrence index.
		res.Created++
		day := d
		res.LastGenerated = &day
	}
	return res, nil
}

func (e *LedgerExpander) insertOccurrence(ctx context.Context, s recurrence.Series, start, end time.Time) error {
	_, err := e.pool.Exec(ctx, `
		INSERT INTO appointments
			(business_id, service_id, location_id, staff_id, series_id,
			 customer_name, customer_email, customer_phone,
			 start_time, end_time, status)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5,
			$6, $7, $8, $9, $10, $11)
		ON CONFLICT (series_id, start_time) DO NOTHING
	`, s.BusinessID, s.ServiceID, s.LocationID, s.StaffID, s.ID,
		s.CustomerName, s.CustomerEmail, s.CustomerPhone,
		start, end, model.StatusConfirmed)
	return err
}
