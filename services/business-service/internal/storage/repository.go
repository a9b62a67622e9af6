package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bolttesting/bookly/libs/clock"
	"github.com/bolttesting/bookly/libs/db"
)

// Repository owns the calendar configuration the booking service reads:
// services with slot parameters, weekly hours with split-shift ranges,
// per-service schedules, off days, and slot blocks.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

type Service struct {
	ID           string
	BusinessID   string
	Name         string
	DurationMins int
	BufferMins   int
	Capacity     int
	Description  string
	CreatedAt    time.Time
}

func (r *Repository) CreateService(ctx context.Context, s Service) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO business_services (id, business_id, name, duration_minutes, buffer_minutes, slot_capacity, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, s.BusinessID, s.Name, s.DurationMins, s.BufferMins, s.Capacity, s.Description)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) UpdateService(ctx context.Context, s Service) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE business_services
		SET name = $3,
			duration_minutes = $4,
			buffer_minutes = $5,
			slot_capacity = $6,
			description = $7,
			updated_at = now()
		WHERE business_id = $1 AND id = $2
	`, s.BusinessID, s.ID, s.Name, s.DurationMins, s.BufferMins, s.Capacity, s.Description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) ListServices(ctx context.Context, businessID string, limit int) ([]Service, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, buffer_minutes, slot_capacity, description, created_at
		FROM business_services
		WHERE business_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		var s Service
		if err := rows.Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMins, &s.BufferMins, &s.Capacity, &s.Description, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

type WeeklyHours struct {
	BusinessID string
	LocationID string // empty = business-wide
	Weekday    int
	IsClosed   bool
	OpenMin    clock.TimeOfDay
	CloseMin   clock.TimeOfDay
	Ranges     []HourRange
}

type HourRange struct {
	StartMin clock.TimeOfDay
	EndMin   clock.TimeOfDay
}

// UpsertWeeklyHours replaces the weekday's rule and its split-shift ranges
// in one transaction. An empty Ranges slice means the single
// [OpenMin, CloseMin) window applies.
func (r *Repository) UpsertWeeklyHours(ctx context.Context, wh WeeklyHours) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var hoursID string
	err = tx.QueryRow(ctx, `
		INSERT INTO business_hours (business_id, location_id, weekday, is_closed, open_minute, close_minute)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6)
		ON CONFLICT (business_id, location_id, weekday) DO UPDATE
		SET is_closed = EXCLUDED.is_closed,
			open_minute = EXCLUDED.open_minute,
			close_minute = EXCLUDED.close_minute,
			updated_at = now()
		RETURNING id::text
	`, wh.BusinessID, wh.LocationID, wh.Weekday, wh.IsClosed, wh.OpenMin.Minutes(), wh.CloseMin.Minutes()).Scan(&hoursID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM business_hour_ranges WHERE business_hours_id = $1
	`, hoursID); err != nil {
		return err
	}
	for i, rng := range wh.Ranges {
		if _, err := tx.Exec(ctx, `
			INSERT INTO business_hour_ranges (business_hours_id, start_minute, end_minute, display_order)
			VALUES ($1, $2, $3, $4)
		`, hoursID, rng.StartMin.Minutes(), rng.EndMin.Minutes(), i); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *Repository) ListWeeklyHours(ctx context.Context, businessID, locationID string) ([]WeeklyHours, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, COALESCE(location_id::text, ''), weekday, is_closed, open_minute, close_minute
		FROM business_hours
		WHERE business_id = $1 AND location_id IS NOT DISTINCT FROM NULLIF($2, '')::uuid
		ORDER BY weekday
	`, businessID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type hoursRow struct {
		id string
		wh WeeklyHours
	}
	var hourRows []hoursRow
	for rows.Next() {
		var hr hoursRow
		var openMin, closeMin int
		hr.wh.BusinessID = businessID
		if err := rows.Scan(&hr.id, &hr.wh.LocationID, &hr.wh.Weekday, &hr.wh.IsClosed, &openMin, &closeMin); err != nil {
			return nil, err
		}
		hr.wh.OpenMin = clock.TimeOfDay(openMin)
		hr.wh.CloseMin = clock.TimeOfDay(closeMin)
		hourRows = append(hourRows, hr)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	out := make([]WeeklyHours, 0, len(hourRows))
	for _, hr := range hourRows {
		ranges, err := r.listHourRanges(ctx, hr.id)
		if err != nil {
			return nil, err
		}
		hr.wh.Ranges = ranges
		out = append(out, hr.wh)
	}
	return out, nil
}

func (r *Repository) listHourRanges(ctx context.Context, hoursID string) ([]HourRange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_minute, end_minute
		FROM business_hour_ranges
		WHERE business_hours_id = $1
		ORDER BY display_order, start_minute
	`, hoursID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HourRange
	for rows.Next() {
		var start, end int
		if err := rows.Scan(&start, &end); err != nil {
			return nil, err
		}
		out = append(out, HourRange{StartMin: clock.TimeOfDay(start), EndMin: clock.TimeOfDay(end)})
	}
	return out, rows.Err()
}

type ServiceScheduleEntry struct {
	Weekday  int
	StartMin clock.TimeOfDay
	EndMin   clock.TimeOfDay
}

// ReplaceServiceSchedule swaps the service's entire per-weekday schedule.
// Once any entry exists, the service stops following business hours and a
// weekday without entries is closed for that service.
func (r *Repository) ReplaceServiceSchedule(ctx context.Context, businessID, serviceID string, entries []ServiceScheduleEntry) error {
	owned, err := r.serviceBelongsTo(ctx, businessID, serviceID)
	if err != nil {
		return err
	}
	if !owned {
		return pgx.ErrNoRows
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		DELETE FROM service_day_schedules WHERE service_id = $1
	`, serviceID); err != nil {
		return err
	}
	order := map[int]int{}
	for _, e := range entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO service_day_schedules (service_id, weekday, start_minute, end_minute, display_order)
			VALUES ($1, $2, $3, $4, $5)
		`, serviceID, e.Weekday, e.StartMin.Minutes(), e.EndMin.Minutes(), order[e.Weekday]); err != nil {
			return err
		}
		order[e.Weekday]++
	}
	return tx.Commit(ctx)
}

func (r *Repository) ListServiceSchedule(ctx context.Context, businessID, serviceID string) ([]ServiceScheduleEntry, error) {
	owned, err := r.serviceBelongsTo(ctx, businessID, serviceID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, pgx.ErrNoRows
	}

	rows, err := r.pool.Query(ctx, `
		SELECT weekday, start_minute, end_minute
		FROM service_day_schedules
		WHERE service_id = $1
		ORDER BY weekday, display_order, start_minute
	`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ServiceScheduleEntry
	for rows.Next() {
		var e ServiceScheduleEntry
		var start, end int
		if err := rows.Scan(&e.Weekday, &start, &end); err != nil {
			return nil, err
		}
		e.StartMin = clock.TimeOfDay(start)
		e.EndMin = clock.TimeOfDay(end)
		out = append(out, e)
	}
	return out, rows.Err()
}

type OffDay struct {
	BusinessID string
	LocationID string // empty = business-wide
	Date       time.Time
	Reason     string
}

func (r *Repository) AddOffDay(ctx context.Context, od OffDay) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO off_days (business_id, location_id, off_date, reason)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4)
		ON CONFLICT (business_id, location_id, off_date) DO UPDATE
		SET reason = EXCLUDED.reason
	`, od.BusinessID, od.LocationID, od.Date, od.Reason)
	return err
}

func (r *Repository) RemoveOffDay(ctx context.Context, businessID, locationID string, date time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM off_days
		WHERE business_id = $1
			AND location_id IS NOT DISTINCT FROM NULLIF($2, '')::uuid
			AND off_date = $3
	`, businessID, locationID, date)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) ListOffDays(ctx context.Context, businessID string, from, to time.Time) ([]OffDay, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT business_id::text, COALESCE(location_id::text, ''), off_date, COALESCE(reason, '')
		FROM off_days
		WHERE business_id = $1 AND off_date >= $2 AND off_date <= $3
		ORDER BY off_date
	`, businessID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OffDay
	for rows.Next() {
		var od OffDay
		if err := rows.Scan(&od.BusinessID, &od.LocationID, &od.Date, &od.Reason); err != nil {
			return nil, err
		}
		out = append(out, od)
	}
	return out, rows.Err()
}

type SlotBlock struct {
	ServiceID string
	Date      time.Time
	StartMin  clock.TimeOfDay
	Reason    string
}

func (r *Repository) AddSlotBlock(ctx context.Context, businessID string, sb SlotBlock) error {
	owned, err := r.serviceBelongsTo(ctx, businessID, sb.ServiceID)
	if err != nil {
		return err
	}
	if !owned {
		return pgx.ErrNoRows
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO slot_blocks (service_id, block_date, start_minute, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (service_id, block_date, start_minute) DO UPDATE
		SET reason = EXCLUDED.reason
	`, sb.ServiceID, sb.Date, sb.StartMin.Minutes(), sb.Reason)
	return err
}

func (r *Repository) RemoveSlotBlock(ctx context.Context, businessID, serviceID string, date time.Time, start clock.TimeOfDay) error {
	owned, err := r.serviceBelongsTo(ctx, businessID, serviceID)
	if err != nil {
		return err
	}
	if !owned {
		return pgx.ErrNoRows
	}
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM slot_blocks
		WHERE service_id = $1 AND block_date = $2 AND start_minute = $3
	`, serviceID, date, start.Minutes())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) ListSlotBlocks(ctx context.Context, businessID, serviceID string, date time.Time) ([]SlotBlock, error) {
	owned, err := r.serviceBelongsTo(ctx, businessID, serviceID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, pgx.ErrNoRows
	}

	rows, err := r.pool.Query(ctx, `
		SELECT service_id::text, block_date, start_minute, COALESCE(reason, '')
		FROM slot_blocks
		WHERE service_id = $1 AND block_date = $2
		ORDER BY start_minute
	`, serviceID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SlotBlock
	for rows.Next() {
		var sb SlotBlock
		var start int
		if err := rows.Scan(&sb.ServiceID, &sb.Date, &start, &sb.Reason); err != nil {
			return nil, err
		}
		sb.StartMin = clock.TimeOfDay(start)
		out = append(out, sb)
	}
	return out, rows.Err()
}

func (r *Repository) serviceBelongsTo(ctx context.Context, businessID, serviceID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM business_services WHERE id = $1 AND business_id = $2
		)
	`, serviceID, businessID).Scan(&exists)
	return exists, err
}
