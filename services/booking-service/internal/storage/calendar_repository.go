package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bolttesting/bookly/libs/clock"
	"github.com/bolttesting/bookly/libs/db"
	"github.com/bolttesting/bookly/services/booking-service/internal/availability"
)

// CalendarRepository reads the calendar configuration the availability
// calculator consumes: weekly hours, split ranges, per-service day
// schedules, off days and slot blocks. All of it is owned and mutated by
// business-service; booking only ever reads.
type CalendarRepository struct {
	pool *db.Pool
}

func NewCalendarRepository(pool *db.Pool) *CalendarRepository {
	return &CalendarRepository{pool: pool}
}

// GetServiceConfig loads the slot-shaping attributes of a service.
func (r *CalendarRepository) GetServiceConfig(ctx context.Context, businessID, serviceID string) (availability.ServiceConfig, error) {
	var cfg availability.ServiceConfig
	err := r.pool.QueryRow(ctx, `
		SELECT duration_minutes, buffer_minutes, slot_capacity
		FROM business_services
		WHERE business_id = $1 AND id = $2
	`, businessID, serviceID).Scan(&cfg.DurationMins, &cfg.BufferMins, &cfg.Capacity)
	return cfg, err
}

// LoadDaySnapshot assembles everything the calculator needs for one
// (business, service, date, location?) question, except the booked counts,
// which come from the booking ledger.
func (r *CalendarRepository) LoadDaySnapshot(ctx context.Context, businessID, serviceID, locationID string, date time.Time) (availability.DaySnapshot, error) {
	var snap availability.DaySnapshot

	offDay, err := r.isOffDay(ctx, businessID, locationID, date)
	if err != nil {
		return snap, err
	}
	snap.OffDay = offDay
	if offDay {
		// Off days are absolute; no point loading the rest.
		return snap, nil
	}

	weekday := int(date.Weekday())

	hours, hoursID, err := r.resolveDayHours(ctx, businessID, locationID, weekday)
	if err != nil {
		return snap, err
	}
	snap.Hours = hours
	if hours != nil && !hours.Closed {
		snap.HourRanges, err = r.hourRanges(ctx, hoursID)
		if err != nil {
			return snap, err
		}
	}

	snap.ServiceWindows, snap.ServiceHasSchedule, err = r.serviceDayWindows(ctx, serviceID, weekday)
	if err != nil {
		return snap, err
	}

	snap.Blocked, err = r.slotBlocks(ctx, serviceID, date)
	if err != nil {
		return snap, err
	}
	return snap, nil
}

func (r *CalendarRepository) isOffDay(ctx context.Context, businessID, locationID string, date time.Time) (bool, error) {
	// Business-wide off days (NULL location) always apply; location-scoped
	// ones only match the queried location.
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM off_days
			WHERE business_id = $1
				AND off_date = $2
				AND (location_id IS NULL OR location_id::text = $3)
		)
	`, businessID, date, locationID).Scan(&exists)
	return exists, err
}

func (r *CalendarRepository) resolveDayHours(ctx context.Context, businessID, locationID string, weekday int) (*availability.DayHours, string, error) {
	// Location-specific row wins over the business-wide one. NULLS LAST on
	// the location sort keys the preference.
	var (
		id          string
		openMinute  int
		closeMinute int
		closed      bool
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, open_minute, close_minute, is_closed
		FROM business_hours
		WHERE business_id = $1
			AND weekday = $2
			AND (location_id IS NULL OR location_id::text = $3)
		ORDER BY location_id NULLS LAST
		LIMIT 1
	`, businessID, weekday, locationID).Scan(&id, &openMinute, &closeMinute, &closed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return &availability.DayHours{
		Weekday: time.Weekday(weekday),
		Open:    clock.TimeOfDay(openMinute),
		Close:   clock.TimeOfDay(closeMinute),
		Closed:  closed,
	}, id, nil
}

func (r *CalendarRepository) hourRanges(ctx context.Context, hoursID string) ([]availability.Window, error) {
	if hoursID == "" {
		return nil, nil
	}
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
	return scanWindows(rows)
}

func (r *CalendarRepository) serviceDayWindows(ctx context.Context, serviceID string, weekday int) ([]availability.Window, bool, error) {
	var hasAny bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM service_day_schedules WHERE service_id = $1)
	`, serviceID).Scan(&hasAny)
	if err != nil {
		return nil, false, err
	}
	if !hasAny {
		return nil, false, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT start_minute, end_minute
		FROM service_day_schedules
		WHERE service_id = $1 AND weekday = $2
		ORDER BY display_order, start_minute
	`, serviceID, weekday)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	windows, err := scanWindows(rows)
	return windows, true, err
}

func (r *CalendarRepository) slotBlocks(ctx context.Context, serviceID string, date time.Time) (map[clock.TimeOfDay]bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_minute
		FROM slot_blocks
		WHERE service_id = $1 AND block_date = $2
	`, serviceID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	blocked := map[clock.TimeOfDay]bool{}
	for rows.Next() {
		var minute int
		if err := rows.Scan(&minute); err != nil {
			return nil, err
		}
		blocked[clock.TimeOfDay(minute)] = true
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return blocked, nil
}

func scanWindows(rows pgx.Rows) ([]availability.Window, error) {
	var windows []availability.Window
	for rows.Next() {
		var start, end int
		if err := rows.Scan(&start, &end); err != nil {
			return nil, err
		}
		windows = append(windows, availability.Window{
			Start: clock.TimeOfDay(start),
			End:   clock.TimeOfDay(end),
		})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return windows, nil
}
