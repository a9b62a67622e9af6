package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bolttesting/bookly/libs/clock"
	"github.com/bolttesting/bookly/libs/db"
	"github.com/bolttesting/bookly/services/booking-service/internal/model"
)

// ErrSlotFull is returned when a slot's capacity is already exhausted at
// insert time. The calculator only reads counts; this write-path check is
// the atomic guarantee it relies on.
var ErrSlotFull = errors.New("slot capacity exhausted")

type BookingRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	BusinessID      string
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// LockIdempotencyKey returns the key's record, row-locked for the rest of
// the transaction, inserting a fresh row when none exists. Callers must
// decide replay from the record's StatusCode alone: a request that loses
// the insert race blocks here until the winner commits and then observes
// the finalized record.
func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, businessID, key string) (IdempotencyRecord, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, businessID, key)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (business_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (business_id, idempotency_key) DO NOTHING
	`, businessID, key)
	if err != nil {
		return IdempotencyRecord{}, err
	}

	return r.selectIdempotencyForUpdate(ctx, tx, businessID, key)
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, businessID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var appointmentID *string
	var statusCode *int
	err := tx.QueryRow(ctx, `
		SELECT business_id::text, idempotency_key, appointment_id, status_code, response_payload
		FROM booking_idempotency_keys
		WHERE business_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, businessID, key).Scan(&rec.BusinessID, &rec.IdempotencyKey, &appointmentID, &statusCode, &rec.ResponsePayload)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if appointmentID != nil {
		rec.AppointmentID = *appointmentID
	}
	if statusCode != nil {
		rec.StatusCode = *statusCode
	}
	return rec, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, businessID, key, appointmentID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE business_id = $1 AND idempotency_key = $2
	`, businessID, key, appointmentID, statusCode, response)
	return err
}

// CreateWithCapacity inserts a ledger row only while the slot's seat count
// stays under capacity. The per-slot advisory lock serializes concurrent
// bookers of the same slot for the duration of the transaction, making the
// count-then-insert atomic.
func (r *BookingRepository) CreateWithCapacity(ctx context.Context, tx pgx.Tx, appt *model.Appointment, capacity int) (string, error) {
	slotKey := appt.BusinessID + "|" + appt.ServiceID + "|" + appt.StartTime.Format(time.RFC3339)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, slotKey); err != nil {
		return "", err
	}

	var booked int
	err := tx.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE business_id = $1 AND service_id = $2 AND start_time = $3 AND status <> 'cancelled'
	`, appt.BusinessID, appt.ServiceID, appt.StartTime).Scan(&booked)
	if err != nil {
		return "", err
	}
	if capacity > 0 && booked >= capacity {
		return "", ErrSlotFull
	}

	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(business_id, service_id, location_id, staff_id, series_id,
			 customer_name, customer_email, customer_phone, start_time, end_time, status)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11)
		RETURNING id::text
	`, appt.BusinessID, appt.ServiceID, appt.LocationID, appt.StaffID, appt.SeriesID,
		appt.CustomerName, appt.CustomerEmail, appt.CustomerPhone,
		appt.StartTime, appt.EndTime, appt.Status).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *BookingRepository) GetAppointmentForUpdate(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.Appointment, error) {
	var appt model.Appointment
	var cancelledAt *time.Time
	err := tx.QueryRow(ctx, `
		SELECT id::text, business_id::text, service_id::text,
			COALESCE(location_id::text, ''), COALESCE(staff_id::text, ''), COALESCE(series_id::text, ''),
			customer_name, customer_email, customer_phone,
			start_time, end_time, status, cancelled_at, COALESCE(cancellation_reason, ''), created_at
		FROM appointments
		WHERE id = $1 AND business_id = $2
		FOR UPDATE
	`, appointmentID, businessID).Scan(
		&appt.ID,
		&appt.BusinessID,
		&appt.ServiceID,
		&appt.LocationID,
		&appt.StaffID,
		&appt.SeriesID,
		&appt.CustomerName,
		&appt.CustomerEmail,
		&appt.CustomerPhone,
		&appt.StartTime,
		&appt.EndTime,
		&appt.Status,
		&cancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.CancelledAt = cancelledAt
	return appt, nil
}

// CancelAppointment flips status; ledger rows are never deleted.
func (r *BookingRepository) CancelAppointment(ctx context.Context, tx pgx.Tx, businessID, appointmentID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $3
		WHERE id = $1 AND business_id = $2
		RETURNING cancelled_at
	`, appointmentID, businessID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

// CountBookedByStart returns non-cancelled seat counts per exact start time
// for one (business, service, date), optionally narrowed to a location or
// staff member. Keys are wall-clock minutes, matching the calculator's slot
// keys.
func (r *BookingRepository) CountBookedByStart(ctx context.Context, businessID, serviceID, locationID, staffID string, dayStart, dayEnd time.Time) (map[clock.TimeOfDay]int, error) {
	query := `
		SELECT start_time, count(*)
		FROM appointments
		WHERE business_id = $1
			AND service_id = $2
			AND status <> 'cancelled'
			AND start_time >= $3
			AND start_time < $4
	`
	args := []any{businessID, serviceID, dayStart, dayEnd}
	if locationID != "" {
		args = append(args, locationID)
		query += ` AND location_id = $5`
	}
	if staffID != "" {
		args = append(args, staffID)
		if locationID != "" {
			query += ` AND staff_id = $6`
		} else {
			query += ` AND staff_id = $5`
		}
	}
	query += ` GROUP BY start_time`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[clock.TimeOfDay]int{}
	for rows.Next() {
		var start time.Time
		var n int
		if err := rows.Scan(&start, &n); err != nil {
			return nil, err
		}
		counts[clock.MinuteOf(start)] = n
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return counts, nil
}

func (r *BookingRepository) ListByBusiness(ctx context.Context, businessID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, business_id::text, service_id::text,
			COALESCE(location_id::text, ''), COALESCE(staff_id::text, ''), COALESCE(series_id::text, ''),
			customer_name, customer_email, customer_phone,
			start_time, end_time, status, cancelled_at, COALESCE(cancellation_reason, ''), created_at
		FROM appointments
		WHERE business_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var appt model.Appointment
		var cancelledAt *time.Time
		if err := rows.Scan(
			&appt.ID,
			&appt.BusinessID,
			&appt.ServiceID,
			&appt.LocationID,
			&appt.StaffID,
			&appt.SeriesID,
			&appt.CustomerName,
			&appt.CustomerEmail,
			&appt.CustomerPhone,
			&appt.StartTime,
			&appt.EndTime,
			&appt.Status,
			&cancelledAt,
			&appt.CancelReason,
			&appt.CreatedAt,
		); err != nil {
			return nil, err
		}
		appt.CancelledAt = cancelledAt
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
