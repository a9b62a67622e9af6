package model

import "time"

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Appointment is a booking ledger entry. StartTime carries the business's
// wall-clock time; only non-cancelled rows count against slot capacity.
// SeriesID is set when the row was materialized by recurring-series
// expansion.
type Appointment struct {
	ID            string
	BusinessID    string
	ServiceID     string
	LocationID    string // empty = business-wide
	StaffID       string // empty = unassigned
	SeriesID      string // empty = single booking
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	StartTime     time.Time
	EndTime       time.Time
	Status        string
	CancelledAt   *time.Time
	CancelReason  string
	CreatedAt     time.Time
}

// CountsAgainstCapacity reports whether the row occupies a seat.
func (a Appointment) CountsAgainstCapacity() bool {
	return a.Status != StatusCancelled
}
