package recurrence

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)

// CanTransitionTo encodes the series state machine: active and paused swap
// freely, both may be cancelled, and cancelled is terminal.
func (s Status) CanTransitionTo(to Status) bool {
	switch s {
	case StatusActive:
		return to == StatusPaused || to == StatusCancelled
	case StatusPaused:
		return to == StatusActive || to == StatusCancelled
	default:
		return false
	}
}

// Series is a recurrence rule bound to a bookable service, together with the
// monotonic record of how far it has been expanded into concrete ledger
// instances. TotalCreated and LastGeneratedDate only ever advance, and only
// through the lifecycle's compare-and-advance bookkeeping.
type Series struct {
	ID         string
	BusinessID string
	ServiceID  string
	LocationID string // empty = business-wide
	StaffID    string // empty = unassigned

	CustomerName  string
	CustomerEmail string
	CustomerPhone string

	Rule Rule

	Status            Status
	TotalCreated      int
	LastGeneratedDate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
