package outbox

import "encoding/json"

// Topic names double as event types; every event publishes to the topic
// named after it.
const (
	EventAppointmentBooked    = "booking.appointment.booked.v1"
	EventAppointmentCancelled = "booking.appointment.cancelled.v1"
	EventSeriesCreated        = "booking.series.created.v1"
	EventSeriesPaused         = "booking.series.paused.v1"
	EventSeriesResumed        = "booking.series.resumed.v1"
	EventSeriesCancelled      = "booking.series.cancelled.v1"
	EventSeriesExpanded       = "booking.series.expanded.v1"
)

// Event is the envelope written to the outbox table inside the same
// transaction as the ledger change it describes.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// NewEvent marshals the payload and wraps it in an envelope. Payload types
// are plain structs with json tags; a marshal failure here is a programming
// error surfaced to the caller.
func NewEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}

// AppointmentEvent is the payload for booking.appointment.*.v1 topics.
type AppointmentEvent struct {
	AppointmentID string `json:"appointmentId"`
	BusinessID    string `json:"businessId"`
	ServiceID     string `json:"serviceId"`
	LocationID    string `json:"locationId,omitempty"`
	StaffID       string `json:"staffId,omitempty"`
	SeriesID      string `json:"seriesId,omitempty"`
	CustomerEmail string `json:"customerEmail"`
	StartTime     string `json:"startTime"`
	Status        string `json:"status"`
}

// SeriesEvent is the payload for booking.series.*.v1 topics.
type SeriesEvent struct {
	SeriesID     string `json:"seriesId"`
	BusinessID   string `json:"businessId"`
	ServiceID    string `json:"serviceId"`
	Status       string `json:"status"`
	TotalCreated int    `json:"totalCreated"`
	Created      int    `json:"created,omitempty"`
}
