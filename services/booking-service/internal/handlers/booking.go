package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bolttesting/bookly/libs/clock"
	"github.com/bolttesting/bookly/services/booking-service/internal/availability"
	"github.com/bolttesting/bookly/services/booking-service/internal/model"
	"github.com/bolttesting/bookly/services/booking-service/internal/outbox"
	"github.com/bolttesting/bookly/services/booking-service/internal/recurrence"
	"github.com/bolttesting/bookly/services/booking-service/internal/storage"
)

type BookingHandler struct {
	repo       *storage.BookingRepository
	calendar   *storage.CalendarRepository
	outboxRepo *outbox.Repository
	series     *SeriesHandler
	logger     *slog.Logger
	now        func() time.Time
}

func NewBookingHandler(repo *storage.BookingRepository, calendar *storage.CalendarRepository, outboxRepo *outbox.Repository, series *SeriesHandler, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		repo:       repo,
		calendar:   calendar,
		outboxRepo: outboxRepo,
		series:     series,
		logger:     logger,
		now:        time.Now,
	}
}

type createBookingRequest struct {
	BusinessID    string `json:"business_id"`
	ServiceID     string `json:"service_id"`
	LocationID    string `json:"location_id"`
	StaffID       string `json:"staff_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	Date          string `json:"date"`
	Time          string `json:"time"`

	// Recurrence turns the booking into a recurring series anchored at
	// Date/Time instead of a single appointment.
	Recurrence *bookingRecurrence `json:"recurrence,omitempty"`
}

type bookingRecurrence struct {
	Pattern        string `json:"pattern"`
	Frequency      int    `json:"frequency"`
	NeverEnds      bool   `json:"never_ends"`
	EndDate        string `json:"end_date"`
	MaxOccurrences int    `json:"max_occurrences"`
}

type createBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
}

type cancelBookingRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type cancelBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at"`
}

type listAppointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	ServiceID     string `json:"service_id"`
	LocationID    string `json:"location_id,omitempty"`
	StaffID       string `json:"staff_id,omitempty"`
	SeriesID      string `json:"series_id,omitempty"`
	CustomerName  string `json:"customer_name"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// Slots answers the public availability question for one
// (business, service, date), optionally narrowed to a location or staff
// member. A closed or fully filtered day is a 200 with an empty list,
// not an error.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	businessID := strings.TrimSpace(q.Get("business_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	locationID := strings.TrimSpace(q.Get("location_id"))
	staffID := strings.TrimSpace(q.Get("staff_id"))
	dateStr := strings.TrimSpace(q.Get("date"))
	if businessID == "" || serviceID == "" || dateStr == "" {
		http.Error(w, "business_id, service_id, and date are required", http.StatusBadRequest)
		return
	}
	date, err := clock.ParseDate(dateStr)
	if err != nil {
		http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	svc, err := h.calendar.GetServiceConfig(ctx, businessID, serviceID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load service", http.StatusInternalServerError)
		return
	}

	snap, err := h.calendar.LoadDaySnapshot(ctx, businessID, serviceID, locationID, date)
	if err != nil {
		http.Error(w, "failed to load schedule", http.StatusInternalServerError)
		return
	}
	snap.BookedAt, err = h.repo.CountBookedByStart(ctx, businessID, serviceID, locationID, staffID, date, date.AddDate(0, 0, 1))
	if err != nil {
		http.Error(w, "failed to load booked slots", http.StatusInternalServerError)
		return
	}

	slots := availability.ComputeSlots(snap, svc, date, h.now().UTC())
	if slots == nil {
		slots = []availability.Slot{}
	}
	writeJSON(w, http.StatusOK, slots)
}

// Create books a single appointment. The requested time must land on the
// calculator's grid for the day; seat counting itself happens in the write
// path under the slot's advisory lock, so two racing bookers of the last
// seat resolve to one 201 and one 409.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.LocationID = strings.TrimSpace(req.LocationID)
	req.StaffID = strings.TrimSpace(req.StaffID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.BusinessID == "" || req.ServiceID == "" || req.CustomerName == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	date, err := clock.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	start, err := clock.ParseTimeOfDay(strings.TrimSpace(req.Time))
	if err != nil {
		http.Error(w, "invalid time, want HH:MM", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	svc, err := h.calendar.GetServiceConfig(ctx, req.BusinessID, req.ServiceID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load service", http.StatusInternalServerError)
		return
	}

	if req.Recurrence != nil {
		h.createRecurring(ctx, w, req, date, start)
		return
	}

	ok, err := h.startIsBookable(ctx, req.BusinessID, req.ServiceID, req.LocationID, svc, date, start)
	if err != nil {
		http.Error(w, "failed to load schedule", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "requested time is outside business availability", http.StatusUnprocessableEntity)
		return
	}

	startTime := start.At(date)
	appt := &model.Appointment{
		BusinessID:    req.BusinessID,
		ServiceID:     req.ServiceID,
		LocationID:    req.LocationID,
		StaffID:       req.StaffID,
		CustomerName:  req.CustomerName,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		StartTime:     startTime,
		EndTime:       startTime.Add(time.Duration(svc.DurationMins) * time.Minute),
		Status:        model.StatusConfirmed,
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, err := h.repo.LockIdempotencyKey(ctx, tx, appt.BusinessID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if replayIdempotency(w, rec) {
			return
		}
	}

	id, err := h.repo.CreateWithCapacity(ctx, tx, appt, svc.Capacity)
	if err != nil {
		if err == storage.ErrSlotFull {
			if idempotencyKey != "" && h.finalizeIdempotencyError(ctx, tx, appt.BusinessID, idempotencyKey, http.StatusConflict, "slot is fully booked") {
				_ = tx.Commit(ctx)
			}
			http.Error(w, "slot is fully booked", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create appointment", http.StatusInternalServerError)
		return
	}

	evt, err := outbox.NewEvent("appointment", id, outbox.EventAppointmentBooked, outbox.AppointmentEvent{
		AppointmentID: id,
		BusinessID:    appt.BusinessID,
		ServiceID:     appt.ServiceID,
		LocationID:    appt.LocationID,
		StaffID:       appt.StaffID,
		CustomerEmail: appt.CustomerEmail,
		StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
		Status:        appt.Status,
	})
	if err == nil {
		err = h.outboxRepo.Insert(ctx, tx, evt)
	}
	if err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	respBody, err := json.Marshal(createBookingResponse{
		AppointmentID: id,
		StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
		EndTime:       appt.EndTime.UTC().Format(time.RFC3339),
		Status:        appt.Status,
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, appt.BusinessID, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

// createRecurring handles a public booking request carrying a recurrence:
// the series anchors at the requested date and time and the first rolling
// window is materialized through the series flow.
func (h *BookingHandler) createRecurring(ctx context.Context, w http.ResponseWriter, req createBookingRequest, date time.Time, start clock.TimeOfDay) {
	rule := recurrence.Rule{
		Pattern:        recurrence.Pattern(strings.TrimSpace(req.Recurrence.Pattern)),
		Frequency:      req.Recurrence.Frequency,
		StartDate:      date,
		TimeOfDay:      start,
		NeverEnds:      req.Recurrence.NeverEnds,
		MaxOccurrences: req.Recurrence.MaxOccurrences,
	}
	if raw := strings.TrimSpace(req.Recurrence.EndDate); raw != "" {
		end, err := clock.ParseDate(raw)
		if err != nil {
			http.Error(w, "invalid recurrence end_date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		rule.EndDate = &end
	}

	s := &recurrence.Series{
		BusinessID:    req.BusinessID,
		ServiceID:     req.ServiceID,
		LocationID:    req.LocationID,
		StaffID:       req.StaffID,
		CustomerName:  req.CustomerName,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Rule:          rule,
	}
	if err := h.series.createAndExpand(ctx, s); err != nil {
		if errors.Is(err, recurrence.ErrInvalidRule) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to create series", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, h.series.toResponse(*s))
}

// replayIdempotency writes the stored response for a finalized idempotency
// record and reports whether it did. Finalized records replay no matter
// which request inserted the key; a retry racing the original blocks on the
// row lock and must observe the committed outcome, not book again.
func replayIdempotency(w http.ResponseWriter, rec storage.IdempotencyRecord) bool {
	if rec.StatusCode == 0 {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rec.StatusCode)
	_, _ = w.Write(rec.ResponsePayload)
	return true
}

// startIsBookable checks the requested start against the day's slot grid
// with seat counts ignored: off days, closed weekdays, blocked starts,
// off-grid times, and past times all fail here with a 422. Whether a seat
// is left is decided later, atomically, by the insert.
func (h *BookingHandler) startIsBookable(ctx context.Context, businessID, serviceID, locationID string, svc availability.ServiceConfig, date time.Time, start clock.TimeOfDay) (bool, error) {
	snap, err := h.calendar.LoadDaySnapshot(ctx, businessID, serviceID, locationID, date)
	if err != nil {
		return false, err
	}
	snap.BookedAt = nil
	for _, s := range availability.ComputeSlots(snap, svc, date, h.now().UTC()) {
		if s.Start == start {
			return true, nil
		}
	}
	return false, nil
}

// finalizeIdempotencyError records a definitive failure under the caller's
// idempotency key and writes the response, so a retry with the same key
// replays the failure instead of re-running the booking. Returns false if
// recording failed, in which case the caller falls back to a plain error.
func (h *BookingHandler) finalizeIdempotencyError(ctx context.Context, tx pgx.Tx, businessID, key string, statusCode int, message string) (handled bool) {
	body, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return false
	}
	if err := h.repo.FinalizeIdempotency(ctx, tx, businessID, key, "", statusCode, body); err != nil {
		h.logger.Warn("idempotency finalize failed", "err", err)
		return false
	}
	return true
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.BusinessID == "" || req.AppointmentID == "" {
		http.Error(w, "business_id and appointment_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetAppointmentForUpdate(ctx, tx, req.BusinessID, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}

	if appt.Status == model.StatusCancelled && appt.CancelledAt != nil {
		h.writeCancelResponse(w, appt.ID, appt.CancelledAt.UTC())
		return
	}
	if appt.Status == model.StatusCompleted {
		http.Error(w, "appointment cannot be cancelled", http.StatusConflict)
		return
	}

	cancelledAt, err := h.repo.CancelAppointment(ctx, tx, req.BusinessID, appt.ID, req.Reason)
	if err != nil {
		http.Error(w, "failed to cancel appointment", http.StatusInternalServerError)
		return
	}

	evt, err := outbox.NewEvent("appointment", appt.ID, outbox.EventAppointmentCancelled, outbox.AppointmentEvent{
		AppointmentID: appt.ID,
		BusinessID:    appt.BusinessID,
		ServiceID:     appt.ServiceID,
		LocationID:    appt.LocationID,
		StaffID:       appt.StaffID,
		SeriesID:      appt.SeriesID,
		CustomerEmail: appt.CustomerEmail,
		StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
		Status:        model.StatusCancelled,
	})
	if err == nil {
		err = h.outboxRepo.Insert(ctx, tx, evt)
	}
	if err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.writeCancelResponse(w, appt.ID, cancelledAt.UTC())
}

func (h *BookingHandler) writeCancelResponse(w http.ResponseWriter, appointmentID string, cancelledAt time.Time) {
	writeJSON(w, http.StatusOK, cancelBookingResponse{
		AppointmentID: appointmentID,
		Status:        model.StatusCancelled,
		CancelledAt:   cancelledAt.Format(time.RFC3339),
	})
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := strings.TrimSpace(r.Header.Get("X-Business-Id"))
	if businessID == "" {
		businessID = strings.TrimSpace(r.URL.Query().Get("business_id"))
	}
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.repo.ListByBusiness(r.Context(), businessID, limit)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	items := make([]listAppointmentItem, 0, len(appts))
	for _, appt := range appts {
		item := listAppointmentItem{
			AppointmentID: appt.ID,
			ServiceID:     appt.ServiceID,
			LocationID:    appt.LocationID,
			StaffID:       appt.StaffID,
			SeriesID:      appt.SeriesID,
			CustomerName:  appt.CustomerName,
			StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
			EndTime:       appt.EndTime.UTC().Format(time.RFC3339),
			Status:        appt.Status,
			CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
		}
		if appt.CancelledAt != nil {
			item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
