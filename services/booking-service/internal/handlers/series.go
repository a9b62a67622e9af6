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

	"github.com/bolttesting/bookly/libs/clock"
	"github.com/bolttesting/bookly/services/booking-service/internal/outbox"
	"github.com/bolttesting/bookly/services/booking-service/internal/recurrence"
	"github.com/bolttesting/bookly/services/booking-service/internal/storage"
)

// SeriesHandler owns the recurring-series lifecycle endpoints. Creation and
// state changes go through the lifecycle; the internal expand endpoint is
// what the scheduler's rolling-horizon worker calls.
type SeriesHandler struct {
	lifecycle  *recurrence.Lifecycle
	store      *storage.SeriesRepository
	repo       *storage.BookingRepository
	outboxRepo *outbox.Repository
	logger     *slog.Logger
	now        func() time.Time
}

func NewSeriesHandler(lifecycle *recurrence.Lifecycle, store *storage.SeriesRepository, repo *storage.BookingRepository, outboxRepo *outbox.Repository, logger *slog.Logger) *SeriesHandler {
	return &SeriesHandler{
		lifecycle:  lifecycle,
		store:      store,
		repo:       repo,
		outboxRepo: outboxRepo,
		logger:     logger,
		now:        time.Now,
	}
}

type createSeriesRequest struct {
	BusinessID    string `json:"business_id"`
	ServiceID     string `json:"service_id"`
	LocationID    string `json:"location_id"`
	StaffID       string `json:"staff_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`

	Pattern        string `json:"pattern"`
	Frequency      int    `json:"frequency"`
	StartDate      string `json:"start_date"`
	TimeOfDay      string `json:"time_of_day"`
	NeverEnds      bool   `json:"never_ends"`
	EndDate        string `json:"end_date"`
	MaxOccurrences int    `json:"max_occurrences"`
}

type seriesResponse struct {
	SeriesID          string `json:"series_id"`
	Status            string `json:"status"`
	Pattern           string `json:"pattern"`
	Frequency         int    `json:"frequency"`
	StartDate         string `json:"start_date"`
	TimeOfDay         string `json:"time_of_day"`
	TotalCreated      int    `json:"total_created"`
	LastGeneratedDate string `json:"last_generated_date,omitempty"`
}

type seriesActionRequest struct {
	SeriesID string `json:"series_id"`
}

type expandSeriesRequest struct {
	SeriesID string `json:"series_id"`
	Until    string `json:"until"`
}

type expandSeriesResponse struct {
	SeriesID string `json:"series_id"`
	Created  int    `json:"created"`
}

func (h *SeriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodGet:
		h.list(w, r)
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.BusinessID == "" || req.ServiceID == "" || req.CustomerName == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	rule, err := h.parseRule(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s := &recurrence.Series{
		BusinessID:    req.BusinessID,
		ServiceID:     req.ServiceID,
		LocationID:    strings.TrimSpace(req.LocationID),
		StaffID:       strings.TrimSpace(req.StaffID),
		CustomerName:  req.CustomerName,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Rule:          rule,
	}

	if err := h.createAndExpand(r.Context(), s); err != nil {
		if errors.Is(err, recurrence.ErrInvalidRule) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to create series", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, h.toResponse(*s))
}

// createAndExpand persists the series, emits the created event, and
// materializes the first rolling window immediately so the customer sees
// their occurrences without waiting for the scheduler's next pass. An
// expansion failure is logged, not surfaced: the series row is durable and
// the scheduler retries the window.
func (h *SeriesHandler) createAndExpand(ctx context.Context, s *recurrence.Series) error {
	if err := h.lifecycle.CreateSeries(ctx, s); err != nil {
		return err
	}
	h.emitSeriesEvent(ctx, outbox.EventSeriesCreated, *s, 0)

	today := clock.DateOf(h.now().UTC())
	res, err := h.lifecycle.RequestExpansion(ctx, s.ID, recurrence.DefaultHorizon(s.Rule, today))
	if err != nil {
		h.logger.Warn("initial series expansion failed; scheduler will retry", "series_id", s.ID, "err", err)
		return nil
	}
	if res.Created > 0 {
		if updated, err := h.store.Get(ctx, s.ID); err == nil {
			*s = updated
		}
		h.emitSeriesEvent(ctx, outbox.EventSeriesExpanded, *s, res.Created)
	}
	return nil
}

func (h *SeriesHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Pause, outbox.EventSeriesPaused)
}

func (h *SeriesHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Resume, outbox.EventSeriesResumed)
}

func (h *SeriesHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Cancel, outbox.EventSeriesCancelled)
}

func (h *SeriesHandler) transition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, id string) error, eventType string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req seriesActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SeriesID = strings.TrimSpace(req.SeriesID)
	if req.SeriesID == "" {
		http.Error(w, "series_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := apply(ctx, req.SeriesID); err != nil {
		switch {
		case errors.Is(err, recurrence.ErrSeriesNotFound):
			http.Error(w, "series not found", http.StatusNotFound)
		case errors.Is(err, recurrence.ErrInvalidState):
			http.Error(w, "series state does not allow this transition", http.StatusConflict)
		default:
			http.Error(w, "failed to update series", http.StatusInternalServerError)
		}
		return
	}

	s, err := h.store.Get(ctx, req.SeriesID)
	if err != nil {
		http.Error(w, "failed to load series", http.StatusInternalServerError)
		return
	}
	h.emitSeriesEvent(ctx, eventType, s, 0)
	writeJSON(w, http.StatusOK, h.toResponse(s))
}

// Expand serves POST /internal/v1/series/expand for the scheduler's
// rolling-horizon worker. The operation is idempotent for a fixed horizon:
// repeating a call creates nothing new and succeeds.
func (h *SeriesHandler) Expand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req expandSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SeriesID = strings.TrimSpace(req.SeriesID)
	if req.SeriesID == "" {
		http.Error(w, "series_id required", http.StatusBadRequest)
		return
	}
	until, err := clock.ParseDate(strings.TrimSpace(req.Until))
	if err != nil {
		http.Error(w, "invalid until, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	res, err := h.lifecycle.RequestExpansion(ctx, req.SeriesID, until)
	if err != nil {
		switch {
		case errors.Is(err, recurrence.ErrSeriesNotFound):
			http.Error(w, "series not found", http.StatusNotFound)
		case errors.Is(err, recurrence.ErrSeriesNotActive):
			http.Error(w, "series is not active", http.StatusConflict)
		case errors.Is(err, recurrence.ErrConflictRetriesExhausted):
			http.Error(w, "series is under concurrent expansion, retry later", http.StatusServiceUnavailable)
		default:
			http.Error(w, "expansion failed", http.StatusInternalServerError)
		}
		return
	}

	if res.Created > 0 {
		if s, err := h.store.Get(ctx, req.SeriesID); err == nil {
			h.emitSeriesEvent(ctx, outbox.EventSeriesExpanded, s, res.Created)
		}
	}
	writeJSON(w, http.StatusOK, expandSeriesResponse{SeriesID: req.SeriesID, Created: res.Created})
}

func (h *SeriesHandler) list(w http.ResponseWriter, r *http.Request) {
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

	series, err := h.store.ListByBusiness(r.Context(), businessID, limit)
	if err != nil {
		http.Error(w, "failed to list series", http.StatusInternalServerError)
		return
	}
	items := make([]seriesResponse, 0, len(series))
	for _, s := range series {
		items = append(items, h.toResponse(s))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *SeriesHandler) parseRule(req createSeriesRequest) (recurrence.Rule, error) {
	rule := recurrence.Rule{
		Pattern:        recurrence.Pattern(strings.TrimSpace(req.Pattern)),
		Frequency:      req.Frequency,
		NeverEnds:      req.NeverEnds,
		MaxOccurrences: req.MaxOccurrences,
	}
	start, err := clock.ParseDate(strings.TrimSpace(req.StartDate))
	if err != nil {
		return recurrence.Rule{}, errors.New("invalid start_date, want YYYY-MM-DD")
	}
	rule.StartDate = start
	tod, err := clock.ParseTimeOfDay(strings.TrimSpace(req.TimeOfDay))
	if err != nil {
		return recurrence.Rule{}, errors.New("invalid time_of_day, want HH:MM")
	}
	rule.TimeOfDay = tod
	if raw := strings.TrimSpace(req.EndDate); raw != "" {
		end, err := clock.ParseDate(raw)
		if err != nil {
			return recurrence.Rule{}, errors.New("invalid end_date, want YYYY-MM-DD")
		}
		rule.EndDate = &end
	}
	return rule, nil
}

// emitSeriesEvent writes a lifecycle event through the outbox in its own
// short transaction. Event loss here is tolerable and logged; the series
// row itself is already durable.
func (h *SeriesHandler) emitSeriesEvent(ctx context.Context, eventType string, s recurrence.Series, created int) {
	evt, err := outbox.NewEvent("series", s.ID, eventType, outbox.SeriesEvent{
		SeriesID:     s.ID,
		BusinessID:   s.BusinessID,
		ServiceID:    s.ServiceID,
		Status:       string(s.Status),
		TotalCreated: s.TotalCreated,
		Created:      created,
	})
	if err != nil {
		h.logger.Error("series event marshal failed", "err", err)
		return
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		h.logger.Error("series event tx begin failed", "err", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := h.outboxRepo.Insert(ctx, tx, evt); err != nil {
		h.logger.Error("series event outbox insert failed", "err", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		h.logger.Error("series event commit failed", "err", err)
	}
}

func (h *SeriesHandler) toResponse(s recurrence.Series) seriesResponse {
	resp := seriesResponse{
		SeriesID:     s.ID,
		Status:       string(s.Status),
		Pattern:      string(s.Rule.Pattern),
		Frequency:    s.Rule.Frequency,
		StartDate:    clock.FormatDate(s.Rule.StartDate),
		TimeOfDay:    s.Rule.TimeOfDay.String(),
		TotalCreated: s.TotalCreated,
	}
	if s.LastGeneratedDate != nil {
		resp.LastGeneratedDate = clock.FormatDate(*s.LastGeneratedDate)
	}
	return resp
}
