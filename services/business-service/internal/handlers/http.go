package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bolttesting/bookly/libs/clock"
	"github.com/bolttesting/bookly/services/business-service/internal/storage"
)

type Handler struct {
	repo *storage.Repository
}

func New(repo *storage.Repository) *Handler {
	return &Handler{repo: repo}
}

func businessIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Business-Id"))
}

type serviceRequest struct {
	Name         string `json:"name"`
	DurationMins int    `json:"duration_minutes"`
	BufferMins   int    `json:"buffer_minutes"`
	Capacity     int    `json:"capacity"`
	Description  string `json:"description"`
}

type serviceItem struct {
	ServiceID    string `json:"service_id"`
	Name         string `json:"name"`
	DurationMins int    `json:"duration_minutes"`
	BufferMins   int    `json:"buffer_minutes"`
	Capacity     int    `json:"capacity"`
	Description  string `json:"description,omitempty"`
}

func (req serviceRequest) validate() string {
	if strings.TrimSpace(req.Name) == "" {
		return "name required"
	}
	if req.DurationMins <= 0 || req.DurationMins > clock.MinutesPerDay {
		return "duration_minutes must be between 1 and 1440"
	}
	if req.BufferMins < 0 || req.BufferMins > clock.MinutesPerDay {
		return "buffer_minutes must be between 0 and 1440"
	}
	if req.Capacity < 1 {
		return "capacity must be at least 1"
	}
	return ""
}

// Services handles POST (create) and GET (list) on /api/v1/business/services.
func (h *Handler) Services(w http.ResponseWriter, r *http.Request) {
	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req serviceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if msg := req.validate(); msg != "" {
			http.Error(w, msg, http.StatusBadRequest)
			return
		}
		id, err := h.repo.CreateService(r.Context(), storage.Service{
			BusinessID:   businessID,
			Name:         strings.TrimSpace(req.Name),
			DurationMins: req.DurationMins,
			BufferMins:   req.BufferMins,
			Capacity:     req.Capacity,
			Description:  strings.TrimSpace(req.Description),
		})
		if err != nil {
			http.Error(w, "failed to create service", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"service_id": id})

	case http.MethodGet:
		limit := 100
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		services, err := h.repo.ListServices(r.Context(), businessID, limit)
		if err != nil {
			http.Error(w, "failed to list services", http.StatusInternalServerError)
			return
		}
		items := make([]serviceItem, 0, len(services))
		for _, s := range services {
			items = append(items, serviceItem{
				ServiceID:    s.ID,
				Name:         s.Name,
				DurationMins: s.DurationMins,
				BufferMins:   s.BufferMins,
				Capacity:     s.Capacity,
				Description:  s.Description,
			})
		}
		writeJSON(w, http.StatusOK, items)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) UpdateService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := businessIDFromHeader(r)
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	if businessID == "" || serviceID == "" {
		http.Error(w, "missing X-Business-Id or service_id", http.StatusBadRequest)
		return
	}

	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	err := h.repo.UpdateService(r.Context(), storage.Service{
		ID:           serviceID,
		BusinessID:   businessID,
		Name:         strings.TrimSpace(req.Name),
		DurationMins: req.DurationMins,
		BufferMins:   req.BufferMins,
		Capacity:     req.Capacity,
		Description:  strings.TrimSpace(req.Description),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to update service", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type hourRangeBody struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type weeklyHoursBody struct {
	LocationID string          `json:"location_id"`
	Weekday    int             `json:"weekday"`
	IsClosed   bool            `json:"is_closed"`
	Open       string          `json:"open"`
	Close      string          `json:"close"`
	Ranges     []hourRangeBody `json:"ranges"`
}

// Hours handles PUT (upsert one weekday) and GET (list) on
// /api/v1/business/hours. Times are "HH:MM" strings.
func (h *Handler) Hours(w http.ResponseWriter, r *http.Request) {
	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req weeklyHoursBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if req.Weekday < 0 || req.Weekday > 6 {
			http.Error(w, "weekday must be 0..6", http.StatusBadRequest)
			return
		}
		wh := storage.WeeklyHours{
			BusinessID: businessID,
			LocationID: strings.TrimSpace(req.LocationID),
			Weekday:    req.Weekday,
			IsClosed:   req.IsClosed,
		}
		if !req.IsClosed {
			var err error
			if wh.OpenMin, err = clock.ParseTimeOfDay(req.Open); err != nil {
				http.Error(w, "invalid open, want HH:MM", http.StatusBadRequest)
				return
			}
			if wh.CloseMin, err = clock.ParseTimeOfDay(req.Close); err != nil {
				http.Error(w, "invalid close, want HH:MM", http.StatusBadRequest)
				return
			}
			if wh.CloseMin <= wh.OpenMin {
				http.Error(w, "close must be after open", http.StatusBadRequest)
				return
			}
		}
		for _, rng := range req.Ranges {
			start, err := clock.ParseTimeOfDay(rng.Start)
			if err != nil {
				http.Error(w, "invalid range start, want HH:MM", http.StatusBadRequest)
				return
			}
			end, err := clock.ParseTimeOfDay(rng.End)
			if err != nil {
				http.Error(w, "invalid range end, want HH:MM", http.StatusBadRequest)
				return
			}
			if end <= start {
				http.Error(w, "range end must be after start", http.StatusBadRequest)
				return
			}
			wh.Ranges = append(wh.Ranges, storage.HourRange{StartMin: start, EndMin: end})
		}
		if err := h.repo.UpsertWeeklyHours(r.Context(), wh); err != nil {
			http.Error(w, "failed to save hours", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		locationID := strings.TrimSpace(r.URL.Query().Get("location_id"))
		hours, err := h.repo.ListWeeklyHours(r.Context(), businessID, locationID)
		if err != nil {
			http.Error(w, "failed to list hours", http.StatusInternalServerError)
			return
		}
		items := make([]weeklyHoursBody, 0, len(hours))
		for _, wh := range hours {
			item := weeklyHoursBody{
				LocationID: wh.LocationID,
				Weekday:    wh.Weekday,
				IsClosed:   wh.IsClosed,
				Open:       wh.OpenMin.String(),
				Close:      wh.CloseMin.String(),
			}
			for _, rng := range wh.Ranges {
				item.Ranges = append(item.Ranges, hourRangeBody{Start: rng.StartMin.String(), End: rng.EndMin.String()})
			}
			items = append(items, item)
		}
		writeJSON(w, http.StatusOK, items)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type scheduleEntryBody struct {
	Weekday int    `json:"weekday"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// ServiceSchedule handles PUT (replace all entries) and GET on
// /api/v1/business/services/schedule?service_id=...
func (h *Handler) ServiceSchedule(w http.ResponseWriter, r *http.Request) {
	businessID := businessIDFromHeader(r)
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	if businessID == "" || serviceID == "" {
		http.Error(w, "missing X-Business-Id or service_id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req []scheduleEntryBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		entries := make([]storage.ServiceScheduleEntry, 0, len(req))
		for _, e := range req {
			if e.Weekday < 0 || e.Weekday > 6 {
				http.Error(w, "weekday must be 0..6", http.StatusBadRequest)
				return
			}
			start, err := clock.ParseTimeOfDay(e.Start)
			if err != nil {
				http.Error(w, "invalid start, want HH:MM", http.StatusBadRequest)
				return
			}
			end, err := clock.ParseTimeOfDay(e.End)
			if err != nil {
				http.Error(w, "invalid end, want HH:MM", http.StatusBadRequest)
				return
			}
			if end <= start {
				http.Error(w, "end must be after start", http.StatusBadRequest)
				return
			}
			entries = append(entries, storage.ServiceScheduleEntry{Weekday: e.Weekday, StartMin: start, EndMin: end})
		}
		if err := h.repo.ReplaceServiceSchedule(r.Context(), businessID, serviceID, entries); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "service not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to save schedule", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		entries, err := h.repo.ListServiceSchedule(r.Context(), businessID, serviceID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "service not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to list schedule", http.StatusInternalServerError)
			return
		}
		items := make([]scheduleEntryBody, 0, len(entries))
		for _, e := range entries {
			items = append(items, scheduleEntryBody{Weekday: e.Weekday, Start: e.StartMin.String(), End: e.EndMin.String()})
		}
		writeJSON(w, http.StatusOK, items)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type offDayBody struct {
	LocationID string `json:"location_id,omitempty"`
	Date       string `json:"date"`
	Reason     string `json:"reason,omitempty"`
}

// OffDays handles POST (add), DELETE (remove), and GET (list range) on
// /api/v1/business/off-days.
func (h *Handler) OffDays(w http.ResponseWriter, r *http.Request) {
	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req offDayBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		date, err := clock.ParseDate(strings.TrimSpace(req.Date))
		if err != nil {
			http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		if err := h.repo.AddOffDay(r.Context(), storage.OffDay{
			BusinessID: businessID,
			LocationID: strings.TrimSpace(req.LocationID),
			Date:       date,
			Reason:     strings.TrimSpace(req.Reason),
		}); err != nil {
			http.Error(w, "failed to add off day", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		date, err := clock.ParseDate(strings.TrimSpace(r.URL.Query().Get("date")))
		if err != nil {
			http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		locationID := strings.TrimSpace(r.URL.Query().Get("location_id"))
		if err := h.repo.RemoveOffDay(r.Context(), businessID, locationID, date); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "off day not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to remove off day", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		from, err := clock.ParseDate(strings.TrimSpace(r.URL.Query().Get("from")))
		if err != nil {
			http.Error(w, "invalid from, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		to, err := clock.ParseDate(strings.TrimSpace(r.URL.Query().Get("to")))
		if err != nil {
			http.Error(w, "invalid to, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		offDays, err := h.repo.ListOffDays(r.Context(), businessID, from, to)
		if err != nil {
			http.Error(w, "failed to list off days", http.StatusInternalServerError)
			return
		}
		items := make([]offDayBody, 0, len(offDays))
		for _, od := range offDays {
			items = append(items, offDayBody{
				LocationID: od.LocationID,
				Date:       clock.FormatDate(od.Date),
				Reason:     od.Reason,
			})
		}
		writeJSON(w, http.StatusOK, items)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type slotBlockBody struct {
	ServiceID string `json:"service_id"`
	Date      string `json:"date"`
	Start     string `json:"start"`
	Reason    string `json:"reason,omitempty"`
}

// SlotBlocks handles POST (block one start time), DELETE, and GET on
// /api/v1/business/slot-blocks.
func (h *Handler) SlotBlocks(w http.ResponseWriter, r *http.Request) {
	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req slotBlockBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		serviceID := strings.TrimSpace(req.ServiceID)
		if serviceID == "" {
			http.Error(w, "service_id required", http.StatusBadRequest)
			return
		}
		date, err := clock.ParseDate(strings.TrimSpace(req.Date))
		if err != nil {
			http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		start, err := clock.ParseTimeOfDay(strings.TrimSpace(req.Start))
		if err != nil {
			http.Error(w, "invalid start, want HH:MM", http.StatusBadRequest)
			return
		}
		if err := h.repo.AddSlotBlock(r.Context(), businessID, storage.SlotBlock{
			ServiceID: serviceID,
			Date:      date,
			StartMin:  start,
			Reason:    strings.TrimSpace(req.Reason),
		}); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "service not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to add slot block", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
		date, err := clock.ParseDate(strings.TrimSpace(r.URL.Query().Get("date")))
		if err != nil || serviceID == "" {
			http.Error(w, "service_id and date required", http.StatusBadRequest)
			return
		}
		start, err := clock.ParseTimeOfDay(strings.TrimSpace(r.URL.Query().Get("start")))
		if err != nil {
			http.Error(w, "invalid start, want HH:MM", http.StatusBadRequest)
			return
		}
		if err := h.repo.RemoveSlotBlock(r.Context(), businessID, serviceID, date, start); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "slot block not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to remove slot block", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
		date, err := clock.ParseDate(strings.TrimSpace(r.URL.Query().Get("date")))
		if err != nil || serviceID == "" {
			http.Error(w, "service_id and date required", http.StatusBadRequest)
			return
		}
		blocks, err := h.repo.ListSlotBlocks(r.Context(), businessID, serviceID, date)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				http.Error(w, "service not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to list slot blocks", http.StatusInternalServerError)
			return
		}
		items := make([]slotBlockBody, 0, len(blocks))
		for _, b := range blocks {
			items = append(items, slotBlockBody{
				ServiceID: b.ServiceID,
				Date:      clock.FormatDate(b.Date),
				Start:     b.StartMin.String(),
				Reason:    b.Reason,
			})
		}
		writeJSON(w, http.StatusOK, items)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
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
