package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bolttesting/bookly/services/booking-service/internal/storage"
)

func TestReplayIdempotency(t *testing.T) {
	t.Run("finalized record replays regardless of which request inserted it", func(t *testing.T) {
		rec := storage.IdempotencyRecord{
			AppointmentID:   "a1",
			StatusCode:      http.StatusCreated,
			ResponsePayload: []byte(`{"appointment_id":"a1"}`),
		}
		w := httptest.NewRecorder()
		if !replayIdempotency(w, rec) {
			t.Fatalf("finalized record should replay")
		}
		if w.Code != http.StatusCreated {
			t.Fatalf("got status %d, want %d", w.Code, http.StatusCreated)
		}
		if got := w.Body.String(); got != `{"appointment_id":"a1"}` {
			t.Fatalf("got body %q, want stored payload", got)
		}
	})

	t.Run("unfinalized record does not replay", func(t *testing.T) {
		w := httptest.NewRecorder()
		if replayIdempotency(w, storage.IdempotencyRecord{}) {
			t.Fatalf("fresh record should not replay")
		}
		if w.Body.Len() != 0 {
			t.Fatalf("nothing should be written for a fresh record")
		}
	})

	t.Run("finalized failure replays too", func(t *testing.T) {
		rec := storage.IdempotencyRecord{
			StatusCode:      http.StatusConflict,
			ResponsePayload: []byte(`{"error":"slot is fully booked"}`),
		}
		w := httptest.NewRecorder()
		if !replayIdempotency(w, rec) {
			t.Fatalf("finalized failure should replay")
		}
		if w.Code != http.StatusConflict {
			t.Fatalf("got status %d, want %d", w.Code, http.StatusConflict)
		}
	})
}
