package horizon

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu          sync.Mutex
	due         []Job
	processed   []int64
	failed      []int64
	deactivated []string
}

func (s *fakeStore) FetchDue(ctx context.Context, limit int, lease time.Duration) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := s.due
	s.due = nil
	return jobs, nil
}

func (s *fakeStore) MarkProcessed(ctx context.Context, id int64, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = append(s.processed, id)
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, id int64, attempts, maxAttempts int, nextRunAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, id)
	return nil
}

func (s *fakeStore) Deactivate(ctx context.Context, seriesID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated = append(s.deactivated, seriesID)
	return nil
}

func newTestWorker(store Store, expander Expander) *Worker {
	w := NewWorker(store, expander, slog.New(slog.NewTextHandler(io.Discard, nil)), WorkerConfig{})
	w.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }
	return w
}

func TestProcessBatchExpandsThroughRollingHorizon(t *testing.T) {
	var gotBody expandRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/v1/series/expand" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"series_id":"s1","created":3}`))
	}))
	defer srv.Close()

	store := &fakeStore{due: []Job{{ID: 1, SeriesID: "s1", BusinessID: "b1", MaxAttempts: 5}}}
	w := newTestWorker(store, NewBookingClient(srv.URL, 0))

	if err := w.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if gotBody.SeriesID != "s1" {
		t.Fatalf("series_id = %q, want s1", gotBody.SeriesID)
	}
	// 2026-03-01 plus the 90-day window.
	if gotBody.Until != "2026-05-30" {
		t.Fatalf("until = %q, want 2026-05-30", gotBody.Until)
	}
	if len(store.processed) != 1 || store.processed[0] != 1 {
		t.Fatalf("processed = %v, want [1]", store.processed)
	}
	if len(store.failed) != 0 || len(store.deactivated) != 0 {
		t.Fatalf("unexpected failures %v or deactivations %v", store.failed, store.deactivated)
	}
}

func TestProcessBatchDeactivatesGoneAndInactiveSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req expandRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.SeriesID {
		case "gone":
			http.Error(w, "series not found", http.StatusNotFound)
		case "paused":
			http.Error(w, "series is not active", http.StatusConflict)
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	store := &fakeStore{due: []Job{
		{ID: 1, SeriesID: "gone", MaxAttempts: 5},
		{ID: 2, SeriesID: "paused", MaxAttempts: 5},
		{ID: 3, SeriesID: "live", MaxAttempts: 5},
	}}
	w := newTestWorker(store, NewBookingClient(srv.URL, 0))

	if err := w.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if len(store.deactivated) != 2 {
		t.Fatalf("deactivated = %v, want [gone paused]", store.deactivated)
	}
	if len(store.processed) != 1 || store.processed[0] != 3 {
		t.Fatalf("processed = %v, want [3]", store.processed)
	}
	if len(store.failed) != 0 {
		t.Fatalf("failed = %v, want none", store.failed)
	}
}

func TestProcessBatchBacksOffOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := &fakeStore{due: []Job{{ID: 7, SeriesID: "s7", Attempts: 1, MaxAttempts: 5}}}
	w := newTestWorker(store, NewBookingClient(srv.URL, 0))

	if err := w.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(store.failed) != 1 || store.failed[0] != 7 {
		t.Fatalf("failed = %v, want [7]", store.failed)
	}
	if len(store.processed) != 0 {
		t.Fatalf("processed = %v, want none", store.processed)
	}
}
