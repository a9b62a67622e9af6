package horizon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bolttesting/bookly/libs/clock"
)

var (
	// ErrSeriesGone means the booking service no longer knows the series.
	ErrSeriesGone = errors.New("series not found")
	// ErrSeriesInactive means the series exists but is paused or cancelled.
	ErrSeriesInactive = errors.New("series not active")
)

// BookingClient calls the booking service's internal expansion endpoint.
type BookingClient struct {
	baseURL string
	client  *http.Client
}

func NewBookingClient(baseURL string, timeout time.Duration) *BookingClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BookingClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type expandRequest struct {
	SeriesID string `json:"series_id"`
	Until    string `json:"until"`
}

func (c *BookingClient) ExpandSeries(ctx context.Context, seriesID string, until time.Time) error {
	body, err := json.Marshal(expandRequest{SeriesID: seriesID, Until: clock.FormatDate(until)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/v1/series/expand", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrSeriesGone
	case resp.StatusCode == http.StatusConflict:
		return ErrSeriesInactive
	default:
		return fmt.Errorf("expand series %s: unexpected status %d", seriesID, resp.StatusCode)
	}
}
