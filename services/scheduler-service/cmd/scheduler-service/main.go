package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bolttesting/bookly/libs/config"
	"github.com/bolttesting/bookly/libs/db"
	"github.com/bolttesting/bookly/libs/httpx"
	"github.com/bolttesting/bookly/libs/kafkax"
	otelx "github.com/bolttesting/bookly/libs/otel"
	"github.com/bolttesting/bookly/libs/runtime"
	"github.com/bolttesting/bookly/services/scheduler-service/internal/consumer"
	"github.com/bolttesting/bookly/services/scheduler-service/internal/horizon"
	"github.com/bolttesting/bookly/services/scheduler-service/internal/inbox"
)

// seriesEvent is the shared shape of booking.series.*.v1 payloads.
type seriesEvent struct {
	SeriesID   string `json:"seriesId"`
	BusinessID string `json:"businessId"`
	Status     string `json:"status"`
}

func main() {
	service := config.String("SERVICE_NAME", "scheduler-service")
	port, err := config.Port("PORT", "8087")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	horizonRepo := horizon.NewRepository(pool)

	bookingClient := horizon.NewBookingClient(
		config.String("BOOKING_BASE_URL", "http://booking-service:8083"),
		config.DurationSeconds("BOOKING_TIMEOUT_SECONDS", 10*time.Second),
	)
	worker := horizon.NewWorker(horizonRepo, bookingClient, logger, horizon.WorkerConfig{
		Interval:   config.DurationSeconds("HORIZON_INTERVAL_SECONDS", 30*time.Second),
		Reschedule: config.DurationSeconds("HORIZON_RESCHEDULE_SECONDS", 24*time.Hour),
		BatchSize:  config.Int("HORIZON_BATCH_SIZE", 50),
		Backoff:    config.DurationSeconds("HORIZON_BACKOFF_SECONDS", time.Minute),
	})
	go worker.Run(ctx)

	parse := func(msg kafka.Message) (seriesEvent, bool) {
		var evt seriesEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Error("invalid series event", "err", err, "topic", msg.Topic)
			return seriesEvent{}, false
		}
		if evt.SeriesID == "" {
			logger.Error("series event missing seriesId", "topic", msg.Topic)
			return seriesEvent{}, false
		}
		return evt, true
	}

	startConsumer := func(topic string, handler consumer.Handler) {
		if strings.TrimSpace(topic) == "" {
			return
		}
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "scheduler-service"),
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	track := func(ctx context.Context, msg kafka.Message) error {
		evt, ok := parse(msg)
		if !ok {
			return nil
		}
		return horizonRepo.Upsert(ctx, evt.SeriesID, evt.BusinessID)
	}
	untrack := func(ctx context.Context, msg kafka.Message) error {
		evt, ok := parse(msg)
		if !ok {
			return nil
		}
		return horizonRepo.Deactivate(ctx, evt.SeriesID)
	}

	startConsumer("booking.series.created.v1", track)
	startConsumer("booking.series.resumed.v1", track)
	startConsumer("booking.series.paused.v1", untrack)
	startConsumer("booking.series.cancelled.v1", untrack)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "scheduler")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
