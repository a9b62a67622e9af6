package main

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bolttesting/bookly/libs/config"
	"github.com/bolttesting/bookly/libs/db"
	"github.com/bolttesting/bookly/libs/httpx"
	"github.com/bolttesting/bookly/libs/kafkax"
	otelx "github.com/bolttesting/bookly/libs/otel"
	"github.com/bolttesting/bookly/libs/runtime"
	"github.com/bolttesting/bookly/services/booking-service/internal/handlers"
	"github.com/bolttesting/bookly/services/booking-service/internal/outbox"
	"github.com/bolttesting/bookly/services/booking-service/internal/recurrence"
	"github.com/bolttesting/bookly/services/booking-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	bookingRepo := storage.NewBookingRepository(pool)
	calendarRepo := storage.NewCalendarRepository(pool)
	seriesRepo := storage.NewSeriesRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	lifecycle := recurrence.NewLifecycle(seriesRepo, storage.NewLedgerExpander(pool), logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: config.DurationSeconds("OUTBOX_POLL_SECONDS", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	seriesHandler := handlers.NewSeriesHandler(lifecycle, seriesRepo, bookingRepo, outboxRepo, logger)
	bookingHandler := handlers.NewBookingHandler(bookingRepo, calendarRepo, outboxRepo, seriesHandler, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/public/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/v1/public/book", bookingHandler.Create)
	mux.HandleFunc("/api/v1/appointments", bookingHandler.List)
	mux.HandleFunc("/api/v1/appointments/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/series", seriesHandler.Create)
	mux.HandleFunc("/api/v1/series/pause", seriesHandler.Pause)
	mux.HandleFunc("/api/v1/series/resume", seriesHandler.Resume)
	mux.HandleFunc("/api/v1/series/cancel", seriesHandler.Cancel)
	mux.HandleFunc("/internal/v1/series/expand", seriesHandler.Expand)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
