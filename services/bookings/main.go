package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/citizen-portal/pkg/config"
	"github.com/diagnosis/citizen-portal/pkg/database"
	"github.com/diagnosis/citizen-portal/pkg/events"
	"github.com/diagnosis/citizen-portal/pkg/logger"
	mw "github.com/diagnosis/citizen-portal/pkg/middleware"
	"github.com/diagnosis/citizen-portal/pkg/ratelimit"
	"github.com/diagnosis/citizen-portal/pkg/tracking"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/handlers"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/repository"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/service"
	"github.com/go-chi/chi/v5"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Tracking links must never be signed with a substitute key.
	if err := cfg.Tracking.Validate(); err != nil {
		logger.Error("Refusing to start bookings service", "error", err)
		os.Exit(1)
	}
	if err := cfg.Auth.Validate(); err != nil {
		logger.Error("Refusing to start bookings service", "error", err)
		os.Exit(1)
	}
	if err := mw.TrustProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Error("Invalid TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}
	signer, err := tracking.NewSigner(cfg.Tracking.Secret, cfg.Tracking.TTL)
	if err != nil {
		logger.Error("Failed to build tracking signer", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL, "bookings")
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	var trackLimiter, createLimiter ratelimit.Limiter = ratelimit.Noop{}, ratelimit.Noop{}
	if rdb, err := ratelimit.NewRedisClient(ctx, cfg.Redis); err != nil {
		logger.Warn("Redis unavailable, rate limiting disabled", "error", err)
	} else {
		defer rdb.Close()
		trackLimiter = ratelimit.NewRedisLimiter(rdb, "track", cfg.Tracking.RequestsPerHour, time.Hour)
		createLimiter = ratelimit.NewRedisLimiter(rdb, "bookings", cfg.Portal.BookingsPerHour, time.Hour)
	}

	bookingRepo := repository.NewBookingRepository(pool)
	idempotencyRepo := repository.NewIdempotencyRepository(pool)

	bookingService := service.NewBookingService(bookingRepo, idempotencyRepo, eventBus, cfg)
	trackingService := service.NewTrackingService(bookingRepo, signer, service.NewEventNotifier(eventBus), trackLimiter, cfg.Tracking.SiteURL)

	h := handlers.New(bookingService, trackingService)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("bookings"))
	r.Use(mw.Logging)
	r.Use(mw.Recoverer)
	r.Use(mw.Health)
	r.Use(mw.Metrics)
	h.Routes(r, cfg.Auth.JWTSecret, createLimiter)

	go cleanupIdempotency(ctx, idempotencyRepo)

	srv := &http.Server{
		Addr:         cfg.Server.Addr("8082"),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down bookings service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Bookings service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting bookings service", "addr", srv.Addr, "tracking_ttl", cfg.Tracking.TTL.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Bookings service error", "error", err)
		os.Exit(1)
	}
}

func cleanupIdempotency(ctx context.Context, repo repository.IdempotencyRepository) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		n, err := repo.CleanupExpired(ctx)
		if err != nil {
			logger.Warn("Idempotency cleanup failed", "error", err)
			continue
		}
		if n > 0 {
			logger.Info("Removed expired idempotency keys", "count", n)
		}
	}
}
