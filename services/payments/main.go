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
	"github.com/diagnosis/citizen-portal/services/payments/internal/gateway"
	"github.com/diagnosis/citizen-portal/services/payments/internal/handlers"
	"github.com/diagnosis/citizen-portal/services/payments/internal/repository"
	"github.com/diagnosis/citizen-portal/services/payments/internal/service"
	"github.com/go-chi/chi/v5"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	if err := cfg.Auth.Validate(); err != nil {
		logger.Error("Refusing to start payments service", "error", err)
		os.Exit(1)
	}
	if err := mw.TrustProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Error("Invalid TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL, "payments")
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	var intents gateway.IntentCreator
	if cfg.Stripe.SecretKey != "" {
		intents = gateway.NewStripeGateway(cfg.Stripe.SecretKey)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, tax payments disabled")
	}
	var webhooks gateway.WebhookParser
	if cfg.Stripe.WebhookSecret != "" {
		webhooks = gateway.NewStripeWebhook(cfg.Stripe.WebhookSecret)
	} else {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, webhooks disabled")
	}

	paymentService := service.NewPaymentService(repository.NewPaymentRepository(pool), intents, eventBus, cfg.Portal.DefaultTenant)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("payments"))
	r.Use(mw.Logging)
	r.Use(mw.Recoverer)
	r.Use(mw.Health)
	r.Use(mw.Metrics)
	handlers.New(paymentService, webhooks).Routes(r, cfg.Auth.JWTSecret)

	srv := &http.Server{
		Addr:         cfg.Server.Addr("8085"),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down payments service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Payments service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting payments service", "addr", srv.Addr, "stripe_env", cfg.Stripe.Environment)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Payments service error", "error", err)
		os.Exit(1)
	}
}
