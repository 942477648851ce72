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
	"github.com/diagnosis/citizen-portal/pkg/logger"
	mw "github.com/diagnosis/citizen-portal/pkg/middleware"
	"github.com/diagnosis/citizen-portal/pkg/ratelimit"
	"github.com/diagnosis/citizen-portal/services/auth/internal/handlers"
	"github.com/diagnosis/citizen-portal/services/auth/internal/repository"
	"github.com/diagnosis/citizen-portal/services/auth/internal/service"
	"github.com/go-chi/chi/v5"
)

const loginAttemptsPerHour = 20

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Auth.Validate(); err != nil {
		logger.Error("Refusing to start auth service", "error", err)
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

	var loginLimiter ratelimit.Limiter = ratelimit.Noop{}
	if rdb, err := ratelimit.NewRedisClient(ctx, cfg.Redis); err != nil {
		logger.Warn("Redis unavailable, login rate limiting disabled", "error", err)
	} else {
		defer rdb.Close()
		loginLimiter = ratelimit.NewRedisLimiter(rdb, "login", loginAttemptsPerHour, time.Hour)
	}

	staffRepo := repository.NewStaffRepository(pool)
	authService, err := service.NewAuthService(staffRepo, cfg.Auth)
	if err != nil {
		logger.Error("Failed to build auth service", "error", err)
		os.Exit(1)
	}

	h := handlers.New(authService)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("auth"))
	r.Use(mw.Logging)
	r.Use(mw.Recoverer)
	r.Use(mw.Health)
	r.Use(mw.Metrics)
	h.Routes(r, cfg.Auth.JWTSecret, loginLimiter)

	srv := &http.Server{
		Addr:         cfg.Server.Addr("8081"),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down auth service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Auth service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting auth service", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Auth service error", "error", err)
		os.Exit(1)
	}
}
