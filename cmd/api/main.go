package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theratime/scheduling-platform/internal/api"
	appconfig "github.com/theratime/scheduling-platform/internal/config"
	"github.com/theratime/scheduling-platform/internal/events"
	"github.com/theratime/scheduling-platform/internal/identity"
	"github.com/theratime/scheduling-platform/internal/observability/metrics"
	"github.com/theratime/scheduling-platform/internal/scheduling"
	"github.com/theratime/scheduling-platform/pkg/logging"
)

func main() {
	// .env is optional; real deployments inject environment directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting scheduling API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if cfg.DatabaseURL == "" || cfg.JWTSecret == "" {
		logger.Error("API server requires DATABASE_URL and JWT_SECRET")
		os.Exit(1)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	directory, err := identity.New(identity.Config{
		BaseURL:        cfg.IdentityBaseURL,
		Timeout:        cfg.IdentityTimeout,
		MaxAttempts:    cfg.IdentityMaxAttempts,
		RetryBaseDelay: cfg.IdentityRetryBaseDelay,
	}, logger)
	if err != nil {
		logger.Error("failed to create identity client", "error", err)
		os.Exit(1)
	}

	repo := scheduling.NewRepository(pool)
	outbox := events.NewOutboxStore(pool, logger)
	service := scheduling.NewService(repo, directory, outbox, logger).
		WithMetrics(metrics.NewBookingMetrics(nil))

	routerCfg := &api.RouterConfig{
		Logger:             logger,
		Appointments:       api.NewAppointmentHandler(service, logger),
		JWTSecret:          cfg.JWTSecret,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.AllowedOrigins,
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
