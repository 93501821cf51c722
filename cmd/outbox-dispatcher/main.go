package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/theratime/scheduling-platform/cmd/mainconfig"
	appconfig "github.com/theratime/scheduling-platform/internal/config"
	"github.com/theratime/scheduling-platform/internal/events"
	"github.com/theratime/scheduling-platform/internal/observability/metrics"
	"github.com/theratime/scheduling-platform/internal/queue"
	"github.com/theratime/scheduling-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" || cfg.AppointmentQueueURL == "" {
		logger.Error("outbox dispatcher requires DATABASE_URL and APPOINTMENT_QUEUE_URL")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	bus := queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.AppointmentQueueURL)

	store := events.NewOutboxStore(pool, logger)
	dispatcher := events.NewDispatcher(store, bus, cfg.TenantIDs, logger).
		WithInterval(cfg.OutboxInterval).
		WithMaxAttempts(cfg.OutboxMaxAttempts).
		WithBatchSize(cfg.OutboxBatchSize).
		WithMetrics(metrics.NewOutboxMetrics(nil))

	logger.Info("starting outbox dispatcher",
		"tenants", len(cfg.TenantIDs),
		"interval", cfg.OutboxInterval.String(),
	)
	go dispatcher.Run(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("outbox dispatcher shutting down")
	cancel()
	time.Sleep(2 * time.Second)
}
