package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/theratime/scheduling-platform/cmd/mainconfig"
	appconfig "github.com/theratime/scheduling-platform/internal/config"
	"github.com/theratime/scheduling-platform/internal/events"
	"github.com/theratime/scheduling-platform/internal/notifications"
	"github.com/theratime/scheduling-platform/internal/observability/metrics"
	"github.com/theratime/scheduling-platform/internal/queue"
	"github.com/theratime/scheduling-platform/internal/worker"
	"github.com/theratime/scheduling-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" || cfg.AppointmentQueueURL == "" {
		logger.Error("notification worker requires DATABASE_URL and APPOINTMENT_QUEUE_URL")
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
	sqsClient := sqs.NewFromConfig(awsCfg)
	eventQueue := queue.NewSQSQueue(sqsClient, cfg.AppointmentQueueURL)

	var dlq worker.DeadLetterQueue
	if cfg.AppointmentDLQURL != "" {
		dlq = queue.NewSQSQueue(sqsClient, cfg.AppointmentDLQURL)
	} else {
		logger.Warn("APPOINTMENT_DLQ_URL not set; exhausted messages will be dropped")
	}

	var resolver notifications.ConfigResolver = notifications.NewConfigStore(pool)
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		resolver = notifications.NewCachedResolver(resolver, redis.NewClient(opts), cfg.ConfigCacheTTL, logger)
	}

	var email notifications.EmailSender
	switch cfg.EmailProvider {
	case "ses":
		if sender := notifications.NewSESSender(sesv2.NewFromConfig(awsCfg), notifications.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger); sender != nil {
			email = sender
		}
	default:
		if sender := notifications.NewSendGridSender(notifications.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			email = sender
		}
	}
	if email == nil {
		logger.Warn("no email provider configured; email notifications disabled")
	}

	consumerMetrics := metrics.NewConsumerMetrics(nil)
	handler := notifications.NewHandler(
		resolver,
		events.NewProcessedStore(pool),
		email,
		notifications.NewStubSMSSender(logger),
		logger,
	).WithMetrics(consumerMetrics)

	consumer := worker.NewConsumer(eventQueue, dlq, handler, logger).
		WithMaxAttempts(cfg.ConsumerMaxAttempts).
		WithBackoff(cfg.ConsumerBaseBackoff, cfg.ConsumerMaxBackoff).
		WithPolling(cfg.ConsumerMaxMessages, cfg.ConsumerWaitSeconds).
		WithMetrics(consumerMetrics)

	logger.Info("starting notification worker", "queue", cfg.AppointmentQueueURL)
	go consumer.Run(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("notification worker shutting down")
	cancel()
	time.Sleep(2 * time.Second)
}
