package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	JWTSecret     string
	TenantIDs     []string
	AllowedOrigins []string

	// Identity directory service
	IdentityBaseURL       string
	IdentityTimeout       time.Duration
	IdentityMaxAttempts   int
	IdentityRetryBaseDelay time.Duration

	// Outbox dispatcher
	OutboxInterval    time.Duration
	OutboxMaxAttempts int
	OutboxBatchSize   int

	// Notification consumer
	ConsumerMaxAttempts  int
	ConsumerBaseBackoff  time.Duration
	ConsumerMaxBackoff   time.Duration
	ConsumerWaitSeconds  int
	ConsumerMaxMessages  int

	// Event transport (SQS FIFO + companion DLQ)
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	AppointmentQueueURL string
	AppointmentDLQURL   string

	// Notification senders
	EmailProvider     string
	SESFromEmail      string
	SESFromName       string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	// Notification config cache
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	ConfigCacheTTL time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		TenantIDs:      getEnvAsList("TENANT_IDS", "1,2"),
		AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", ""),

		IdentityBaseURL:        getEnv("IDENTITY_SERVICE_URL", "http://localhost:8081"),
		IdentityTimeout:        getEnvAsDuration("IDENTITY_TIMEOUT", 5*time.Second),
		IdentityMaxAttempts:    getEnvAsInt("IDENTITY_MAX_ATTEMPTS", 3),
		IdentityRetryBaseDelay: getEnvAsDuration("IDENTITY_RETRY_BASE_DELAY", 200*time.Millisecond),

		OutboxInterval:    getEnvAsDuration("OUTBOX_INTERVAL", 5*time.Second),
		OutboxMaxAttempts: getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 5),
		OutboxBatchSize:   getEnvAsInt("OUTBOX_BATCH_SIZE", 100),

		ConsumerMaxAttempts: getEnvAsInt("CONSUMER_MAX_ATTEMPTS", 4),
		ConsumerBaseBackoff: getEnvAsDuration("CONSUMER_BASE_BACKOFF", time.Second),
		ConsumerMaxBackoff:  getEnvAsDuration("CONSUMER_MAX_BACKOFF", time.Minute),
		ConsumerWaitSeconds: getEnvAsInt("CONSUMER_WAIT_SECONDS", 20),
		ConsumerMaxMessages: getEnvAsInt("CONSUMER_MAX_MESSAGES", 10),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		AppointmentQueueURL: getEnv("APPOINTMENT_QUEUE_URL", ""),
		AppointmentDLQURL:   getEnv("APPOINTMENT_DLQ_URL", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "ses"))),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "TheraTime"),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "TheraTime"),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		ConfigCacheTTL: getEnvAsDuration("CONFIG_CACHE_TTL", 5*time.Minute),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
