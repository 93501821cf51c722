package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/theratime/scheduling-platform/internal/events"
	"github.com/theratime/scheduling-platform/pkg/logging"
)

// ErrConfigNotFound means neither a therapist-specific row nor a tenant
// default exists. Callers treat this as "notifications not set up", not an
// error condition.
var ErrConfigNotFound = errors.New("notifications: config not found")

// Config holds a tenant's delivery settings. TherapistID is nil for the
// tenant default row.
type Config struct {
	TenantID       string  `json:"tenant_id"`
	TherapistID    *string `json:"therapist_id,omitempty"`
	EmailEnabled   bool    `json:"email_enabled"`
	SMSEnabled     bool    `json:"sms_enabled"`
	DefaultToEmail string  `json:"default_to_email"`
	DefaultToPhone string  `json:"default_to_phone"`
	EmailFrom      string  `json:"email_from"`
}

// ConfigResolver yields delivery configuration for a (tenant, therapist) pair.
type ConfigResolver interface {
	Resolve(ctx context.Context, tenantID, therapistID string) (*Config, error)
}

// ConfigStore reads notification configs from Postgres. Lookup order:
// (tenant, therapist), then the tenant default (therapist IS NULL).
type ConfigStore struct {
	pool events.Querier
}

// NewConfigStore creates a store backed by a pgx pool.
func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	if pool == nil {
		panic("notifications: pgx pool required")
	}
	return &ConfigStore{pool: pool}
}

func newConfigStoreWithExec(exec events.Querier) *ConfigStore {
	if exec == nil {
		panic("notifications: exec required")
	}
	return &ConfigStore{pool: exec}
}

// Resolve prefers the therapist-specific row and falls back to the tenant
// default.
func (s *ConfigStore) Resolve(ctx context.Context, tenantID, therapistID string) (*Config, error) {
	if therapistID != "" {
		cfg, err := s.query(ctx,
			`SELECT tenant_id, therapist_id, email_enabled, sms_enabled, default_to_email, default_to_phone, email_from
			 FROM notification_configs WHERE tenant_id = $1 AND therapist_id = $2`,
			tenantID, therapistID)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, ErrConfigNotFound) {
			return nil, err
		}
	}
	return s.query(ctx,
		`SELECT tenant_id, therapist_id, email_enabled, sms_enabled, default_to_email, default_to_phone, email_from
		 FROM notification_configs WHERE tenant_id = $1 AND therapist_id IS NULL`,
		tenantID)
}

func (s *ConfigStore) query(ctx context.Context, sql string, args ...any) (*Config, error) {
	var cfg Config
	var toEmail, toPhone, from *string
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(
		&cfg.TenantID,
		&cfg.TherapistID,
		&cfg.EmailEnabled,
		&cfg.SMSEnabled,
		&toEmail,
		&toPhone,
		&from,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("notifications: load config: %w", err)
	}
	if toEmail != nil {
		cfg.DefaultToEmail = *toEmail
	}
	if toPhone != nil {
		cfg.DefaultToPhone = *toPhone
	}
	if from != nil {
		cfg.EmailFrom = *from
	}
	return &cfg, nil
}

// CachedResolver is a Redis read-through in front of a ConfigResolver, shared
// across worker instances instead of per-process state.
type CachedResolver struct {
	inner  ConfigResolver
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedResolver wraps the resolver with a Redis cache.
func NewCachedResolver(inner ConfigResolver, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedResolver {
	if inner == nil {
		panic("notifications: inner resolver required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedResolver{inner: inner, client: client, ttl: ttl, logger: logger}
}

// Resolve checks the cache first; misses fall through to the store and the
// result is cached. Cache errors degrade to direct lookups.
func (r *CachedResolver) Resolve(ctx context.Context, tenantID, therapistID string) (*Config, error) {
	if r.client == nil {
		return r.inner.Resolve(ctx, tenantID, therapistID)
	}

	key := cacheKey(tenantID, therapistID)
	raw, err := r.client.Get(ctx, key).Result()
	if err == nil {
		var cfg Config
		if err := json.Unmarshal([]byte(raw), &cfg); err == nil {
			return &cfg, nil
		}
		r.logger.Warn("notification config cache entry corrupt, refetching", "key", key)
	} else if !errors.Is(err, redis.Nil) {
		r.logger.Warn("notification config cache read failed", "error", err, "key", key)
	}

	cfg, err := r.inner.Resolve(ctx, tenantID, therapistID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(cfg); err == nil {
		if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
			r.logger.Warn("notification config cache write failed", "error", err, "key", key)
		}
	}
	return cfg, nil
}

func cacheKey(tenantID, therapistID string) string {
	return fmt.Sprintf("notifcfg:%s:%s", tenantID, therapistID)
}
