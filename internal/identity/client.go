package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/theratime/scheduling-platform/pkg/logging"
)

// RoleTherapist is the directory role required to receive bookings.
const RoleTherapist = "THERAPIST"

// ErrUserNotFound is returned for unknown users. 4xx responses map here and
// are never retried.
var ErrUserNotFound = errors.New("identity: user not found")

// ErrUnavailable wraps transient directory failures after retries are
// exhausted or while the circuit is open.
var ErrUnavailable = errors.New("identity: directory unavailable")

// User is the directory's view of a person.
type User struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
}

// Config holds client tuning.
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	MaxAttempts      int
	RetryBaseDelay   time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Client looks up users in the remote directory service. Transient failures
// are retried with backoff and guarded by a circuit breaker; lookups while the
// circuit is open fail fast.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	logger         *logging.Logger
	breaker        *gobreaker.CircuitBreaker[*User]
	maxAttempts    int
	retryBaseDelay time.Duration
}

// New creates a directory client.
func New(cfg Config, logger *logging.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("identity: base URL required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "identity-lookup",
		MaxRequests: 3,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// A missing user is a valid answer, not a directory failure.
			return err == nil || errors.Is(err, ErrUserNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("identity circuit breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		baseURL:        cfg.BaseURL,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		logger:         logger,
		breaker:        gobreaker.NewCircuitBreaker[*User](settings),
		maxAttempts:    cfg.MaxAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
	}, nil
}

// GetUser fetches a user by id through the breaker.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := c.breaker.Execute(func() (*User, error) {
		return c.getUserWithRetry(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}
	return user, nil
}

// ResolveTenant returns the tenant (practice) id the user belongs to.
func (c *Client) ResolveTenant(ctx context.Context, userID string) (string, error) {
	user, err := c.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.TenantID, nil
}

// ResolveRole returns the user's directory role.
func (c *Client) ResolveRole(ctx context.Context, userID string) (string, error) {
	user, err := c.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Role, nil
}

func (c *Client) getUserWithRetry(ctx context.Context, userID string) (*User, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		user, err := c.getUser(ctx, userID)
		if err == nil {
			return user, nil
		}
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		lastErr = err
		c.logger.Warn("identity lookup failed", "error", err, "user_id", userID, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) getUser(ctx context.Context, userID string) (*User, error) {
	url := fmt.Sprintf("%s/user/%s", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("identity: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var user User
		if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
			return nil, fmt.Errorf("identity: decode response: %w", err)
		}
		return &user, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: id %s", ErrUserNotFound, userID)
	default:
		return nil, fmt.Errorf("identity: unexpected status %d", resp.StatusCode)
	}
}
