package events

import (
	"context"
	"time"

	"github.com/theratime/scheduling-platform/internal/observability/metrics"
	"github.com/theratime/scheduling-platform/pkg/logging"
)

// BusPublisher hands a payload to the event transport keyed by tenant id, so
// the transport preserves per-tenant ordering.
type BusPublisher interface {
	Publish(ctx context.Context, tenantID string, payload []byte) error
}

// Dispatcher drains pending outbox rows per tenant on a fixed interval.
// A record is only marked SENT after a believed-successful publish; a crash
// before the status update causes a duplicate publish next cycle, which the
// consumer dedups.
type Dispatcher struct {
	store       *OutboxStore
	bus         BusPublisher
	logger      *logging.Logger
	metrics     *metrics.OutboxMetrics
	tenants     []string
	interval    time.Duration
	maxAttempts int
	batchSize   int
}

// NewDispatcher creates a dispatcher over the configured tenants.
func NewDispatcher(store *OutboxStore, bus BusPublisher, tenants []string, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		store:       store,
		bus:         bus,
		logger:      logger,
		tenants:     tenants,
		interval:    5 * time.Second,
		maxAttempts: 5,
		batchSize:   100,
	}
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Dispatcher) WithMaxAttempts(n int) *Dispatcher {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *Dispatcher) WithBatchSize(n int) *Dispatcher {
	if n > 0 {
		d.batchSize = n
	}
	return d
}

func (d *Dispatcher) WithMetrics(m *metrics.OutboxMetrics) *Dispatcher {
	d.metrics = m
	return d
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.store == nil || d.bus == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	d.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain runs one dispatch cycle across all tenants. Tenants are independent;
// within a tenant records go out one at a time in creation order.
func (d *Dispatcher) Drain(ctx context.Context) {
	for _, tenantID := range d.tenants {
		d.drainTenant(ctx, tenantID)
	}
}

func (d *Dispatcher) drainTenant(ctx context.Context, tenantID string) {
	records, err := d.store.FetchPending(ctx, tenantID, d.batchSize)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err, "tenant_id", tenantID)
		return
	}
	for _, rec := range records {
		if rec.AttemptCount >= d.maxAttempts {
			// Permanent give-up: never contacts the bus again for this row.
			if err := d.store.MarkFailed(ctx, rec.ID); err != nil {
				d.logger.Error("outbox mark failed errored", "error", err, "record_id", rec.ID)
				continue
			}
			d.logger.Warn("outbox record exceeded max attempts, marked FAILED",
				"record_id", rec.ID, "tenant_id", tenantID, "attempts", rec.AttemptCount)
			d.metrics.ObserveGiveUp(tenantID)
			continue
		}

		if err := d.bus.Publish(ctx, tenantID, rec.Payload); err != nil {
			d.logger.Warn("outbox publish failed, will retry next cycle",
				"error", err, "record_id", rec.ID, "tenant_id", tenantID, "attempts", rec.AttemptCount)
			if err := d.store.RecordFailure(ctx, rec.ID); err != nil {
				d.logger.Error("outbox failure bookkeeping errored", "error", err, "record_id", rec.ID)
			}
			d.metrics.ObservePublish(tenantID, "error")
			continue
		}

		if err := d.store.MarkSent(ctx, rec.ID); err != nil {
			d.logger.Error("failed to mark outbox sent", "error", err, "record_id", rec.ID)
			continue
		}
		d.logger.Debug("outbox record published", "record_id", rec.ID, "event_type", rec.EventType, "tenant_id", tenantID)
		d.metrics.ObservePublish(tenantID, "ok")
	}
}
