package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking engine.
type BookingMetrics struct {
	operationsTotal  *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theratime",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Total booking engine operations",
		}, []string{"operation", "outcome"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "theratime",
			Subsystem: "booking",
			Name:      "operation_latency_seconds",
			Help:      "Latency of booking engine operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.operationLatency)
	return m
}

func (m *BookingMetrics) ObserveOperation(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationLatency.WithLabelValues(operation).Observe(seconds)
}

// OutboxMetrics exposes counters for the outbox dispatcher.
type OutboxMetrics struct {
	publishTotal *prometheus.CounterVec
	giveUpTotal  *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	m := &OutboxMetrics{
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theratime",
			Subsystem: "outbox",
			Name:      "publish_total",
			Help:      "Outbox publish attempts by result",
		}, []string{"tenant_id", "result"}),
		giveUpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theratime",
			Subsystem: "outbox",
			Name:      "give_up_total",
			Help:      "Outbox records marked FAILED after exhausting attempts",
		}, []string{"tenant_id"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.publishTotal, m.giveUpTotal)
	return m
}

func (m *OutboxMetrics) ObservePublish(tenantID, result string) {
	if m == nil {
		return
	}
	m.publishTotal.WithLabelValues(tenantID, result).Inc()
}

func (m *OutboxMetrics) ObserveGiveUp(tenantID string) {
	if m == nil {
		return
	}
	m.giveUpTotal.WithLabelValues(tenantID).Inc()
}

// ConsumerMetrics exposes counters for the notification consumer.
type ConsumerMetrics struct {
	processedTotal  *prometheus.CounterVec
	dedupedTotal    *prometheus.CounterVec
	deadLetterTotal *prometheus.CounterVec
}

func NewConsumerMetrics(reg prometheus.Registerer) *ConsumerMetrics {
	m := &ConsumerMetrics{
		processedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theratime",
			Subsystem: "consumer",
			Name:      "processed_total",
			Help:      "Messages processed by outcome",
		}, []string{"event_type", "outcome"}),
		dedupedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theratime",
			Subsystem: "consumer",
			Name:      "deduped_total",
			Help:      "Messages skipped because the event id was already processed",
		}, []string{"event_type"}),
		deadLetterTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "theratime",
			Subsystem: "consumer",
			Name:      "dead_letter_total",
			Help:      "Messages moved to the dead-letter queue",
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.processedTotal, m.dedupedTotal, m.deadLetterTotal)
	return m
}

func (m *ConsumerMetrics) ObserveProcessed(eventType, outcome string) {
	if m == nil {
		return
	}
	m.processedTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *ConsumerMetrics) ObserveDeduped(eventType string) {
	if m == nil {
		return
	}
	m.dedupedTotal.WithLabelValues(eventType).Inc()
}

func (m *ConsumerMetrics) ObserveDeadLetter(eventType string) {
	if m == nil {
		return
	}
	m.deadLetterTotal.WithLabelValues(eventType).Inc()
}
