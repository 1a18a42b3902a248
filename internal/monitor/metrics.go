package monitor

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector registers and updates all checkout metrics
type MetricsCollector struct {
	// saga metrics
	sagaStartedTotal    *prometheus.CounterVec
	sagaCompletedTotal  prometheus.Counter
	sagaFailedTotal     *prometheus.CounterVec
	sagaStuckTotal      prometheus.Counter
	sagaRecoveredTotal  *prometheus.CounterVec
	sagaDuration        *prometheus.HistogramVec
	sagaStepFailedTotal *prometheus.CounterVec

	// idempotency metrics
	idempotencyHitTotal    *prometheus.CounterVec
	idempotencyZombieTotal prometheus.Counter

	// inventory metrics
	reservationTotal        *prometheus.CounterVec
	reservationExpiredTotal prometheus.Counter

	// outbox metrics
	outboxPublishedTotal *prometheus.CounterVec
	outboxBacklogSize    prometheus.Gauge

	// http metrics
	httpRequestTotal    *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewMetricsCollector creates and registers the collector
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{}
	mc.initMetrics()
	return mc
}

func (mc *MetricsCollector) initMetrics() {
	mc.sagaStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_saga_started_total",
			Help: "Total number of checkout sagas started",
		},
		[]string{"with_coupon"},
	)

	mc.sagaCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_saga_completed_total",
			Help: "Total number of sagas that completed successfully",
		},
	)

	mc.sagaFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_saga_failed_total",
			Help: "Total number of sagas that failed and compensated",
		},
		[]string{"failed_step"},
	)

	mc.sagaStuckTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_saga_stuck_total",
			Help: "Total number of sagas stuck in compensation",
		},
	)

	mc.sagaRecoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_saga_recovered_total",
			Help: "Total number of saga recovery attempts",
		},
		[]string{"outcome"},
	)

	mc.sagaDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checkout_saga_duration_seconds",
			Help:    "Duration of saga execution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	mc.sagaStepFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_saga_step_failed_total",
			Help: "Total number of forward step failures",
		},
		[]string{"step"},
	)

	mc.idempotencyHitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_idempotency_hit_total",
			Help: "Total number of idempotency key lookups by outcome",
		},
		[]string{"outcome"},
	)

	mc.idempotencyZombieTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_idempotency_zombie_total",
			Help: "Total number of zombie keys forced to FAILED",
		},
	)

	mc.reservationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_reservation_total",
			Help: "Total number of reservation transitions",
		},
		[]string{"action"},
	)

	mc.reservationExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_reservation_expired_total",
			Help: "Total number of reservations expired by the TTL job",
		},
	)

	mc.outboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_outbox_published_total",
			Help: "Total number of outbox events relayed to the broker",
		},
		[]string{"event_type"},
	)

	mc.outboxBacklogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "checkout_outbox_backlog_size",
			Help: "Unpublished outbox events seen by the last relay pass",
		},
	)

	mc.httpRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_http_request_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	mc.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checkout_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
}

// RecordSagaStarted records a saga start
func (mc *MetricsCollector) RecordSagaStarted(withCoupon bool) {
	mc.sagaStartedTotal.WithLabelValues(strconv.FormatBool(withCoupon)).Inc()
}

// RecordSagaCompleted records a successful saga
func (mc *MetricsCollector) RecordSagaCompleted(duration time.Duration) {
	mc.sagaCompletedTotal.Inc()
	mc.sagaDuration.WithLabelValues("completed").Observe(duration.Seconds())
}

// RecordSagaFailed records a compensated saga
func (mc *MetricsCollector) RecordSagaFailed(failedStep string, duration time.Duration) {
	mc.sagaFailedTotal.WithLabelValues(failedStep).Inc()
	mc.sagaDuration.WithLabelValues("failed").Observe(duration.Seconds())
}

// RecordSagaStuck records a saga stuck in compensation
func (mc *MetricsCollector) RecordSagaStuck() {
	mc.sagaStuckTotal.Inc()
}

// RecordSagaRecovered records a recovery attempt outcome
func (mc *MetricsCollector) RecordSagaRecovered(outcome string) {
	mc.sagaRecoveredTotal.WithLabelValues(outcome).Inc()
}

// RecordStepFailed records a forward step failure
func (mc *MetricsCollector) RecordStepFailed(step string) {
	mc.sagaStepFailedTotal.WithLabelValues(step).Inc()
}

// RecordIdempotencyHit records an idempotency lookup outcome
func (mc *MetricsCollector) RecordIdempotencyHit(outcome string) {
	mc.idempotencyHitTotal.WithLabelValues(outcome).Inc()
}

// RecordZombiesFailed records zombie keys forced to FAILED
func (mc *MetricsCollector) RecordZombiesFailed(count int64) {
	mc.idempotencyZombieTotal.Add(float64(count))
}

// RecordReservation records a reservation transition
func (mc *MetricsCollector) RecordReservation(action string) {
	mc.reservationTotal.WithLabelValues(action).Inc()
}

// RecordReservationsExpired records reservations expired by the TTL job
func (mc *MetricsCollector) RecordReservationsExpired(count int64) {
	mc.reservationExpiredTotal.Add(float64(count))
}

// RecordOutboxPublished records relayed outbox events
func (mc *MetricsCollector) RecordOutboxPublished(eventType string) {
	mc.outboxPublishedTotal.WithLabelValues(eventType).Inc()
}

// SetOutboxBacklog records the unpublished backlog size
func (mc *MetricsCollector) SetOutboxBacklog(size int) {
	mc.outboxBacklogSize.Set(float64(size))
}

// RecordHTTPRequest records an HTTP request
func (mc *MetricsCollector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	mc.httpRequestTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	mc.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
