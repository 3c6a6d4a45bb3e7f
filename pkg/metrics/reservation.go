package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Message results recorded by the consumers.
const (
	ResultAcked     = "acked"
	ResultNacked    = "nacked"
	ResultDuplicate = "duplicate"
)

// ReservationMetrics records ledger operations and message handling.
// A nil *ReservationMetrics is valid and records nothing.
type ReservationMetrics struct {
	operations           *prometheus.CounterVec
	duration             *prometheus.HistogramVec
	compensationFailures *prometheus.CounterVec
	messages             *prometheus.CounterVec
}

// NewReservationMetrics registers the inventory metrics on the provided registerer.
func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	if reg == nil {
		return &ReservationMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_operations_total",
		Help: "Reserve and cancel operations by outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inventory_operation_duration_seconds",
		Help:    "Duration of reserve and cancel operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	compensationFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_compensation_failures_total",
		Help: "Compensation events that could not be written after a failed ledger mutation.",
	}, []string{"operation"})
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_messages_total",
		Help: "Inbound messages by queue and result.",
	}, []string{"topic", "result"})
	reg.MustRegister(operations, duration, compensationFailures, messages)
	return &ReservationMetrics{
		operations:           operations,
		duration:             duration,
		compensationFailures: compensationFailures,
		messages:             messages,
	}
}

// ObserveOperation records one completed engine call.
func (m *ReservationMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(elapsed.Seconds())
}

// IncCompensationFailure counts a rejection whose compensation write also failed.
func (m *ReservationMetrics) IncCompensationFailure(operation string) {
	if m == nil || m.compensationFailures == nil {
		return
	}
	m.compensationFailures.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncMessage counts an inbound message by queue and result.
func (m *ReservationMetrics) IncMessage(topic, result string) {
	if m == nil || m.messages == nil {
		return
	}
	m.messages.WithLabelValues(normalizeLabel(topic), normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
