// Package metrics provides Prometheus metrics for the medicine scanning service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medsnap/rxscan/pkg/circuitbreaker"
)

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ScansTotal            *prometheus.CounterVec
	MedicinesExtracted    prometheus.Counter
	ExtractionDuration    prometheus.Histogram
	DefaultFrequencies    prometheus.Counter
	DrugLookups           *prometheus.CounterVec
	RemindersTaken        prometheus.Counter
	NotificationToggles   *prometheus.CounterVec
	KafkaMessagesProduced *prometheus.CounterVec
	KafkaMessagesConsumed *prometheus.CounterVec
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
	HTTPRequests          *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates all metrics and registers them on reg. A nil reg uses a fresh
// registry, which keeps tests isolated from the global default.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medscan_scans_total",
			Help: "Prescription scans by outcome",
		}, []string{"outcome"}),
		MedicinesExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medscan_medicines_extracted_total",
			Help: "Medicines produced by successful scans",
		}),
		ExtractionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medscan_extraction_duration_seconds",
			Help:    "AI extraction call duration",
			Buckets: []float64{.25, .5, 1, 2, 4, 8, 15, 30, 60},
		}),
		DefaultFrequencies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medscan_default_frequency_mappings_total",
			Help: "Frequencies that matched no rule and fell back to the default time",
		}),
		DrugLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medscan_drug_lookups_total",
			Help: "Drug validation lookups by source and result",
		}, []string{"source", "result"}),
		RemindersTaken: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medscan_reminders_taken_total",
			Help: "Reminder slots marked as taken",
		}),
		NotificationToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medscan_notification_toggles_total",
			Help: "Reminder notification switches by new state",
		}, []string{"enabled"}),
		KafkaMessagesProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}, []string{"topic"}),
		KafkaMessagesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}, []string{"topic"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "code"}),
	}

	reg.MustRegister(
		m.ScansTotal,
		m.MedicinesExtracted,
		m.ExtractionDuration,
		m.DefaultFrequencies,
		m.DrugLookups,
		m.RemindersTaken,
		m.NotificationToggles,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
		m.HTTPRequests,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// ScanCompleted records one scan attempt.
func (m *Metrics) ScanCompleted(outcome string, medicines int, took time.Duration) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(outcome).Inc()
	if medicines > 0 {
		m.MedicinesExtracted.Add(float64(medicines))
	}
	if took > 0 {
		m.ExtractionDuration.Observe(took.Seconds())
	}
}

// DefaultFrequency counts a default-rule frequency mapping.
func (m *Metrics) DefaultFrequency() {
	if m == nil {
		return
	}
	m.DefaultFrequencies.Inc()
}

// ReminderTaken counts an acknowledged reminder.
func (m *Metrics) ReminderTaken() {
	if m == nil {
		return
	}
	m.RemindersTaken.Inc()
}

// NotificationToggled counts a notification switch.
func (m *Metrics) NotificationToggled(enabled bool) {
	if m == nil {
		return
	}
	m.NotificationToggles.WithLabelValues(strconv.FormatBool(enabled)).Inc()
}

// DrugLookup counts a drug validation lookup.
func (m *Metrics) DrugLookup(source, result string) {
	if m == nil {
		return
	}
	m.DrugLookups.WithLabelValues(source, result).Inc()
}

// MessageProduced counts a produced Kafka record.
func (m *Metrics) MessageProduced(topic string) {
	if m == nil {
		return
	}
	m.KafkaMessagesProduced.WithLabelValues(topic).Inc()
}

// MessageConsumed counts a consumed Kafka record.
func (m *Metrics) MessageConsumed(topic string) {
	if m == nil {
		return
	}
	m.KafkaMessagesConsumed.WithLabelValues(topic).Inc()
}

// SetOutboxPending records the outbox backlog.
func (m *Metrics) SetOutboxPending(n int64) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// SetBreakerState records a circuit breaker transition.
func (m *Metrics) SetBreakerState(name string, state circuitbreaker.State) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case circuitbreaker.StateOpen:
		v = 1
	case circuitbreaker.StateHalfOpen:
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// HTTPRequest counts a served request.
func (m *Metrics) HTTPRequest(method string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// Handler returns the metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m != nil && m.gatherer != nil {
		return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
