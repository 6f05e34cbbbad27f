package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process counters. They replace in-memory tallies so that
// values survive restarts in the scraping backend.
type Metrics struct {
	Registry *prometheus.Registry

	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
	JobRuns             *prometheus.CounterVec
	JobItems            *prometheus.CounterVec
	JobDuration         *prometheus.HistogramVec
	WebhookEvents       *prometheus.CounterVec
	GatewayCalls        *prometheus.CounterVec

	// counterHelp names every counter family mirrored to OTLP.
	counterHelp map[string]string
}

// NewMetrics registers the billing collectors on their own registry. Runtime
// and gorm pool metrics stay on the default registry and are merged at
// /metrics.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

// NewTestMetrics returns metrics bound to a throwaway registry.
func NewTestMetrics() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{Registry: reg, counterHelp: map[string]string{}}
	m.NotificationsSent = m.counter("notifications_sent_total",
		"Notifications delivered by channel and template.", "channel", "template")
	m.NotificationsFailed = m.counter("notifications_failed_total",
		"Notifications that failed to send by channel and template.", "channel", "template")
	m.JobRuns = m.counter("billing_job_runs_total",
		"Billing job runs by job and outcome.", "job", "outcome")
	m.JobItems = m.counter("billing_job_items_total",
		"Entities processed by billing jobs by outcome.", "job", "outcome")
	m.WebhookEvents = m.counter("webhook_events_total",
		"Inbound gateway webhook events by provider, type and outcome.", "provider", "type", "outcome")
	m.GatewayCalls = m.counter("gateway_calls_total",
		"Outbound payment gateway calls by provider, operation and outcome.", "provider", "operation", "outcome")

	m.JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "billing_job_duration_seconds",
		Help:      "Billing job run duration.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"job"})
	reg.MustRegister(m.JobDuration)
	return m
}

const metricsNamespace = "membership"

func (m *Metrics) counter(name, help string, labels ...string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      help,
	}, labels)
	m.Registry.MustRegister(vec)
	m.counterHelp[prometheus.BuildFQName(metricsNamespace, "", name)] = help
	return vec
}
