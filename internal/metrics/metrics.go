// Package metrics holds the Prometheus collectors for the message pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics registers on its own registry so several instances can coexist
// in one process (tests create many). All methods are nil-safe.
type Metrics struct {
	Registry *prometheus.Registry

	InboundJobs        *prometheus.CounterVec
	Completions        *prometheus.CounterVec
	CompletionDuration prometheus.Histogram
	ParseDrops         prometheus.Counter
	ActionsCreated     *prometheus.CounterVec
	ActionRejections   *prometheus.CounterVec
	Deliveries         *prometheus.CounterVec
	DeliveryAttempts   *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		InboundJobs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskmate_inbound_jobs_total",
				Help: "Inbound messages processed, by platform and result",
			},
			[]string{"platform", "result"},
		),
		Completions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskmate_completions_total",
				Help: "Completion backend calls, by result",
			},
			[]string{"result"},
		),
		CompletionDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deskmate_completion_duration_seconds",
				Help:    "Duration of completion backend calls in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
			},
		),
		ParseDrops: f.NewCounter(
			prometheus.CounterOpts{
				Name: "deskmate_parse_dropped_tags_total",
				Help: "Action or state tags dropped because their JSON was malformed",
			},
		),
		ActionsCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskmate_actions_created_total",
				Help: "Client actions created, by type and priority",
			},
			[]string{"type", "priority"},
		),
		ActionRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskmate_action_rejections_total",
				Help: "Parsed actions dropped by validation, by type",
			},
			[]string{"type"},
		),
		Deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskmate_deliveries_total",
				Help: "Outbound deliveries, by kind and result",
			},
			[]string{"kind", "result"},
		),
		DeliveryAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskmate_delivery_attempts_total",
				Help: "Outbound send attempts, by kind",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveInbound(platform, result string) {
	if m == nil {
		return
	}
	m.InboundJobs.WithLabelValues(platform, result).Inc()
}

func (m *Metrics) ObserveCompletion(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Completions.WithLabelValues(result).Inc()
	m.CompletionDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveParseDrops(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ParseDrops.Add(float64(n))
}

func (m *Metrics) ObserveActionCreated(actionType, priority string) {
	if m == nil {
		return
	}
	m.ActionsCreated.WithLabelValues(actionType, priority).Inc()
}

func (m *Metrics) ObserveActionRejected(actionType string) {
	if m == nil {
		return
	}
	m.ActionRejections.WithLabelValues(actionType).Inc()
}

func (m *Metrics) ObserveDelivery(kind, result string, attempts int) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(kind, result).Inc()
	if attempts > 0 {
		m.DeliveryAttempts.WithLabelValues(kind).Add(float64(attempts))
	}
}
