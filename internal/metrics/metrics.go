// Package metrics holds the node's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors updated by the forwarding path and the
// background workers.
type Metrics struct {
	registry *prometheus.Registry

	Forwarded       *prometheus.CounterVec
	ForwardFailures *prometheus.CounterVec
	Outbound        *prometheus.HistogramVec
	ProxyResources  *prometheus.CounterVec
	TasksDropped    prometheus.Counter
	TaskRuns        *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg gets a fresh registry
// with the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := &Metrics{
		registry: reg,
		Forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocn",
			Name:      "forwarded_requests_total",
			Help:      "Requests forwarded, by entry point, recipient kind and module.",
		}, []string{"entry", "recipient", "module"}),
		ForwardFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocn",
			Name:      "forward_failures_total",
			Help:      "Forwarding failures by error kind.",
		}, []string{"kind"}),
		Outbound: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ocn",
			Name:      "outbound_request_duration_seconds",
			Help:      "Duration of outbound HTTP calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code", "method"}),
		ProxyResources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocn",
			Name:      "proxy_resources_created_total",
			Help:      "Proxy resources created, by kind.",
		}, []string{"kind"}),
		TasksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ocn",
			Name:      "background_tasks_dropped_total",
			Help:      "Background tasks dropped because the queue was full.",
		}),
		TaskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocn",
			Name:      "scheduled_task_runs_total",
			Help:      "Scheduled task runs by task and outcome.",
		}, []string{"task", "outcome"}),
	}
	reg.MustRegister(m.Forwarded, m.ForwardFailures, m.Outbound, m.ProxyResources, m.TasksDropped, m.TaskRuns)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// InstrumentTransport wraps next so every outbound call is observed.
func (m *Metrics) InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	return promhttp.InstrumentRoundTripperDuration(m.Outbound, next)
}
