// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector on a private registry. All Record methods
// are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Pipeline
	Classifications   *prometheus.CounterVec
	ApprovalActions   *prometheus.CounterVec
	GateChecks        *prometheus.CounterVec
	ChecklistChanges  *prometheus.CounterVec
	BalanceChecks     *prometheus.CounterVec
	OverdueSteps      prometheus.Gauge
	RuleReloads       *prometheus.CounterVec
	RuleCatalogLoaded prometheus.Gauge
}

// New registers the collectors under namespace.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)
	m.Classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Requests classified, by source (rule or fallback) and pipeline",
		},
		[]string{"source", "pipeline"},
	)
	m.ApprovalActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_actions_total",
			Help:      "Approval actions attempted, by action and result code",
		},
		[]string{"action", "result"},
	)
	m.GateChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_checks_total",
			Help:      "Gate readiness evaluations, by gate and verdict",
		},
		[]string{"gate", "ready"},
	)
	m.ChecklistChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checklist_changes_total",
			Help:      "Documents added to or removed from required packages",
		},
		[]string{"change"},
	)
	m.BalanceChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_checks_total",
			Help:      "CLIN balance checks, by outcome",
		},
		[]string{"sufficient"},
	)
	m.OverdueSteps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overdue_approval_steps",
			Help:      "Active approval steps past their due date at the last sweep",
		},
	)
	m.RuleReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_reloads_total",
			Help:      "Rule catalog reloads, by result",
		},
		[]string{"result"},
	)
	m.RuleCatalogLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rule_catalog_loaded_timestamp_seconds",
			Help:      "Unix time the current rule catalog was loaded",
		},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.Classifications,
		m.ApprovalActions,
		m.GateChecks,
		m.ChecklistChanges,
		m.BalanceChecks,
		m.OverdueSteps,
		m.RuleReloads,
		m.RuleCatalogLoaded,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) RecordClassification(source, pipeline string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(source, pipeline).Inc()
}

// RecordApprovalAction counts an action; result is "ok" or an error code.
func (m *Metrics) RecordApprovalAction(action, result string) {
	if m == nil {
		return
	}
	m.ApprovalActions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) RecordGateCheck(gate string, ready bool) {
	if m == nil {
		return
	}
	m.GateChecks.WithLabelValues(gate, strconv.FormatBool(ready)).Inc()
}

func (m *Metrics) RecordChecklistDiff(added, removed int) {
	if m == nil {
		return
	}
	m.ChecklistChanges.WithLabelValues("added").Add(float64(added))
	m.ChecklistChanges.WithLabelValues("removed").Add(float64(removed))
}

func (m *Metrics) RecordBalanceCheck(sufficient bool) {
	if m == nil {
		return
	}
	m.BalanceChecks.WithLabelValues(strconv.FormatBool(sufficient)).Inc()
}

func (m *Metrics) SetOverdueSteps(n int) {
	if m == nil {
		return
	}
	m.OverdueSteps.Set(float64(n))
}

// RecordRuleReload counts a reload attempt and, on success, stamps the
// catalog load time.
func (m *Metrics) RecordRuleReload(err error, loadedAt time.Time) {
	if m == nil {
		return
	}
	if err != nil {
		m.RuleReloads.WithLabelValues("error").Inc()
		return
	}
	m.RuleReloads.WithLabelValues("ok").Inc()
	m.RuleCatalogLoaded.Set(float64(loadedAt.Unix()))
}
