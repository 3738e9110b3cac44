// Package metrics exposes Prometheus counters for session operations.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "warroom"

const (
	LabelPhase   = "phase"
	LabelOutcome = "outcome"
	LabelReason  = "reason"
	LabelRoute   = "route"
	LabelMethod  = "method"
	LabelCode    = "code"
)

// Engine is what the session engine reports.
type Engine interface {
	PhaseCommitted(phase string, unchanged bool)
	PhaseUncommitted(phase string, unchanged bool)
	PhaseAdvanced(from string)
	AdvanceRejected(reason string)
	IncomeApplied(alreadyApplied bool)
}

// HTTP is what the API server reports.
type HTTP interface {
	RequestDuration(route, method string, code int, d time.Duration)
}

// Collector implements Engine and HTTP on its own registry.
type Collector struct {
	registry *prometheus.Registry

	commits   *prometheus.CounterVec
	uncommits *prometheus.CounterVec
	advances  *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	income    *prometheus.CounterVec
	requests  *prometheus.HistogramVec
}

// NewCollector registers every metric on a fresh registry together with
// the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		commits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "phase",
			Name:      "commits_total",
			Help:      "nation commits, labelled by phase and whether the row already was committed",
		}, []string{LabelPhase, LabelOutcome}),
		uncommits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "phase",
			Name:      "uncommits_total",
			Help:      "nation uncommits, labelled by phase and whether the row already was a draft",
		}, []string{LabelPhase, LabelOutcome}),
		advances: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "phase",
			Name:      "advances_total",
			Help:      "successful phase advances, labelled by the phase that was left",
		}, []string{LabelPhase}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "phase",
			Name:      "advance_rejections_total",
			Help:      "refused advance requests by reason",
		}, []string{LabelReason}),
		income: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "economy",
			Name:      "income_applications_total",
			Help:      "income apply requests, applied or already applied",
		}, []string{LabelOutcome}),
		requests: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{LabelRoute, LabelMethod, LabelCode}),
	}
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) PhaseCommitted(phase string, unchanged bool) {
	c.commits.WithLabelValues(phase, outcome(unchanged, "unchanged", "committed")).Inc()
}

func (c *Collector) PhaseUncommitted(phase string, unchanged bool) {
	c.uncommits.WithLabelValues(phase, outcome(unchanged, "unchanged", "draft")).Inc()
}

func (c *Collector) PhaseAdvanced(from string) {
	c.advances.WithLabelValues(from).Inc()
}

func (c *Collector) AdvanceRejected(reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}

func (c *Collector) IncomeApplied(alreadyApplied bool) {
	c.income.WithLabelValues(outcome(alreadyApplied, "already_applied", "applied")).Inc()
}

func (c *Collector) RequestDuration(route, method string, code int, d time.Duration) {
	c.requests.WithLabelValues(route, method, strconv.Itoa(code)).Observe(d.Seconds())
}

func outcome(flag bool, yes, no string) string {
	if flag {
		return yes
	}
	return no
}

// Noop discards everything.
type Noop struct{}

func (Noop) PhaseCommitted(string, bool)                        {}
func (Noop) PhaseUncommitted(string, bool)                      {}
func (Noop) PhaseAdvanced(string)                               {}
func (Noop) AdvanceRejected(string)                             {}
func (Noop) IncomeApplied(bool)                                 {}
func (Noop) RequestDuration(string, string, int, time.Duration) {}
