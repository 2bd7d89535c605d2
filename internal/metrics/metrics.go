// Package metrics exposes ledger metrics in the Prometheus format.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/recledger/internal/domain"
)

const namespace = "recledger"

var opBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics groups every collector the service reports.
type Metrics struct {
	reg *prometheus.Registry

	Ops            *prometheus.CounterVec
	OpDuration     *prometheus.HistogramVec
	Events         *prometheus.CounterVec
	EventsDropped  prometheus.Counter
	Height         prometheus.Gauge
	Revenue        prometheus.Gauge
	ActiveListings prometheus.Gauge
	OpenDisputes   prometheus.Gauge
	Settled        *prometheus.CounterVec
	Snapshots      *prometheus.CounterVec
	AuthFailures   *prometheus.CounterVec
	LeaseHeld      prometheus.Gauge
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		Ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ops_total",
			Help: "Ledger operations by name and result.",
		}, []string{"op", "result"}),
		OpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "op_duration_seconds",
			Help:    "Ledger operation latency, including persistence and registry calls.",
			Buckets: opBuckets,
		}, []string{"op"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_published_total",
			Help: "Committed ledger events published to the event bus.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total",
			Help: "Committed ledger events dropped because the publish queue was full.",
		}),
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "height",
			Help: "Highest ledger height observed by a commit.",
		}),
		Revenue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "platform_revenue",
			Help: "Accumulated, unwithdrawn platform fees.",
		}),
		ActiveListings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_listings",
			Help: "Listings currently open.",
		}),
		OpenDisputes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_disputes",
			Help: "Verification disputes awaiting resolution.",
		}),
		Settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "settler_finalized_total",
			Help: "Auctions handled by the settler by result.",
		}, []string{"result"}),
		Snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "snapshots_total",
			Help: "Snapshot archive attempts by result.",
		}, []string{"result"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "auth_failures_total",
			Help: "Rejected API requests by reason.",
		}, []string{"reason"}),
		LeaseHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sequencer_lease_held",
			Help: "1 while this process holds the sequencer lease.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Ops, m.OpDuration, m.Events, m.EventsDropped,
		m.Height, m.Revenue, m.ActiveListings, m.OpenDisputes,
		m.Settled, m.Snapshots, m.AuthFailures, m.LeaseHeld,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveOp records one ledger operation.
func (m *Metrics) ObserveOp(op string, err error, d time.Duration) {
	m.Ops.WithLabelValues(op, Result(err)).Inc()
	m.OpDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Result classifies an operation error into a low-cardinality label:
// "ok", "rejected" for business-rule refusals, or "error".
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrTransferFailed), errors.Is(err, domain.ErrReentrant):
		return "error"
	case domain.Code(err) != domain.CodeInternal, domain.VerificationCode(err) != domain.CodeInternal:
		return "rejected"
	default:
		return "error"
	}
}
