// Package metrics wraps a Prometheus registry with the counters and
// histograms the daemon emits: reconcile duration/count, skill install
// outcomes, watcher scan duration, and ACL apply failures. Wiring an
// HTTP handler for the registry is left to the transport layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every metric AgenShield's core records.
type Collector struct {
	registry *prometheus.Registry

	reconcileDuration prometheus.Histogram
	reconcileTotal    *prometheus.CounterVec
	aclApplyFailures  prometheus.Counter

	skillInstallTotal *prometheus.CounterVec
	watcherScanDur    prometheus.Histogram
	watcherQuarantine prometheus.Counter
}

// NewCollector constructs a Collector and registers its metrics against
// registry. If registry is nil, a fresh, isolated registry is created
// (tests should always pass their own to avoid collisions with the
// process-wide default registry).
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agenshield",
			Subsystem: "reconciler",
			Name:      "duration_seconds",
			Help:      "Time to run a full policy reconciliation.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		reconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenshield",
			Subsystem: "reconciler",
			Name:      "runs_total",
			Help:      "Reconciliations by outcome.",
		}, []string{"outcome"}),
		aclApplyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agenshield",
			Subsystem: "acl",
			Name:      "apply_failures_total",
			Help:      "Per-path ACL apply failures across all reconciliations.",
		}),
		skillInstallTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenshield",
			Subsystem: "skills",
			Name:      "install_total",
			Help:      "Skill install attempts by outcome.",
		}, []string{"outcome"}),
		watcherScanDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agenshield",
			Subsystem: "watcher",
			Name:      "scan_duration_seconds",
			Help:      "Time to scan the skills directory.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		}),
		watcherQuarantine: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agenshield",
			Subsystem: "watcher",
			Name:      "quarantine_total",
			Help:      "Bundles quarantined by the Skills Watcher.",
		}),
	}

	registry.MustRegister(
		c.reconcileDuration, c.reconcileTotal, c.aclApplyFailures,
		c.skillInstallTotal, c.watcherScanDur, c.watcherQuarantine,
	)
	return c
}

// Registry returns the underlying Prometheus registry, for wiring into an
// optional /metrics HTTP handler by the transport layer.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ObserveReconcile records one reconciliation's duration and outcome.
func (c *Collector) ObserveReconcile(d time.Duration, ok bool) {
	c.reconcileDuration.Observe(d.Seconds())
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	c.reconcileTotal.WithLabelValues(outcome).Inc()
}

// IncACLApplyFailure records a single path's ACL apply failure.
func (c *Collector) IncACLApplyFailure() { c.aclApplyFailures.Inc() }

// ObserveSkillInstall records one skill install attempt's outcome label;
// the skill lifecycle manager passes "installed" or "failed".
func (c *Collector) ObserveSkillInstall(outcome string) {
	c.skillInstallTotal.WithLabelValues(outcome).Inc()
}

// ObserveWatcherScan records one Skills Watcher scan's duration.
func (c *Collector) ObserveWatcherScan(d time.Duration) {
	c.watcherScanDur.Observe(d.Seconds())
}

// IncWatcherQuarantine records one bundle quarantined by the watcher.
func (c *Collector) IncWatcherQuarantine() { c.watcherQuarantine.Inc() }
