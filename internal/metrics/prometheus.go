package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics using Prometheus with zero-allocation hot path
type PrometheusMetrics struct {
	// Evaluation counters (using atomic for zero-allocation)
	queries     atomic.Uint64
	denials     atomic.Uint64
	conflicts   atomic.Uint64

	// Prometheus metrics (for HTTP export)
	queriesTotal         *prometheus.CounterVec
	queryDuration        prometheus.Histogram
	matchedPolicies      prometheus.Histogram
	actionLookupsTotal   *prometheus.CounterVec
	conflictsTotal       *prometheus.CounterVec
	preconditionsTotal   *prometheus.CounterVec
	preconditionDuration prometheus.Histogram
	snapshotsTotal       prometheus.Counter
	snapshotPolicies     prometheus.Gauge

	// Store metrics
	storeOpsTotal    *prometheus.CounterVec
	importsTotal     prometheus.Counter
	importedPolicies prometheus.Counter
	exportsTotal     prometheus.Counter
	exportedPolicies prometheus.Counter
	reloadsTotal     *prometheus.CounterVec
	policyCount      prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	// Register standard Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of policy match queries by scope",
		},
		[]string{"scope"},
	)

	// Match queries run in-memory: 1µs to 10ms expected
	queryDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_microseconds",
			Help:      "Policy match query latency in microseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
		},
	)

	matchedPolicies := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_matched_policies",
			Help:      "Number of policies matched per query",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	actionLookupsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_value_lookups_total",
			Help:      "Total number of action value lookups by action",
		},
		[]string{"action"},
	)

	conflictsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Total number of unique action value conflicts by action",
		},
		[]string{"action"},
	)

	preconditionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "precondition",
			Name:      "checks_total",
			Help:      "Total number of pre-condition checks by rule and outcome",
		},
		[]string{"rule", "outcome"},
	)

	preconditionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "precondition",
			Name:      "check_duration_microseconds",
			Help:      "Pre-condition check latency in microseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
		},
	)

	snapshotsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Total number of policy snapshots built",
		},
	)

	snapshotPolicies := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_policies",
			Help:      "Number of policies in the most recent snapshot",
		},
	)

	storeOpsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of policy store operations by type",
		},
		[]string{"operation"},
	)

	importsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Total number of policy import runs",
		},
	)

	importedPolicies := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imported_policies_total",
			Help:      "Total number of policies imported",
		},
	)

	exportsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Total number of policy export runs",
		},
	)

	exportedPolicies := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exported_policies_total",
			Help:      "Total number of policies exported",
		},
	)

	reloadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Total number of policy reloads by status",
		},
		[]string{"status"},
	)

	policyCount := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "policies",
			Help:      "Number of policies currently in the store",
		},
	)

	registry.MustRegister(
		queriesTotal,
		queryDuration,
		matchedPolicies,
		actionLookupsTotal,
		conflictsTotal,
		preconditionsTotal,
		preconditionDuration,
		snapshotsTotal,
		snapshotPolicies,
		storeOpsTotal,
		importsTotal,
		importedPolicies,
		exportsTotal,
		exportedPolicies,
		reloadsTotal,
		policyCount,
	)

	pm := &PrometheusMetrics{
		queriesTotal:         queriesTotal,
		queryDuration:        queryDuration,
		matchedPolicies:      matchedPolicies,
		actionLookupsTotal:   actionLookupsTotal,
		conflictsTotal:       conflictsTotal,
		preconditionsTotal:   preconditionsTotal,
		preconditionDuration: preconditionDuration,
		snapshotsTotal:       snapshotsTotal,
		snapshotPolicies:     snapshotPolicies,
		storeOpsTotal:        storeOpsTotal,
		importsTotal:         importsTotal,
		importedPolicies:     importedPolicies,
		exportsTotal:         exportsTotal,
		exportedPolicies:     exportedPolicies,
		reloadsTotal:         reloadsTotal,
		policyCount:          policyCount,
		registry:             registry,
	}

	pm.queries.Store(0)
	pm.denials.Store(0)
	pm.conflicts.Store(0)

	return pm
}

// RecordPolicyQuery records a policy match query (zero-allocation hot path)
func (p *PrometheusMetrics) RecordPolicyQuery(scope string, matched int, duration time.Duration) {
	p.queries.Add(1)

	if scope == "" {
		scope = "any"
	}
	p.queriesTotal.WithLabelValues(scope).Inc()
	p.queryDuration.Observe(float64(duration.Microseconds()))
	p.matchedPolicies.Observe(float64(matched))
}

// RecordActionValueLookup records an action value lookup
func (p *PrometheusMetrics) RecordActionValueLookup(action string, duration time.Duration) {
	p.actionLookupsTotal.WithLabelValues(action).Inc()
	p.queryDuration.Observe(float64(duration.Microseconds()))
}

// RecordPolicyConflict records a unique action value conflict
func (p *PrometheusMetrics) RecordPolicyConflict(action string) {
	p.conflicts.Add(1)
	p.conflictsTotal.WithLabelValues(action).Inc()
}

// RecordPreconditionCheck records a pre-condition check outcome
func (p *PrometheusMetrics) RecordPreconditionCheck(rule string, outcome string, duration time.Duration) {
	if outcome == OutcomeDeny {
		p.denials.Add(1)
	}
	p.preconditionsTotal.WithLabelValues(rule, outcome).Inc()
	p.preconditionDuration.Observe(float64(duration.Microseconds()))
}

// RecordSnapshotBuild records a snapshot build and its size
func (p *PrometheusMetrics) RecordSnapshotBuild(policyCount int) {
	p.snapshotsTotal.Inc()
	p.snapshotPolicies.Set(float64(policyCount))
}

// RecordStoreOperation records a policy store operation
func (p *PrometheusMetrics) RecordStoreOperation(operation string) {
	p.storeOpsTotal.WithLabelValues(operation).Inc()
}

// RecordImport records a policy import run
func (p *PrometheusMetrics) RecordImport(count int) {
	p.importsTotal.Inc()
	p.importedPolicies.Add(float64(count))
}

// RecordExport records a policy export run
func (p *PrometheusMetrics) RecordExport(count int) {
	p.exportsTotal.Inc()
	p.exportedPolicies.Add(float64(count))
}

// RecordReload records a policy reload attempt
func (p *PrometheusMetrics) RecordReload(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	p.reloadsTotal.WithLabelValues(status).Inc()
}

// UpdatePolicyCount updates the number of policies in the store
func (p *PrometheusMetrics) UpdatePolicyCount(count int) {
	p.policyCount.Set(float64(count))
}

// Snapshot returns the fast-path counters: total match queries, denied
// pre-condition checks and unique conflicts since start.
func (p *PrometheusMetrics) Snapshot() (queries, denials, conflicts uint64) {
	return p.queries.Load(), p.denials.Load(), p.conflicts.Load()
}

// HTTPHandler returns the Prometheus HTTP handler for /metrics endpoint
func (p *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
