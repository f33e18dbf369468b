// Package metrics provides observability for the policy engine
package metrics

import (
	"net/http"
	"time"
)

// Metrics provides observability for the policy engine
type Metrics interface {
	// Evaluation metrics
	RecordPolicyQuery(scope string, matched int, duration time.Duration)
	RecordActionValueLookup(action string, duration time.Duration)
	RecordPolicyConflict(action string)
	RecordPreconditionCheck(rule string, outcome string, duration time.Duration)
	RecordSnapshotBuild(policyCount int)

	// Store metrics
	RecordStoreOperation(operation string) // set, delete, enable, disable, replace
	RecordImport(count int)
	RecordExport(count int)
	RecordReload(success bool)
	UpdatePolicyCount(count int)

	// HTTP handler for Prometheus scraping
	HTTPHandler() http.Handler
}

// Pre-condition outcomes recorded by RecordPreconditionCheck.
const (
	OutcomePass  = "pass"
	OutcomeDeny  = "deny"
	OutcomeError = "error"
)

// NoOpMetrics provides a no-op implementation for testing/disabled monitoring
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new no-op metrics instance
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

// Evaluation metrics
func (n *NoOpMetrics) RecordPolicyQuery(scope string, matched int, duration time.Duration)      {}
func (n *NoOpMetrics) RecordActionValueLookup(action string, duration time.Duration)            {}
func (n *NoOpMetrics) RecordPolicyConflict(action string)                                       {}
func (n *NoOpMetrics) RecordPreconditionCheck(rule string, outcome string, d time.Duration)     {}
func (n *NoOpMetrics) RecordSnapshotBuild(policyCount int)                                      {}

// Store metrics
func (n *NoOpMetrics) RecordStoreOperation(operation string) {}
func (n *NoOpMetrics) RecordImport(count int)                {}
func (n *NoOpMetrics) RecordExport(count int)                {}
func (n *NoOpMetrics) RecordReload(success bool)             {}
func (n *NoOpMetrics) UpdatePolicyCount(count int)           {}

// HTTPHandler returns a no-op handler
func (n *NoOpMetrics) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("# NoOp metrics - monitoring disabled\n"))
	})
}
