// Invariants are conditions that must hold unless there's a bug in skipkv itself, e.g. a skip list predecessor
// that no longer links to the node being unlinked. A violation is logged, counted in `skipkv_invariants_total`
// and, in test builds, turned into a panic. The caller still decides how to recover from the broken state.
//
// Don't raise invariants for conditions that depend on the outside world: a malformed dump file or a client
// sending a bad command is an error, not an invariant violation.

package utils

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	promclient "github.com/prometheus/client_model/go"
)

var invariantsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skipkv_invariants_total",
	Help: "The total number of invariant violations",
}, []string{
	"module", // The module in which this invariant occurred.
	"type",   // The type of the invariant that occurred.
})

// RaiseInvariant records a violated invariant of `module`. The `args` are slog key-value pairs.
func RaiseInvariant(module, invariantType, msg string, args ...any) {
	invariantsMetric.WithLabelValues(module, invariantType).Inc()
	slog.With("invariant", invariantType, "module", module).Error(msg, args...)
	if IsTestMode {
		panic("invariant violated: " + invariantType)
	}
}

// GetMetricValue returns the current value of invariant metric with labels `module` and `invariantType`.
func GetMetricValue(module, invariantType string) int {
	var metric = &promclient.Metric{}
	if err := invariantsMetric.WithLabelValues(module, invariantType).Write(metric); err != nil {
		slog.Error("Failed to read invariant metric.", "error", err)
		return 0
	}
	return int(metric.Counter.GetValue())
}
