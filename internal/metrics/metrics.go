// Package metrics registers Prometheus counters and gauges describing patch
// runs: a small set of collectors built once, registered globally behind an
// environment-variable gate, and updated by whichever component observes the
// relevant event rather than by a central poller.
package metrics

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/guestpatch/patchcore/internal/model"
)

// enabled keeps metrics collection opt-in so a bare patch run never pays
// for a metrics server it doesn't need.
var enabled = os.Getenv("PATCHCORE_ENABLE_METRICS") == "1"

const operationLabel = "operation"

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "patchcore_runs_total",
		Help: "Number of patch runs completed, labeled by final status.",
	}, []string{operationLabel, "status"})

	patchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "patchcore_patches_total",
		Help: "Number of patches observed across all runs, labeled by classification and install state.",
	}, []string{"classification", "install_state"})

	runDurationSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "patchcore_run_duration_seconds",
		Help: "Wall-clock duration of the most recently completed patch run, labeled by operation.",
	}, []string{operationLabel})

	lockWaitSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "patchcore_lock_wait_seconds",
		Help: "Time spent waiting to acquire the single-instance handler lock before the most recent run.",
	}, []string{operationLabel})
)

// RegisterGlobally registers every collector with the default Prometheus
// registry. It is a no-op when metrics are not enabled, exactly as
// ProcessExplorerMetrics.RegisterGlobally short-circuits when its own
// integration flag is off.
func RegisterGlobally() error {
	if !enabled {
		return nil
	}
	for _, c := range []prometheus.Collector{runsTotal, patchesTotal, runDurationSeconds, lockWaitSeconds} {
		if err := prometheus.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Enabled reports whether metrics collection is active.
func Enabled() bool {
	return enabled
}

// ObserveRun records the outcome of a completed run: its final status, the
// classification/install-state distribution of its patches, and its duration.
func ObserveRun(run model.Run) {
	if !enabled {
		return
	}
	runsTotal.WithLabelValues(string(run.Operation), string(run.Status)).Inc()
	for _, p := range run.Patches {
		patchesTotal.WithLabelValues(string(p.Classification), string(p.InstallState)).Inc()
	}
	if run.CompletedAt != nil && !run.StartedAt.IsZero() {
		runDurationSeconds.WithLabelValues(string(run.Operation)).Set(run.CompletedAt.Sub(run.StartedAt).Seconds())
	}
}

// ObserveLockWait records how long RunOnce waited for the single-instance lock.
func ObserveLockWait(operation model.Operation, waited float64) {
	if !enabled {
		return
	}
	lockWaitSeconds.WithLabelValues(string(operation)).Set(waited)
}
