package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tuning engine counters and histograms, partitioned by dispenser stage
// ("coarse" / "fine") where meaningful.

var (
	// Session lifecycle
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trickler",
		Subsystem: "tuning",
		Name:      "sessions_started_total",
		Help:      "Total tuning sessions started",
	})

	SessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trickler",
		Subsystem: "tuning",
		Name:      "sessions_completed_total",
		Help:      "Total tuning sessions that converged",
	})

	SessionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trickler",
		Subsystem: "tuning",
		Name:      "sessions_failed_total",
		Help:      "Total tuning sessions aborted at the drop cap",
	})

	SessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trickler",
		Subsystem: "tuning",
		Name:      "session_state",
		Help:      "Current session state (0=idle 1=coarse 2=fine 3=complete 4=error)",
	})

	DropsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trickler",
		Subsystem: "tuning",
		Name:      "drops_recorded_total",
		Help:      "Total tuning drops recorded",
	}, []string{"stage"})

	DropScore = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trickler",
		Subsystem: "tuning",
		Name:      "drop_score",
		Help:      "Per-drop quality score (0-100, higher is better)",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	}, []string{"stage"})

	// Gaussian process surrogate
	GPObservations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trickler",
		Subsystem: "gp",
		Name:      "observations",
		Help:      "Observations held by the stage surrogate model",
	}, []string{"stage"})

	GPJitterRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trickler",
		Subsystem: "gp",
		Name:      "jitter_retries_total",
		Help:      "Cholesky factorizations recovered via the whole-diagonal jitter fallback",
	}, []string{"stage"})

	// Passive learning history
	HistoryRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trickler",
		Subsystem: "history",
		Name:      "records",
		Help:      "Drop records currently held in the ML history buffer",
	})

	HistoryChargesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trickler",
		Subsystem: "history",
		Name:      "charges_recorded_total",
		Help:      "Total normal-operation charges fed into the history buffer",
	})

	HistoryRefinementsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trickler",
		Subsystem: "history",
		Name:      "refinements_applied_total",
		Help:      "Total refined suggestion sets cashed into a profile",
	})

	// Persistence
	BlobReadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trickler",
		Subsystem: "store",
		Name:      "blob_read_errors_total",
		Help:      "Total blob read failures",
	}, []string{"backend"})

	BlobWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trickler",
		Subsystem: "store",
		Name:      "blob_write_errors_total",
		Help:      "Total blob write failures",
	}, []string{"backend"})

	// Simulated control loop (cmd harness)
	ControlTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trickler",
		Subsystem: "control",
		Name:      "ticks_total",
		Help:      "Total simulated control loop ticks",
	})

	DropDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trickler",
		Subsystem: "control",
		Name:      "drop_duration_seconds",
		Help:      "Simulated drop cycle duration",
		Buckets:   []float64{1, 2.5, 5, 7.5, 10, 15, 20, 30, 45, 60},
	})
)
