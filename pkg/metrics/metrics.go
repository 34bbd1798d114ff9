package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Crew metrics
	SailorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "captain_sailors_total",
			Help: "Total number of sailors by derived status",
		},
		[]string{"status"},
	)

	SailorUsedCPUs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "captain_sailor_used_cpus",
			Help: "Used CPUs per sailor",
		},
		[]string{"sailor"},
	)

	SailorUsedGPUs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "captain_sailor_used_gpus",
			Help: "Used GPUs per sailor",
		},
		[]string{"sailor"},
	)

	// Chore metrics
	ChoresTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "captain_chores_total",
			Help: "Total number of chores by status",
		},
		[]string{"status"},
	)

	ChoresSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "captain_chores_submitted_total",
			Help: "Total number of chores submitted",
		},
	)

	ChoresRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captain_chores_rejected_total",
			Help: "Total number of chore submissions rejected, by reason",
		},
		[]string{"reason"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captain_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "captain_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Scheduler (assignment pass) metrics
	AssignmentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "captain_assignment_duration_seconds",
			Help:    "Time taken for one assignment pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ChoresAssignedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "captain_chores_assigned_total",
			Help: "Total number of chores successfully assigned to a sailor",
		},
	)

	ChoresRollbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "captain_chores_rollback_total",
			Help: "Total number of assignments rolled back on dispatch failure",
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "captain_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "captain_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ChoresCanceledByBudgetTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captain_chores_canceled_by_budget_total",
			Help: "Total number of chores marked cancel_requested by a budget pass, by source",
		},
		[]string{"cancel_source"},
	)

	ChoresPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "captain_chores_purged_total",
			Help: "Total number of terminal chores purged after CLEANUP_TTL",
		},
	)

	// CrewActiveChores is the Captain's own view of active chore count per
	// sailor, snapshotted from the chores store by the Collector.
	CrewActiveChores = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "captain_sailor_active_chores",
			Help: "Number of active chores assigned to each sailor, as seen by the Captain",
		},
		[]string{"sailor"},
	)

	// Sailor-side metrics
	SailorActiveChores = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sailor_active_chores",
			Help: "Number of chores currently running on this sailor",
		},
	)

	SailorLaunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sailor_launches_total",
			Help: "Total number of launch requests handled, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		SailorsTotal,
		SailorUsedCPUs,
		SailorUsedGPUs,
		ChoresTotal,
		ChoresSubmittedTotal,
		ChoresRejectedTotal,
		APIRequestsTotal,
		APIRequestDuration,
		AssignmentDuration,
		ChoresAssignedTotal,
		ChoresRollbackTotal,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		ChoresCanceledByBudgetTotal,
		ChoresPurgedTotal,
		CrewActiveChores,
		SailorActiveChores,
		SailorLaunchesTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
