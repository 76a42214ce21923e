package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clannr"

// Metrics holds the collectors for the promotion and role sync subsystems
type Metrics struct {
	Scans            *prometheus.CounterVec
	ScanDuration     prometheus.Histogram
	PendingPromotion prometheus.Gauge
	Promotions       *prometheus.CounterVec
	UserFailures     *prometheus.CounterVec
	RoleChanges      *prometheus.CounterVec
	SchedulerState   prometheus.Gauge
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Scans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "promotion",
			Name:      "scans_total",
			Help:      "Promotion eligibility scans by result.",
		}, []string{"result"}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "promotion",
			Name:      "scan_duration_seconds",
			Help:      "Time taken by a full eligibility scan.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		PendingPromotion: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "promotion",
			Name:      "pending",
			Help:      "Promotions detected by the last completed scan and not yet executed.",
		}),
		Promotions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "promotion",
			Name:      "executed_total",
			Help:      "Rank changes attempted by promotion batches, by result.",
		}, []string{"result"}),
		UserFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "promotion",
			Name:      "user_failures_total",
			Help:      "Per-user lookup failures during scans, by error kind.",
		}, []string{"kind"}),
		RoleChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rolesync",
			Name:      "changes_total",
			Help:      "Discord role mutations by operation and result.",
		}, []string{"op", "result"}),
		SchedulerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "state",
			Help:      "Scheduler state: 0 waiting, 1 ready, 2 periodic, 3 failed.",
		}),
	}
}

// NewNoop returns collectors registered on a throwaway registry
func NewNoop() *Metrics {
	return New(prometheus.NewRegistry())
}
