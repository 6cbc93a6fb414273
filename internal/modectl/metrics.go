package modectl

import "github.com/prometheus/client_golang/prometheus"

const metricsSubsystem = "modectl"

var (
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: metricsSubsystem,
			Name:      "transitions_total",
			Help:      "count of completed mode transitions by source, target and result",
		},
		[]string{"from", "to", "result"},
	)

	transitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: metricsSubsystem,
			Name:      "transition_duration_seconds",
			Help:      "wall-clock time from SetMode acceptance to a transition settling",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"to"},
	)

	busyRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: metricsSubsystem,
			Name:      "busy_rejections_total",
			Help:      "count of SetMode calls rejected because a transition was already in flight",
		},
	)
)

func init() {
	prometheus.MustRegister(transitionsTotal, transitionDuration, busyRejectionsTotal)
}
