package sink

import "github.com/prometheus/client_golang/prometheus"

var (
	snapshotsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rig_snapshots_emitted_total",
			Help: "Total number of snapshots handed to each sink queue.",
		},
		[]string{"sink"},
	)

	snapshotsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rig_snapshots_dropped_total",
			Help: "Total number of snapshots dropped because a sink queue was full.",
		},
		[]string{"sink"},
	)

	sinkWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rig_sink_write_failures_total",
			Help: "Total number of failed sink writes.",
		},
		[]string{"sink"},
	)

	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rig_tick_duration_seconds",
			Help:    "Duration of one scheduler tick, instrument I/O included.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(snapshotsEmitted)
	prometheus.MustRegister(snapshotsDropped)
	prometheus.MustRegister(sinkWriteFailures)
	prometheus.MustRegister(tickDuration)
}

// ObserveTickDuration records one tick's duration in seconds.
// Called by the scheduler; lives here so all engine metrics share one
// registration point.
func ObserveTickDuration(seconds float64) {
	tickDuration.Observe(seconds)
}
