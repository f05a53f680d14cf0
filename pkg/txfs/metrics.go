package txfs

import "github.com/prometheus/client_golang/prometheus"

var (
	transactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txfs_transactions_total",
			Help: "Total number of transactions by terminal state",
		},
		[]string{"state"},
	)
	versionsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "txfs_versions_appended_total",
			Help: "Total number of file versions appended",
		},
	)
	lockWaitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "txfs_lock_waits_total",
			Help: "Total number of lock requests that had to park",
		},
	)
	deadlocksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "txfs_deadlocks_total",
			Help: "Total number of lock requests rejected by deadlock detection",
		},
	)
)

func init() {
	prometheus.MustRegister(transactionsTotal)
	prometheus.MustRegister(versionsAppendedTotal)
	prometheus.MustRegister(lockWaitsTotal)
	prometheus.MustRegister(deadlocksTotal)
}
