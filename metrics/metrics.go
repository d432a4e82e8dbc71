package metrics

import "github.com/prometheus/client_golang/prometheus"

// Keys for litewal metrics.
const (
	CommitsObservedTotalKey          = "litewal_commits_observed_total"
	WALFramesObservedTotalKey        = "litewal_wal_frames_observed_total"
	CheckpointsTotalKey              = "litewal_checkpoints_total"
	CheckpointScheduledPathsKey      = "litewal_checkpoint_scheduled_paths"
	HandlesOpenedTotalKey            = "litewal_handles_opened_total"
	HandlesClosedTotalKey            = "litewal_handles_closed_total"
	StatementsForceFinalizedTotalKey = "litewal_statements_force_finalized_total"
	TransactionsTotalKey             = "litewal_transactions_total"

	Fail     = "fail"
	Ok       = "ok"
	Vetoed   = "vetoed"
	Skipped  = "skipped"
	Rollback = "rollback"
)

// Collectors for litewal metrics.
var (
	CommitsObservedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: CommitsObservedTotalKey,
		Help: "Cumulative number of commits observed through the engine commit hook.",
	})
	WALFramesObservedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: WALFramesObservedTotalKey,
		Help: "Cumulative number of WAL frames reported by commit notifications.",
	})
	CheckpointsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: CheckpointsTotalKey,
		Help: "Cumulative number of WAL checkpoint attempts.",
	}, []string{"status"})
	CheckpointScheduledPaths = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: CheckpointScheduledPathsKey,
		Help: "Number of database paths with a scheduled or in-flight checkpoint task.",
	})
	HandlesOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: HandlesOpenedTotalKey,
		Help: "Cumulative number of database connections opened.",
	})
	HandlesClosedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: HandlesClosedTotalKey,
		Help: "Cumulative number of database connections closed.",
	})
	StatementsForceFinalizedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: StatementsForceFinalizedTotalKey,
		Help: "Cumulative number of statements which were still prepared at Handle close, and were force-finalized.",
	})
	TransactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: TransactionsTotalKey,
		Help: "Cumulative number of transaction outcomes.",
	}, []string{"status"})
)

// LitewalCollectors lists collectors used by the litewal core.
func LitewalCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		CommitsObservedTotal,
		WALFramesObservedTotal,
		CheckpointsTotal,
		CheckpointScheduledPaths,
		HandlesOpenedTotal,
		HandlesClosedTotal,
		StatementsForceFinalizedTotal,
		TransactionsTotal,
	}
}
