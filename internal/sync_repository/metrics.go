package sync_repository

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type syncRepositoryMetrics struct {
	sqlCursorReadDuration    prometheus.Histogram
	sqlCursorAdvanceDuration prometheus.Histogram
	sqlCursorListDuration    prometheus.Histogram
	sqlUpsertBatchDuration   prometheus.Histogram
	sqlLeaseAcquireDuration  prometheus.Histogram

	cursorRegressionCounter prometheus.Counter
	staleRecordsDiscarded   prometheus.Counter
}

var metrics *syncRepositoryMetrics

func init() {
	metrics = new(syncRepositoryMetrics)

	metrics.sqlCursorReadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "integration_connector_sql_read_cursor_duration",
		Help: "The amount of time it took to read a sync cursor from the db",
	})

	metrics.sqlCursorAdvanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "integration_connector_sql_advance_cursor_duration",
		Help: "The amount of time it took to advance a sync cursor in the db",
	})

	metrics.sqlCursorListDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "integration_connector_sql_list_cursors_duration",
		Help: "The amount of time it took to list an account's sync cursors",
	})

	metrics.sqlUpsertBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "integration_connector_sql_upsert_batch_duration",
		Help: "The amount of time it took to upsert a batch of raw objects",
	})

	metrics.sqlLeaseAcquireDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "integration_connector_sql_acquire_lease_duration",
		Help: "The amount of time it took to acquire an account's sync lease",
	})

	metrics.cursorRegressionCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "integration_connector_cursor_regression_count",
		Help: "The number of rejected attempts to move a sync cursor backwards",
	})

	metrics.staleRecordsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "integration_connector_stale_records_discarded_count",
		Help: "The number of records discarded because a newer version was already stored",
	})
}
