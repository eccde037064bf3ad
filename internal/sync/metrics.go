package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type syncMetrics struct {
	cycleDuration           prometheus.Histogram
	cycleOutcomeCounter     *prometheus.CounterVec
	recordsSyncedCounter    *prometheus.CounterVec
	malformedRecordsSkipped prometheus.Counter
	rateLimitWaitCounter    prometheus.Counter
	credentialRefreshes     *prometheus.CounterVec
	leaseContentionCounter  prometheus.Counter
}

var metrics *syncMetrics

func init() {
	metrics = new(syncMetrics)

	metrics.cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "integration_connector_sync_cycle_duration",
		Help: "The amount of time it took to run one account sync cycle",
	})

	metrics.cycleOutcomeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_connector_sync_cycle_count",
		Help: "The number of completed sync cycles partitioned by outcome",
	}, []string{"outcome"})

	metrics.recordsSyncedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_connector_records_synced_count",
		Help: "The number of vendor records persisted, partitioned by object kind",
	}, []string{"object_kind"})

	metrics.malformedRecordsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "integration_connector_malformed_records_skipped_count",
		Help: "The number of vendor records skipped for missing an id or update timestamp",
	})

	metrics.rateLimitWaitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "integration_connector_rate_limit_wait_count",
		Help: "The number of times a sync cycle paused on a vendor rate limit",
	})

	metrics.credentialRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_connector_credential_refresh_count",
		Help: "The number of credential refresh attempts partitioned by result",
	}, []string{"result"})

	metrics.leaseContentionCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "integration_connector_sync_lease_contention_count",
		Help: "The number of sync cycles skipped because another worker held the lease",
	})
}
