package account_repository

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type accountRepositoryMetrics struct {
	sqlAccountRegistrationDuration     prometheus.Histogram
	sqlAccountCredentialUpdateDuration prometheus.Histogram
	sqlAccountStatusUpdateDuration     prometheus.Histogram
	sqlAccountLookupDuration           prometheus.Histogram
	sqlAccountListDuration             prometheus.Histogram
	sqlAccountsDueForSyncDuration      prometheus.Histogram
}

var metrics *accountRepositoryMetrics

func init() {
	metrics = new(accountRepositoryMetrics)

	metrics.sqlAccountRegistrationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "integration_connector_sql_register_account_duration",
		Help: "The amount of time it took to register an account in the db",
	})

	metrics.sqlAccountCredentialUpdateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "integration_connector_sql_update_account_credentials_duration",
		Help: "The amount of time it took to store a refreshed credential set",
	})

	metrics.sqlAccountStatusUpdateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "integration_connector_sql_update_account_status_duration",
		Help: "The amount of time it took to update an account's status",
	})

	metrics.sqlAccountLookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "integration_connector_sql_lookup_account_duration",
		Help: "The amount of time it took to lookup an account",
	})

	metrics.sqlAccountListDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "integration_connector_sql_list_accounts_duration",
		Help: "The amount of time it took to list accounts",
	})

	metrics.sqlAccountsDueForSyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "integration_connector_sql_accounts_due_for_sync_duration",
		Help: "The amount of time it took to find the accounts due for a sync cycle",
	})
}
