package sync_repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/finsync/integration-connector/internal/config"
	"github.com/finsync/integration-connector/internal/domain"
	"github.com/finsync/integration-connector/internal/platform/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type SqlSyncLease struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlSyncLease(cfg *config.Config, database *sql.DB) (*SqlSyncLease, error) {
	return &SqlSyncLease{
		database:     database,
		queryTimeout: cfg.DatabaseQueryTimeout,
	}, nil
}

// Acquire takes the account's sync lease.  A lease is grabbable when no row
// exists, when the prior lease has expired (dead worker), or when the caller
// already owns it (renewal).  The guard runs inside the conflict clause, so
// two workers racing for the same account cannot both win.
func (ssl *SqlSyncLease) Acquire(ctx context.Context, accountID domain.AccountID, owner string, ttl time.Duration) error {

	callDurationTimer := prometheus.NewTimer(metrics.sqlLeaseAcquireDuration)
	defer callDurationTimer.ObserveDuration()

	log := logger.Log.WithFields(logrus.Fields{"account_id": accountID, "owner": owner})

	ctx, cancel := context.WithTimeout(ctx, ssl.queryTimeout)
	defer cancel()

	statement, err := ssl.database.Prepare(
		`INSERT INTO sync_leases (account_id, owner, expires_at)
            VALUES ($1, $2, $3)
            ON CONFLICT (account_id) DO UPDATE SET
                owner = excluded.owner,
                expires_at = excluded.expires_at
            WHERE sync_leases.expires_at < now() OR sync_leases.owner = excluded.owner`)
	if err != nil {
		logger.LogWithError(log, "SQL Prepare failed", err)
		return err
	}
	defer statement.Close()

	results, err := statement.ExecContext(ctx, accountID, owner, time.Now().UTC().Add(ttl))
	if err != nil {
		logger.LogWithError(log, "SQL upsert failed", err)
		return err
	}

	rowsAffected, err := results.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		log.Debug("Sync lease held by another owner")
		return LeaseHeldError
	}

	return nil
}

func (ssl *SqlSyncLease) Release(ctx context.Context, accountID domain.AccountID, owner string) error {

	ctx, cancel := context.WithTimeout(ctx, ssl.queryTimeout)
	defer cancel()

	statement, err := ssl.database.Prepare(
		`DELETE FROM sync_leases WHERE account_id = $1 AND owner = $2`)
	if err != nil {
		logger.LogError("SQL Prepare failed", err)
		return err
	}
	defer statement.Close()

	_, err = statement.ExecContext(ctx, accountID, owner)
	if err != nil {
		logger.LogError("SQL delete failed", err)
		return err
	}

	return nil
}
