package sync_repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/finsync/integration-connector/internal/config"
	"github.com/finsync/integration-connector/internal/domain"
	"github.com/finsync/integration-connector/internal/platform/logger"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type SqlObjectGateway struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlObjectGateway(cfg *config.Config, database *sql.DB) (*SqlObjectGateway, error) {
	return &SqlObjectGateway{
		database:     database,
		queryTimeout: cfg.DatabaseQueryTimeout,
	}, nil
}

// UpsertBatch writes the batch inside one transaction using a conditional
// conflict write per record: an existing row is only overwritten when the
// incoming vendor update timestamp is strictly newer, so a replay of stale
// data can never clobber fresher content.  The comparison happens inside the
// conflict clause, atomically with the write.
//
// Returns the maximum vendor update timestamp across the batch - the
// caller's watermark candidate.  An empty batch returns the zero time and
// the caller keeps its prior watermark.
func (sog *SqlObjectGateway) UpsertBatch(ctx context.Context, records []domain.RawExternalObject) (time.Time, error) {

	var maxVendorUpdatedAt time.Time

	if len(records) == 0 {
		return maxVendorUpdatedAt, nil
	}

	callDurationTimer := prometheus.NewTimer(metrics.sqlUpsertBatchDuration)
	defer callDurationTimer.ObserveDuration()

	log := logger.Log.WithFields(logrus.Fields{
		"account_id":  records[0].AccountID,
		"object_kind": records[0].ObjectKind,
		"batch_size":  len(records)})

	ctx, cancel := context.WithTimeout(ctx, sog.queryTimeout)
	defer cancel()

	tx, err := sog.database.BeginTx(ctx, nil)
	if err != nil {
		logger.LogWithError(log, "Unable to begin transaction", err)
		return maxVendorUpdatedAt, err
	}
	defer tx.Rollback()

	statement, err := tx.PrepareContext(ctx,
		`INSERT INTO raw_objects
            (id, account_id, object_kind, external_object_id, payload, vendor_updated_at, ingested_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
            ON CONFLICT (account_id, object_kind, external_object_id) DO UPDATE SET
                payload = excluded.payload,
                vendor_updated_at = excluded.vendor_updated_at,
                updated_at = excluded.updated_at
            WHERE raw_objects.vendor_updated_at < excluded.vendor_updated_at`)
	if err != nil {
		logger.LogWithError(log, "SQL Prepare failed", err)
		return maxVendorUpdatedAt, err
	}
	defer statement.Close()

	now := time.Now().UTC()
	var staleDiscarded int64

	for _, record := range records {
		results, err := statement.ExecContext(ctx,
			uuid.NewString(),
			record.AccountID,
			record.ObjectKind,
			record.ExternalObjectID,
			[]byte(record.Payload),
			record.VendorUpdatedAt.UTC(),
			now)
		if err != nil {
			logger.LogWithError(log, "SQL upsert failed", err)
			return time.Time{}, err
		}

		rowsAffected, err := results.RowsAffected()
		if err != nil {
			return time.Time{}, err
		}

		if rowsAffected == 0 {
			staleDiscarded++
		}

		if record.VendorUpdatedAt.After(maxVendorUpdatedAt) {
			maxVendorUpdatedAt = record.VendorUpdatedAt
		}
	}

	if err := tx.Commit(); err != nil {
		logger.LogWithError(log, "Unable to commit transaction", err)
		return time.Time{}, err
	}

	if staleDiscarded > 0 {
		metrics.staleRecordsDiscarded.Add(float64(staleDiscarded))
		log.WithFields(logrus.Fields{"stale_discarded": staleDiscarded}).Debug("Discarded replayed records with stale timestamps")
	}

	return maxVendorUpdatedAt, nil
}
