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

type SqlCursorTracker struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlCursorTracker(cfg *config.Config, database *sql.DB) (*SqlCursorTracker, error) {
	return &SqlCursorTracker{
		database:     database,
		queryTimeout: cfg.DatabaseQueryTimeout,
	}, nil
}

// ReadCursor returns the stored cursor, or a cursor positioned at the
// vendor minimum when the (account, kind) pair has never synced.
func (sct *SqlCursorTracker) ReadCursor(ctx context.Context, accountID domain.AccountID, kind domain.ObjectKind) (domain.SyncCursor, error) {

	callDurationTimer := prometheus.NewTimer(metrics.sqlCursorReadDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, sct.queryTimeout)
	defer cancel()

	cursor := domain.SyncCursor{
		AccountID:  accountID,
		ObjectKind: kind,
		Watermark:  domain.MinWatermark,
	}

	statement, err := sct.database.Prepare(
		`SELECT watermark, last_advanced_at, records_synced, last_error
            FROM sync_cursors WHERE account_id = $1 AND object_kind = $2`)
	if err != nil {
		logger.LogError("SQL Prepare failed", err)
		return cursor, err
	}
	defer statement.Close()

	var lastAdvancedAt sql.NullTime
	var lastError sql.NullString

	err = statement.QueryRowContext(ctx, accountID, kind).Scan(
		&cursor.Watermark,
		&lastAdvancedAt,
		&cursor.RecordsSynced,
		&lastError)

	if err != nil {
		if err == sql.ErrNoRows {
			return cursor, nil
		}

		logger.LogError("SQL query failed", err)
		return cursor, err
	}

	if lastAdvancedAt.Valid {
		cursor.LastAdvancedAt = lastAdvancedAt.Time
	}

	if lastError.Valid {
		cursor.LastError = lastError.String
	}

	return cursor, nil
}

// AdvanceCursor moves the watermark forward via a single conditional upsert.
// The monotonicity guard lives in the SQL itself so that two racing writers
// cannot interleave a read-check-write.  Moving to an equal watermark is a
// permitted no-op advance; moving backwards fails with CursorRegressionError
// and leaves the stored value unchanged.
func (sct *SqlCursorTracker) AdvanceCursor(ctx context.Context, accountID domain.AccountID, kind domain.ObjectKind, newWatermark time.Time, recordsSynced int) error {

	callDurationTimer := prometheus.NewTimer(metrics.sqlCursorAdvanceDuration)
	defer callDurationTimer.ObserveDuration()

	log := logger.Log.WithFields(logrus.Fields{
		"account_id":  accountID,
		"object_kind": kind,
		"watermark":   newWatermark})

	ctx, cancel := context.WithTimeout(ctx, sct.queryTimeout)
	defer cancel()

	statement, err := sct.database.Prepare(
		`INSERT INTO sync_cursors
            (id, account_id, object_kind, watermark, last_advanced_at, records_synced, last_error, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, '', $5, $5)
            ON CONFLICT (account_id, object_kind) DO UPDATE SET
                watermark = excluded.watermark,
                last_advanced_at = excluded.last_advanced_at,
                records_synced = sync_cursors.records_synced + excluded.records_synced,
                last_error = '',
                updated_at = excluded.updated_at
            WHERE sync_cursors.watermark <= excluded.watermark`)
	if err != nil {
		logger.LogWithError(log, "SQL Prepare failed", err)
		return err
	}
	defer statement.Close()

	results, err := statement.ExecContext(ctx,
		uuid.NewString(),
		accountID,
		kind,
		newWatermark.UTC(),
		time.Now().UTC(),
		recordsSynced)
	if err != nil {
		logger.LogWithError(log, "SQL upsert failed", err)
		return err
	}

	rowsAffected, err := results.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		metrics.cursorRegressionCounter.Inc()
		logger.LogWithError(log, "Refusing to move a sync cursor backwards", CursorRegressionError)
		return CursorRegressionError
	}

	log.Debug("Advanced sync cursor")

	return nil
}

// MarkCursorError records the failure reason for the status API without
// touching the watermark.
func (sct *SqlCursorTracker) MarkCursorError(ctx context.Context, accountID domain.AccountID, kind domain.ObjectKind, message string) error {

	ctx, cancel := context.WithTimeout(ctx, sct.queryTimeout)
	defer cancel()

	statement, err := sct.database.Prepare(
		`INSERT INTO sync_cursors
            (id, account_id, object_kind, watermark, records_synced, last_error, created_at, updated_at)
            VALUES ($1, $2, $3, $4, 0, $5, $6, $6)
            ON CONFLICT (account_id, object_kind) DO UPDATE SET
                last_error = excluded.last_error,
                updated_at = excluded.updated_at`)
	if err != nil {
		logger.LogError("SQL Prepare failed", err)
		return err
	}
	defer statement.Close()

	_, err = statement.ExecContext(ctx,
		uuid.NewString(),
		accountID,
		kind,
		domain.MinWatermark,
		message,
		time.Now().UTC())
	if err != nil {
		logger.LogError("SQL upsert failed", err)
		return err
	}

	return nil
}

func (sct *SqlCursorTracker) ListCursors(ctx context.Context, accountID domain.AccountID) ([]domain.SyncCursor, error) {

	callDurationTimer := prometheus.NewTimer(metrics.sqlCursorListDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, sct.queryTimeout)
	defer cancel()

	statement, err := sct.database.Prepare(
		`SELECT object_kind, watermark, last_advanced_at, records_synced, last_error
            FROM sync_cursors WHERE account_id = $1 ORDER BY object_kind`)
	if err != nil {
		logger.LogError("SQL Prepare failed", err)
		return nil, err
	}
	defer statement.Close()

	rows, err := statement.QueryContext(ctx, accountID)
	if err != nil {
		logger.LogError("SQL query failed", err)
		return nil, err
	}
	defer rows.Close()

	cursors := make([]domain.SyncCursor, 0)

	for rows.Next() {
		cursor := domain.SyncCursor{AccountID: accountID}

		var lastAdvancedAt sql.NullTime
		var lastError sql.NullString

		if err := rows.Scan(&cursor.ObjectKind, &cursor.Watermark, &lastAdvancedAt, &cursor.RecordsSynced, &lastError); err != nil {
			logger.LogError("SQL scan failed.  Skipping row.", err)
			continue
		}

		if lastAdvancedAt.Valid {
			cursor.LastAdvancedAt = lastAdvancedAt.Time
		}

		if lastError.Valid {
			cursor.LastError = lastError.String
		}

		cursors = append(cursors, cursor)
	}

	return cursors, nil
}
