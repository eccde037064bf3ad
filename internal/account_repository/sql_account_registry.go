package account_repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/finsync/integration-connector/internal/config"
	"github.com/finsync/integration-connector/internal/domain"
	"github.com/finsync/integration-connector/internal/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const accountColumns = "id, integration_type, external_account_id, access_token, refresh_token, token_expires_at, status, next_sync_at, created_at, updated_at"

type SqlAccountRegistry struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlAccountRegistry(cfg *config.Config, database *sql.DB) (*SqlAccountRegistry, error) {
	return &SqlAccountRegistry{
		database:     database,
		queryTimeout: cfg.DatabaseQueryTimeout,
	}, nil
}

func (sar *SqlAccountRegistry) Register(ctx context.Context, account domain.IntegrationAccount) (domain.IntegrationAccount, RegistrationResults, error) {

	callDurationTimer := prometheus.NewTimer(metrics.sqlAccountRegistrationDuration)
	defer callDurationTimer.ObserveDuration()

	log := logger.Log.WithFields(logrus.Fields{
		"integration_type":    account.IntegrationType,
		"external_account_id": account.ExternalAccountID})

	ctx, cancel := context.WithTimeout(ctx, sar.queryTimeout)
	defer cancel()

	existing, err := sar.FindAccountByExternalID(ctx, account.IntegrationType, account.ExternalAccountID)
	if err == nil {
		return sar.reconnect(ctx, log, existing, account)
	} else if err != NotFoundError {
		return account, NewAccount, err
	}

	account.ID = domain.AccountID(uuid.NewString())
	now := time.Now().UTC()

	statement, err := sar.database.Prepare(
		`INSERT INTO accounts
            (id, integration_type, external_account_id, access_token, refresh_token, token_expires_at, status, next_sync_at, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
	if err != nil {
		logger.LogWithError(log, "SQL Prepare failed", err)
		return account, NewAccount, err
	}
	defer statement.Close()

	_, err = statement.ExecContext(ctx,
		account.ID,
		account.IntegrationType,
		account.ExternalAccountID,
		account.Credentials.AccessToken,
		account.Credentials.RefreshToken,
		account.Credentials.ExpiresAt,
		domain.AccountActive,
		now,
		now,
		now)

	if err != nil {
		// Lost the insert race to a concurrent registration - fall back to
		// updating the row that beat us.
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == pgerrcode.UniqueViolation {
			existing, lookupErr := sar.FindAccountByExternalID(ctx, account.IntegrationType, account.ExternalAccountID)
			if lookupErr != nil {
				return account, NewAccount, lookupErr
			}
			return sar.reconnect(ctx, log, existing, account)
		}

		logger.LogWithError(log, "SQL insert failed", err)
		return account, NewAccount, err
	}

	account.Status = domain.AccountActive
	account.NextSyncAt = now
	account.CreatedAt = now
	account.UpdatedAt = now

	log.WithFields(logrus.Fields{"account_id": account.ID}).Debug("Registered an integration account")

	return account, NewAccount, nil
}

func (sar *SqlAccountRegistry) reconnect(ctx context.Context, log *logrus.Entry, existing domain.IntegrationAccount, incoming domain.IntegrationAccount) (domain.IntegrationAccount, RegistrationResults, error) {

	statement, err := sar.database.Prepare(
		`UPDATE accounts SET
            access_token = $2, refresh_token = $3, token_expires_at = $4,
            status = $5, next_sync_at = $6, updated_at = $6
            WHERE id = $1`)
	if err != nil {
		logger.LogWithError(log, "SQL Prepare failed", err)
		return existing, ExistingAccount, err
	}
	defer statement.Close()

	now := time.Now().UTC()

	_, err = statement.ExecContext(ctx,
		existing.ID,
		incoming.Credentials.AccessToken,
		incoming.Credentials.RefreshToken,
		incoming.Credentials.ExpiresAt,
		domain.AccountActive,
		now)
	if err != nil {
		logger.LogWithError(log, "SQL update failed", err)
		return existing, ExistingAccount, err
	}

	existing.Credentials = incoming.Credentials
	existing.Status = domain.AccountActive
	existing.NextSyncAt = now
	existing.UpdatedAt = now

	log.WithFields(logrus.Fields{"account_id": existing.ID}).Debug("Reconnected an existing integration account")

	return existing, ExistingAccount, nil
}

func (sar *SqlAccountRegistry) UpdateCredentials(ctx context.Context, accountID domain.AccountID, credentials domain.CredentialSet) error {

	callDurationTimer := prometheus.NewTimer(metrics.sqlAccountCredentialUpdateDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, sar.queryTimeout)
	defer cancel()

	statement, err := sar.database.Prepare(
		`UPDATE accounts SET access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = $5
            WHERE id = $1`)
	if err != nil {
		logger.LogError("SQL Prepare failed", err)
		return err
	}
	defer statement.Close()

	results, err := statement.ExecContext(ctx,
		accountID,
		credentials.AccessToken,
		credentials.RefreshToken,
		credentials.ExpiresAt,
		time.Now().UTC())
	if err != nil {
		logger.LogError("SQL update failed", err)
		return err
	}

	rowsAffected, err := results.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return NotFoundError
	}

	return nil
}

func (sar *SqlAccountRegistry) UpdateStatus(ctx context.Context, accountID domain.AccountID, status domain.AccountStatus) error {

	callDurationTimer := prometheus.NewTimer(metrics.sqlAccountStatusUpdateDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, sar.queryTimeout)
	defer cancel()

	statement, err := sar.database.Prepare(
		`UPDATE accounts SET status = $2, updated_at = $3 WHERE id = $1`)
	if err != nil {
		logger.LogError("SQL Prepare failed", err)
		return err
	}
	defer statement.Close()

	results, err := statement.ExecContext(ctx, accountID, status, time.Now().UTC())
	if err != nil {
		logger.LogError("SQL update failed", err)
		return err
	}

	rowsAffected, err := results.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return NotFoundError
	}

	logger.Log.WithFields(logrus.Fields{"account_id": accountID, "status": status}).Debug("Updated account status")

	return nil
}

func (sar *SqlAccountRegistry) ScheduleSync(ctx context.Context, accountID domain.AccountID, at time.Time) error {

	ctx, cancel := context.WithTimeout(ctx, sar.queryTimeout)
	defer cancel()

	statement, err := sar.database.Prepare(
		`UPDATE accounts SET next_sync_at = $2, updated_at = $3 WHERE id = $1`)
	if err != nil {
		logger.LogError("SQL Prepare failed", err)
		return err
	}
	defer statement.Close()

	results, err := statement.ExecContext(ctx, accountID, at.UTC(), time.Now().UTC())
	if err != nil {
		logger.LogError("SQL update failed", err)
		return err
	}

	rowsAffected, err := results.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return NotFoundError
	}

	return nil
}

func (sar *SqlAccountRegistry) FindAccountByID(ctx context.Context, accountID domain.AccountID) (domain.IntegrationAccount, error) {

	callDurationTimer := prometheus.NewTimer(metrics.sqlAccountLookupDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, sar.queryTimeout)
	defer cancel()

	statement, err := sar.database.Prepare(
		`SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`)
	if err != nil {
		logger.LogError("SQL Prepare failed", err)
		return domain.IntegrationAccount{}, err
	}
	defer statement.Close()

	return scanAccount(statement.QueryRowContext(ctx, accountID))
}

func (sar *SqlAccountRegistry) FindAccountByExternalID(ctx context.Context, integrationType domain.IntegrationType, externalAccountID domain.ExternalAccountID) (domain.IntegrationAccount, error) {

	callDurationTimer := prometheus.NewTimer(metrics.sqlAccountLookupDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, sar.queryTimeout)
	defer cancel()

	statement, err := sar.database.Prepare(
		`SELECT ` + accountColumns + ` FROM accounts
            WHERE integration_type = $1 AND external_account_id = $2`)
	if err != nil {
		logger.LogError("SQL Prepare failed", err)
		return domain.IntegrationAccount{}, err
	}
	defer statement.Close()

	return scanAccount(statement.QueryRowContext(ctx, integrationType, externalAccountID))
}

func (sar *SqlAccountRegistry) GetAccounts(ctx context.Context, offset int, limit int) ([]domain.IntegrationAccount, int, error) {

	callDurationTimer := prometheus.NewTimer(metrics.sqlAccountListDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, sar.queryTimeout)
	defer cancel()

	var totalAccounts int

	statement, err := sar.database.Prepare(
		`SELECT ` + accountColumns + `, COUNT(*) OVER() FROM accounts
            ORDER BY created_at, id OFFSET $1 LIMIT $2`)
	if err != nil {
		logger.LogError("SQL Prepare failed", err)
		return nil, totalAccounts, err
	}
	defer statement.Close()

	rows, err := statement.QueryContext(ctx, offset, limit)
	if err != nil {
		logger.LogError("SQL query failed", err)
		return nil, totalAccounts, err
	}
	defer rows.Close()

	accounts := make([]domain.IntegrationAccount, 0)

	for rows.Next() {
		var account domain.IntegrationAccount

		if err := rows.Scan(&account.ID,
			&account.IntegrationType,
			&account.ExternalAccountID,
			&account.Credentials.AccessToken,
			&account.Credentials.RefreshToken,
			&account.Credentials.ExpiresAt,
			&account.Status,
			&account.NextSyncAt,
			&account.CreatedAt,
			&account.UpdatedAt,
			&totalAccounts); err != nil {
			logger.LogError("SQL scan failed.  Skipping row.", err)
			continue
		}

		accounts = append(accounts, account)
	}

	return accounts, totalAccounts, nil
}

func (sar *SqlAccountRegistry) GetAccountsDueForSync(ctx context.Context, asOf time.Time, limit int) ([]domain.AccountID, error) {

	callDurationTimer := prometheus.NewTimer(metrics.sqlAccountsDueForSyncDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, sar.queryTimeout)
	defer cancel()

	statement, err := sar.database.Prepare(
		`SELECT id FROM accounts
            WHERE status = $1 AND next_sync_at <= $2
            ORDER BY next_sync_at ASC
            LIMIT $3`)
	if err != nil {
		logger.LogError("SQL Prepare failed", err)
		return nil, err
	}
	defer statement.Close()

	rows, err := statement.QueryContext(ctx, domain.AccountActive, asOf.UTC(), limit)
	if err != nil {
		logger.LogError("SQL query failed", err)
		return nil, err
	}
	defer rows.Close()

	accountIDs := make([]domain.AccountID, 0)

	for rows.Next() {
		var accountID domain.AccountID
		if err := rows.Scan(&accountID); err != nil {
			logger.LogError("SQL scan failed.  Skipping row.", err)
			continue
		}
		accountIDs = append(accountIDs, accountID)
	}

	return accountIDs, nil
}

func scanAccount(row *sql.Row) (domain.IntegrationAccount, error) {

	var account domain.IntegrationAccount

	err := row.Scan(&account.ID,
		&account.IntegrationType,
		&account.ExternalAccountID,
		&account.Credentials.AccessToken,
		&account.Credentials.RefreshToken,
		&account.Credentials.ExpiresAt,
		&account.Status,
		&account.NextSyncAt,
		&account.CreatedAt,
		&account.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return account, NotFoundError
		}

		logger.LogError("SQL query failed", err)
		return account, err
	}

	return account, nil
}
