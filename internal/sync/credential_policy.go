package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/finsync/integration-connector/internal/account_repository"
	"github.com/finsync/integration-connector/internal/domain"
	"github.com/finsync/integration-connector/internal/integrations"
	"github.com/finsync/integration-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

// CredentialPolicy keeps an account's credential set usable ahead of vendor
// calls.  Tokens nearing expiry are refreshed proactively; a refresh is also
// forced when the vendor rejects a token that looked valid locally (clock
// skew, early revocation).  The new credential set is persisted before it is
// used, so a crash between refresh and fetch never strands an unstored
// refresh token.
type CredentialPolicy struct {
	registrar   account_repository.AccountRegistrar
	leadTime    time.Duration
	maxFailures int

	lock     stdsync.Mutex
	failures map[domain.AccountID]int
}

func NewCredentialPolicy(registrar account_repository.AccountRegistrar, leadTime time.Duration, maxFailures int) *CredentialPolicy {
	return &CredentialPolicy{
		registrar:   registrar,
		leadTime:    leadTime,
		maxFailures: maxFailures,
		failures:    make(map[domain.AccountID]int),
	}
}

// EnsureFresh refreshes the account's credentials when they expire within
// the configured lead time.  Returns the account with usable credentials.
func (cp *CredentialPolicy) EnsureFresh(ctx context.Context, capability integrations.Capability, account domain.IntegrationAccount) (domain.IntegrationAccount, error) {

	if !account.Credentials.NeedsRefresh(time.Now().UTC(), cp.leadTime) {
		return account, nil
	}

	return cp.Refresh(ctx, capability, account)
}

// Refresh unconditionally exchanges the refresh token and persists the
// replacement credential set.  A terminal failure means the grant is gone
// and the account is disabled until the user reconnects.  Transient refresh
// failures are tolerated up to maxFailures in a row before the account is
// parked in error status.
func (cp *CredentialPolicy) Refresh(ctx context.Context, capability integrations.Capability, account domain.IntegrationAccount) (domain.IntegrationAccount, error) {

	log := logger.Log.WithFields(logrus.Fields{"account_id": account.ID})

	refreshed, err := capability.RefreshCredentials(ctx, account.Credentials)
	if err != nil {
		metrics.credentialRefreshes.WithLabelValues("failure").Inc()
		logger.LogWithError(log, "Credential refresh failed", err)

		if integrations.IsTerminal(err) || cp.recordFailure(account.ID) {
			if statusErr := cp.registrar.UpdateStatus(ctx, account.ID, domain.AccountError); statusErr != nil {
				logger.LogWithError(log, "Unable to record account error status", statusErr)
			}
		}

		return account, err
	}

	if err := cp.registrar.UpdateCredentials(ctx, account.ID, refreshed); err != nil {
		logger.LogWithError(log, "Unable to persist refreshed credentials", err)
		return account, err
	}

	metrics.credentialRefreshes.WithLabelValues("success").Inc()
	cp.clearFailures(account.ID)
	log.Debug("Refreshed account credentials")

	account.Credentials = refreshed

	return account, nil
}

// recordFailure bumps the account's consecutive failure count and reports
// whether the threshold has been reached.
func (cp *CredentialPolicy) recordFailure(accountID domain.AccountID) bool {
	cp.lock.Lock()
	defer cp.lock.Unlock()

	cp.failures[accountID]++

	return cp.failures[accountID] >= cp.maxFailures
}

func (cp *CredentialPolicy) clearFailures(accountID domain.AccountID) {
	cp.lock.Lock()
	defer cp.lock.Unlock()

	delete(cp.failures, accountID)
}
