package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finsync/integration-connector/internal/account_repository"
	"github.com/finsync/integration-connector/internal/config"
	"github.com/finsync/integration-connector/internal/domain"
	"github.com/finsync/integration-connector/internal/integrations"
	"github.com/finsync/integration-connector/internal/platform/logger"
	"github.com/finsync/integration-connector/internal/sync_repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type CycleOutcome string

const (
	// CycleCompleted means every object kind synced through its change stream.
	CycleCompleted CycleOutcome = "completed"

	// CycleSkipped means no work was attempted (lease held elsewhere, account
	// missing or not active).
	CycleSkipped CycleOutcome = "skipped"

	// CycleFailed means a retryable failure ended the cycle early.  Progress
	// made before the failure is durable and the next cycle resumes from it.
	CycleFailed CycleOutcome = "failed"

	// CycleHalted means a terminal failure disabled the account.  No further
	// cycles run until an operator or the user intervenes.
	CycleHalted CycleOutcome = "halted"
)

type CycleResult struct {
	Outcome       CycleOutcome
	RecordsSynced int

	// HasMore is set when the vendor reported more changes than the cycle's
	// page budget consumed.  The scheduler reschedules the account
	// immediately instead of waiting a full sync interval.
	HasMore bool
}

// Orchestrator runs the per-account sync control loop: lease, credential
// check, then one pass over each object kind's change stream with idempotent
// persistence and monotonic cursor advancement.  It is safe for concurrent
// use across distinct accounts; the lease serializes work on any one account.
type Orchestrator struct {
	capabilities map[domain.IntegrationType]integrations.Capability
	locator      account_repository.AccountLocator
	registrar    account_repository.AccountRegistrar
	cursors      sync_repository.CursorTracker
	gateway      sync_repository.ObjectGateway
	lease        sync_repository.SyncLease
	policy       *CredentialPolicy
	announcer    CycleEventAnnouncer

	owner        string
	leaseTTL     time.Duration
	fetchTimeout time.Duration
	maxAttempts  int
	backoff      Backoff
}

func NewOrchestrator(
	cfg *config.Config,
	capabilities map[domain.IntegrationType]integrations.Capability,
	locator account_repository.AccountLocator,
	registrar account_repository.AccountRegistrar,
	cursors sync_repository.CursorTracker,
	gateway sync_repository.ObjectGateway,
	lease sync_repository.SyncLease,
	policy *CredentialPolicy,
	announcer CycleEventAnnouncer,
	owner string) *Orchestrator {

	return &Orchestrator{
		capabilities: capabilities,
		locator:      locator,
		registrar:    registrar,
		cursors:      cursors,
		gateway:      gateway,
		lease:        lease,
		policy:       policy,
		announcer:    announcer,
		owner:        owner,
		leaseTTL:     cfg.SyncLeaseTTL,
		fetchTimeout: cfg.SyncFetchTimeout,
		maxAttempts:  cfg.SyncMaxAttemptsPerPage,
		backoff: Backoff{
			InitialDelay: cfg.SyncBackoffInitialDelay,
			MaxDelay:     cfg.SyncBackoffMaxDelay,
		},
	}
}

// RunCycle executes one sync cycle for the account.  The returned result is
// valid even when err is non-nil; partial progress before a failure has
// already been committed.
func (o *Orchestrator) RunCycle(ctx context.Context, accountID domain.AccountID) (CycleResult, error) {

	cycleDurationTimer := prometheus.NewTimer(metrics.cycleDuration)
	defer cycleDurationTimer.ObserveDuration()

	log := logger.Log.WithFields(logrus.Fields{"account_id": accountID})

	if err := o.lease.Acquire(ctx, accountID, o.owner, o.leaseTTL); err != nil {
		if errors.Is(err, sync_repository.LeaseHeldError) {
			metrics.leaseContentionCounter.Inc()
			log.Debug("Skipping sync cycle.  Lease held by another worker.")
			return CycleResult{Outcome: CycleSkipped}, nil
		}
		return CycleResult{Outcome: CycleFailed}, err
	}

	defer func() {
		if err := o.lease.Release(ctx, accountID, o.owner); err != nil {
			logger.LogWithError(log, "Unable to release sync lease", err)
		}
	}()

	account, err := o.locator.FindAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, account_repository.NotFoundError) {
			log.Debug("Skipping sync cycle.  Account no longer exists.")
			return CycleResult{Outcome: CycleSkipped}, nil
		}
		return CycleResult{Outcome: CycleFailed}, err
	}

	if account.Status != domain.AccountActive {
		log.WithFields(logrus.Fields{"status": account.Status}).Debug("Skipping sync cycle.  Account is not active.")
		return CycleResult{Outcome: CycleSkipped}, nil
	}

	capability, ok := o.capabilities[account.IntegrationType]
	if !ok {
		err := &integrations.TerminalError{Err: fmt.Errorf("no capability registered for integration type %s", account.IntegrationType)}
		o.haltAccount(ctx, log, account.ID, err)
		return o.finishCycle(ctx, account, CycleResult{Outcome: CycleHalted}), err
	}

	account, err = o.policy.EnsureFresh(ctx, capability, account)
	if err != nil {
		result := CycleResult{Outcome: CycleFailed}
		if integrations.IsTerminal(err) {
			result.Outcome = CycleHalted
		}
		return o.finishCycle(ctx, account, result), err
	}

	result := CycleResult{Outcome: CycleCompleted}

	for _, kind := range capability.ObjectKinds() {
		recordsSynced, hasMore, err := o.syncKind(ctx, capability, &account, kind)

		result.RecordsSynced += recordsSynced
		result.HasMore = result.HasMore || hasMore

		if err != nil {
			if markErr := o.cursors.MarkCursorError(ctx, account.ID, kind, err.Error()); markErr != nil {
				logger.LogWithError(log, "Unable to record cursor error", markErr)
			}

			if integrations.IsTerminal(err) {
				o.haltAccount(ctx, log, account.ID, err)
				result.Outcome = CycleHalted
			} else {
				result.Outcome = CycleFailed
			}

			return o.finishCycle(ctx, account, result), err
		}
	}

	log.WithFields(logrus.Fields{
		"records_synced": result.RecordsSynced,
		"has_more":       result.HasMore}).Info("Completed sync cycle")

	return o.finishCycle(ctx, account, result), nil
}

// syncKind drains one object kind's change stream.  The fetch window is
// pinned to the watermark read at the start of the pass; the stored
// watermark still advances after every persisted page so a crash resumes
// from the last durable batch rather than the window start.
func (o *Orchestrator) syncKind(ctx context.Context, capability integrations.Capability, account *domain.IntegrationAccount, kind domain.ObjectKind) (int, bool, error) {

	log := logger.Log.WithFields(logrus.Fields{"account_id": account.ID, "object_kind": kind})

	cursor, err := o.cursors.ReadCursor(ctx, account.ID, kind)
	if err != nil {
		return 0, false, err
	}

	fetchWatermark := cursor.Watermark
	watermark := cursor.Watermark
	position := 1

	var totalRecords int

	for {
		page, err := o.fetchPage(ctx, capability, account, kind, fetchWatermark, position)
		if err != nil {
			return totalRecords, false, err
		}

		normalized := NormalizeBatch(log, *account, kind, page.Records, time.Now().UTC())

		batchWatermark, err := o.gateway.UpsertBatch(ctx, normalized)
		if err != nil {
			return totalRecords, false, err
		}

		if batchWatermark.After(watermark) {
			watermark = batchWatermark
		}

		// The cursor only moves after the batch is durable.  An advance to
		// an equal watermark still records the sweep timestamp.
		if err := o.cursors.AdvanceCursor(ctx, account.ID, kind, watermark, len(normalized)); err != nil {
			return totalRecords, false, err
		}

		totalRecords += len(normalized)
		metrics.recordsSyncedCounter.WithLabelValues(kind.String()).Add(float64(len(normalized)))

		if !page.HasMore {
			return totalRecords, false, nil
		}

		if page.NextPosition <= position {
			// A vendor that reports more data without moving the position
			// would loop forever.  Stop the pass and let the next cycle
			// pick up from the advanced watermark.
			log.Warn("Vendor pagination did not advance.  Ending pass early.")
			return totalRecords, true, nil
		}

		position = page.NextPosition
	}
}

// fetchPage calls the vendor with the retry policy applied: transient
// failures back off exponentially, rate limits honor the vendor's hint, and
// a credential rejection triggers exactly one mid-flight refresh.
func (o *Orchestrator) fetchPage(ctx context.Context, capability integrations.Capability, account *domain.IntegrationAccount, kind domain.ObjectKind, watermark time.Time, position int) (*integrations.Page, error) {

	log := logger.Log.WithFields(logrus.Fields{"account_id": account.ID, "object_kind": kind})

	var lastErr error
	refreshedMidFlight := false

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {

		fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
		page, err := capability.FetchSince(fetchCtx, *account, kind, watermark, position)
		cancel()

		if err == nil {
			return page, nil
		}

		lastErr = err

		if integrations.IsCredentialExpired(err) {
			if refreshedMidFlight {
				// The refreshed token was rejected too.  The grant is gone.
				return nil, &integrations.TerminalError{Err: err}
			}

			refreshed, refreshErr := o.policy.Refresh(ctx, capability, *account)
			if refreshErr != nil {
				return nil, refreshErr
			}

			*account = refreshed
			refreshedMidFlight = true

			// A refresh is not a failed attempt.
			attempt--
			continue
		}

		if integrations.IsTerminal(err) {
			return nil, err
		}

		if !integrations.IsTransient(err) {
			return nil, err
		}

		delay := o.backoff.Delay(attempt)
		if retryAfter, limited := integrations.IsRateLimited(err); limited {
			metrics.rateLimitWaitCounter.Inc()
			if retryAfter > 0 {
				delay = retryAfter
			}
		}

		logger.LogWithError(log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}), "Vendor fetch failed.  Retrying.", err)

		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("vendor fetch failed after %d attempts: %w", o.maxAttempts, lastErr)
}

func (o *Orchestrator) haltAccount(ctx context.Context, log *logrus.Entry, accountID domain.AccountID, cause error) {
	logger.LogWithError(log, "Halting account sync until reconnected", cause)

	if err := o.registrar.UpdateStatus(ctx, accountID, domain.AccountError); err != nil {
		logger.LogWithError(log, "Unable to record account error status", err)
	}
}

func (o *Orchestrator) finishCycle(ctx context.Context, account domain.IntegrationAccount, result CycleResult) CycleResult {

	metrics.cycleOutcomeCounter.WithLabelValues(string(result.Outcome)).Inc()

	event := CycleEvent{
		AccountID:       account.ID,
		IntegrationType: account.IntegrationType,
		Outcome:         string(result.Outcome),
		RecordsSynced:   result.RecordsSynced,
		CompletedAt:     time.Now().UTC(),
	}

	if err := o.announcer.Announce(ctx, event); err != nil {
		logger.LogError("Unable to announce sync cycle event", err)
	}

	return result
}
