package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/finsync/integration-connector/internal/account_repository"
	"github.com/finsync/integration-connector/internal/config"
	"github.com/finsync/integration-connector/internal/domain"
	"github.com/finsync/integration-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Scheduler polls for accounts whose next sync time has arrived and fans
// their cycles out over a bounded worker pool.  Multiple scheduler processes
// can run side by side; the per-account lease keeps them from colliding.
type Scheduler struct {
	orchestrator *Orchestrator
	locator      account_repository.AccountLocator
	registrar    account_repository.AccountRegistrar

	pollInterval time.Duration
	syncInterval time.Duration
	workerCount  int

	lock     stdsync.Mutex
	inFlight map[domain.AccountID]struct{}
}

func NewScheduler(cfg *config.Config, orchestrator *Orchestrator, locator account_repository.AccountLocator, registrar account_repository.AccountRegistrar) *Scheduler {
	return &Scheduler{
		orchestrator: orchestrator,
		locator:      locator,
		registrar:    registrar,
		pollInterval: cfg.SyncSchedulerPollInterval,
		syncInterval: cfg.SyncInterval,
		workerCount:  cfg.SyncWorkerCount,
		inFlight:     make(map[domain.AccountID]struct{}),
	}
}

// Run blocks, dispatching due accounts every poll interval until the context
// is cancelled.  In-flight cycles are allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {

	logger.Log.WithFields(logrus.Fields{
		"poll_interval": s.pollInterval,
		"worker_count":  s.workerCount}).Info("Starting sync scheduler")

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workerCount)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		s.dispatchDueAccounts(groupCtx, group)

		select {
		case <-ctx.Done():
			logger.Log.Info("Sync scheduler shutting down.  Waiting for in-flight cycles.")
			err := group.Wait()
			logger.Log.Info("Sync scheduler stopped")
			return err
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) dispatchDueAccounts(ctx context.Context, group *errgroup.Group) {

	// Fetch a bit more than the pool can run at once so a full pool keeps a
	// short backlog ready.
	dueAccounts, err := s.locator.GetAccountsDueForSync(ctx, time.Now().UTC(), s.workerCount*2)
	if err != nil {
		logger.LogError("Unable to look up accounts due for sync", err)
		return
	}

	for _, accountID := range dueAccounts {

		if !s.markInFlight(accountID) {
			continue
		}

		accountID := accountID

		group.Go(func() error {
			defer s.clearInFlight(accountID)
			s.runAccountCycle(ctx, accountID)
			return nil
		})
	}
}

func (s *Scheduler) runAccountCycle(ctx context.Context, accountID domain.AccountID) {

	log := logger.Log.WithFields(logrus.Fields{"account_id": accountID})

	result, err := s.orchestrator.RunCycle(ctx, accountID)
	if err != nil {
		logger.LogWithError(log, "Sync cycle ended with an error", err)
	}

	if result.Outcome == CycleHalted {
		// A halted account is only rescheduled by an explicit reconnect or
		// sync trigger.
		return
	}

	if result.Outcome == CycleSkipped {
		// Another worker holds the lease and owns the schedule.  Writing
		// next_sync_at here could overwrite its fast-resync reschedule.
		return
	}

	nextSyncAt := time.Now().UTC().Add(s.syncInterval)
	if result.HasMore {
		// More changes are waiting at the vendor.  Come straight back
		// rather than letting the backlog grow for a full interval.
		nextSyncAt = time.Now().UTC()
	}

	if err := s.registrar.ScheduleSync(ctx, accountID, nextSyncAt); err != nil {
		logger.LogWithError(log, "Unable to schedule next sync", err)
	}
}

func (s *Scheduler) markInFlight(accountID domain.AccountID) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, running := s.inFlight[accountID]; running {
		return false
	}

	s.inFlight[accountID] = struct{}{}
	return true
}

func (s *Scheduler) clearInFlight(accountID domain.AccountID) {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.inFlight, accountID)
}
