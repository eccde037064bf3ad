package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/finsync/integration-connector/internal/account_repository"
	"github.com/finsync/integration-connector/internal/config"
	"github.com/finsync/integration-connector/internal/domain"
	"github.com/finsync/integration-connector/internal/integrations"
	"github.com/finsync/integration-connector/internal/sync_repository"
)

func testConfig() *config.Config {
	return &config.Config{
		SyncInterval:                 5 * time.Minute,
		SyncSchedulerPollInterval:    10 * time.Millisecond,
		SyncWorkerCount:              2,
		SyncLeaseTTL:                 time.Minute,
		SyncMaxAttemptsPerPage:       3,
		SyncBackoffInitialDelay:      time.Millisecond,
		SyncBackoffMaxDelay:          2 * time.Millisecond,
		SyncFetchTimeout:             time.Second,
		SyncPageSize:                 100,
		CredentialRefreshLeadTime:    5 * time.Minute,
		CredentialRefreshMaxFailures: 3,
	}
}

type fakeAccountStore struct {
	lock      stdsync.Mutex
	accounts  map[domain.AccountID]domain.IntegrationAccount
	scheduled map[domain.AccountID]time.Time

	credentialUpdates int
	statusUpdates     []domain.AccountStatus
}

func newFakeAccountStore(accounts ...domain.IntegrationAccount) *fakeAccountStore {
	store := &fakeAccountStore{
		accounts:  make(map[domain.AccountID]domain.IntegrationAccount),
		scheduled: make(map[domain.AccountID]time.Time),
	}

	for _, account := range accounts {
		store.accounts[account.ID] = account
	}

	return store
}

func (fas *fakeAccountStore) Register(ctx context.Context, account domain.IntegrationAccount) (domain.IntegrationAccount, account_repository.RegistrationResults, error) {
	fas.lock.Lock()
	defer fas.lock.Unlock()
	fas.accounts[account.ID] = account
	return account, account_repository.NewAccount, nil
}

func (fas *fakeAccountStore) UpdateCredentials(ctx context.Context, accountID domain.AccountID, credentials domain.CredentialSet) error {
	fas.lock.Lock()
	defer fas.lock.Unlock()

	account, ok := fas.accounts[accountID]
	if !ok {
		return account_repository.NotFoundError
	}

	account.Credentials = credentials
	fas.accounts[accountID] = account
	fas.credentialUpdates++
	return nil
}

func (fas *fakeAccountStore) UpdateStatus(ctx context.Context, accountID domain.AccountID, status domain.AccountStatus) error {
	fas.lock.Lock()
	defer fas.lock.Unlock()

	account, ok := fas.accounts[accountID]
	if !ok {
		return account_repository.NotFoundError
	}

	account.Status = status
	fas.accounts[accountID] = account
	fas.statusUpdates = append(fas.statusUpdates, status)
	return nil
}

func (fas *fakeAccountStore) ScheduleSync(ctx context.Context, accountID domain.AccountID, at time.Time) error {
	fas.lock.Lock()
	defer fas.lock.Unlock()

	if _, ok := fas.accounts[accountID]; !ok {
		return account_repository.NotFoundError
	}

	fas.scheduled[accountID] = at
	return nil
}

func (fas *fakeAccountStore) FindAccountByID(ctx context.Context, accountID domain.AccountID) (domain.IntegrationAccount, error) {
	fas.lock.Lock()
	defer fas.lock.Unlock()

	account, ok := fas.accounts[accountID]
	if !ok {
		return domain.IntegrationAccount{}, account_repository.NotFoundError
	}
	return account, nil
}

func (fas *fakeAccountStore) FindAccountByExternalID(ctx context.Context, integrationType domain.IntegrationType, externalAccountID domain.ExternalAccountID) (domain.IntegrationAccount, error) {
	fas.lock.Lock()
	defer fas.lock.Unlock()

	for _, account := range fas.accounts {
		if account.IntegrationType == integrationType && account.ExternalAccountID == externalAccountID {
			return account, nil
		}
	}
	return domain.IntegrationAccount{}, account_repository.NotFoundError
}

func (fas *fakeAccountStore) GetAccounts(ctx context.Context, offset int, limit int) ([]domain.IntegrationAccount, int, error) {
	fas.lock.Lock()
	defer fas.lock.Unlock()

	accounts := make([]domain.IntegrationAccount, 0, len(fas.accounts))
	for _, account := range fas.accounts {
		accounts = append(accounts, account)
	}
	return accounts, len(accounts), nil
}

func (fas *fakeAccountStore) GetAccountsDueForSync(ctx context.Context, asOf time.Time, limit int) ([]domain.AccountID, error) {
	fas.lock.Lock()
	defer fas.lock.Unlock()

	dueAccounts := make([]domain.AccountID, 0)
	for id, account := range fas.accounts {
		if account.Status == domain.AccountActive && !account.NextSyncAt.After(asOf) {
			dueAccounts = append(dueAccounts, id)
		}
	}
	return dueAccounts, nil
}

func (fas *fakeAccountStore) scheduledTime(accountID domain.AccountID) (time.Time, bool) {
	fas.lock.Lock()
	defer fas.lock.Unlock()
	at, ok := fas.scheduled[accountID]
	return at, ok
}

type fakeCursorTracker struct {
	lock       stdsync.Mutex
	cursors    map[string]domain.SyncCursor
	lastErrors map[string]string
}

func newFakeCursorTracker() *fakeCursorTracker {
	return &fakeCursorTracker{
		cursors:    make(map[string]domain.SyncCursor),
		lastErrors: make(map[string]string),
	}
}

func cursorKey(accountID domain.AccountID, kind domain.ObjectKind) string {
	return accountID.String() + "/" + kind.String()
}

func (fct *fakeCursorTracker) ReadCursor(ctx context.Context, accountID domain.AccountID, kind domain.ObjectKind) (domain.SyncCursor, error) {
	fct.lock.Lock()
	defer fct.lock.Unlock()

	if cursor, ok := fct.cursors[cursorKey(accountID, kind)]; ok {
		return cursor, nil
	}

	return domain.SyncCursor{
		AccountID:  accountID,
		ObjectKind: kind,
		Watermark:  domain.MinWatermark,
	}, nil
}

func (fct *fakeCursorTracker) AdvanceCursor(ctx context.Context, accountID domain.AccountID, kind domain.ObjectKind, newWatermark time.Time, recordsSynced int) error {
	fct.lock.Lock()
	defer fct.lock.Unlock()

	key := cursorKey(accountID, kind)
	cursor, ok := fct.cursors[key]
	if !ok {
		cursor = domain.SyncCursor{AccountID: accountID, ObjectKind: kind, Watermark: domain.MinWatermark}
	}

	if newWatermark.Before(cursor.Watermark) {
		return sync_repository.CursorRegressionError
	}

	cursor.Watermark = newWatermark
	cursor.LastAdvancedAt = time.Now().UTC()
	cursor.RecordsSynced += int64(recordsSynced)
	cursor.LastError = ""
	fct.cursors[key] = cursor

	return nil
}

func (fct *fakeCursorTracker) MarkCursorError(ctx context.Context, accountID domain.AccountID, kind domain.ObjectKind, message string) error {
	fct.lock.Lock()
	defer fct.lock.Unlock()
	fct.lastErrors[cursorKey(accountID, kind)] = message
	return nil
}

func (fct *fakeCursorTracker) ListCursors(ctx context.Context, accountID domain.AccountID) ([]domain.SyncCursor, error) {
	fct.lock.Lock()
	defer fct.lock.Unlock()

	cursors := make([]domain.SyncCursor, 0)
	for _, cursor := range fct.cursors {
		if cursor.AccountID == accountID {
			cursors = append(cursors, cursor)
		}
	}
	return cursors, nil
}

func (fct *fakeCursorTracker) watermark(accountID domain.AccountID, kind domain.ObjectKind) time.Time {
	fct.lock.Lock()
	defer fct.lock.Unlock()

	if cursor, ok := fct.cursors[cursorKey(accountID, kind)]; ok {
		return cursor.Watermark
	}
	return domain.MinWatermark
}

type fakeObjectGateway struct {
	lock    stdsync.Mutex
	stored  map[string]domain.RawExternalObject
	batches [][]domain.RawExternalObject
	calls   int

	// failure fails the next UpsertBatch call, or call number failOnCall
	// when that is set.
	failure    error
	failOnCall int
}

func newFakeObjectGateway() *fakeObjectGateway {
	return &fakeObjectGateway{stored: make(map[string]domain.RawExternalObject)}
}

func objectKey(record domain.RawExternalObject) string {
	return record.AccountID.String() + "/" + record.ObjectKind.String() + "/" + record.ExternalObjectID
}

func (fog *fakeObjectGateway) UpsertBatch(ctx context.Context, records []domain.RawExternalObject) (time.Time, error) {
	fog.lock.Lock()
	defer fog.lock.Unlock()

	fog.calls++

	if fog.failure != nil && (fog.failOnCall == 0 || fog.calls == fog.failOnCall) {
		failure := fog.failure
		fog.failure = nil
		return time.Time{}, failure
	}

	var maxVendorUpdatedAt time.Time

	if len(records) == 0 {
		return maxVendorUpdatedAt, nil
	}

	fog.batches = append(fog.batches, records)

	for _, record := range records {
		key := objectKey(record)
		if existing, ok := fog.stored[key]; !ok || record.VendorUpdatedAt.After(existing.VendorUpdatedAt) {
			fog.stored[key] = record
		}

		if record.VendorUpdatedAt.After(maxVendorUpdatedAt) {
			maxVendorUpdatedAt = record.VendorUpdatedAt
		}
	}

	return maxVendorUpdatedAt, nil
}

func (fog *fakeObjectGateway) storedCount() int {
	fog.lock.Lock()
	defer fog.lock.Unlock()
	return len(fog.stored)
}

type fakeSyncLease struct {
	lock stdsync.Mutex
	held map[domain.AccountID]string

	acquires int
	releases int
}

func newFakeSyncLease() *fakeSyncLease {
	return &fakeSyncLease{held: make(map[domain.AccountID]string)}
}

func (fsl *fakeSyncLease) Acquire(ctx context.Context, accountID domain.AccountID, owner string, ttl time.Duration) error {
	fsl.lock.Lock()
	defer fsl.lock.Unlock()

	if holder, ok := fsl.held[accountID]; ok && holder != owner {
		return sync_repository.LeaseHeldError
	}

	fsl.held[accountID] = owner
	fsl.acquires++
	return nil
}

func (fsl *fakeSyncLease) Release(ctx context.Context, accountID domain.AccountID, owner string) error {
	fsl.lock.Lock()
	defer fsl.lock.Unlock()

	if holder, ok := fsl.held[accountID]; ok && holder == owner {
		delete(fsl.held, accountID)
		fsl.releases++
	}
	return nil
}

type fakeAnnouncer struct {
	lock   stdsync.Mutex
	events []CycleEvent
}

func (fa *fakeAnnouncer) Announce(ctx context.Context, event CycleEvent) error {
	fa.lock.Lock()
	defer fa.lock.Unlock()
	fa.events = append(fa.events, event)
	return nil
}

func (fa *fakeAnnouncer) announced() []CycleEvent {
	fa.lock.Lock()
	defer fa.lock.Unlock()
	return append([]CycleEvent(nil), fa.events...)
}

// fetchResult scripts one FetchSince response.
type fetchResult struct {
	page *integrations.Page
	err  error
}

// scriptedCapability replays canned vendor responses per object kind.  Once a
// kind's script is exhausted it returns an empty final page.
type scriptedCapability struct {
	lock  stdsync.Mutex
	kinds []domain.ObjectKind
	pages map[domain.ObjectKind][]fetchResult

	fetchCalls     int
	refreshCalls   int
	refreshResults []struct {
		credentials domain.CredentialSet
		err         error
	}
}

func newScriptedCapability(kinds ...domain.ObjectKind) *scriptedCapability {
	return &scriptedCapability{
		kinds: kinds,
		pages: make(map[domain.ObjectKind][]fetchResult),
	}
}

func (sc *scriptedCapability) script(kind domain.ObjectKind, results ...fetchResult) {
	sc.pages[kind] = append(sc.pages[kind], results...)
}

func (sc *scriptedCapability) scriptRefresh(credentials domain.CredentialSet, err error) {
	sc.refreshResults = append(sc.refreshResults, struct {
		credentials domain.CredentialSet
		err         error
	}{credentials, err})
}

func (sc *scriptedCapability) ObjectKinds() []domain.ObjectKind {
	return sc.kinds
}

func (sc *scriptedCapability) FetchSince(ctx context.Context, account domain.IntegrationAccount, kind domain.ObjectKind, watermark time.Time, startPosition int) (*integrations.Page, error) {
	sc.lock.Lock()
	defer sc.lock.Unlock()

	sc.fetchCalls++

	queued := sc.pages[kind]
	if len(queued) == 0 {
		return &integrations.Page{}, nil
	}

	next := queued[0]
	sc.pages[kind] = queued[1:]
	return next.page, next.err
}

func (sc *scriptedCapability) RefreshCredentials(ctx context.Context, credentials domain.CredentialSet) (domain.CredentialSet, error) {
	sc.lock.Lock()
	defer sc.lock.Unlock()

	sc.refreshCalls++

	if len(sc.refreshResults) == 0 {
		return credentials, nil
	}

	next := sc.refreshResults[0]
	sc.refreshResults = sc.refreshResults[1:]
	return next.credentials, next.err
}
