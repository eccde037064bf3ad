package api

import (
	"context"
	"errors"
	"time"

	"github.com/finsync/integration-connector/internal/account_repository"
	"github.com/finsync/integration-connector/internal/domain"
	"github.com/finsync/integration-connector/internal/platform/logger"
)

func init() {
	logger.InitLogger()
}

type mockAccountStore struct {
	accounts map[domain.AccountID]domain.IntegrationAccount

	registered       []domain.IntegrationAccount
	scheduledSyncs   map[domain.AccountID]time.Time
	registerExisting bool
}

func newMockAccountStore(accounts ...domain.IntegrationAccount) *mockAccountStore {
	store := &mockAccountStore{
		accounts:       make(map[domain.AccountID]domain.IntegrationAccount),
		scheduledSyncs: make(map[domain.AccountID]time.Time),
	}
	for _, account := range accounts {
		store.accounts[account.ID] = account
	}
	return store
}

func (mas *mockAccountStore) Register(ctx context.Context, account domain.IntegrationAccount) (domain.IntegrationAccount, account_repository.RegistrationResults, error) {
	mas.registered = append(mas.registered, account)

	if mas.registerExisting {
		return account, account_repository.ExistingAccount, nil
	}

	account.ID = "99999999-8888-7777-6666-555555555555"
	account.CreatedAt = time.Now().UTC()
	account.UpdatedAt = account.CreatedAt
	mas.accounts[account.ID] = account
	return account, account_repository.NewAccount, nil
}

func (mas *mockAccountStore) UpdateCredentials(ctx context.Context, accountID domain.AccountID, credentials domain.CredentialSet) error {
	account, ok := mas.accounts[accountID]
	if !ok {
		return account_repository.NotFoundError
	}
	account.Credentials = credentials
	mas.accounts[accountID] = account
	return nil
}

func (mas *mockAccountStore) UpdateStatus(ctx context.Context, accountID domain.AccountID, status domain.AccountStatus) error {
	account, ok := mas.accounts[accountID]
	if !ok {
		return account_repository.NotFoundError
	}
	account.Status = status
	mas.accounts[accountID] = account
	return nil
}

func (mas *mockAccountStore) ScheduleSync(ctx context.Context, accountID domain.AccountID, at time.Time) error {
	if _, ok := mas.accounts[accountID]; !ok {
		return account_repository.NotFoundError
	}
	mas.scheduledSyncs[accountID] = at
	return nil
}

func (mas *mockAccountStore) FindAccountByID(ctx context.Context, accountID domain.AccountID) (domain.IntegrationAccount, error) {
	account, ok := mas.accounts[accountID]
	if !ok {
		return domain.IntegrationAccount{}, account_repository.NotFoundError
	}
	return account, nil
}

func (mas *mockAccountStore) FindAccountByExternalID(ctx context.Context, integrationType domain.IntegrationType, externalAccountID domain.ExternalAccountID) (domain.IntegrationAccount, error) {
	for _, account := range mas.accounts {
		if account.IntegrationType == integrationType && account.ExternalAccountID == externalAccountID {
			return account, nil
		}
	}
	return domain.IntegrationAccount{}, account_repository.NotFoundError
}

func (mas *mockAccountStore) GetAccounts(ctx context.Context, offset int, limit int) ([]domain.IntegrationAccount, int, error) {
	accounts := make([]domain.IntegrationAccount, 0, len(mas.accounts))
	for _, account := range mas.accounts {
		accounts = append(accounts, account)
	}
	return accounts, len(accounts), nil
}

func (mas *mockAccountStore) GetAccountsDueForSync(ctx context.Context, asOf time.Time, limit int) ([]domain.AccountID, error) {
	return nil, nil
}

type mockCursorTracker struct {
	cursors map[domain.AccountID][]domain.SyncCursor
}

func (mct *mockCursorTracker) ReadCursor(ctx context.Context, accountID domain.AccountID, kind domain.ObjectKind) (domain.SyncCursor, error) {
	return domain.SyncCursor{AccountID: accountID, ObjectKind: kind, Watermark: domain.MinWatermark}, nil
}

func (mct *mockCursorTracker) AdvanceCursor(ctx context.Context, accountID domain.AccountID, kind domain.ObjectKind, newWatermark time.Time, recordsSynced int) error {
	return nil
}

func (mct *mockCursorTracker) MarkCursorError(ctx context.Context, accountID domain.AccountID, kind domain.ObjectKind, message string) error {
	return nil
}

func (mct *mockCursorTracker) ListCursors(ctx context.Context, accountID domain.AccountID) ([]domain.SyncCursor, error) {
	return mct.cursors[accountID], nil
}

type mockTokenExchanger struct {
	credentials domain.CredentialSet
	err         error
	codes       []string
}

func (mte *mockTokenExchanger) ExchangeCodeForTokens(ctx context.Context, authorizationCode string) (domain.CredentialSet, error) {
	mte.codes = append(mte.codes, authorizationCode)
	if mte.err != nil {
		return domain.CredentialSet{}, mte.err
	}
	return mte.credentials, nil
}

var errExchangeFailed = errors.New("vendor rejected the authorization code")
