package account_repository

import (
	"context"
	"errors"
	"time"

	"github.com/finsync/integration-connector/internal/domain"
)

var (
	NotFoundError         = errors.New("account not found")
	DuplicateAccountError = errors.New("account already registered")
)

type RegistrationResults int

const (
	NewAccount RegistrationResults = iota
	ExistingAccount
)

// AccountRegistrar mutates IntegrationAccount state.  Registering an already
// connected (integration type, external account id) pair replaces the stored
// credential set and reactivates the account instead of failing.
type AccountRegistrar interface {
	Register(context.Context, domain.IntegrationAccount) (domain.IntegrationAccount, RegistrationResults, error)
	UpdateCredentials(context.Context, domain.AccountID, domain.CredentialSet) error
	UpdateStatus(context.Context, domain.AccountID, domain.AccountStatus) error
	ScheduleSync(context.Context, domain.AccountID, time.Time) error
}

// AccountLocator is the read side of the account registry.
type AccountLocator interface {
	FindAccountByID(context.Context, domain.AccountID) (domain.IntegrationAccount, error)
	FindAccountByExternalID(context.Context, domain.IntegrationType, domain.ExternalAccountID) (domain.IntegrationAccount, error)
	GetAccounts(ctx context.Context, offset int, limit int) ([]domain.IntegrationAccount, int, error)
	GetAccountsDueForSync(ctx context.Context, asOf time.Time, limit int) ([]domain.AccountID, error)
}
