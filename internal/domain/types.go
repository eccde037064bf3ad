package domain

import (
	"encoding/json"
	"time"
)

type AccountID string

func (aid AccountID) String() string {
	return string(aid)
}

type ExternalAccountID string

func (eid ExternalAccountID) String() string {
	return string(eid)
}

type IntegrationType string

const (
	QuickBooksIntegration IntegrationType = "quickbooks"
)

func (it IntegrationType) String() string {
	return string(it)
}

type ObjectKind string

const (
	CustomerKind ObjectKind = "customer"
	InvoiceKind  ObjectKind = "invoice"
)

func (ok ObjectKind) String() string {
	return string(ok)
}

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountDisabled AccountStatus = "disabled"
	AccountError    AccountStatus = "error"
)

// MinWatermark is the vendor-independent minimum cursor position.  A cursor
// that has never advanced reports this value so that the first sync fetches
// the account's entire history.
var MinWatermark = time.Unix(0, 0).UTC()

// CredentialSet is the OAuth credential value object embedded in an
// IntegrationAccount.  It is replaced as a whole on refresh, never partially
// mutated.
type CredentialSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func (cs CredentialSet) Expired(now time.Time) bool {
	return !now.Before(cs.ExpiresAt)
}

// NeedsRefresh reports whether the access token expires within leadTime.
// Refreshing ahead of expiry avoids burning an API call on a guaranteed
// auth failure.
func (cs CredentialSet) NeedsRefresh(now time.Time, leadTime time.Duration) bool {
	return !now.Before(cs.ExpiresAt.Add(-leadTime))
}

type IntegrationAccount struct {
	ID                AccountID
	IntegrationType   IntegrationType
	ExternalAccountID ExternalAccountID
	Credentials       CredentialSet
	Status            AccountStatus
	NextSyncAt        time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type SyncCursor struct {
	AccountID      AccountID
	ObjectKind     ObjectKind
	Watermark      time.Time
	LastAdvancedAt time.Time
	RecordsSynced  int64
	LastError      string
}

type RawExternalObject struct {
	AccountID        AccountID
	ObjectKind       ObjectKind
	ExternalObjectID string
	Payload          json.RawMessage
	VendorUpdatedAt  time.Time
	IngestedAt       time.Time
}
