package integrations

import (
	"context"
	"encoding/json"
	"time"

	"github.com/finsync/integration-connector/internal/domain"
)

// VendorRecord is one record as returned by a vendor API.  The payload is
// carried opaquely so that vendor schema drift never breaks the sync path.
type VendorRecord struct {
	ExternalID string
	UpdatedAt  time.Time
	Payload    json.RawMessage
}

// Page is one page of a vendor's change stream.  NextPosition is the vendor's
// pagination position for the following FetchSince call within the same
// cursor window.
type Page struct {
	Records      []VendorRecord
	HasMore      bool
	NextPosition int
}

// Capability is the vendor-facing contract the sync orchestrator is generic
// over.  One implementation per vendor.  Implementations must return errors
// from this package's taxonomy so the orchestrator can classify them.
type Capability interface {
	// FetchSince returns the page of records of the given kind updated at or
	// after the watermark, starting at the vendor pagination position
	// (1-based).  The window is inclusive of the watermark instant; replays
	// of boundary records are deduplicated by the persistence gateway.
	FetchSince(ctx context.Context, account domain.IntegrationAccount, kind domain.ObjectKind, watermark time.Time, startPosition int) (*Page, error)

	// RefreshCredentials exchanges the refresh token for a new credential set.
	RefreshCredentials(ctx context.Context, credentials domain.CredentialSet) (domain.CredentialSet, error)

	// ObjectKinds lists the kinds this vendor syncs, in sync order.
	ObjectKinds() []domain.ObjectKind
}
