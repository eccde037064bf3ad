package sync_repository

import (
	"context"
	"errors"
	"time"

	"github.com/finsync/integration-connector/internal/domain"
)

var (
	// CursorRegressionError means an advance would have moved a watermark
	// backwards.  This is an invariant violation, not an expected runtime
	// path - the caller must abort the cycle rather than clamp the value.
	CursorRegressionError = errors.New("cursor watermark regression")

	// LeaseHeldError means another live owner holds the account's sync lease.
	LeaseHeldError = errors.New("sync lease held by another owner")
)

// CursorTracker owns the per-(account, object kind) watermark state.  A
// watermark only ever advances after the corresponding persistence batch has
// been committed.
type CursorTracker interface {
	ReadCursor(context.Context, domain.AccountID, domain.ObjectKind) (domain.SyncCursor, error)
	AdvanceCursor(ctx context.Context, accountID domain.AccountID, kind domain.ObjectKind, newWatermark time.Time, recordsSynced int) error
	MarkCursorError(context.Context, domain.AccountID, domain.ObjectKind, string) error
	ListCursors(context.Context, domain.AccountID) ([]domain.SyncCursor, error)
}

// ObjectGateway persists normalized vendor records idempotently by natural
// key.  A batch is applied as a single unit: either every eligible record is
// durable or the call fails and the caller must not advance the cursor.
type ObjectGateway interface {
	UpsertBatch(context.Context, []domain.RawExternalObject) (time.Time, error)
}

// SyncLease guarantees at most one active control loop per account across
// a multi-worker deployment.
type SyncLease interface {
	Acquire(ctx context.Context, accountID domain.AccountID, owner string, ttl time.Duration) error
	Release(ctx context.Context, accountID domain.AccountID, owner string) error
}
