package integrations

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// TransientError wraps failures that are expected to succeed on retry
// without intervention (timeouts, 5xx, connection resets).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient vendor error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// RateLimitError is transient with a distinct wait strategy.  RetryAfter is
// zero when the vendor did not provide a hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("vendor rate limit exceeded: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// CredentialExpiredError means the access token was rejected.  The
// orchestrator refreshes credentials and retries the failed call once.
type CredentialExpiredError struct {
	Err error
}

func (e *CredentialExpiredError) Error() string {
	return fmt.Sprintf("vendor rejected credentials: %v", e.Err)
}

func (e *CredentialExpiredError) Unwrap() error {
	return e.Err
}

// TerminalError requires external remediation (revoked authorization,
// invalid configuration).  The account's loop halts until an operator acts.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal vendor error: %v", e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	var rateLimitErr *RateLimitError
	return errors.As(err, &rateLimitErr)
}

func IsRateLimited(err error) (time.Duration, bool) {
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return rateLimitErr.RetryAfter, true
	}
	return 0, false
}

func IsCredentialExpired(err error) bool {
	var credErr *CredentialExpiredError
	return errors.As(err, &credErr)
}

func IsTerminal(err error) bool {
	var terminalErr *TerminalError
	return errors.As(err, &terminalErr)
}

// ClassifyNetworkError maps low-level transport failures onto the taxonomy.
// Context timeouts count as transient so a slow vendor does not halt the
// account's loop.
func ClassifyNetworkError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Err: err}
	}

	return err
}
