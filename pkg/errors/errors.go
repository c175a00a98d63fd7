// Package errors defines the error kinds surfaced by the sync pipeline and a
// wrapper type carrying run context. Row-level problems are never modelled as
// errors; they accumulate as anomaly strings instead.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a fatal setup problem, such as the mandatory
	// identity column being absent from the sheet. Not retryable.
	ErrConfiguration = errors.New("configuration error")
	// ErrAuditBlocked marks a run refused by the audit gate. Terminal but
	// expected; distinct from infrastructure failure.
	ErrAuditBlocked = errors.New("audit blocked")
	// ErrWriteFailure marks a store write that failed after normalization
	// succeeded.
	ErrWriteFailure = errors.New("write failure")
	// ErrRollbackFailure marks a secondary failure while restoring the
	// pre-run snapshot. It never replaces the original write failure.
	ErrRollbackFailure = errors.New("rollback failure")
	// ErrTransactionsUnsupported is reported by stores that cannot provide
	// multi-document atomicity.
	ErrTransactionsUnsupported = errors.New("transactions unsupported")
	// ErrRunInProgress is returned when the run lease is already held.
	ErrRunInProgress = errors.New("run already in progress")
)

// SyncError wraps a sentinel error kind with a message and the run it
// occurred in.
type SyncError struct {
	Err     error
	Message string
	RunID   string
}

func (e *SyncError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("%s: %s (run %s)", e.Err.Error(), e.Message, e.RunID)
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func New(sentinel error, runID string, message string) *SyncError {
	return &SyncError{
		Err:     sentinel,
		Message: message,
		RunID:   runID,
	}
}

func Newf(sentinel error, runID string, format string, args ...any) *SyncError {
	return &SyncError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
		RunID:   runID,
	}
}

// Kind returns the machine-checkable kind string recorded in telemetry for
// the given error.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrAuditBlocked):
		return "audit_blocked"
	case errors.Is(err, ErrRollbackFailure):
		return "rollback_failure"
	case errors.Is(err, ErrWriteFailure):
		return "write_failure"
	case errors.Is(err, ErrTransactionsUnsupported):
		return "transactions_unsupported"
	case errors.Is(err, ErrRunInProgress):
		return "run_in_progress"
	default:
		return "internal"
	}
}
