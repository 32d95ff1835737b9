package recovery

import (
	"github.com/lightningnetwork/keyrecovery/f8e"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Store persists the local recovery attempt and the cached server record of
// each account. It is the single source of truth the Manager reconciles from.
type Store interface {
	// LocalProgress returns the account's local attempt, if any.
	LocalProgress(accountID f8e.AccountID) (
		fn.Option[LocalRecoveryAttempt], error)

	// SetLocalProgress durably applies progress to the stored attempt
	// using ApplyProgress, so out of order writes are rejected by the
	// store itself.
	SetLocalProgress(accountID f8e.AccountID,
		progress Progress) (*LocalRecoveryAttempt, error)

	// ServerRecovery returns the cached server record, if any.
	ServerRecovery(accountID f8e.AccountID) (
		fn.Option[ServerRecovery], error)

	// SetServerRecovery replaces the cached server record. None removes
	// it.
	SetServerRecovery(accountID f8e.AccountID,
		record fn.Option[ServerRecovery]) error

	// Clear removes both the local attempt and the cached server record.
	Clear(accountID f8e.AccountID) error
}

// MetricsRecorder receives recovery outcomes for export.
type MetricsRecorder interface {
	// ObserveRecovery records a newly reconciled state.
	ObserveRecovery(state string)

	// ObserveCancelFailure records a failed cancellation.
	ObserveCancelFailure(local, retryable bool)
}

type noopRecorder struct{}

func (noopRecorder) ObserveRecovery(string)          {}
func (noopRecorder) ObserveCancelFailure(bool, bool) {}
