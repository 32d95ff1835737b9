package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/lightningnetwork/keyrecovery/f8e"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ProofOfPossession proves control of the account's remaining factors when
// cancelling a recovery.
type ProofOfPossession struct {
	// AccessToken is the token of the authenticated app key.
	AccessToken string

	// HardwareSignature is the hardware factor's signature over the
	// access token, if the hardware factor is available.
	HardwareSignature *ecdsa.Signature
}

// RecoveryClient is the Delay & Notify surface of the server.
type RecoveryClient interface {
	// GetActiveRecovery returns the server's active recovery record.
	GetActiveRecovery(ctx context.Context,
		accountID f8e.AccountID) (fn.Option[ServerRecovery], error)

	// CancelRecovery cancels the account's active recovery.
	CancelRecovery(ctx context.Context, accountID f8e.AccountID,
		proof ProofOfPossession) error
}

// F8eCancelDelayNotifyError is returned when the server did not cancel the
// recovery. Local state is untouched.
type F8eCancelDelayNotifyError struct {
	Err error
}

// Error implements the error interface.
func (e *F8eCancelDelayNotifyError) Error() string {
	return fmt.Sprintf("server rejected recovery cancellation: %v", e.Err)
}

// Unwrap returns the server error.
func (e *F8eCancelDelayNotifyError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the request may be sent again. Only transport
// failures are retryable, a server answer is final.
func (e *F8eCancelDelayNotifyError) Retryable() bool {
	return f8e.IsRetryable(e.Err) ||
		errors.Is(e.Err, context.DeadlineExceeded)
}

// LocalCancelDelayNotifyError is returned when the server cancelled the
// recovery but local state could not be cleared. The caller must retry the
// cancellation, which converges because the server then answers
// NO_RECOVERY_EXISTS.
type LocalCancelDelayNotifyError struct {
	Err error
}

// Error implements the error interface.
func (e *LocalCancelDelayNotifyError) Error() string {
	return fmt.Sprintf("recovery cancelled on server but local state "+
		"not cleared: %v", e.Err)
}

// Unwrap returns the storage error.
func (e *LocalCancelDelayNotifyError) Unwrap() error {
	return e.Err
}

// CancelRecovery cancels the account's recovery on the server and then wipes
// local state, holding the recovery lock throughout. A server answering that
// no recovery exists counts as success.
func (m *Manager) CancelRecovery(ctx context.Context, accountID f8e.AccountID,
	client RecoveryClient, proof ProofOfPossession) error {

	return m.WithRecoveryLock(ctx, accountID, func(acct *LockedAccount) error {
		err := client.CancelRecovery(ctx, accountID, proof)
		switch {
		case err == nil:
			log.InfoS(acct.logCtx, "Recovery cancelled on server")

		case f8e.HasCode(err, f8e.CodeNoRecoveryExists):
			log.InfoS(acct.logCtx, "No recovery to cancel on server")

		default:
			cancelErr := &F8eCancelDelayNotifyError{Err: err}
			m.cfg.Metrics.ObserveCancelFailure(
				false, cancelErr.Retryable(),
			)
			log.WarnS(acct.logCtx, "Recovery cancellation failed",
				err, "retryable", cancelErr.Retryable())

			return cancelErr
		}

		if err := acct.Clear(); err != nil {
			m.cfg.Metrics.ObserveCancelFailure(true, true)
			log.ErrorS(acct.logCtx, "Unable to clear cancelled "+
				"recovery", err)

			return &LocalCancelDelayNotifyError{Err: err}
		}

		return nil
	})
}
