package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightningnetwork/keyrecovery/f8e"
	"github.com/lightningnetwork/keyrecovery/keychain"
)

// ErrWrongAuthKey is returned when resolving an ambiguous completion with a
// signer that does not hold the destination app auth key.
var ErrWrongAuthKey = errors.New("signer does not hold destination app " +
	"global auth key")

// ResolveMaybeNoLongerRecovering settles a MaybeNoLongerRecovering state by
// authenticating with the destination app global auth key. If the server
// accepts the key the completion landed and RotatedAuthKeys is recorded. If it
// rejects the key the recovery was cancelled and
// CompletionAttemptFailedDueToServerCancellation is recorded. Any other
// failure is returned and nothing is recorded, so the call can be retried.
// States other than MaybeNoLongerRecovering are returned unchanged.
func (m *Manager) ResolveMaybeNoLongerRecovering(ctx context.Context,
	accountID f8e.AccountID, auth f8e.AuthClient,
	signer keychain.SingleKeyMessageSigner) (Recovery, error) {

	var resolved Recovery
	err := m.WithRecoveryLock(ctx, accountID, func(acct *LockedAccount) error {
		current, err := acct.Recovery()
		if err != nil {
			return err
		}

		maybe, ok := current.(*MaybeNoLongerRecovering)
		if !ok {
			resolved = current
			return nil
		}

		destKey := maybe.Attempt().Keybundles.AppGlobalAuthKey
		if !keysEqual(signer.PubKey(), destKey) {
			return ErrWrongAuthKey
		}

		var progress Progress
		err = authenticate(ctx, auth, signer)
		switch {
		case err == nil:
			log.InfoS(acct.logCtx, "Destination auth key accepted, "+
				"completion landed")

			progress = Reached(PhaseRotatedAuthKeys)

		case f8e.IsAuthoritativeRejection(err):
			log.InfoS(acct.logCtx, "Destination auth key rejected, "+
				"recovery was cancelled", "reason", err)

			progress = Reached(
				PhaseCompletionAttemptFailedDueToServerCancellation,
			)

		default:
			return fmt.Errorf("unable to authenticate with "+
				"destination key: %w", err)
		}

		if err := acct.SetLocalRecoveryProgress(progress); err != nil {
			return err
		}

		resolved, err = acct.Recovery()

		return err
	})
	if err != nil {
		return nil, err
	}

	return resolved, nil
}

// authenticate runs a full challenge/response authentication with signer.
func authenticate(ctx context.Context, auth f8e.AuthClient,
	signer keychain.SingleKeyMessageSigner) error {

	challenge, err := auth.InitiateAuthentication(ctx, signer.PubKey())
	if err != nil {
		return err
	}

	sig, err := signer.SignMessage(challenge.Challenge, false)
	if err != nil {
		return fmt.Errorf("unable to sign auth challenge: %w", err)
	}

	_, err = auth.CompleteAuthentication(ctx, challenge.Session, sig)

	return err
}
