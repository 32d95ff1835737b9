package socrec

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/keyrecovery/f8e"
	"github.com/lightningnetwork/keyrecovery/keychain"
	"github.com/lightningnetwork/keyrecovery/logutil"
	"github.com/lightningnetwork/keyrecovery/sealing"
)

// Signers are the protected customer's current auth keys. The app key signs
// key certificates and the hardware countersigns the app key.
type Signers struct {
	App      keychain.SingleKeyMessageSigner
	Hardware keychain.SingleKeyMessageSigner
}

// AuthenticationResult is the outcome of an authentication run.
type AuthenticationResult struct {
	// States holds the state of every evaluated contact by relationship
	// id.
	States map[string]AuthenticationState

	// Endorsements are the certificates sent to the server.
	Endorsements []Endorsement
}

func newAuthenticationResult() *AuthenticationResult {
	return &AuthenticationResult{
		States: make(map[string]AuthenticationState),
	}
}

// contactOutcome is the result of authenticating one unendorsed contact.
type contactOutcome struct {
	state AuthenticationState
	ddk   *btcec.PublicKey

	// consumed is set when the enrollment session must be erased once
	// the outcome is recorded.
	consumed bool
}

// authenticateContact re-derives the enrollment PAKE key of a contact and
// checks its enrollment. Every protocol failure maps to a state, errors are
// only returned when local storage fails.
func (e *Engine) authenticateContact(contact *UnendorsedTrustedContact,
	recorded map[string]AuthenticationState) (*contactOutcome, error) {

	relID := contact.RelationshipID

	sealed, err := e.cfg.Store.EnrollmentSession(relID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		if state, ok := recorded[relID]; ok && state.terminal() {
			return &contactOutcome{state: state}, nil
		}

		return &contactOutcome{state: StatePakeDataUnavailable}, nil

	case err != nil:
		return nil, err
	}

	initiator, err := openSession(
		e.storageKey, sealed, enrollmentAAD(relID), enrollmentContext,
	)
	if err != nil {
		log.Debugf("Unable to open enrollment session of %v: %v",
			relID, err)

		return &contactOutcome{
			state:    StatePakeDataUnavailable,
			consumed: true,
		}, nil
	}
	defer initiator.Zero()

	keys, err := initiator.Finish(contact.EnrollmentPakeKey)
	if err != nil {
		log.Debugf("Unusable enrollment share from %v: %v", relID, err)

		return &contactOutcome{state: StateTampered, consumed: true},
			nil
	}
	defer keys.Zero()

	if !keys.VerifyConfirmation(contact.EnrollmentKeyConfirmation) {
		return &contactOutcome{state: StateFailed, consumed: true}, nil
	}

	ddkBytes, err := sealing.Unseal(
		(*sealing.SymmetricKey)(&keys.Encryption),
		contact.SealedDelegatedDecryptionKey, []byte(relID),
	)
	if err != nil {
		return &contactOutcome{state: StateTampered, consumed: true},
			nil
	}

	ddk, err := btcec.ParsePubKey(ddkBytes)
	if err != nil {
		return &contactOutcome{state: StateTampered, consumed: true},
			nil
	}

	return &contactOutcome{state: StateVerified, ddk: ddk}, nil
}

// authenticateUnendorsed evaluates every unendorsed contact independently and
// issues certificates for the verified ones. The sessions of verified contacts
// are returned so they can be erased once the server holds the certificates.
func (e *Engine) authenticateUnendorsed(accountID f8e.AccountID,
	contacts []UnendorsedTrustedContact, signers Signers,
	result *AuthenticationResult) ([]string, error) {

	recorded, err := e.cfg.Store.States()
	if err != nil {
		return nil, err
	}

	var verified []string
	for i := range contacts {
		contact := &contacts[i]
		relID := contact.RelationshipID

		outcome, err := e.authenticateContact(contact, recorded)
		if err != nil {
			return nil, fmt.Errorf("unable to authenticate %v: %w",
				relID, err)
		}

		if outcome.state == StateVerified {
			cert, err := NewKeyCertificate(
				accountID, outcome.ddk, signers.App,
				signers.Hardware,
			)
			if err != nil {
				return nil, err
			}

			result.Endorsements = append(
				result.Endorsements, Endorsement{
					RelationshipID: relID,
					Certificate:    cert,
				},
			)
			verified = append(verified, relID)
		}

		if outcome.consumed {
			err := e.cfg.Store.DeleteEnrollmentSession(relID)
			if err != nil {
				return nil, err
			}
		}

		if err := e.recordState(relID, outcome.state); err != nil {
			return nil, err
		}
		result.States[relID] = outcome.state
	}

	return verified, nil
}

func (e *Engine) recordState(relID string, state AuthenticationState) error {
	e.cfg.Metrics.ObserveAuthentication(state.String())

	return e.cfg.Store.SetState(relID, state)
}

// endorse sends the issued certificates and erases the enrollment sessions
// they were derived from.
func (e *Engine) endorse(ctx context.Context, accountID f8e.AccountID,
	result *AuthenticationResult, consumed []string) error {

	if len(result.Endorsements) == 0 {
		return nil
	}

	err := e.cfg.Service.EndorseTrustedContacts(
		ctx, accountID, result.Endorsements,
	)
	if err != nil {
		return fmt.Errorf("unable to endorse trusted contacts: %w", err)
	}

	for _, relID := range consumed {
		if err := e.cfg.Store.DeleteEnrollmentSession(relID); err != nil {
			return err
		}
	}

	log.InfoS(btclog.WithCtx(ctx, logutil.LogAccount(string(accountID))),
		"Endorsed trusted contacts",
		"count", len(result.Endorsements))

	return nil
}

// AuthenticateAndEndorse authenticates every unendorsed trusted contact of the
// account and endorses the verified ones. One contact failing never affects
// the outcome of another.
func (e *Engine) AuthenticateAndEndorse(ctx context.Context,
	accountID f8e.AccountID, signers Signers) (*AuthenticationResult,
	error) {

	e.authMtx.Lock()
	defer e.authMtx.Unlock()

	relationships, err := e.cfg.Service.GetRelationships(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch relationships: %w", err)
	}

	result := newAuthenticationResult()
	consumed, err := e.authenticateUnendorsed(
		accountID, relationships.Unendorsed, signers, result,
	)
	if err != nil {
		return nil, err
	}

	if err := e.endorse(ctx, accountID, result, consumed); err != nil {
		return nil, err
	}

	return result, nil
}

// AuthenticateRegenerateAndEndorse authenticates unendorsed contacts like
// AuthenticateAndEndorse and re-verifies every endorsed contact's certificate
// against the trusted auth keys. Certificates that fail are marked TAMPERED.
// Valid certificates issued by keys other than signers are reissued, which is
// needed after the auth keys were rotated. trusted must include the keys of
// signers.
func (e *Engine) AuthenticateRegenerateAndEndorse(ctx context.Context,
	accountID f8e.AccountID, signers Signers,
	trusted TrustedAuthKeys) (*AuthenticationResult, error) {

	e.authMtx.Lock()
	defer e.authMtx.Unlock()

	relationships, err := e.cfg.Service.GetRelationships(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch relationships: %w", err)
	}

	// Certificates the server already holds for the current keys don't
	// need to be reissued.
	current := make(map[string]struct{})
	certs, err := e.cfg.Service.GetKeyCertificates(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch key certificates: %w",
			err)
	}
	for _, cert := range certs {
		if cert.Verify(accountID, trusted) != nil ||
			!cert.SignedBy(signers.App.PubKey(),
				signers.Hardware.PubKey()) {

			continue
		}
		ddk := string(cert.DelegatedDecryptionKey.SerializeCompressed())
		current[ddk] = struct{}{}
	}

	result := newAuthenticationResult()
	consumed, err := e.authenticateUnendorsed(
		accountID, relationships.Unendorsed, signers, result,
	)
	if err != nil {
		return nil, err
	}

	for _, contact := range relationships.Endorsed {
		relID := contact.RelationshipID
		cert := contact.KeyCertificate

		if cert == nil {
			if err := e.recordState(relID, StateTampered); err != nil {
				return nil, err
			}
			result.States[relID] = StateTampered

			continue
		}

		if err := cert.Verify(accountID, trusted); err != nil {
			log.Warnf("Certificate of trusted contact %v failed "+
				"verification: %v", relID, err)

			if err := e.recordState(relID, StateTampered); err != nil {
				return nil, err
			}
			result.States[relID] = StateTampered

			continue
		}

		ddk := cert.DelegatedDecryptionKey
		_, upToDate := current[string(ddk.SerializeCompressed())]
		if !upToDate {
			regenerated, err := NewKeyCertificate(
				accountID, ddk, signers.App, signers.Hardware,
			)
			if err != nil {
				return nil, err
			}
			result.Endorsements = append(
				result.Endorsements, Endorsement{
					RelationshipID: relID,
					Certificate:    regenerated,
				},
			)
		}

		if err := e.recordState(relID, StateVerified); err != nil {
			return nil, err
		}
		result.States[relID] = StateVerified
	}

	if err := e.endorse(ctx, accountID, result, consumed); err != nil {
		return nil, err
	}

	return result, nil
}
