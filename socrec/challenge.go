package socrec

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/keyrecovery/f8e"
	"github.com/lightningnetwork/keyrecovery/keychain"
	"github.com/lightningnetwork/keyrecovery/logutil"
	"github.com/lightningnetwork/keyrecovery/pake"
	"github.com/lightningnetwork/keyrecovery/reccode"
	"github.com/lightningnetwork/keyrecovery/sealing"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// challengeSession is the customer's half of a challenge for one contact
// while the challenge is being started.
type challengeSession struct {
	code      reccode.PakeCode
	initiator *pake.Initiator
}

func (s *challengeSession) zero() {
	s.code.Zero()
	s.initiator.Zero()
}

// StartChallenge starts a recovery challenge for the backup. When
// relationshipIDs is empty every contact the backup is sealed to is
// challenged. A contact listed twice is challenged once. The returned session
// holds one recovery code per contact.
func (e *Engine) StartChallenge(ctx context.Context, accountID f8e.AccountID,
	backup *ProtectedBackup,
	relationshipIDs ...string) (*ChallengeSession, error) {

	if len(relationshipIDs) == 0 {
		for relID := range backup.SealedPkeks {
			relationshipIDs = append(relationshipIDs, relID)
		}
		sort.Strings(relationshipIDs)
	}

	seen := fn.NewSet[string]()
	relationshipIDs = fn.Filter(relationshipIDs, func(relID string) bool {
		if seen.Contains(relID) {
			return false
		}
		seen.Add(relID)

		return true
	})
	if len(relationshipIDs) == 0 {
		return nil, ErrNoTrustedContacts
	}

	sessions := make(map[string]*challengeSession, len(relationshipIDs))
	defer func() {
		for _, s := range sessions {
			s.zero()
		}
	}()

	requests := make([]ChallengeRequest, 0, len(relationshipIDs))
	for _, relID := range relationshipIDs {
		sealedPkek, ok := backup.SealedPkeks[relID]
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrNotEndorsed, relID)
		}

		code, err := reccode.NewPakeCode(reccode.RecoveryPakeSize)
		if err != nil {
			return nil, err
		}
		initiator, err := pake.NewInitiator(
			code, pakeContext(challengeContext, relID),
		)
		if err != nil {
			code.Zero()
			return nil, err
		}
		sessions[relID] = &challengeSession{
			code:      code,
			initiator: initiator,
		}

		requests = append(requests, ChallengeRequest{
			RelationshipID:           relID,
			ProtectedCustomerPakeKey: initiator.Share(),
			SealedPkek:               sealedPkek,
		})
	}

	challenge, err := e.cfg.Service.StartChallenge(ctx, accountID, requests)
	if err != nil {
		return nil, fmt.Errorf("unable to start challenge: %w", err)
	}
	if challenge.Counter > reccode.MaxRecoveryServerPart {
		return nil, fmt.Errorf("challenge counter %d does not fit a "+
			"recovery code", challenge.Counter)
	}

	result := &ChallengeSession{
		Challenge: *challenge,
		Codes:     make(map[string]string, len(sessions)),
	}
	sealedSessions := make(map[string][]byte, len(sessions))
	for relID, s := range sessions {
		sealed, err := sealSession(
			e.storageKey, s.code, s.initiator,
			challengeAAD(challenge.ChallengeID, relID),
		)
		if err != nil {
			return nil, err
		}
		sealedSessions[relID] = sealed

		result.Codes[relID], err = reccode.BuildRecoveryCode(
			challenge.Counter, s.code,
		)
		if err != nil {
			return nil, err
		}
	}

	if err := e.cfg.Store.PutChallenge(challenge, sealedSessions); err != nil {
		return nil, err
	}

	log.InfoS(btclog.WithCtx(ctx, logutil.LogAccount(string(accountID))),
		"Started recovery challenge",
		"challenge_id", challenge.ChallengeID,
		"contacts", len(requests), "expires_at", challenge.ExpiresAt)

	return result, nil
}

// RespondToChallenge answers the challenge behind a recovery code on the
// trusted contact's device. The PKEK is opened with the delegated decryption
// key and re-sealed under the recovery PAKE key, so the server never sees it.
func (e *Engine) RespondToChallenge(ctx context.Context,
	accountID f8e.AccountID, recoveryCode string) error {

	parsed, err := reccode.ParseRecoveryCode(recoveryCode)
	if err != nil {
		return err
	}
	defer parsed.PakePart.Zero()

	challenge, err := e.cfg.Service.GetChallenge(
		ctx, accountID, parsed.ServerPart,
	)
	if err != nil {
		return fmt.Errorf("unable to fetch challenge: %w", err)
	}
	if !e.cfg.Clock.Now().Before(challenge.ExpiresAt) {
		return ErrChallengeExpired
	}

	relID := challenge.RelationshipID
	share, keys, err := pake.Respond(
		parsed.PakePart, pakeContext(challengeContext, relID),
		challenge.ProtectedCustomerPakeKey,
	)
	if err != nil {
		return fmt.Errorf("unable to answer challenge: %w", err)
	}
	defer keys.Zero()

	ddk, err := e.cfg.KeyRing.DeriveKey(ddkLoc)
	if err != nil {
		return &TrustedContactIdentityKeyStorageError{Err: err}
	}

	pkek, err := sealing.UnsealWithECDH(
		keychain.NewPubKeyECDH(ddk, e.cfg.KeyRing),
		challenge.SealedPkek, []byte(relID),
	)
	if err != nil {
		return &TrustedContactIdentityKeyStorageError{Err: err}
	}
	defer zero(pkek)

	resealed, err := sealing.Seal(
		(*sealing.SymmetricKey)(&keys.Encryption), pkek,
		[]byte(challenge.ChallengeID),
	)
	if err != nil {
		return err
	}

	err = e.cfg.Service.RespondToChallenge(
		ctx, accountID, challenge.ChallengeID, &ChallengeResponse{
			RelationshipID:        relID,
			TrustedContactPakeKey: share,
			Confirmation:          keys.Confirmation(),
			SealedPkek:            resealed,
		},
	)
	if err != nil {
		return fmt.Errorf("unable to respond to challenge: %w", err)
	}

	log.InfoS(btclog.WithCtx(ctx, logutil.LogAccount(string(accountID))),
		"Responded to recovery challenge",
		"challenge_id", challenge.ChallengeID)

	return nil
}

// openResponse recovers the PKEK from one contact's response.
func (e *Engine) openResponse(challengeID string, sealedSession []byte,
	response *ChallengeResponse) (*sealing.SymmetricKey, error) {

	relID := response.RelationshipID
	initiator, err := openSession(
		e.storageKey, sealedSession, challengeAAD(challengeID, relID),
		pakeContext(challengeContext, relID),
	)
	if err != nil {
		return nil, err
	}
	defer initiator.Zero()

	keys, err := initiator.Finish(response.TrustedContactPakeKey)
	if err != nil {
		return nil, err
	}
	defer keys.Zero()

	if !keys.VerifyConfirmation(response.Confirmation) {
		return nil, errors.New("confirmation mismatch")
	}

	plaintext, err := sealing.Unseal(
		(*sealing.SymmetricKey)(&keys.Encryption), response.SealedPkek,
		[]byte(challengeID),
	)
	if err != nil {
		return nil, err
	}
	defer zero(plaintext)

	if len(plaintext) != sealing.KeySize {
		return nil, fmt.Errorf("pkek has %d bytes", len(plaintext))
	}

	var pkek sealing.SymmetricKey
	copy(pkek[:], plaintext)

	return &pkek, nil
}

// CompleteChallenge collects the responses to a started challenge and opens
// the backup with the first usable one. Missing or invalid responses are
// skipped. The challenge is erased once the backup is opened.
func (e *Engine) CompleteChallenge(ctx context.Context,
	accountID f8e.AccountID, challengeID string,
	backup *ProtectedBackup) ([]byte, error) {

	if backup.AccountID != accountID {
		return nil, fmt.Errorf("backup belongs to account %v",
			backup.AccountID)
	}

	challenge, sessions, err := e.cfg.Store.Challenge(challengeID)
	if err != nil {
		return nil, err
	}
	if !e.cfg.Clock.Now().Before(challenge.ExpiresAt) {
		return nil, ErrChallengeExpired
	}

	responses, err := e.cfg.Service.FetchChallengeResponses(
		ctx, accountID, challengeID,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch challenge responses: "+
			"%w", err)
	}

	for i := range responses {
		response := &responses[i]
		relID := response.RelationshipID

		sealedSession, ok := sessions[relID]
		if !ok {
			log.Debugf("Ignoring response of %v to challenge %v: %v",
				relID, challengeID, ErrNotEndorsed)
			e.cfg.Metrics.ObserveChallengeResponse(false)

			continue
		}

		pkek, err := e.openResponse(challengeID, sealedSession, response)
		if err != nil {
			log.Debugf("Ignoring response of %v to challenge %v: %v",
				relID, challengeID, err)
			e.cfg.Metrics.ObserveChallengeResponse(false)

			continue
		}

		pkMat, err := sealing.Unseal(
			pkek, backup.SealedPrivateKeyMaterial,
			[]byte(accountID),
		)
		pkek.Zero()
		if err != nil {
			log.Debugf("PKEK of %v does not open the backup: %v",
				relID, err)
			e.cfg.Metrics.ObserveChallengeResponse(false)

			continue
		}
		e.cfg.Metrics.ObserveChallengeResponse(true)

		if err := e.cfg.Store.DeleteChallenge(challengeID); err != nil {
			zero(pkMat)
			return nil, err
		}

		log.InfoS(btclog.WithCtx(
			ctx, logutil.LogAccount(string(accountID)),
		), "Recovered private key material",
			"challenge_id", challengeID, "relationship_id", relID)

		return pkMat, nil
	}

	return nil, ErrNoValidChallengeResponse
}
