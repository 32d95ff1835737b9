package socrec

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/keyrecovery/f8e"
	"github.com/lightningnetwork/keyrecovery/keychain"
	"github.com/lightningnetwork/keyrecovery/logutil"
	"github.com/lightningnetwork/keyrecovery/pake"
	"github.com/lightningnetwork/keyrecovery/reccode"
	"github.com/lightningnetwork/keyrecovery/sealing"
	"github.com/lightningnetwork/lnd/clock"
)

// ddkLoc locates the delegated decryption key a trusted contact enrolls with.
var ddkLoc = keychain.KeyLocator{
	Family: keychain.KeyFamilyDelegatedDecryption,
	Index:  0,
}

// Config holds the dependencies of an Engine.
type Config struct {
	// Service is the server's relationship surface.
	Service RelationshipsService

	// KeyRing derives the storage key and, on a trusted contact's device,
	// the delegated decryption key.
	KeyRing keychain.SecretKeyRing

	// Store keeps sealed PAKE sessions and contact states.
	Store *Store

	// Clock is used for expiry checks.
	Clock clock.Clock

	// Metrics receives authentication and challenge outcomes. Optional.
	Metrics MetricsRecorder

	// CodeBitLength is used when the server does not report the server
	// part width of an invitation. Zero selects reccode.MinCodeBitLength.
	CodeBitLength int
}

// Engine runs both sides of the social recovery protocol: the protected
// customer inviting, authenticating and challenging trusted contacts, and the
// trusted contact enrolling and answering challenges.
type Engine struct {
	cfg Config

	storageKey *sealing.SymmetricKey

	// authMtx serializes authentication runs so that a contact's session
	// is consumed exactly once.
	authMtx sync.Mutex
}

// NewEngine creates an engine, deriving the storage key from the key ring.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Service == nil || cfg.KeyRing == nil || cfg.Store == nil {
		return nil, errors.New("socrec: service, key ring and store " +
			"are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopRecorder{}
	}
	if cfg.CodeBitLength == 0 {
		cfg.CodeBitLength = reccode.MinCodeBitLength
	}

	storageKey, err := sealing.StorageKey(cfg.KeyRing)
	if err != nil {
		return nil, fmt.Errorf("unable to derive storage key: %w", err)
	}

	return &Engine{
		cfg:        cfg,
		storageKey: storageKey,
	}, nil
}

// Stop erases the storage key. The engine is unusable afterwards.
func (e *Engine) Stop() {
	e.storageKey.Zero()
}

// CreateInvitation invites a new trusted contact. The returned invitation
// carries the invite code, which must be shared with the contact out of band.
func (e *Engine) CreateInvitation(ctx context.Context, accountID f8e.AccountID,
	alias string, roles []Role) (*Invitation, error) {

	code, err := reccode.NewInvitePakeCode()
	if err != nil {
		return nil, err
	}
	defer code.Zero()

	initiator, err := pake.NewInitiator(code, enrollmentContext)
	if err != nil {
		return nil, err
	}
	defer initiator.Zero()

	invitation, err := e.cfg.Service.CreateInvitation(
		ctx, accountID, alias, roles, initiator.Share(),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create invitation: %w", err)
	}

	bitLength := invitation.CodeBitLength
	if bitLength == 0 {
		bitLength = e.cfg.CodeBitLength
	}

	sealed, err := sealSession(
		e.storageKey, code, initiator,
		enrollmentAAD(invitation.RelationshipID),
	)
	if err != nil {
		return nil, err
	}
	err = e.cfg.Store.PutEnrollmentSession(
		invitation.RelationshipID, sealed,
	)
	if err != nil {
		return nil, err
	}

	invitation.Code, err = reccode.BuildInviteCode(
		invitation.ServerPart, bitLength, code,
	)
	if err != nil {
		return nil, err
	}
	invitation.CodeBitLength = bitLength

	if err := e.cfg.Store.SetState(
		invitation.RelationshipID, StateUnauthenticated,
	); err != nil {
		return nil, err
	}

	log.InfoS(btclog.WithCtx(ctx, logutil.LogAccount(string(accountID))),
		"Created invitation", "relationship_id",
		invitation.RelationshipID, "expires_at", invitation.ExpiresAt)

	return invitation, nil
}

// RetrieveInvitation looks up the invitation behind an invite code. Expired
// invitations are rejected before any PAKE work happens.
func (e *Engine) RetrieveInvitation(ctx context.Context,
	accountID f8e.AccountID, inviteCode string) (*IncomingInvitation,
	error) {

	parsed, err := reccode.ParseInviteCode(inviteCode)
	if err != nil {
		return nil, err
	}
	defer parsed.PakePart.Zero()

	invitation, err := e.cfg.Service.RetrieveInvitation(
		ctx, accountID, parsed.ServerPart,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve invitation: %w", err)
	}

	if !e.cfg.Clock.Now().Before(invitation.ExpiresAt) {
		return nil, ErrInvitationExpired
	}

	return invitation, nil
}

// AcceptInvitation enrolls this device's delegated decryption key with the
// protected customer behind invitation. inviteCode is the code received out
// of band.
func (e *Engine) AcceptInvitation(ctx context.Context,
	accountID f8e.AccountID, invitation *IncomingInvitation,
	inviteCode, customerAlias string) (*ProtectedCustomer, error) {

	if !e.cfg.Clock.Now().Before(invitation.ExpiresAt) {
		return nil, ErrInvitationExpired
	}

	parsed, err := reccode.ParseInviteCode(inviteCode)
	if err != nil {
		return nil, err
	}
	defer parsed.PakePart.Zero()

	share, keys, err := pake.Respond(
		parsed.PakePart, enrollmentContext,
		invitation.ProtectedCustomerEnrollmentPakeKey,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to answer invitation: %w", err)
	}
	defer keys.Zero()

	ddk, err := e.cfg.KeyRing.DeriveKey(ddkLoc)
	if err != nil {
		return nil, &TrustedContactIdentityKeyStorageError{Err: err}
	}

	sealedDDK, err := sealing.Seal(
		(*sealing.SymmetricKey)(&keys.Encryption),
		ddk.PubKey.SerializeCompressed(),
		[]byte(invitation.RelationshipID),
	)
	if err != nil {
		return nil, err
	}

	customer, err := e.cfg.Service.AcceptInvitation(
		ctx, accountID, invitation.RelationshipID, customerAlias,
		&Enrollment{
			SealedDelegatedDecryptionKey: sealedDDK,
			EnrollmentPakeKey:            share,
			EnrollmentKeyConfirmation:    keys.Confirmation(),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to accept invitation: %w", err)
	}

	log.InfoS(btclog.WithCtx(ctx, logutil.LogAccount(string(accountID))),
		"Accepted invitation", "relationship_id",
		invitation.RelationshipID)

	return customer, nil
}

// ContactStates returns the last recorded authentication state of every
// contact.
func (e *Engine) ContactStates() (map[string]AuthenticationState, error) {
	return e.cfg.Store.States()
}

// DelegatedDecryptionKey returns this device's delegated decryption public key.
func (e *Engine) DelegatedDecryptionKey() (keychain.KeyDescriptor, error) {
	ddk, err := e.cfg.KeyRing.DeriveKey(ddkLoc)
	if err != nil {
		return keychain.KeyDescriptor{},
			&TrustedContactIdentityKeyStorageError{Err: err}
	}

	return ddk, nil
}
