package socrec

import (
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/keyrecovery/f8e"
)

var (
	// ErrInvitationExpired is returned when an invitation is used after
	// its expiry.
	ErrInvitationExpired = errors.New("invitation code expired")

	// ErrChallengeExpired is returned when a recovery challenge is used
	// after its expiry.
	ErrChallengeExpired = errors.New("recovery challenge expired")

	// ErrUnknownChallenge is returned when no local session exists for a
	// challenge.
	ErrUnknownChallenge = errors.New("unknown recovery challenge")

	// ErrNoValidChallengeResponse is returned when no trusted contact
	// returned a usable response.
	ErrNoValidChallengeResponse = errors.New("no valid challenge " +
		"response")

	// ErrNotEndorsed is returned when a challenge names a contact the
	// backup was not sealed to.
	ErrNotEndorsed = errors.New("trusted contact not in backup")
)

// TrustedContactIdentityKeyStorageError is returned when a trusted contact's
// delegated decryption key cannot be derived or used.
type TrustedContactIdentityKeyStorageError struct {
	Err error
}

// Error implements the error interface.
func (e *TrustedContactIdentityKeyStorageError) Error() string {
	return fmt.Sprintf("trusted contact identity key unavailable: %v",
		e.Err)
}

// Unwrap returns the underlying error.
func (e *TrustedContactIdentityKeyStorageError) Unwrap() error {
	return e.Err
}

// Role is a capability granted by a relationship.
type Role string

const (
	// RoleSocialRecoveryContact lets the contact help recover the
	// customer's backup.
	RoleSocialRecoveryContact Role = "SOCIAL_RECOVERY_CONTACT"

	// RoleBeneficiary lets the contact inherit the customer's funds.
	RoleBeneficiary Role = "BENEFICIARY"
)

// AuthenticationState is the outcome of authenticating a trusted contact's
// enrollment. Only the engine moves contacts between states.
type AuthenticationState uint8

const (
	// StateUnauthenticated means no authentication was attempted yet.
	StateUnauthenticated AuthenticationState = iota

	// StateAwaitingVerify means the contact enrolled and awaits
	// authentication.
	StateAwaitingVerify

	// StateVerified means the PAKE confirmation matched and the
	// delegated decryption key was recovered.
	StateVerified

	// StateTampered means the confirmation matched but the contact's
	// data did not open, or a certificate failed verification.
	StateTampered

	// StateFailed means the confirmation did not match, usually because
	// the wrong code was entered.
	StateFailed

	// StatePakeDataUnavailable means the local enrollment session is
	// gone. The contact must be re-invited.
	StatePakeDataUnavailable
)

// String returns the wire name of the state.
func (s AuthenticationState) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateAwaitingVerify:
		return "AWAITING_VERIFY"
	case StateVerified:
		return "VERIFIED"
	case StateTampered:
		return "TAMPERED"
	case StateFailed:
		return "FAILED"
	case StatePakeDataUnavailable:
		return "PAKE_DATA_UNAVAILABLE"
	default:
		return fmt.Sprintf("AuthenticationState(%d)", uint8(s))
	}
}

// terminal reports whether the state can only be left by re-inviting.
func (s AuthenticationState) terminal() bool {
	return s == StateTampered || s == StateFailed ||
		s == StatePakeDataUnavailable
}

// Invitation is an invitation issued by a protected customer.
type Invitation struct {
	// RelationshipID is the server assigned relationship id.
	RelationshipID string

	// Alias is the customer's name for the contact.
	Alias string

	// Roles are the roles the contact is invited to.
	Roles []Role

	// ServerPart is the hex encoded server half of the invite code.
	ServerPart string

	// CodeBitLength is the number of server part bits in the code.
	CodeBitLength int

	// ExpiresAt is when the invitation stops being accepted.
	ExpiresAt time.Time

	// Code is the invite code to share out of band. It is only known to
	// the device that created the invitation.
	Code string
}

// Expired reports whether the invitation expired at now.
func (i *Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// IncomingInvitation is an invitation as retrieved by a would-be trusted
// contact.
type IncomingInvitation struct {
	// RelationshipID is the server assigned relationship id.
	RelationshipID string

	// Roles are the roles offered.
	Roles []Role

	// ExpiresAt is when the invitation stops being accepted.
	ExpiresAt time.Time

	// ProtectedCustomerEnrollmentPakeKey is the customer's PAKE share.
	ProtectedCustomerEnrollmentPakeKey []byte
}

// Enrollment is what a trusted contact returns when accepting an invitation.
type Enrollment struct {
	// SealedDelegatedDecryptionKey is the contact's delegated decryption
	// public key sealed under the PAKE key.
	SealedDelegatedDecryptionKey []byte

	// EnrollmentPakeKey is the contact's PAKE share.
	EnrollmentPakeKey []byte

	// EnrollmentKeyConfirmation proves the contact derived the same PAKE
	// key.
	EnrollmentKeyConfirmation []byte
}

// UnendorsedTrustedContact is a contact that accepted an invitation but has
// not been endorsed.
type UnendorsedTrustedContact struct {
	RelationshipID string
	Alias          string
	Roles          []Role
	Enrollment

	// AuthenticationState is the last authentication outcome.
	AuthenticationState AuthenticationState
}

// EndorsedTrustedContact is a contact with a key certificate.
type EndorsedTrustedContact struct {
	RelationshipID string
	Alias          string
	Roles          []Role

	// KeyCertificate binds the contact's delegated decryption key to the
	// customer's account.
	KeyCertificate *KeyCertificate

	// AuthenticationState is the last verification outcome.
	AuthenticationState AuthenticationState
}

// ProtectedCustomer is the relationship as seen by the trusted contact.
type ProtectedCustomer struct {
	RelationshipID string
	Alias          string
	Roles          []Role
}

// Relationships are every relationship of an account.
type Relationships struct {
	Invitations        []Invitation
	Unendorsed         []UnendorsedTrustedContact
	Endorsed           []EndorsedTrustedContact
	ProtectedCustomers []ProtectedCustomer
}

// Endorsement is an issued key certificate for one contact.
type Endorsement struct {
	RelationshipID string
	Certificate    *KeyCertificate
}

// ChallengeRequest is the customer's half of a challenge for one contact.
type ChallengeRequest struct {
	// RelationshipID is the contact asked to respond.
	RelationshipID string

	// ProtectedCustomerPakeKey is the customer's PAKE share.
	ProtectedCustomerPakeKey []byte

	// SealedPkek is the backup's PKEK sealed to the contact's delegated
	// decryption key.
	SealedPkek []byte
}

// Challenge is a recovery challenge issued by the server.
type Challenge struct {
	// ChallengeID identifies the challenge.
	ChallengeID string

	// Counter is the server part of every recovery code of the
	// challenge.
	Counter uint64

	// ExpiresAt is when responses stop being accepted.
	ExpiresAt time.Time
}

// IncomingChallenge is a challenge as retrieved by a trusted contact.
type IncomingChallenge struct {
	ChallengeID string
	ExpiresAt   time.Time
	ChallengeRequest
}

// ChallengeResponse is a trusted contact's answer to a challenge.
type ChallengeResponse struct {
	// RelationshipID is the responding contact.
	RelationshipID string

	// TrustedContactPakeKey is the contact's PAKE share.
	TrustedContactPakeKey []byte

	// Confirmation proves the contact derived the same PAKE key.
	Confirmation []byte

	// SealedPkek is the PKEK re-sealed under the PAKE key.
	SealedPkek []byte
}

// ProtectedBackup is private key material sealed for social recovery.
type ProtectedBackup struct {
	// AccountID is the protected account.
	AccountID f8e.AccountID

	// SealedPrivateKeyMaterial is the key material sealed under the
	// PKEK.
	SealedPrivateKeyMaterial []byte

	// SealedPkeks holds the PKEK sealed to each endorsed contact's
	// delegated decryption key, by relationship id.
	SealedPkeks map[string][]byte
}

// ChallengeSession is a started challenge. Codes must be sent to each contact
// out of band.
type ChallengeSession struct {
	Challenge

	// Codes holds the recovery code of each contact by relationship id.
	Codes map[string]string
}
