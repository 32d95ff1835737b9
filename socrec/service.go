package socrec

import (
	"context"

	"github.com/lightningnetwork/keyrecovery/f8e"
)

// RelationshipsService is the social recovery surface of the server.
type RelationshipsService interface {
	// CreateInvitation registers an invitation carrying the customer's
	// PAKE share. The server assigns the relationship id and the server
	// part of the invite code.
	CreateInvitation(ctx context.Context, accountID f8e.AccountID,
		alias string, roles []Role,
		pakeKey []byte) (*Invitation, error)

	// RetrieveInvitation looks up an invitation by invite code server
	// part.
	RetrieveInvitation(ctx context.Context, accountID f8e.AccountID,
		serverPart string) (*IncomingInvitation, error)

	// AcceptInvitation enrolls the caller as trusted contact.
	AcceptInvitation(ctx context.Context, accountID f8e.AccountID,
		relationshipID, customerAlias string,
		enrollment *Enrollment) (*ProtectedCustomer, error)

	// GetRelationships returns every relationship of the account.
	GetRelationships(ctx context.Context,
		accountID f8e.AccountID) (*Relationships, error)

	// EndorseTrustedContacts stores key certificates.
	EndorseTrustedContacts(ctx context.Context, accountID f8e.AccountID,
		endorsements []Endorsement) error

	// GetKeyCertificates returns the certificates stored for the account.
	GetKeyCertificates(ctx context.Context,
		accountID f8e.AccountID) ([]*KeyCertificate, error)

	// StartChallenge starts a recovery challenge.
	StartChallenge(ctx context.Context, accountID f8e.AccountID,
		requests []ChallengeRequest) (*Challenge, error)

	// GetChallenge returns the caller's part of the challenge with the
	// given counter.
	GetChallenge(ctx context.Context, accountID f8e.AccountID,
		counter uint64) (*IncomingChallenge, error)

	// RespondToChallenge stores a trusted contact's response.
	RespondToChallenge(ctx context.Context, accountID f8e.AccountID,
		challengeID string, response *ChallengeResponse) error

	// FetchChallengeResponses returns every response to a challenge.
	FetchChallengeResponses(ctx context.Context, accountID f8e.AccountID,
		challengeID string) ([]ChallengeResponse, error)
}

// MetricsRecorder receives social recovery outcomes for export.
type MetricsRecorder interface {
	// ObserveAuthentication records an authentication outcome.
	ObserveAuthentication(state string)

	// ObserveChallengeResponse records whether a response was usable.
	ObserveChallengeResponse(valid bool)
}

type noopRecorder struct{}

func (noopRecorder) ObserveAuthentication(string)  {}
func (noopRecorder) ObserveChallengeResponse(bool) {}
