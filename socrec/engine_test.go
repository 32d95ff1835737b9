package socrec

import (
	"context"
	"errors"
	"testing"

	"github.com/lightningnetwork/keyrecovery/reccode"
	"github.com/stretchr/testify/require"
)

// TestEnrollAndEndorse walks a contact from invitation to endorsement and
// checks the issued certificate binds the contact's own key.
func TestEnrollAndEndorse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := newTestNetwork(t)
	contact, relID := net.enroll(t, "alice", 2)

	rels, err := net.server.GetRelationships(ctx, customerAccount)
	require.NoError(t, err)
	require.Len(t, rels.Unendorsed, 1)
	require.Equal(t, StateAwaitingVerify,
		rels.Unendorsed[0].AuthenticationState)

	result, err := net.customer.engine.AuthenticateAndEndorse(
		ctx, customerAccount, net.signers,
	)
	require.NoError(t, err)
	require.Equal(t, StateVerified, result.States[relID])
	require.Len(t, result.Endorsements, 1)

	cert := result.Endorsements[0].Certificate
	require.True(t, cert.DelegatedDecryptionKey.IsEqual(contact.ddk(t)))
	require.NoError(t, cert.Verify(customerAccount, net.trusted))

	rels, err = net.server.GetRelationships(ctx, customerAccount)
	require.NoError(t, err)
	require.Empty(t, rels.Unendorsed)
	require.Len(t, rels.Endorsed, 1)

	// The session is consumed once the server holds the certificate.
	_, err = net.customer.store.EnrollmentSession(relID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	states, err := net.customer.engine.ContactStates()
	require.NoError(t, err)
	require.Equal(t, StateVerified, states[relID])
	require.Equal(t, 1, net.customer.metrics.states["VERIFIED"])
}

// TestAuthenticateIsolatesContacts checks that one contact with a wrong
// confirmation doesn't keep another from being verified and endorsed.
func TestAuthenticateIsolatesContacts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := newTestNetwork(t)
	_, relA := net.enroll(t, "alice", 2)
	contactB, relB := net.enroll(t, "bob", 3)

	net.server.editUnendorsed(relA, func(c *UnendorsedTrustedContact) {
		c.EnrollmentKeyConfirmation[0] ^= 0x01
	})

	result, err := net.customer.engine.AuthenticateAndEndorse(
		ctx, customerAccount, net.signers,
	)
	require.NoError(t, err)
	require.Equal(t, StateFailed, result.States[relA])
	require.Equal(t, StateVerified, result.States[relB])

	require.Len(t, result.Endorsements, 1)
	require.Equal(t, relB, result.Endorsements[0].RelationshipID)
	require.True(t, result.Endorsements[0].Certificate.
		DelegatedDecryptionKey.IsEqual(contactB.ddk(t)))

	// A failed contact stays failed until re-invited.
	result, err = net.customer.engine.AuthenticateAndEndorse(
		ctx, customerAccount, net.signers,
	)
	require.NoError(t, err)
	require.Equal(t, StateFailed, result.States[relA])
	require.Empty(t, result.Endorsements)
}

// TestAuthenticationStates covers the non-verified outcomes.
func TestAuthenticationStates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T, net *testNetwork, relID string)
		state AuthenticationState
	}{
		{
			name: "sealed key altered",
			setup: func(_ *testing.T, net *testNetwork,
				relID string) {

				net.server.editUnendorsed(relID,
					func(c *UnendorsedTrustedContact) {
						sealed := c.SealedDelegatedDecryptionKey
						sealed[len(sealed)-1] ^= 0x01
					},
				)
			},
			state: StateTampered,
		},
		{
			name: "invalid share",
			setup: func(_ *testing.T, net *testNetwork,
				relID string) {

				net.server.editUnendorsed(relID,
					func(c *UnendorsedTrustedContact) {
						c.EnrollmentPakeKey = []byte{0x05}
					},
				)
			},
			state: StateTampered,
		},
		{
			name: "session missing",
			setup: func(t *testing.T, net *testNetwork,
				relID string) {

				err := net.customer.store.DeleteEnrollmentSession(
					relID,
				)
				require.NoError(t, err)
			},
			state: StatePakeDataUnavailable,
		},
		{
			name: "session corrupted",
			setup: func(t *testing.T, net *testNetwork,
				relID string) {

				err := net.customer.store.PutEnrollmentSession(
					relID, []byte("garbage"),
				)
				require.NoError(t, err)
			},
			state: StatePakeDataUnavailable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			net := newTestNetwork(t)
			_, relID := net.enroll(t, "alice", 2)
			tc.setup(t, net, relID)

			result, err := net.customer.engine.AuthenticateAndEndorse(
				ctx, customerAccount, net.signers,
			)
			require.NoError(t, err)
			require.Equal(t, tc.state, result.States[relID])
			require.Empty(t, result.Endorsements)

			states, err := net.customer.engine.ContactStates()
			require.NoError(t, err)
			require.Equal(t, tc.state, states[relID])
		})
	}
}

// TestEndorseFailureKeepsSession checks that a verified contact can be
// endorsed again when the first endorsement didn't reach the server.
func TestEndorseFailureKeepsSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := newTestNetwork(t)
	_, relID := net.enroll(t, "alice", 2)

	net.server.endorseErr = errors.New("unavailable")
	_, err := net.customer.engine.AuthenticateAndEndorse(
		ctx, customerAccount, net.signers,
	)
	require.Error(t, err)

	_, err = net.customer.store.EnrollmentSession(relID)
	require.NoError(t, err)

	net.server.endorseErr = nil
	result, err := net.customer.engine.AuthenticateAndEndorse(
		ctx, customerAccount, net.signers,
	)
	require.NoError(t, err)
	require.Equal(t, StateVerified, result.States[relID])
	require.Len(t, result.Endorsements, 1)
}

// TestExpiredInvitation checks expired invitations are refused before any
// exchange.
func TestExpiredInvitation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := newTestNetwork(t)
	contact := newParticipant(t, net.server, net.clock, "alice", 2)

	invitation, err := net.customer.engine.CreateInvitation(
		ctx, customerAccount, "alice", []Role{RoleSocialRecoveryContact},
	)
	require.NoError(t, err)

	incoming, err := contact.engine.RetrieveInvitation(
		ctx, "alice", invitation.Code,
	)
	require.NoError(t, err)

	net.clock.SetTime(invitation.ExpiresAt)

	_, err = contact.engine.RetrieveInvitation(
		ctx, "alice", invitation.Code,
	)
	require.ErrorIs(t, err, ErrInvitationExpired)

	_, err = contact.engine.AcceptInvitation(
		ctx, "alice", incoming, invitation.Code, "customer",
	)
	require.ErrorIs(t, err, ErrInvitationExpired)
}

// TestWrongInviteCodeFails checks a contact that mistyped the PAKE half of
// the code ends up FAILED, not VERIFIED.
func TestWrongInviteCodeFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := newTestNetwork(t)
	contact := newParticipant(t, net.server, net.clock, "alice", 2)

	invitation, err := net.customer.engine.CreateInvitation(
		ctx, customerAccount, "alice", []Role{RoleSocialRecoveryContact},
	)
	require.NoError(t, err)

	parsed, err := reccode.ParseInviteCode(invitation.Code)
	require.NoError(t, err)
	parsed.PakePart[0] ^= 0x80
	wrongCode, err := reccode.BuildInviteCode(
		parsed.ServerPart, invitation.CodeBitLength, parsed.PakePart,
	)
	require.NoError(t, err)

	incoming, err := contact.engine.RetrieveInvitation(
		ctx, "alice", wrongCode,
	)
	require.NoError(t, err)
	_, err = contact.engine.AcceptInvitation(
		ctx, "alice", incoming, wrongCode, "customer",
	)
	require.NoError(t, err)

	result, err := net.customer.engine.AuthenticateAndEndorse(
		ctx, customerAccount, net.signers,
	)
	require.NoError(t, err)
	require.Equal(t, StateFailed, result.States[invitation.RelationshipID])
}

// TestRegenerateAfterRotation checks certificates are reissued with new auth
// keys and that a forged certificate is marked TAMPERED.
func TestRegenerateAfterRotation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := newTestNetwork(t)
	contactA, relA := net.enroll(t, "alice", 2)
	_, relB := net.enroll(t, "bob", 3)

	_, err := net.customer.engine.AuthenticateAndEndorse(
		ctx, customerAccount, net.signers,
	)
	require.NoError(t, err)

	// Bob's certificate is replaced by one from keys the account never
	// used.
	rogue, _ := newTestSigners(t)
	forged, err := NewKeyCertificate(
		customerAccount, net.server.endorsed[relB].KeyCertificate.
			DelegatedDecryptionKey, rogue.App, rogue.Hardware,
	)
	require.NoError(t, err)
	net.server.endorsed[relB].KeyCertificate = forged

	newSigners, newKeys := newTestSigners(t)
	trusted := TrustedAuthKeys{
		App:      append(net.trusted.App, newKeys.App...),
		Hardware: append(net.trusted.Hardware, newKeys.Hardware...),
	}

	result, err := net.customer.engine.AuthenticateRegenerateAndEndorse(
		ctx, customerAccount, newSigners, trusted,
	)
	require.NoError(t, err)
	require.Equal(t, StateVerified, result.States[relA])
	require.Equal(t, StateTampered, result.States[relB])

	require.Len(t, result.Endorsements, 1)
	cert := result.Endorsements[0].Certificate
	require.Equal(t, relA, result.Endorsements[0].RelationshipID)
	require.True(t, cert.SignedBy(
		newSigners.App.PubKey(), newSigners.Hardware.PubKey(),
	))
	require.True(t, cert.DelegatedDecryptionKey.IsEqual(contactA.ddk(t)))

	// Nothing left to reissue on the next run.
	result, err = net.customer.engine.AuthenticateRegenerateAndEndorse(
		ctx, customerAccount, newSigners, trusted,
	)
	require.NoError(t, err)
	require.Empty(t, result.Endorsements)
}
