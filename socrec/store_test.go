package socrec

import (
	"testing"
	"time"

	"github.com/lightningnetwork/keyrecovery/pake"
	"github.com/lightningnetwork/keyrecovery/reccode"
	"github.com/lightningnetwork/keyrecovery/sealing"
	"github.com/stretchr/testify/require"
)

// TestStoreChallenges checks challenges round trip with their sessions and
// are independent of each other.
func TestStoreChallenges(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	first := &Challenge{
		ChallengeID: "challenge-1",
		Counter:     42,
		ExpiresAt:   testTime,
	}
	second := &Challenge{
		ChallengeID: "challenge-2",
		Counter:     43,
		ExpiresAt:   testTime.Add(time.Hour),
	}

	require.NoError(t, store.PutChallenge(first, map[string][]byte{
		"rel-a": []byte("session-a"),
		"rel-b": []byte("session-b"),
	}))
	require.NoError(t, store.PutChallenge(second, map[string][]byte{
		"rel-a": []byte("session-c"),
	}))

	challenge, sessions, err := store.Challenge(first.ChallengeID)
	require.NoError(t, err)
	require.Equal(t, first.Counter, challenge.Counter)
	require.True(t, first.ExpiresAt.Equal(challenge.ExpiresAt))
	require.Equal(t, map[string][]byte{
		"rel-a": []byte("session-a"),
		"rel-b": []byte("session-b"),
	}, sessions)

	require.NoError(t, store.DeleteChallenge(first.ChallengeID))
	_, _, err = store.Challenge(first.ChallengeID)
	require.ErrorIs(t, err, ErrUnknownChallenge)

	// Deleting twice is fine.
	require.NoError(t, store.DeleteChallenge(first.ChallengeID))

	_, sessions, err = store.Challenge(second.ChallengeID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

// TestStoreStates checks contact states are overwritten in place.
func TestStoreStates(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	require.NoError(t, store.SetState("rel-a", StateAwaitingVerify))
	require.NoError(t, store.SetState("rel-b", StateFailed))
	require.NoError(t, store.SetState("rel-a", StateVerified))

	states, err := store.States()
	require.NoError(t, err)
	require.Equal(t, map[string]AuthenticationState{
		"rel-a": StateVerified,
		"rel-b": StateFailed,
	}, states)
}

// TestSealedSession checks a sealed session resumes the same exchange and is
// bound to where it is stored.
func TestSealedSession(t *testing.T) {
	t.Parallel()

	key, err := sealing.NewSymmetricKey()
	require.NoError(t, err)

	code, err := reccode.NewPakeCode(reccode.RecoveryPakeSize)
	require.NoError(t, err)
	pakeCtx := pakeContext(challengeContext, "rel-a")

	initiator, err := pake.NewInitiator(code, pakeCtx)
	require.NoError(t, err)

	sealed, err := sealSession(
		key, code, initiator, challengeAAD("challenge", "rel-a"),
	)
	require.NoError(t, err)

	share, responderKeys, err := pake.Respond(
		code, pakeCtx, initiator.Share(),
	)
	require.NoError(t, err)
	initiator.Zero()

	resumed, err := openSession(
		key, sealed, challengeAAD("challenge", "rel-a"), pakeCtx,
	)
	require.NoError(t, err)

	keys, err := resumed.Finish(share)
	require.NoError(t, err)
	require.Equal(t, responderKeys.Encryption, keys.Encryption)
	require.True(t, keys.VerifyConfirmation(responderKeys.Confirmation()))

	// Moving the blob to another contact's slot breaks it.
	_, err = openSession(
		key, sealed, challengeAAD("challenge", "rel-b"), pakeCtx,
	)
	require.ErrorIs(t, err, sealing.ErrUnseal)

	otherKey, err := sealing.NewSymmetricKey()
	require.NoError(t, err)
	_, err = openSession(
		otherKey, sealed, challengeAAD("challenge", "rel-a"), pakeCtx,
	)
	require.ErrorIs(t, err, sealing.ErrUnseal)
}
