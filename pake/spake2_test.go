package pake

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	testCode    = []byte{0xfe, 0xdc, 0x20}
	testContext = []byte("relationship-1")
)

// TestExchange asserts that both parties derive the same keys when they use
// the same code and context.
func TestExchange(t *testing.T) {
	t.Parallel()

	initiator, err := NewInitiator(testCode, testContext)
	require.NoError(t, err)
	require.Len(t, initiator.Share(), ShareSize)

	share, responderKeys, err := Respond(
		testCode, testContext, initiator.Share(),
	)
	require.NoError(t, err)

	initiatorKeys, err := initiator.Finish(share)
	require.NoError(t, err)

	require.Equal(t, responderKeys.Encryption, initiatorKeys.Encryption)
	require.True(t, initiatorKeys.VerifyConfirmation(
		responderKeys.Confirmation(),
	))
}

// TestExchangeWrongCode asserts that a wrong code is caught by the
// confirmation tag.
func TestExchangeWrongCode(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		code := rapid.SliceOfN(rapid.Byte(), 1, 8).Draw(rt, "code")
		other := rapid.SliceOfN(rapid.Byte(), 1, 8).Draw(rt, "other")
		if string(code) == string(other) {
			rt.Skip("codes are equal")
		}

		initiator, err := NewInitiator(code, testContext)
		require.NoError(rt, err)

		share, responderKeys, err := Respond(
			other, testContext, initiator.Share(),
		)
		require.NoError(rt, err)

		initiatorKeys, err := initiator.Finish(share)
		require.NoError(rt, err)

		require.NotEqual(
			rt, responderKeys.Encryption, initiatorKeys.Encryption,
		)
		require.False(rt, initiatorKeys.VerifyConfirmation(
			responderKeys.Confirmation(),
		))
	})
}

// TestExchangeWrongContext asserts that keys are bound to the context.
func TestExchangeWrongContext(t *testing.T) {
	t.Parallel()

	initiator, err := NewInitiator(testCode, testContext)
	require.NoError(t, err)

	share, responderKeys, err := Respond(
		testCode, []byte("relationship-2"), initiator.Share(),
	)
	require.NoError(t, err)

	initiatorKeys, err := initiator.Finish(share)
	require.NoError(t, err)
	require.False(t, initiatorKeys.VerifyConfirmation(
		responderKeys.Confirmation(),
	))
}

// TestResumeInitiator asserts that an exported secret restores the same
// session.
func TestResumeInitiator(t *testing.T) {
	t.Parallel()

	initiator, err := NewInitiator(testCode, testContext)
	require.NoError(t, err)

	secret, err := initiator.Secret()
	require.NoError(t, err)
	require.Len(t, secret, SecretSize)

	share, responderKeys, err := Respond(
		testCode, testContext, initiator.Share(),
	)
	require.NoError(t, err)

	resumed, err := ResumeInitiator(testCode, testContext, secret)
	require.NoError(t, err)
	require.Equal(t, initiator.Share(), resumed.Share())

	keys, err := resumed.Finish(share)
	require.NoError(t, err)
	require.Equal(t, responderKeys.Encryption, keys.Encryption)

	_, err = ResumeInitiator(testCode, testContext, secret[:10])
	require.ErrorIs(t, err, ErrInvalidSecret)

	_, err = ResumeInitiator(
		testCode, testContext, make([]byte, SecretSize),
	)
	require.ErrorIs(t, err, ErrInvalidSecret)
}

// TestInvalidShares checks that malformed shares are rejected.
func TestInvalidShares(t *testing.T) {
	t.Parallel()

	_, _, err := Respond(testCode, testContext, []byte{0x02, 0x01})
	require.ErrorIs(t, err, ErrInvalidShare)

	initiator, err := NewInitiator(testCode, testContext)
	require.NoError(t, err)

	_, err = initiator.Finish(make([]byte, ShareSize))
	require.ErrorIs(t, err, ErrInvalidShare)

	// A responder share equal to w*N unblinds to the point at infinity.
	w, err := passwordScalar(testCode, testContext)
	require.NoError(t, err)

	var wN btcec.JacobianPoint
	btcec.ScalarMultNonConst(w, pointN, &wN)
	wN.ToAffine()

	_, err = initiator.Finish(serialize(&wN))
	require.ErrorIs(t, err, ErrInvalidShare)

	_, err = NewInitiator(nil, testContext)
	require.ErrorIs(t, err, ErrEmptyCode)
}

// TestInitiatorZero asserts that a zeroed initiator cannot be used.
func TestInitiatorZero(t *testing.T) {
	t.Parallel()

	initiator, err := NewInitiator(testCode, testContext)
	require.NoError(t, err)

	initiator.Zero()

	_, err = initiator.Secret()
	require.ErrorIs(t, err, ErrSessionClosed)

	_, err = initiator.Finish(initiator.Share())
	require.ErrorIs(t, err, ErrSessionClosed)
}

// TestBlindingPointsDistinct makes sure the two blinding points differ from
// each other and from the generator.
func TestBlindingPointsDistinct(t *testing.T) {
	t.Parallel()

	require.NotEqual(t, serialize(pointM), serialize(pointN))

	var one btcec.ModNScalar
	one.SetInt(1)

	var g btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&one, &g)
	g.ToAffine()

	require.NotEqual(t, serialize(&g), serialize(pointM))
	require.NotEqual(t, serialize(&g), serialize(pointN))
}
