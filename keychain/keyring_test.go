package keychain

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

var testHDSeed = chainhash.Hash{
	0xb7, 0x94, 0x38, 0x5f, 0x2d, 0x1e, 0xf7, 0xab,
	0x4d, 0x92, 0x73, 0xd1, 0x90, 0x63, 0x81, 0xb4,
	0x4f, 0x2f, 0x6f, 0x25, 0x98, 0xa3, 0xef, 0xb9,
	0x69, 0x49, 0x18, 0x83, 0x31, 0x98, 0x47, 0x53,
}

func newTestKeyRing(t *testing.T) *SeedKeyRing {
	t.Helper()

	keyRing, err := NewSeedKeyRing(testHDSeed[:], CoinTypeBitcoin)
	require.NoError(t, err)

	return keyRing
}

// TestKeyRingDerivation asserts that keys are deterministic and that each
// family is a separate branch.
func TestKeyRingDerivation(t *testing.T) {
	t.Parallel()

	keyRing := newTestKeyRing(t)
	other := newTestKeyRing(t)

	seen := make(map[string]struct{})
	for _, fam := range KeyFamilies {
		for i := 0; i < 3; i++ {
			desc, err := keyRing.DeriveNextKey(fam)
			require.NoError(t, err)
			require.Equal(t, fam, desc.Family)
			require.Equal(t, uint32(i), desc.Index)

			again, err := other.DeriveKey(desc.KeyLocator)
			require.NoError(t, err)
			require.True(t, desc.PubKey.IsEqual(again.PubKey))

			key := string(desc.PubKey.SerializeCompressed())
			require.NotContains(t, seen, key)
			seen[key] = struct{}{}
		}
	}
}

// TestDerivePrivKey checks both the locator and the public key scan paths.
func TestDerivePrivKey(t *testing.T) {
	t.Parallel()

	keyRing := newTestKeyRing(t)

	desc, err := keyRing.DeriveKey(KeyLocator{
		Family: KeyFamilyDelegatedDecryption,
		Index:  7,
	})
	require.NoError(t, err)

	priv, err := keyRing.DerivePrivKey(desc)
	require.NoError(t, err)
	require.True(t, priv.PubKey().IsEqual(desc.PubKey))

	// Only the family and public key are known.
	priv, err = keyRing.DerivePrivKey(KeyDescriptor{
		KeyLocator: KeyLocator{Family: KeyFamilyDelegatedDecryption},
		PubKey:     desc.PubKey,
	})
	require.NoError(t, err)
	require.True(t, priv.PubKey().IsEqual(desc.PubKey))

	// A locator pointing at another index of the family still finds the
	// key.
	for _, index := range []uint32{0, 3, 8} {
		priv, err = keyRing.DerivePrivKey(KeyDescriptor{
			KeyLocator: KeyLocator{
				Family: KeyFamilyDelegatedDecryption,
				Index:  index,
			},
			PubKey: desc.PubKey,
		})
		require.NoError(t, err, index)
		require.Equal(t, desc.PubKey.SerializeCompressed(),
			priv.PubKey().SerializeCompressed())
	}

	// The key is only searched for in the family of the locator.
	_, err = keyRing.DerivePrivKey(KeyDescriptor{
		KeyLocator: KeyLocator{Family: KeyFamilyStorageEncryption},
		PubKey:     desc.PubKey,
	})
	require.ErrorIs(t, err, ErrCannotDerivePrivKey)

	// A key that does not belong to the ring is not found.
	stranger, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	_, err = keyRing.DerivePrivKey(KeyDescriptor{
		KeyLocator: KeyLocator{
			Family: KeyFamilyDelegatedDecryption,
			Index:  7,
		},
		PubKey: stranger.PubKey(),
	})
	require.ErrorIs(t, err, ErrCannotDerivePrivKey)
}

// TestECDH asserts that both sides of an ECDH exchange agree.
func TestECDH(t *testing.T) {
	t.Parallel()

	keyRing := newTestKeyRing(t)
	desc, err := keyRing.DeriveNextKey(KeyFamilyDelegatedDecryption)
	require.NoError(t, err)

	ephemeral, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	ringSecret, err := NewPubKeyECDH(desc, keyRing).ECDH(
		ephemeral.PubKey(),
	)
	require.NoError(t, err)

	memSecret, err := (&PrivKeyECDH{PrivKey: ephemeral}).ECDH(desc.PubKey)
	require.NoError(t, err)

	require.Equal(t, ringSecret, memSecret)
}

// TestMessageSigners asserts that ring backed and in memory signers produce
// signatures that verify under the same key.
func TestMessageSigners(t *testing.T) {
	t.Parallel()

	keyRing := newTestKeyRing(t)
	desc, err := keyRing.DeriveNextKey(KeyFamilyAppGlobalAuth)
	require.NoError(t, err)

	priv, err := keyRing.DerivePrivKey(desc)
	require.NoError(t, err)

	msg := []byte("key certificate")
	signers := []SingleKeyMessageSigner{
		NewPubKeyMessageSigner(desc, keyRing),
		NewPrivKeyMessageSigner(priv, desc.KeyLocator),
	}
	for _, signer := range signers {
		require.Equal(t, desc.KeyLocator, signer.KeyLocator())
		require.True(t, signer.PubKey().IsEqual(desc.PubKey))

		for _, double := range []bool{false, true} {
			sig, err := signer.SignMessage(msg, double)
			require.NoError(t, err)
			require.True(t, sig.Verify(
				messageDigest(msg, double), desc.PubKey,
			))
		}
	}
}
