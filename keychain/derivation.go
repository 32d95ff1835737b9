package keychain

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

const (
	// BIP0043Purpose is the "purpose" value used for every key derived by
	// this package. All keys hang off m/1017'.
	BIP0043Purpose = 1017

	// CoinTypeBitcoin is the only coin type recovery keys are derived
	// under.
	CoinTypeBitcoin uint32 = 0
)

var (
	// MaxKeyRangeScan is the maximum number of keys that we'll attempt to
	// scan with if a caller knows the public key, but not the KeyLocator
	// and wishes to derive a private key.
	MaxKeyRangeScan uint32 = 10000

	// ErrCannotDerivePrivKey is returned when DerivePrivKey is unable to
	// derive a private key given only the public key and target key
	// family.
	ErrCannotDerivePrivKey = errors.New("unable to derive private key")
)

// KeyFamily represents a "family" of keys used by account recovery. Each
// family is a distinct hardened branch of the HD key chain:
//
//   - m/1017'/coinType'/keyFamily'/0/index
type KeyFamily uint32

const (
	// KeyFamilyAppGlobalAuth are the app's global authentication keys.
	// They sign trusted contact key certificates.
	KeyFamilyAppGlobalAuth KeyFamily = 0

	// KeyFamilyRecoveryAuth are the app's recovery authentication keys.
	KeyFamilyRecoveryAuth KeyFamily = 1

	// KeyFamilyDelegatedDecryption are the keys a trusted contact escrows
	// for a protected customer. Backups are sealed to them.
	KeyFamilyDelegatedDecryption KeyFamily = 2

	// KeyFamilyStorageEncryption is used to derive the key that seals
	// secrets kept in the local database.
	KeyFamilyStorageEncryption KeyFamily = 3

	// KeyFamilyIdentity are the keys that identify this app to trusted
	// contacts.
	KeyFamilyIdentity KeyFamily = 4
)

// KeyFamilies lists every family this package knows of.
var KeyFamilies = []KeyFamily{
	KeyFamilyAppGlobalAuth,
	KeyFamilyRecoveryAuth,
	KeyFamilyDelegatedDecryption,
	KeyFamilyStorageEncryption,
	KeyFamilyIdentity,
}

// String returns a human readable name for the family.
func (f KeyFamily) String() string {
	switch f {
	case KeyFamilyAppGlobalAuth:
		return "app-global-auth"
	case KeyFamilyRecoveryAuth:
		return "recovery-auth"
	case KeyFamilyDelegatedDecryption:
		return "delegated-decryption"
	case KeyFamilyStorageEncryption:
		return "storage-encryption"
	case KeyFamilyIdentity:
		return "identity"
	default:
		return "unknown"
	}
}

// KeyLocator is a two-tuple that can be used to derive any key that has ever
// been used under the derivation scheme described above.
type KeyLocator struct {
	// Family is the family of key being identified.
	Family KeyFamily

	// Index is the precise index of the key being identified.
	Index uint32
}

// IsEmpty returns true if a KeyLocator is "empty". This is the case for keys
// learned from a remote party.
func (k KeyLocator) IsEmpty() bool {
	return k.Family == 0 && k.Index == 0
}

// KeyDescriptor wraps a KeyLocator and also optionally includes a public key.
// Either the KeyLocator must be non-empty, or the public key pointer be
// non-nil.
type KeyDescriptor struct {
	// KeyLocator is the internal KeyLocator of the descriptor.
	KeyLocator

	// PubKey is an optional public key that fully describes a target key.
	// If this is nil, the KeyLocator MUST NOT be empty.
	PubKey *btcec.PublicKey
}

// KeyRing performs public derivation of keys.
type KeyRing interface {
	// DeriveNextKey derives the next unused key within the given family.
	DeriveNextKey(keyFam KeyFamily) (KeyDescriptor, error)

	// DeriveKey derives the key at the passed KeyLocator.
	DeriveKey(keyLoc KeyLocator) (KeyDescriptor, error)
}

// SecretKeyRing is a KeyRing that can also use the private keys it derives.
type SecretKeyRing interface {
	KeyRing

	ECDHRing

	MessageSignerRing

	// DerivePrivKey derives the private key that corresponds to the passed
	// key descriptor. If only the public key is set, the family is scanned
	// for at most MaxKeyRangeScan keys.
	DerivePrivKey(keyDesc KeyDescriptor) (*btcec.PrivateKey, error)
}

// MessageSignerRing abstracts away ECDSA signing on keys within a key ring.
type MessageSignerRing interface {
	// SignMessage signs the given message, single or double SHA256 hashing
	// it first, with the private key described in the key locator.
	SignMessage(keyLoc KeyLocator, msg []byte,
		doubleHash bool) (*ecdsa.Signature, error)
}

// SingleKeyMessageSigner hides the ECDSA signing operations of a single,
// specific private key. The hardware factor is consumed through this
// interface as well.
type SingleKeyMessageSigner interface {
	// PubKey returns the public key of the wrapped private key.
	PubKey() *btcec.PublicKey

	// KeyLocator returns the locator that describes the wrapped private
	// key.
	KeyLocator() KeyLocator

	// SignMessage signs the given message, single or double SHA256 hashing
	// it first, with the wrapped private key.
	SignMessage(message []byte, doubleHash bool) (*ecdsa.Signature, error)
}

// ECDHRing abstracts away ECDH shared key generation on keys within a key
// ring.
type ECDHRing interface {
	// ECDH performs a scalar multiplication between the target key
	// descriptor and remote public key. If k is our private key, and P is
	// the public key, we perform the following operation:
	//
	//  sx := k*P
	//  s := sha256(sx.SerializeCompressed())
	ECDH(keyDesc KeyDescriptor, pubKey *btcec.PublicKey) ([32]byte, error)
}

// SingleKeyECDH hides an ECDH operation by wrapping a single, specific private
// key.
type SingleKeyECDH interface {
	// PubKey returns the public key of the wrapped private key.
	PubKey() *btcec.PublicKey

	// ECDH performs a scalar multiplication between the wrapped private
	// key and remote public key.
	ECDH(pubKey *btcec.PublicKey) ([32]byte, error)
}
