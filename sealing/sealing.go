package sealing

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/keyrecovery/keychain"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of a symmetric sealing key.
const KeySize = chacha20poly1305.KeySize

var (
	// ErrUnseal is returned when a sealed box cannot be opened, either
	// because the key is wrong or because the box was modified.
	ErrUnseal = errors.New("unable to unseal payload")

	// ErrSealedTooSmall is returned when a sealed box is shorter than its
	// header.
	ErrSealedTooSmall = errors.New("sealed payload too small")

	// storageKeyLoc locates the key that seals secrets kept on disk.
	storageKeyLoc = keychain.KeyLocator{
		Family: keychain.KeyFamilyStorageEncryption,
		Index:  0,
	}

	boxInfo = []byte("keyrecovery/sealing/box")
)

// SymmetricKey is a 256-bit XChaCha20-Poly1305 key.
type SymmetricKey [KeySize]byte

// NewSymmetricKey returns a random key.
func NewSymmetricKey() (*SymmetricKey, error) {
	var key SymmetricKey
	if _, err := rand.Read(key[:]); err != nil {
		return nil, err
	}

	return &key, nil
}

// Zero overwrites the key in place.
func (k *SymmetricKey) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// Seal encrypts plaintext under key. A random 24-byte nonce is prepended to
// the ciphertext and authenticated together with aad.
func Seal(key *SymmetricKey, plaintext, aad []byte) ([]byte, error) {
	cipher, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(nonce)+len(plaintext)+cipher.Overhead())
	sealed = append(sealed, nonce[:]...)

	return cipher.Seal(sealed, nonce[:], plaintext, additionalData(
		nonce[:], aad,
	)), nil
}

// Unseal reverses Seal.
func Unseal(key *SymmetricKey, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: must be at least %v bytes",
			ErrSealedTooSmall, chacha20poly1305.NonceSizeX)
	}

	nonce := sealed[:chacha20poly1305.NonceSizeX]
	ciphertext := sealed[chacha20poly1305.NonceSizeX:]

	cipher, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}

	plaintext, err := cipher.Open(
		nil, nonce, ciphertext, additionalData(nonce, aad),
	)
	if err != nil {
		return nil, ErrUnseal
	}

	return plaintext, nil
}

func additionalData(nonce, aad []byte) []byte {
	data := make([]byte, 0, len(nonce)+len(aad))
	data = append(data, nonce...)

	return append(data, aad...)
}

// SealToPubKey encrypts plaintext so that only the holder of the private key of
// pub can read it. An ephemeral key is generated and its public key prepended
// to the box:
//
//	s   := sha256(e*P)
//	key := HKDF(s, salt = e*G, info)
//	box := e*G || Seal(key, plaintext)
func SealToPubKey(pub *btcec.PublicKey, plaintext, aad []byte) ([]byte,
	error) {

	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	defer ephemeral.Zero()

	ephemeralECDH := &keychain.PrivKeyECDH{PrivKey: ephemeral}
	shared, err := ephemeralECDH.ECDH(pub)
	if err != nil {
		return nil, err
	}

	ephemeralPub := ephemeral.PubKey().SerializeCompressed()
	key, err := boxKey(shared, ephemeralPub)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	sealed, err := Seal(key, plaintext, aad)
	if err != nil {
		return nil, err
	}

	return append(ephemeralPub, sealed...), nil
}

// UnsealWithECDH opens a box produced by SealToPubKey with the recipient's
// key.
func UnsealWithECDH(recipient keychain.SingleKeyECDH, box,
	aad []byte) ([]byte, error) {

	if len(box) < btcec.PubKeyBytesLenCompressed {
		return nil, ErrSealedTooSmall
	}

	ephemeralPub := box[:btcec.PubKeyBytesLenCompressed]
	ephemeral, err := btcec.ParsePubKey(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnseal, err)
	}

	shared, err := recipient.ECDH(ephemeral)
	if err != nil {
		return nil, err
	}

	key, err := boxKey(shared, ephemeralPub)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	return Unseal(key, box[btcec.PubKeyBytesLenCompressed:], aad)
}

func boxKey(shared [32]byte, salt []byte) (*SymmetricKey, error) {
	var key SymmetricKey
	kdf := hkdf.New(sha256.New, shared[:], salt, boxInfo)
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return nil, err
	}

	return &key, nil
}

// StorageKey derives the key used to seal secrets kept in the local database.
// The key is the ECDH of the storage key with itself, so it can only be
// produced by a ring that holds the private key:
//
//	key = sha256(k * k*G)
func StorageKey(keyRing keychain.SecretKeyRing) (*SymmetricKey, error) {
	desc, err := keyRing.DeriveKey(storageKeyLoc)
	if err != nil {
		return nil, err
	}

	shared, err := keyRing.ECDH(desc, desc.PubKey)
	if err != nil {
		return nil, err
	}

	key := SymmetricKey(sha256.Sum256(shared[:]))

	return &key, nil
}
