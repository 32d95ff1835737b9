package socrec

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/keyrecovery/f8e"
	"github.com/lightningnetwork/keyrecovery/keychain"
)

var (
	// ErrInvalidCertificate is returned when a key certificate does not
	// verify.
	ErrInvalidCertificate = errors.New("invalid key certificate")

	// ErrUntrustedSigner is returned when a key certificate is signed by
	// keys the account never used.
	ErrUntrustedSigner = errors.New("key certificate signed by untrusted " +
		"key")

	tagDelegatedDecryptionKey = []byte("keyrecovery/socrec/ddk-cert")
	tagAppAuthKey             = []byte("keyrecovery/socrec/app-auth-cert")
)

// KeyCertificate binds a trusted contact's delegated decryption key to a
// protected customer's account. The app global auth key signs the delegated
// decryption key and the hardware signs the app key, so the certificate can
// be checked against the account's auth keys without repeating the PAKE.
type KeyCertificate struct {
	// DelegatedDecryptionKey is the contact's key.
	DelegatedDecryptionKey *btcec.PublicKey

	// AppGlobalAuthPublicKey is the customer's app key that signed the
	// certificate.
	AppGlobalAuthPublicKey *btcec.PublicKey

	// HwAuthPublicKey is the customer's hardware key that endorsed the
	// app key.
	HwAuthPublicKey *btcec.PublicKey

	// AppSignature signs the delegated decryption key and account.
	AppSignature *ecdsa.Signature

	// HwSignature signs the app global auth key.
	HwSignature *ecdsa.Signature
}

// ddkDigest is the message signed by the app key.
func ddkDigest(ddk *btcec.PublicKey, accountID f8e.AccountID) []byte {
	return chainhash.TaggedHash(
		tagDelegatedDecryptionKey, ddk.SerializeCompressed(),
		[]byte(accountID),
	)[:]
}

// appKeyDigest is the message signed by the hardware.
func appKeyDigest(appKey *btcec.PublicKey) []byte {
	return chainhash.TaggedHash(
		tagAppAuthKey, appKey.SerializeCompressed(),
	)[:]
}

// NewKeyCertificate issues a certificate for ddk.
func NewKeyCertificate(accountID f8e.AccountID, ddk *btcec.PublicKey,
	appSigner, hwSigner keychain.SingleKeyMessageSigner) (*KeyCertificate,
	error) {

	appSig, err := appSigner.SignMessage(ddkDigest(ddk, accountID), false)
	if err != nil {
		return nil, fmt.Errorf("unable to sign delegated decryption "+
			"key: %w", err)
	}

	hwSig, err := hwSigner.SignMessage(
		appKeyDigest(appSigner.PubKey()), false,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to sign app auth key: %w", err)
	}

	return &KeyCertificate{
		DelegatedDecryptionKey: ddk,
		AppGlobalAuthPublicKey: appSigner.PubKey(),
		HwAuthPublicKey:        hwSigner.PubKey(),
		AppSignature:           appSig,
		HwSignature:            hwSig,
	}, nil
}

// TrustedAuthKeys are the auth keys an account has used. Certificates signed
// by any of them are accepted.
type TrustedAuthKeys struct {
	App      []*btcec.PublicKey
	Hardware []*btcec.PublicKey
}

func containsKey(keys []*btcec.PublicKey, key *btcec.PublicKey) bool {
	for _, k := range keys {
		if k.IsEqual(key) {
			return true
		}
	}

	return false
}

// Verify checks both signatures and that the signers are trusted keys of
// accountID.
func (c *KeyCertificate) Verify(accountID f8e.AccountID,
	trusted TrustedAuthKeys) error {

	if c.DelegatedDecryptionKey == nil || c.AppGlobalAuthPublicKey == nil ||
		c.HwAuthPublicKey == nil || c.AppSignature == nil ||
		c.HwSignature == nil {

		return fmt.Errorf("%w: incomplete", ErrInvalidCertificate)
	}

	if !containsKey(trusted.App, c.AppGlobalAuthPublicKey) ||
		!containsKey(trusted.Hardware, c.HwAuthPublicKey) {

		return ErrUntrustedSigner
	}

	appDigest := chainhash.HashB(
		ddkDigest(c.DelegatedDecryptionKey, accountID),
	)
	if !c.AppSignature.Verify(appDigest, c.AppGlobalAuthPublicKey) {
		return fmt.Errorf("%w: app signature", ErrInvalidCertificate)
	}

	hwDigest := chainhash.HashB(appKeyDigest(c.AppGlobalAuthPublicKey))
	if !c.HwSignature.Verify(hwDigest, c.HwAuthPublicKey) {
		return fmt.Errorf("%w: hardware signature",
			ErrInvalidCertificate)
	}

	return nil
}

// SignedBy reports whether the certificate was issued by the given keys.
func (c *KeyCertificate) SignedBy(app, hw *btcec.PublicKey) bool {
	return c.AppGlobalAuthPublicKey.IsEqual(app) &&
		c.HwAuthPublicKey.IsEqual(hw)
}
