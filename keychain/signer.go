package keychain

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// NewPubKeyMessageSigner wraps the given key of the key ring so it adheres to
// the SingleKeyMessageSigner interface.
func NewPubKeyMessageSigner(keyDesc KeyDescriptor,
	signer MessageSignerRing) *PubKeyMessageSigner {

	return &PubKeyMessageSigner{
		keyDesc:      keyDesc,
		digestSigner: signer,
	}
}

// PubKeyMessageSigner signs through a key ring without ever holding the
// private key.
type PubKeyMessageSigner struct {
	keyDesc      KeyDescriptor
	digestSigner MessageSignerRing
}

// PubKey returns the public key of the wrapped private key.
func (p *PubKeyMessageSigner) PubKey() *btcec.PublicKey {
	return p.keyDesc.PubKey
}

// KeyLocator returns the locator that describes the wrapped private key.
func (p *PubKeyMessageSigner) KeyLocator() KeyLocator {
	return p.keyDesc.KeyLocator
}

// SignMessage signs the given message with the wrapped key.
func (p *PubKeyMessageSigner) SignMessage(message []byte,
	doubleHash bool) (*ecdsa.Signature, error) {

	return p.digestSigner.SignMessage(
		p.keyDesc.KeyLocator, message, doubleHash,
	)
}

// PrivKeyMessageSigner signs with a private key held in memory.
type PrivKeyMessageSigner struct {
	PrivKey *btcec.PrivateKey
	KeyLoc  KeyLocator
}

// NewPrivKeyMessageSigner creates a new signer for the given private key.
func NewPrivKeyMessageSigner(privKey *btcec.PrivateKey,
	keyLoc KeyLocator) *PrivKeyMessageSigner {

	return &PrivKeyMessageSigner{
		PrivKey: privKey,
		KeyLoc:  keyLoc,
	}
}

// PubKey returns the public key of the wrapped private key.
func (p *PrivKeyMessageSigner) PubKey() *btcec.PublicKey {
	return p.PrivKey.PubKey()
}

// KeyLocator returns the locator that describes the wrapped private key.
func (p *PrivKeyMessageSigner) KeyLocator() KeyLocator {
	return p.KeyLoc
}

// SignMessage signs the given message with the wrapped key.
func (p *PrivKeyMessageSigner) SignMessage(msg []byte,
	doubleHash bool) (*ecdsa.Signature, error) {

	return ecdsa.Sign(p.PrivKey, messageDigest(msg, doubleHash)), nil
}

// messageDigest returns the single or double SHA256 of msg.
func messageDigest(msg []byte, doubleHash bool) []byte {
	if doubleHash {
		return chainhash.DoubleHashB(msg)
	}

	return chainhash.HashB(msg)
}

var _ SingleKeyMessageSigner = (*PubKeyMessageSigner)(nil)
var _ SingleKeyMessageSigner = (*PrivKeyMessageSigner)(nil)
