package keychain

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
)

// PubKeyECDH runs ECDH with a key held by a ring, identified only by its
// descriptor. Delegated decryption keys are opened this way so the private
// key never leaves the ring.
type PubKeyECDH struct {
	desc KeyDescriptor
	ring ECDHRing
}

// NewPubKeyECDH binds desc to ring.
func NewPubKeyECDH(desc KeyDescriptor, ring ECDHRing) *PubKeyECDH {
	return &PubKeyECDH{
		desc: desc,
		ring: ring,
	}
}

// PubKey is part of the SingleKeyECDH interface.
func (p *PubKeyECDH) PubKey() *btcec.PublicKey {
	return p.desc.PubKey
}

// ECDH is part of the SingleKeyECDH interface.
func (p *PubKeyECDH) ECDH(remote *btcec.PublicKey) ([32]byte, error) {
	return p.ring.ECDH(p.desc, remote)
}

// PrivKeyECDH is a SingleKeyECDH over an in-memory key, such as the
// ephemeral key of a sealed box.
type PrivKeyECDH struct {
	PrivKey *btcec.PrivateKey
}

// PubKey is part of the SingleKeyECDH interface.
func (p *PrivKeyECDH) PubKey() *btcec.PublicKey {
	return p.PrivKey.PubKey()
}

// ECDH is part of the SingleKeyECDH interface.
func (p *PrivKeyECDH) ECDH(remote *btcec.PublicKey) ([32]byte, error) {
	return sharedSecret(p.PrivKey, remote), nil
}

// sharedSecret returns sha256 of the compressed point priv*pub.
func sharedSecret(priv *btcec.PrivateKey, pub *btcec.PublicKey) [32]byte {
	var point, product btcec.JacobianPoint
	pub.AsJacobian(&point)

	btcec.ScalarMultNonConst(&priv.Key, &point, &product)
	product.ToAffine()

	shared := btcec.NewPublicKey(&product.X, &product.Y)

	return sha256.Sum256(shared.SerializeCompressed())
}

var (
	_ SingleKeyECDH = (*PubKeyECDH)(nil)
	_ SingleKeyECDH = (*PrivKeyECDH)(nil)
)
