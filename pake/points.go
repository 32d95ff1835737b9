package pake

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	// pointM blinds the initiator's share. Nobody knows its discrete log
	// with respect to the generator.
	pointM = mustHashToPoint("keyrecovery/spake2/M")

	// pointN blinds the responder's share.
	pointN = mustHashToPoint("keyrecovery/spake2/N")
)

// hashToPoint maps seed to a curve point by hashing seed with an increasing
// counter until the digest is the x coordinate of a point with even y.
func hashToPoint(seed string) (*btcec.JacobianPoint, error) {
	for i := 0; i < 256; i++ {
		digest := chainhash.HashB(append([]byte(seed), byte(i)))

		var compressed [btcec.PubKeyBytesLenCompressed]byte
		compressed[0] = 0x02
		copy(compressed[1:], digest)

		pub, err := btcec.ParsePubKey(compressed[:])
		if err != nil {
			continue
		}

		var p btcec.JacobianPoint
		pub.AsJacobian(&p)

		return &p, nil
	}

	return nil, fmt.Errorf("no point found for seed %q", seed)
}

func mustHashToPoint(seed string) *btcec.JacobianPoint {
	p, err := hashToPoint(seed)
	if err != nil {
		panic(err)
	}

	return p
}

// isInfinity reports whether p is the point at infinity.
func isInfinity(p *btcec.JacobianPoint) bool {
	return p.Z.IsZero() || (p.X.IsZero() && p.Y.IsZero())
}

// blindedShare computes s*G + w*blind.
func blindedShare(s, w *btcec.ModNScalar,
	blind *btcec.JacobianPoint) *btcec.JacobianPoint {

	var sG, wB, share btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(s, &sG)
	btcec.ScalarMultNonConst(w, blind, &wB)
	btcec.AddNonConst(&sG, &wB, &share)
	share.ToAffine()

	return &share
}

// sharedPoint computes s*(peer - w*blind).
func sharedPoint(s, w *btcec.ModNScalar, peer,
	blind *btcec.JacobianPoint) (*btcec.JacobianPoint, error) {

	var negW btcec.ModNScalar
	negW.Set(w).Negate()

	var negWB, unblinded, z btcec.JacobianPoint
	btcec.ScalarMultNonConst(&negW, blind, &negWB)
	btcec.AddNonConst(peer, &negWB, &unblinded)
	if isInfinity(&unblinded) {
		return nil, ErrInvalidShare
	}

	btcec.ScalarMultNonConst(s, &unblinded, &z)
	z.ToAffine()
	if isInfinity(&z) {
		return nil, ErrInvalidShare
	}

	return &z, nil
}

// serialize returns the compressed encoding of an affine point.
func serialize(p *btcec.JacobianPoint) []byte {
	return btcec.NewPublicKey(&p.X, &p.Y).SerializeCompressed()
}

// parseShare decodes a share sent by the other party.
func parseShare(b []byte) (*btcec.JacobianPoint, error) {
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShare, err)
	}

	var p btcec.JacobianPoint
	pub.AsJacobian(&p)

	return &p, nil
}
