package pake

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/hkdf"
)

const (
	// ShareSize is the size of a serialized share.
	ShareSize = btcec.PubKeyBytesLenCompressed

	// SecretSize is the size of a serialized initiator secret.
	SecretSize = 32

	// KeySize is the size of the derived encryption and confirmation
	// keys.
	KeySize = 32
)

var (
	// ErrInvalidShare is returned when the other party's share is not a
	// usable curve point.
	ErrInvalidShare = errors.New("invalid pake share")

	// ErrEmptyCode is returned when a session is started without a code.
	ErrEmptyCode = errors.New("pake code must not be empty")

	// ErrInvalidSecret is returned when a persisted initiator secret
	// cannot be restored.
	ErrInvalidSecret = errors.New("invalid pake session secret")

	// ErrSessionClosed is returned when a zeroed session is used.
	ErrSessionClosed = errors.New("pake session already closed")

	tagPassword   = []byte("keyrecovery/spake2/w")
	tagTranscript = []byte("keyrecovery/spake2/K")

	infoEncryption   = []byte("keyrecovery/spake2/encryption")
	infoConfirmation = []byte("keyrecovery/spake2/confirmation")

	labelResponder = []byte("responder")
)

// passwordScalar hashes the code, bound to the exchange context, into a
// scalar.
func passwordScalar(code, context []byte) (*btcec.ModNScalar, error) {
	if len(code) == 0 {
		return nil, ErrEmptyCode
	}

	digest := chainhash.TaggedHash(tagPassword, context, code)

	var w btcec.ModNScalar
	w.SetBytes((*[32]byte)(digest))
	if w.IsZero() {
		return nil, ErrEmptyCode
	}

	return &w, nil
}

// Initiator is the party that publishes its share first. Its secret scalar can
// be exported so that an exchange can be finished after a restart.
type Initiator struct {
	context []byte
	w       *btcec.ModNScalar
	x       *btcec.ModNScalar
	share   []byte
}

// NewInitiator starts an exchange for the given code. The context binds the
// derived keys to one relationship or challenge.
func NewInitiator(code, context []byte) (*Initiator, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}

	return newInitiator(code, context, &priv.Key)
}

// ResumeInitiator restores an initiator from a secret previously returned by
// Secret.
func ResumeInitiator(code, context, secret []byte) (*Initiator, error) {
	if len(secret) != SecretSize {
		return nil, ErrInvalidSecret
	}

	var x btcec.ModNScalar
	overflow := x.SetByteSlice(secret)
	if overflow || x.IsZero() {
		return nil, ErrInvalidSecret
	}

	return newInitiator(code, context, &x)
}

func newInitiator(code, context []byte,
	x *btcec.ModNScalar) (*Initiator, error) {

	w, err := passwordScalar(code, context)
	if err != nil {
		return nil, err
	}

	return &Initiator{
		context: append([]byte(nil), context...),
		w:       w,
		x:       x,
		share:   serialize(blindedShare(x, w, pointM)),
	}, nil
}

// Share returns the message sent to the responder.
func (i *Initiator) Share() []byte {
	return i.share
}

// Secret returns the initiator's scalar. It must only be stored sealed.
func (i *Initiator) Secret() ([]byte, error) {
	if i.x == nil {
		return nil, ErrSessionClosed
	}

	b := i.x.Bytes()

	return b[:], nil
}

// Finish completes the exchange with the responder's share.
func (i *Initiator) Finish(responderShare []byte) (*Keys, error) {
	if i.x == nil {
		return nil, ErrSessionClosed
	}

	y, err := parseShare(responderShare)
	if err != nil {
		return nil, err
	}

	z, err := sharedPoint(i.x, i.w, y, pointN)
	if err != nil {
		return nil, err
	}

	return deriveKeys(i.context, i.share, responderShare, z, i.w)
}

// Zero erases the session secrets. The initiator is unusable afterwards.
func (i *Initiator) Zero() {
	if i.x != nil {
		i.x.Zero()
		i.x = nil
	}
	if i.w != nil {
		i.w.Zero()
		i.w = nil
	}
}

// Respond answers an initiator share. It returns the responder share to send
// back together with the derived keys.
func Respond(code, context, initiatorShare []byte) ([]byte, *Keys, error) {
	w, err := passwordScalar(code, context)
	if err != nil {
		return nil, nil, err
	}
	defer w.Zero()

	x, err := parseShare(initiatorShare)
	if err != nil {
		return nil, nil, err
	}

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, err
	}
	defer priv.Zero()

	share := serialize(blindedShare(&priv.Key, w, pointN))

	z, err := sharedPoint(&priv.Key, w, x, pointM)
	if err != nil {
		return nil, nil, err
	}

	keys, err := deriveKeys(context, initiatorShare, share, z, w)
	if err != nil {
		return nil, nil, err
	}

	return share, keys, nil
}

// Keys holds the key material produced by an exchange.
type Keys struct {
	// Encryption is used to seal payloads between the two parties.
	Encryption [KeySize]byte

	confirmation   [KeySize]byte
	initiatorShare []byte
	responderShare []byte
}

func deriveKeys(context, initiatorShare, responderShare []byte,
	z *btcec.JacobianPoint, w *btcec.ModNScalar) (*Keys, error) {

	wBytes := w.Bytes()
	transcript := chainhash.TaggedHash(
		tagTranscript, context, initiatorShare, responderShare,
		serialize(z), wBytes[:],
	)
	for i := range wBytes {
		wBytes[i] = 0
	}

	keys := &Keys{
		initiatorShare: append([]byte(nil), initiatorShare...),
		responderShare: append([]byte(nil), responderShare...),
	}

	kdf := hkdf.New(sha256.New, transcript[:], context, infoEncryption)
	if _, err := io.ReadFull(kdf, keys.Encryption[:]); err != nil {
		return nil, fmt.Errorf("unable to derive encryption key: %w",
			err)
	}

	kdf = hkdf.New(sha256.New, transcript[:], context, infoConfirmation)
	if _, err := io.ReadFull(kdf, keys.confirmation[:]); err != nil {
		return nil, fmt.Errorf("unable to derive confirmation key: %w",
			err)
	}

	return keys, nil
}

// Confirmation returns the tag the responder sends to prove it derived the
// same keys.
func (k *Keys) Confirmation() []byte {
	mac := hmac.New(sha256.New, k.confirmation[:])
	mac.Write(labelResponder)
	mac.Write(k.initiatorShare)
	mac.Write(k.responderShare)

	return mac.Sum(nil)
}

// VerifyConfirmation checks a tag produced by the other party in constant
// time.
func (k *Keys) VerifyConfirmation(tag []byte) bool {
	return hmac.Equal(k.Confirmation(), tag)
}

// Zero erases the derived keys.
func (k *Keys) Zero() {
	for i := range k.Encryption {
		k.Encryption[i] = 0
	}
	for i := range k.confirmation {
		k.confirmation[i] = 0
	}
}
