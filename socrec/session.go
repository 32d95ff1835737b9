package socrec

import (
	"bytes"
	"fmt"

	"github.com/lightningnetwork/keyrecovery/pake"
	"github.com/lightningnetwork/keyrecovery/reccode"
	"github.com/lightningnetwork/keyrecovery/sealing"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	typeSessionCode   tlv.Type = 0
	typeSessionSecret tlv.Type = 1
)

var (
	enrollmentContext = []byte("keyrecovery/socrec/enrollment")
	challengeContext  = []byte("keyrecovery/socrec/challenge")
)

// pakeContext binds an exchange to its purpose and relationship.
func pakeContext(purpose []byte, relationshipID string) []byte {
	ctx := make([]byte, 0, len(purpose)+1+len(relationshipID))
	ctx = append(ctx, purpose...)
	ctx = append(ctx, 0)

	return append(ctx, relationshipID...)
}

// sealSession seals the code and initiator secret of an exchange under the
// storage key. aad binds the blob to where it is stored.
func sealSession(key *sealing.SymmetricKey, code reccode.PakeCode,
	initiator *pake.Initiator, aad []byte) ([]byte, error) {

	secret, err := initiator.Secret()
	if err != nil {
		return nil, err
	}
	defer zero(secret)

	codeBytes := []byte(code)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeSessionCode, &codeBytes),
		tlv.MakePrimitiveRecord(typeSessionSecret, &secret),
	)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}
	defer zero(b.Bytes())

	return sealing.Seal(key, b.Bytes(), aad)
}

// openSession restores the initiator of a sealed session.
func openSession(key *sealing.SymmetricKey, sealed, aad,
	context []byte) (*pake.Initiator, error) {

	plaintext, err := sealing.Unseal(key, sealed, aad)
	if err != nil {
		return nil, err
	}
	defer zero(plaintext)

	var code, secret []byte
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeSessionCode, &code),
		tlv.MakePrimitiveRecord(typeSessionSecret, &secret),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(plaintext)); err != nil {
		return nil, fmt.Errorf("corrupt pake session: %w", err)
	}
	defer zero(code)
	defer zero(secret)

	return pake.ResumeInitiator(code, context, secret)
}

func enrollmentAAD(relationshipID string) []byte {
	return pakeContext([]byte("enrollment-session"), relationshipID)
}

func challengeAAD(challengeID, relationshipID string) []byte {
	return pakeContext(
		[]byte("challenge-session/"+challengeID), relationshipID,
	)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
