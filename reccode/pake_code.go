package reccode

import (
	"crypto/rand"
	"encoding/hex"
)

// PakeCode is the secret half of an invite or recovery code. It seeds the
// PAKE exchange and is never sent to the server.
type PakeCode []byte

// NewPakeCode returns a random PAKE code of the given size in bytes.
func NewPakeCode(size int) (PakeCode, error) {
	code := make(PakeCode, size)
	if _, err := rand.Read(code); err != nil {
		return nil, err
	}

	return code, nil
}

// String returns the hex encoding of the code.
func (p PakeCode) String() string {
	return hex.EncodeToString(p)
}

// Zero overwrites the code in place.
func (p PakeCode) Zero() {
	for i := range p {
		p[i] = 0
	}
}

// NewInvitePakeCode returns a random PAKE code holding exactly the bits an
// invite code carries. The code recovered by ParseInviteCode equals it, so
// both sides of the exchange use the same secret.
func NewInvitePakeCode() (PakeCode, error) {
	code, err := NewPakeCode((invitePakeBits + 7) / 8)
	if err != nil {
		return nil, err
	}

	if unused := len(code)*8 - invitePakeBits; unused > 0 {
		code[len(code)-1] &= byte(0xff << unused)
	}

	return code, nil
}
