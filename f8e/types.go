package f8e

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// AccountID identifies an account on the server.
type AccountID string

// String returns the account id.
func (a AccountID) String() string {
	return string(a)
}

// PhysicalFactor is one of the two factors that control an account.
type PhysicalFactor uint8

const (
	// FactorApp is the mobile app key set.
	FactorApp PhysicalFactor = iota

	// FactorHardware is the hardware signer.
	FactorHardware
)

// String returns a human readable name for the factor.
func (f PhysicalFactor) String() string {
	switch f {
	case FactorApp:
		return "app"
	case FactorHardware:
		return "hardware"
	default:
		return fmt.Sprintf("factor(%d)", uint8(f))
	}
}

// AuthChallenge is returned when starting authentication with a key.
type AuthChallenge struct {
	// Session identifies the authentication attempt.
	Session string

	// Challenge is the message the key must sign.
	Challenge []byte
}

// AuthTokens are returned by a completed authentication.
type AuthTokens struct {
	AccessToken  string
	RefreshToken string
}

// AuthClient is the authentication surface of the server.
type AuthClient interface {
	// InitiateAuthentication starts authenticating with authKey.
	InitiateAuthentication(ctx context.Context,
		authKey *btcec.PublicKey) (*AuthChallenge, error)

	// CompleteAuthentication finishes the session with a signature over
	// the challenge.
	CompleteAuthentication(ctx context.Context, session string,
		signature *ecdsa.Signature) (*AuthTokens, error)
}
