package reccode

import (
	"errors"
	"fmt"
)

// The messages below are shown to users verbatim.
//
//nolint:stylecheck
var (
	// ErrPakeTooSmall is returned when the PAKE code cannot fill the PAKE
	// field of a code.
	ErrPakeTooSmall = errors.New("Pake data is too small.")

	// ErrServerTooSmall is returned when the server part holds fewer bits
	// than the requested code bit length.
	ErrServerTooSmall = errors.New("Server data is too small.")

	// ErrServerTooLarge is returned when a recovery code server part does
	// not fit its field.
	ErrServerTooLarge = errors.New("Server data is too large.")

	// ErrInvalidServerPart is returned when an invite code server part is
	// not a hex string.
	ErrInvalidServerPart = errors.New("Server data is not valid hex.")

	// ErrChecksumMismatch is returned when the embedded checksum does not
	// match the decoded payload.
	ErrChecksumMismatch = errors.New("Invalid code. Checksum did not " +
		"match.")

	// ErrNotNumeric is returned when a recovery code is not a decimal
	// number that fits the recovery code layout.
	ErrNotNumeric = errors.New("Invalid code, can't parse to BigInteger")

	// ErrUnsupportedFormat is returned when a recovery code carries a
	// format bit this codec does not understand.
	ErrUnsupportedFormat = errors.New("Invalid code. Unsupported format.")
)

// CodeLengthError is returned when an invite code has too few or too many
// characters.
type CodeLengthError struct {
	// Got is the number of significant characters in the input.
	Got int

	// Want is the bound that was violated.
	Want int

	// TooLong is set when Want is an upper bound.
	TooLong bool
}

// Error implements the error interface.
func (e *CodeLengthError) Error() string {
	bound := "at least"
	if e.TooLong {
		bound = "at most"
	}

	return fmt.Sprintf("Invalid code length. Got %d, but expected %s %d.",
		e.Got, bound, e.Want)
}

// InvalidCharacterError is returned when an invite code contains a character
// outside of the code alphabet.
type InvalidCharacterError struct {
	Char rune
}

// Error implements the error interface.
func (e *InvalidCharacterError) Error() string {
	return fmt.Sprintf("Invalid code. Unexpected character %q.", e.Char)
}

// InvalidCodeBitLengthError is returned when an invite code is requested with
// a server bit length the layout cannot carry.
type InvalidCodeBitLengthError struct {
	BitLength int
}

// Error implements the error interface.
func (e *InvalidCodeBitLengthError) Error() string {
	return fmt.Sprintf("invalid code bit length %d, must be between %d "+
		"and %d", e.BitLength, MinCodeBitLength, MaxCodeBitLength)
}

// VersionMismatchError is returned when a well formed code was produced by a
// different codec version. It is kept apart from the other decode errors so
// callers can ask the user to update rather than retype.
type VersionMismatchError struct {
	// Got is the version embedded in the code.
	Got uint8

	// Want is the version this codec produces.
	Want uint8
}

// Error implements the error interface.
func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("Invalid code. Version %d is not supported, "+
		"expected version %d.", e.Got, e.Want)
}

// IsVersionMismatch reports whether err is a version mismatch.
func IsVersionMismatch(err error) bool {
	var vErr *VersionMismatchError
	return errors.As(err, &vErr)
}
