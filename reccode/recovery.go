package reccode

import (
	"math/big"
	"strings"

	"github.com/kkdai/bstream"
)

const (
	// RecoveryCodeVersion is the version embedded in every recovery code
	// this package produces.
	RecoveryCodeVersion uint8 = 0

	// RecoveryCodeFormat is the format bit embedded in every recovery
	// code this package produces.
	RecoveryCodeFormat uint8 = 0

	// RecoveryPakeSize is the number of PAKE code bytes a recovery code
	// carries.
	RecoveryPakeSize = 5

	recoveryVersionBits = 1
	recoveryFormatBits  = 1
	recoveryPakeBits    = RecoveryPakeSize * 8

	// RecoveryServerBits is the width of the server part field.
	RecoveryServerBits = 24

	recoveryDataBits = recoveryVersionBits + recoveryFormatBits +
		recoveryPakeBits + RecoveryServerBits

	recoveryCodeBits  = recoveryDataBits + checksumBits
	recoveryCodeBytes = recoveryCodeBits / 8
	recoveryPadBits   = recoveryCodeBytes*8 - recoveryDataBits

	// RecoveryCodeDigits is the length of a rendered recovery code. It is
	// the number of decimal digits of the largest packed value.
	RecoveryCodeDigits = 22

	// MaxRecoveryServerPart is the largest server part a recovery code can
	// carry.
	MaxRecoveryServerPart = 1<<RecoveryServerBits - 1
)

// RecoveryCode is a decoded recovery code.
type RecoveryCode struct {
	// ServerPart is the challenge counter assigned by the server.
	ServerPart uint64

	// PakePart is the PAKE code shared out of band.
	PakePart PakeCode
}

// writeRecoveryFields appends every field except the checksum to w.
func writeRecoveryFields(w *bstream.BStream, version, format uint8,
	pake []byte, server uint64) {

	w.WriteBits(uint64(version), recoveryVersionBits)
	w.WriteBits(uint64(format), recoveryFormatBits)
	for _, b := range pake {
		w.WriteBits(uint64(b), 8)
	}
	w.WriteBits(server, RecoveryServerBits)
}

// recoveryChecksum computes the checksum over the data fields right aligned
// into whole bytes.
func recoveryChecksum(version, format uint8, pake []byte,
	server uint64) uint8 {

	w := bstream.NewBStreamWriter(recoveryCodeBytes)
	w.WriteBits(0, recoveryPadBits)
	writeRecoveryFields(w, version, format, pake, server)

	return crc6(w.Bytes())
}

// BuildRecoveryCode packs serverPart and the first five bytes of pakePart into
// a zero padded decimal string.
func BuildRecoveryCode(serverPart uint64, pakePart PakeCode) (string,
	error) {

	if len(pakePart) < RecoveryPakeSize {
		return "", ErrPakeTooSmall
	}
	if serverPart > MaxRecoveryServerPart {
		return "", ErrServerTooLarge
	}

	pake := pakePart[:RecoveryPakeSize]
	sum := recoveryChecksum(
		RecoveryCodeVersion, RecoveryCodeFormat, pake, serverPart,
	)

	w := bstream.NewBStreamWriter(recoveryCodeBytes)
	writeRecoveryFields(
		w, RecoveryCodeVersion, RecoveryCodeFormat, pake, serverPart,
	)
	w.WriteBits(uint64(sum), checksumBits)

	digits := new(big.Int).SetBytes(w.Bytes()).String()
	if pad := RecoveryCodeDigits - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}

	return digits, nil
}

// recoveryDigits strips the separators of a recovery code. Hyphens and
// spaces may only split groups of digits, anything else is rejected.
func recoveryDigits(code string) (string, error) {
	code = strings.TrimSpace(code)

	isDigit := func(i int) bool {
		return i >= 0 && i < len(code) && code[i] >= '0' &&
			code[i] <= '9'
	}

	var b strings.Builder
	for i := 0; i < len(code); i++ {
		switch c := code[i]; {
		case isDigit(i):
			b.WriteByte(c)

		case (c == '-' || c == ' ') && isDigit(i-1) && isDigit(i+1):

		default:
			return "", ErrNotNumeric
		}
	}

	if b.Len() == 0 {
		return "", ErrNotNumeric
	}

	return b.String(), nil
}

// ParseRecoveryCode decodes a recovery code, validating its checksum, version
// and format. Hyphens and spaces between digits are ignored.
func ParseRecoveryCode(code string) (*RecoveryCode, error) {
	digits, err := recoveryDigits(code)
	if err != nil {
		return nil, err
	}

	value, ok := new(big.Int).SetString(digits, 10)
	if !ok || value.BitLen() > recoveryCodeBits {
		return nil, ErrNotNumeric
	}

	raw := value.FillBytes(make([]byte, recoveryCodeBytes))
	r := bstream.NewBStreamReader(raw)

	version, err := r.ReadBits(recoveryVersionBits)
	if err != nil {
		return nil, err
	}
	format, err := r.ReadBits(recoveryFormatBits)
	if err != nil {
		return nil, err
	}
	pake := make(PakeCode, RecoveryPakeSize)
	for i := range pake {
		b, err := r.ReadBits(8)
		if err != nil {
			return nil, err
		}
		pake[i] = byte(b)
	}
	server, err := r.ReadBits(RecoveryServerBits)
	if err != nil {
		return nil, err
	}
	sum, err := r.ReadBits(checksumBits)
	if err != nil {
		return nil, err
	}

	expected := recoveryChecksum(
		uint8(version), uint8(format), pake, server,
	)
	if uint64(expected) != sum {
		return nil, ErrChecksumMismatch
	}

	if uint8(version) != RecoveryCodeVersion {
		return nil, &VersionMismatchError{
			Got:  uint8(version),
			Want: RecoveryCodeVersion,
		}
	}
	if uint8(format) != RecoveryCodeFormat {
		return nil, ErrUnsupportedFormat
	}

	return &RecoveryCode{
		ServerPart: server,
		PakePart:   pake,
	}, nil
}
