package reccode

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kkdai/bstream"
)

const (
	// InviteCodeVersion is the version embedded in every invite code this
	// package produces.
	InviteCodeVersion uint8 = 0

	inviteVersionBits = 1

	// invitePakeBits is the width of the PAKE field of an invite code.
	invitePakeBits = 20

	// inviteFixedBits counts every field except the server part.
	inviteFixedBits = inviteVersionBits + invitePakeBits + checksumBits

	// MinCodeBitLength is the smallest server part an invite code can
	// carry.
	MinCodeBitLength = 20

	// MaxCodeBitLength is the largest server part an invite code can
	// carry.
	MaxCodeBitLength = 56
)

var (
	// minInviteCodeLength is the number of characters of the shortest
	// valid invite code.
	minInviteCodeLength = inviteCodeLength(MinCodeBitLength)

	// maxInviteCodeLength is the number of characters of the longest valid
	// invite code.
	maxInviteCodeLength = inviteCodeLength(MaxCodeBitLength)
)

// InviteCode is a decoded invite code.
type InviteCode struct {
	// ServerPart is the hex encoded server half of the code. It is zero
	// padded to the widest whole number of nibbles the code length can
	// carry, so leading zeros of the encoded server part are kept.
	ServerPart string

	// PakePart holds the PAKE bits of the code, left aligned.
	PakePart PakeCode
}

// inviteCodeLength returns the number of characters needed to carry a server
// part of codeBitLength bits.
func inviteCodeLength(codeBitLength int) int {
	return (inviteFixedBits + codeBitLength + bitsPerChar - 1) / bitsPerChar
}

// inviteLayout describes the field widths of an invite code with n
// characters. The server field absorbs the slack left over by rounding up to
// whole characters.
type inviteLayout struct {
	chars       int
	serverWidth int
	dataBits    int
	padBits     int
}

func newInviteLayout(chars int) inviteLayout {
	totalBits := chars * bitsPerChar
	dataBits := totalBits - checksumBits

	return inviteLayout{
		chars:       chars,
		serverWidth: totalBits - inviteFixedBits,
		dataBits:    dataBits,
		padBits:     (8-dataBits%8)%8,
	}
}

// serverNibbles is the number of hex digits a parsed server part is rendered
// with. Among the code bit lengths that map to this many characters it is the
// widest that is a whole number of nibbles.
func (l inviteLayout) serverNibbles() int {
	nibbles := l.serverWidth / 4
	if nibbles*4 > MaxCodeBitLength {
		nibbles = MaxCodeBitLength / 4
	}

	return nibbles
}

// pack writes the data fields right aligned into whole bytes, which is the
// form the checksum is computed over.
func (l inviteLayout) pack(version uint8, pake, server uint64) *bstream.BStream {
	w := bstream.NewBStreamWriter(
		uint8((l.padBits + l.dataBits + checksumBits + 7) / 8),
	)
	w.WriteBits(0, l.padBits)
	w.WriteBits(uint64(version), inviteVersionBits)
	w.WriteBits(pake, invitePakeBits)
	w.WriteBits(server, l.serverWidth)

	return w
}

// BuildInviteCode encodes the leading codeBitLength bits of the hex encoded
// serverPart and the leading bits of pakePart into a grouped invite code such
// as FXQ1-1AY1-4W.
func BuildInviteCode(serverPart string, codeBitLength int,
	pakePart PakeCode) (string, error) {

	if codeBitLength < MinCodeBitLength ||
		codeBitLength > MaxCodeBitLength {

		return "", &InvalidCodeBitLengthError{BitLength: codeBitLength}
	}

	if len(pakePart)*8 < invitePakeBits {
		return "", ErrPakeTooSmall
	}

	if len(serverPart)*4 < codeBitLength {
		return "", ErrServerTooSmall
	}

	// Only the nibbles that hold the leading codeBitLength bits are
	// parsed.
	nibbles := (codeBitLength + 3) / 4
	server, err := strconv.ParseUint(serverPart[:nibbles], 16, 64)
	if err != nil {
		return "", ErrInvalidServerPart
	}
	server >>= uint(nibbles*4 - codeBitLength)

	pake := uint64(pakePart[0])<<16 | uint64(pakePart[1])<<8 |
		uint64(pakePart[2])
	pake >>= 24 - invitePakeBits

	layout := newInviteLayout(inviteCodeLength(codeBitLength))
	w := layout.pack(InviteCodeVersion, pake, server)
	w.WriteBits(uint64(crc6(w.Bytes())), checksumBits)

	r := bstream.NewBStreamReader(w.Bytes())
	if _, err := r.ReadBits(layout.padBits); err != nil {
		return "", err
	}

	var b strings.Builder
	for i := 0; i < layout.chars; i++ {
		v, err := r.ReadBits(bitsPerChar)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[v])
	}

	return group(b.String()), nil
}

// ParseInviteCode decodes an invite code. Separators, whitespace and case are
// ignored. The length is checked first, then the checksum and finally the
// version.
func ParseInviteCode(code string) (*InviteCode, error) {
	canonical := normalize(code)

	switch {
	case len(canonical) < minInviteCodeLength:
		return nil, &CodeLengthError{
			Got:  len(canonical),
			Want: minInviteCodeLength,
		}

	case len(canonical) > maxInviteCodeLength:
		return nil, &CodeLengthError{
			Got:     len(canonical),
			Want:    maxInviteCodeLength,
			TooLong: true,
		}
	}

	w := bstream.NewBStreamWriter(uint8(len(canonical)*bitsPerChar/8 + 1))
	for _, c := range canonical {
		v, ok := charValues[c]
		if !ok {
			return nil, &InvalidCharacterError{Char: c}
		}
		w.WriteBits(v, bitsPerChar)
	}

	layout := newInviteLayout(len(canonical))
	r := bstream.NewBStreamReader(w.Bytes())

	var fields [4]uint64
	widths := [4]int{
		inviteVersionBits, invitePakeBits, layout.serverWidth,
		checksumBits,
	}
	for i, width := range widths {
		v, err := r.ReadBits(width)
		if err != nil {
			return nil, fmt.Errorf("unable to read invite code: %w",
				err)
		}
		fields[i] = v
	}
	version, pake, server, sum := uint8(fields[0]), fields[1], fields[2],
		uint8(fields[3])

	if crc6(layout.pack(version, pake, server).Bytes()) != sum {
		return nil, ErrChecksumMismatch
	}

	if version != InviteCodeVersion {
		return nil, &VersionMismatchError{
			Got:  version,
			Want: InviteCodeVersion,
		}
	}

	pake <<= 24 - invitePakeBits

	return &InviteCode{
		ServerPart: fmt.Sprintf(
			"%0*x", layout.serverNibbles(), server,
		),
		PakePart: PakeCode{
			byte(pake >> 16), byte(pake >> 8), byte(pake),
		},
	}, nil
}
