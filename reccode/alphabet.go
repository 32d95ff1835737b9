package reccode

import (
	"strings"
	"unicode"
)

const (
	// alphabet is the Crockford base32 alphabet. It drops I, L, O and U
	// to avoid transcription mistakes.
	alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

	bitsPerChar = 5

	// groupSize is the number of characters between separators in the
	// display form of an invite code.
	groupSize = 4

	groupSeparator = "-"
)

// charValues maps every accepted input character to its 5-bit value.
var charValues = func() map[rune]uint64 {
	m := make(map[rune]uint64, len(alphabet)+3)
	for i, c := range alphabet {
		m[c] = uint64(i)
	}

	// Characters that are commonly misread for digits.
	m['O'] = m['0']
	m['I'] = m['1']
	m['L'] = m['1']

	return m
}()

// normalize strips separators and whitespace and upper cases the rest.
func normalize(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}

		return unicode.ToUpper(r)
	}, code)
}

// group inserts a separator after every groupSize characters.
func group(canonical string) string {
	var b strings.Builder
	for i, c := range canonical {
		if i > 0 && i%groupSize == 0 {
			b.WriteString(groupSeparator)
		}
		b.WriteRune(c)
	}

	return b.String()
}
