package reccode

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testRecoveryPake = PakeCode{0xfe, 0xdc, 0x20, 0x00, 0x40}

// TestRecoveryCodeVector checks the encoder and decoder against a known code.
func TestRecoveryCodeVector(t *testing.T) {
	t.Parallel()

	code, err := BuildRecoveryCode(703506, testRecoveryPake)
	require.NoError(t, err)
	require.Equal(t, "1175333668221220750492", code)

	recovery, err := ParseRecoveryCode(code)
	require.NoError(t, err)
	require.Equal(t, uint64(703506), recovery.ServerPart)
	require.Equal(t, testRecoveryPake, recovery.PakePart)

	// Separators between digits and surrounding whitespace are ignored.
	recovery, err = ParseRecoveryCode(" 1175 3336 6822 1220 7504-92\n")
	require.NoError(t, err)
	require.Equal(t, uint64(703506), recovery.ServerPart)
}

// TestRecoveryCodeZeroPadded asserts that small values keep their full width.
func TestRecoveryCodeZeroPadded(t *testing.T) {
	t.Parallel()

	code, err := BuildRecoveryCode(1, PakeCode{0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.Equal(t, "0000000000000000000105", code)
	require.Len(t, code, RecoveryCodeDigits)

	recovery, err := ParseRecoveryCode(code)
	require.NoError(t, err)
	require.Equal(t, uint64(1), recovery.ServerPart)
}

// TestBuildRecoveryCodeErrors checks the encoder input validation.
func TestBuildRecoveryCodeErrors(t *testing.T) {
	t.Parallel()

	_, err := BuildRecoveryCode(703506, PakeCode{0x01})
	require.EqualError(t, err, "Pake data is too small.")

	_, err = BuildRecoveryCode(MaxRecoveryServerPart+1, testRecoveryPake)
	require.ErrorIs(t, err, ErrServerTooLarge)

	// Only the first five bytes of a longer PAKE code are used.
	long := append(PakeCode{}, testRecoveryPake...)
	long = append(long, 0xaa, 0xbb)
	code, err := BuildRecoveryCode(703506, long)
	require.NoError(t, err)
	require.Equal(t, "1175333668221220750492", code)
}

// TestParseRecoveryCodeErrors checks every decode failure.
func TestParseRecoveryCodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		check func(t *testing.T, err error)
	}{
		{
			name:  "not a number",
			input: "11753336682212207504x2",
			check: func(t *testing.T, err error) {
				require.EqualError(
					t, err, "Invalid code, can't parse "+
						"to BigInteger",
				)
			},
		},
		{
			name:  "empty",
			input: "",
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrNotNumeric)
			},
		},
		{
			name:  "negative",
			input: "-1175333668221220750492",
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrNotNumeric)
			},
		},
		{
			name:  "explicit sign",
			input: "+1175333668221220750492",
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrNotNumeric)
			},
		},
		{
			name:  "trailing separator",
			input: "1175333668221220750492-",
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrNotNumeric)
			},
		},
		{
			name:  "doubled separator",
			input: "1175--333668221220750492",
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrNotNumeric)
			},
		},
		{
			name:  "separators only",
			input: " - ",
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrNotNumeric)
			},
		},
		{
			name:  "underscore",
			input: "1175_333668221220750492",
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrNotNumeric)
			},
		},
		{
			name:  "too large",
			input: "9999999999999999999999",
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrNotNumeric)
			},
		},
		{
			name:  "checksum mismatch",
			input: "1175333668221220750493",
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrChecksumMismatch)
			},
		},
		{
			name:  "version mismatch",
			input: "3536516909656043357353",
			check: func(t *testing.T, err error) {
				require.True(t, IsVersionMismatch(err))
			},
		},
		{
			name:  "unsupported format",
			input: "2355925288938632053941",
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrUnsupportedFormat)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseRecoveryCode(tc.input)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

// TestRecoveryCodeRoundTrip asserts that every server part and PAKE code
// survive a round trip.
func TestRecoveryCodeRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		server := rapid.Uint64Range(
			0, MaxRecoveryServerPart,
		).Draw(t, "server")
		pake := PakeCode(rapid.SliceOfN(
			rapid.Byte(), RecoveryPakeSize, RecoveryPakeSize,
		).Draw(t, "pake"))

		code, err := BuildRecoveryCode(server, pake)
		require.NoError(t, err)
		require.Len(t, code, RecoveryCodeDigits)

		recovery, err := ParseRecoveryCode(code)
		require.NoError(t, err)
		require.Equal(t, server, recovery.ServerPart)
		require.Equal(t, pake, recovery.PakePart)
	})
}
