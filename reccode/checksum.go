package reccode

const (
	// checksumBits is the width of the trailing checksum of both code
	// types.
	checksumBits = 6

	// crc6Poly is the CRC-6/CDMA2000-A generator polynomial without its
	// leading term.
	crc6Poly = 0x27

	// crc6Init is the initial register value.
	crc6Init = 0x3f

	crc6Mask = 0x3f
)

// crc6 computes CRC-6/CDMA2000-A over data, consuming the most significant bit
// of each byte first. Callers pack the checksummed bits right aligned into
// whole bytes, so leading zero padding is part of the input.
func crc6(data []byte) uint8 {
	crc := uint8(crc6Init)
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			bit := (b >> uint(i)) & 1
			top := (crc >> 5) & 1

			crc = (crc << 1) & crc6Mask
			if top^bit == 1 {
				crc ^= crc6Poly
			}
		}
	}

	return crc
}
