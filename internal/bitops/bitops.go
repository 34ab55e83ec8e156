// Package bitops extracts fixed-width unsigned integers from a big-endian
// bitstream, used by the store package to slice keys into trie levels.
package bitops

// bitMasks[n] keeps the low n bits of a byte.
var bitMasks = [9]uint8{
	0b00000000,
	0b00000001,
	0b00000011,
	0b00000111,
	0b00001111,
	0b00011111,
	0b00111111,
	0b01111111,
	0b11111111,
}

// GetBits returns the bitLen-wide unsigned integer starting at bitIndex in
// the big-endian bitstream buf. bitLen must be in [0, 8]; bitIndex+bitLen
// must not exceed 8*len(buf).
func GetBits(buf []byte, bitIndex uint32, bitLen uint8) uint8 {
	if bitLen == 0 {
		return 0
	}

	pos := bitIndex / 8
	idx := uint8(bitIndex - 8*pos)
	data := buf[pos]

	shift := int(8-bitLen) - int(idx)
	if shift < 0 {
		// The requested span crosses a byte boundary: split it into the
		// high part (remaining bits of this byte) and the low part (the
		// start of the next byte), then recombine.
		part1 := bitLen - uint8(-shift)
		part2 := uint8(-shift)

		hi := GetBits(buf, bitIndex, part1)
		lo := GetBits(buf, bitIndex+uint32(part1), part2)

		return (hi << part2) | lo
	}

	data >>= uint8(shift)
	data &= bitMasks[bitLen]

	return data
}
