package transport

// Variable-length integer encoding, RFC 9000 Section 16.
//
// The two most significant bits of the first byte encode the length of the
// varint: 00 -> 1 byte, 01 -> 2 bytes, 10 -> 4 bytes, 11 -> 8 bytes. The
// remaining 6/14/30/62 bits hold the value.

const maxVarintValue = uint64(1)<<62 - 1

// varintLen returns the number of bytes putVarint would emit for v.
// v must be <= maxVarintValue.
func varintLen(v uint64) int {
	switch {
	case v <= 63:
		return 1
	case v <= 16383:
		return 2
	case v <= 1073741823:
		return 4
	default:
		return 8
	}
}

// putVarint writes the shortest encoding of v into b and returns the number
// of bytes written. b must have at least varintLen(v) bytes available.
func putVarint(b []byte, v uint64) int {
	switch {
	case v <= 63:
		b[0] = byte(v)
		return 1
	case v <= 16383:
		b[0] = 0x40 | byte(v>>8)
		b[1] = byte(v)
		return 2
	case v <= 1073741823:
		b[0] = 0x80 | byte(v>>24)
		b[1] = byte(v >> 16)
		b[2] = byte(v >> 8)
		b[3] = byte(v)
		return 4
	default:
		b[0] = 0xc0 | byte(v>>56)
		b[1] = byte(v >> 48)
		b[2] = byte(v >> 40)
		b[3] = byte(v >> 32)
		b[4] = byte(v >> 24)
		b[5] = byte(v >> 16)
		b[6] = byte(v >> 8)
		b[7] = byte(v)
		return 8
	}
}

// appendVarint appends the encoding of v to b and returns the extended slice.
func appendVarint(b []byte, v uint64) []byte {
	var tmp [8]byte
	n := putVarint(tmp[:], v)
	return append(b, tmp[:n]...)
}

// getVarint reads one varint out of b, stores it in *out and returns the
// number of bytes consumed, or 0 if b does not hold a complete varint.
func getVarint(b []byte, out *uint64) int {
	if len(b) == 0 {
		return 0
	}
	n := 1 << (b[0] >> 6)
	if len(b) < n {
		return 0
	}
	v := uint64(b[0] & 0x3f)
	for i := 1; i < n; i++ {
		v = v<<8 | uint64(b[i])
	}
	*out = v
	return n
}
