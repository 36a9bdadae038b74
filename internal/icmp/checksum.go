package icmp

// Checksum returns the Internet checksum (RFC 1071) of b: the one's
// complement of the one's complement sum of big-endian 16-bit words, with an
// odd trailing byte padded with zero.
func Checksum(b []byte) uint16 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
		sum = (sum & 0xffff) + (sum >> 16)
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// checksumZeroed computes the checksum of an ICMP message as if its
// checksum field were zero, without modifying b.
func checksumZeroed(b []byte) uint16 {
	c := make([]byte, len(b))
	copy(c, b)
	c[2], c[3] = 0, 0
	return Checksum(c)
}
