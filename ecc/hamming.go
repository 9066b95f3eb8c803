package ecc

import (
	"math/bits"
)

// A codeword carries one nibble. Bits 0-3 are the data bits unchanged,
// bits 4-6 are parity over fixed subsets of the data bits, and bit 7 makes
// the overall parity of the codeword even.

type outcome int

const (
	clean outcome = iota
	corrected
	uncorrectable
)

// syndromeBit maps a non-zero syndrome to the bit it blames.
var syndromeBit = [8]uint{0, 4, 5, 0, 6, 1, 2, 3}

func bit(x byte, i uint) byte {
	return (x >> i) & 1
}

func parity(x byte) byte {
	return byte(bits.OnesCount8(x) & 1)
}

func encodeNibble(d byte) byte {
	d &= 0xf
	p0 := bit(d, 0) ^ bit(d, 1) ^ bit(d, 3)
	p1 := bit(d, 0) ^ bit(d, 2) ^ bit(d, 3)
	p2 := bit(d, 1) ^ bit(d, 2) ^ bit(d, 3)
	c := d | p0<<4 | p1<<5 | p2<<6
	return c | parity(c)<<7
}

// decodeNibble returns the data bits of c, fixing a single flipped bit. With
// two flipped bits the syndrome is non-zero but the overall parity still
// checks, and the raw data bits are returned as uncorrectable.
func decodeNibble(c byte) (byte, outcome) {
	s0 := bit(c, 4) ^ bit(c, 0) ^ bit(c, 1) ^ bit(c, 3)
	s1 := bit(c, 5) ^ bit(c, 0) ^ bit(c, 2) ^ bit(c, 3)
	s2 := bit(c, 6) ^ bit(c, 1) ^ bit(c, 2) ^ bit(c, 3)
	s := s0 | s1<<1 | s2<<2
	p := parity(c)
	switch {
	case s == 0 && p == 0:
		return c & 0xf, clean
	case s == 0:
		// only the overall parity bit flipped
		return c & 0xf, corrected
	case p == 1:
		c ^= 1 << syndromeBit[s]
		return c & 0xf, corrected
	default:
		return c & 0xf, uncorrectable
	}
}
