package nibble

import (
	"fmt"
)

const (
	flagOdd  = 0x1
	flagLeaf = 0x2
)

// EncodeHP packs a path into whole bytes with a leading flag nibble.
//
// The flag nibble has bit 1 set for leaf suffixes and bit 0 set for odd-length paths. An odd-length
// path stores its first nibble in the low half of the flag byte; an even-length path gets a full flag
// byte with a zero low half. The empty leaf suffix therefore encodes as 0x20 and the empty extension
// path as 0x00, neither of which can be produced by a one-nibble path (0x3n / 0x1n).
func EncodeHP(p Path, leaf bool) []byte {
	var flag byte
	if leaf {
		flag = flagLeaf
	}
	if len(p)%2 == 1 {
		flag |= flagOdd
		out := make([]byte, 1, 1+len(p)/2)
		out[0] = flag<<4 | p[0]
		return append(out, pack(p[1:])...)
	}
	out := make([]byte, 1, 1+len(p)/2)
	out[0] = flag << 4
	return append(out, pack(p)...)
}

// DecodeHP reverses EncodeHP, returning the path and whether it was flagged as a leaf suffix.
func DecodeHP(b []byte) (Path, bool, error) {
	if len(b) == 0 {
		return nil, false, fmt.Errorf("%w: empty hex-prefix encoding", ErrMalformed)
	}
	flag := b[0] >> 4
	if flag > (flagLeaf | flagOdd) {
		return nil, false, fmt.Errorf("%w: unknown hex-prefix flag 0x%x", ErrMalformed, flag)
	}
	leaf := flag&flagLeaf != 0
	rest := FromBytes(b[1:])
	if flag&flagOdd != 0 {
		out := make(Path, 0, 1+len(rest))
		out = append(out, b[0]&0x0f)
		return append(out, rest...), leaf, nil
	}
	if b[0]&0x0f != 0 {
		return nil, false, fmt.Errorf("%w: non-zero padding in even hex-prefix flag 0x%02x", ErrMalformed, b[0])
	}
	return rest, leaf, nil
}
