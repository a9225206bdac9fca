package nibble

import (
	"errors"
	"fmt"
	"strings"
)

var ErrMalformed = errors.New("malformed nibble encoding")

const hexChars = "0123456789abcdef"

// Path is a sequence of 4-bit values, one per byte. Paths are treated as immutable: every method
// that derives a new Path returns a fresh copy, so callers may keep references across mutations.
type Path []byte

// FromBytes splits every byte of b into its high and low nibble.
func FromBytes(b []byte) Path {
	out := make(Path, len(b)*2)
	for i, c := range b {
		out[2*i] = c >> 4
		out[2*i+1] = c & 0x0f
	}
	return out
}

// FromNibbles validates and copies a raw nibble slice (one value 0..15 per byte).
func FromNibbles(n []byte) (Path, error) {
	out := make(Path, len(n))
	for i, v := range n {
		if v > 0x0f {
			return nil, fmt.Errorf("%w: value %d at offset %d is not a nibble", ErrMalformed, v, i)
		}
		out[i] = v
	}
	return out, nil
}

// ParseHex reads a path written one hex character per nibble, as produced by String.
func ParseHex(s string) (Path, error) {
	out := make(Path, len(s))
	for i := 0; i < len(s); i++ {
		idx := strings.IndexByte(hexChars, toLower(s[i]))
		if idx < 0 {
			return nil, fmt.Errorf("%w: invalid hex character %q", ErrMalformed, s[i])
		}
		out[i] = byte(idx)
	}
	return out, nil
}

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

func (p Path) Len() int {
	return len(p)
}

func (p Path) IsEmpty() bool {
	return len(p) == 0
}

func (p Path) At(i int) byte {
	return p[i]
}

// Slice returns a copy of the nibbles in [start, end).
func (p Path) Slice(start, end int) Path {
	out := make(Path, end-start)
	copy(out, p[start:end])
	return out
}

// From returns a copy of the nibbles from start to the end of the path.
func (p Path) From(start int) Path {
	return p.Slice(start, len(p))
}

// Concat joins paths into a new one. Single nibbles can be spliced in with Of.
func Concat(parts ...Path) Path {
	n := 0
	for _, part := range parts {
		n += len(part)
	}
	out := make(Path, 0, n)
	for _, part := range parts {
		out = append(out, part...)
	}
	return out
}

// Of builds a path from literal nibbles. Values above 15 are masked.
func Of(nibbles ...byte) Path {
	out := make(Path, len(nibbles))
	for i, v := range nibbles {
		out[i] = v & 0x0f
	}
	return out
}

func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// CommonPrefix returns the number of leading nibbles shared by a and b.
func CommonPrefix(a, b Path) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func (p Path) HasPrefix(prefix Path) bool {
	return len(prefix) <= len(p) && CommonPrefix(p, prefix) == len(prefix)
}

// Bytes packs the path back into bytes. Only even-length paths pack losslessly.
func (p Path) Bytes() ([]byte, error) {
	if len(p)%2 != 0 {
		return nil, fmt.Errorf("%w: cannot pack odd-length path (%d nibbles)", ErrMalformed, len(p))
	}
	return pack(p), nil
}

func pack(p Path) []byte {
	out := make([]byte, len(p)/2)
	for i := range out {
		out[i] = p[2*i]<<4 | p[2*i+1]
	}
	return out
}

// NibbleBytes returns one byte per nibble. This is the prefix representation hashed by the
// forestry commitment and carried in its proof steps.
func (p Path) NibbleBytes() []byte {
	out := make([]byte, len(p))
	copy(out, p)
	return out
}

// MPFSuffix encodes a leaf suffix the way the forestry commitment hashes it: an even-length
// suffix is 0xff followed by the packed bytes, an odd-length one is 0x00, the first nibble, then
// the remaining nibbles packed.
func (p Path) MPFSuffix() []byte {
	if len(p)%2 == 0 {
		return append([]byte{0xff}, pack(p)...)
	}
	return append([]byte{0x00, p[0]}, pack(p[1:])...)
}

func (p Path) String() string {
	var sb strings.Builder
	sb.Grow(len(p))
	for _, v := range p {
		sb.WriteByte(hexChars[v&0x0f])
	}
	return sb.String()
}
