package node

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bluesky-social/vds/mpt/nibble"
)

var ErrMalformedNode = errors.New("malformed node encoding")

// Codec converts nodes to and from bytes. Encodings must be deterministic: some consumers re-hash the
// encoded bytes.
type Codec interface {
	Encode(n Node) ([]byte, error)
	Decode(data []byte) (Node, error)
}

// BinaryCodec is the default node encoding: a kind tag byte followed by fields.
//
//	leaf:      0x01 | uvarint len | hp(suffix, leaf) | uvarint len | value
//	branch:    0x02 | uvarint len | hp(prefix, ext) | uint16 bitmap (big-endian) | child digests in slot order | 0x00, or 0x01 | uvarint len | value
//	extension: 0x03 | uvarint len | hp(path, ext) | uvarint len | child
//
// All child digests must be DigestSize bytes.
type BinaryCodec struct {
	DigestSize int
}

var _ Codec = BinaryCodec{}

func NewBinaryCodec(digestSize int) BinaryCodec {
	return BinaryCodec{DigestSize: digestSize}
}

func (c BinaryCodec) Encode(n Node) ([]byte, error) {
	var buf bytes.Buffer
	switch nd := n.(type) {
	case *Leaf:
		buf.WriteByte(byte(KindLeaf))
		writeBytes(&buf, nibble.EncodeHP(nd.Suffix, true))
		writeBytes(&buf, nd.Value)
	case *Branch:
		buf.WriteByte(byte(KindBranch))
		writeBytes(&buf, nibble.EncodeHP(nd.Prefix, false))
		var bm [2]byte
		binary.BigEndian.PutUint16(bm[:], nd.Bitmap())
		buf.Write(bm[:])
		for i, ch := range nd.Children {
			if len(ch) == 0 {
				continue
			}
			if len(ch) != c.DigestSize {
				return nil, fmt.Errorf("branch child %d: digest is %d bytes, expected %d", i, len(ch), c.DigestSize)
			}
			buf.Write(ch)
		}
		if nd.HasValue() {
			buf.WriteByte(1)
			writeBytes(&buf, nd.Value)
		} else {
			buf.WriteByte(0)
		}
	case *Extension:
		if nd.Path.IsEmpty() {
			return nil, fmt.Errorf("extension with empty path")
		}
		if len(nd.Child) != c.DigestSize {
			return nil, fmt.Errorf("extension child digest is %d bytes, expected %d", len(nd.Child), c.DigestSize)
		}
		buf.WriteByte(byte(KindExtension))
		writeBytes(&buf, nibble.EncodeHP(nd.Path, false))
		writeBytes(&buf, nd.Child)
	default:
		return nil, fmt.Errorf("unsupported node type %T", n)
	}
	return buf.Bytes(), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var lb [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lb[:], uint64(len(b)))
	buf.Write(lb[:n])
	buf.Write(b)
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) readByte() (byte, error) {
	if r.off >= len(r.data) {
		return 0, fmt.Errorf("%w: unexpected end of input", ErrMalformedNode)
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

func (r *reader) readFixed(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformedNode, n, r.off, len(r.data)-r.off)
	}
	out := make([]byte, n)
	copy(out, r.data[r.off:r.off+n])
	r.off += n
	return out, nil
}

func (r *reader) readBytes() ([]byte, error) {
	l, n := binary.Uvarint(r.data[r.off:])
	if n <= 0 {
		return nil, fmt.Errorf("%w: bad length prefix at offset %d", ErrMalformedNode, r.off)
	}
	r.off += n
	if l > uint64(len(r.data)-r.off) {
		return nil, fmt.Errorf("%w: length %d overruns input", ErrMalformedNode, l)
	}
	return r.readFixed(int(l))
}

func (r *reader) readPath(wantLeaf bool) (nibble.Path, error) {
	hp, err := r.readBytes()
	if err != nil {
		return nil, err
	}
	p, leaf, err := nibble.DecodeHP(hp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedNode, err)
	}
	if leaf != wantLeaf {
		return nil, fmt.Errorf("%w: hex-prefix leaf flag %v, expected %v", ErrMalformedNode, leaf, wantLeaf)
	}
	return p, nil
}

func (c BinaryCodec) Decode(data []byte) (Node, error) {
	r := &reader{data: data}
	tag, err := r.readByte()
	if err != nil {
		return nil, err
	}

	var out Node
	switch Kind(tag) {
	case KindLeaf:
		suffix, err := r.readPath(true)
		if err != nil {
			return nil, err
		}
		val, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		out = &Leaf{Suffix: suffix, Value: val}
	case KindBranch:
		prefix, err := r.readPath(false)
		if err != nil {
			return nil, err
		}
		bmb, err := r.readFixed(2)
		if err != nil {
			return nil, err
		}
		bm := binary.BigEndian.Uint16(bmb)
		br := &Branch{Prefix: prefix}
		for i := 0; i < 16; i++ {
			if bm&(1<<uint(i)) == 0 {
				continue
			}
			if br.Children[i], err = r.readFixed(c.DigestSize); err != nil {
				return nil, err
			}
		}
		flag, err := r.readByte()
		if err != nil {
			return nil, err
		}
		switch flag {
		case 0:
		case 1:
			if br.Value, err = r.readBytes(); err != nil {
				return nil, err
			}
			if len(br.Value) == 0 {
				return nil, fmt.Errorf("%w: empty branch value", ErrMalformedNode)
			}
		default:
			return nil, fmt.Errorf("%w: invalid branch value flag 0x%02x", ErrMalformedNode, flag)
		}
		if !br.Canonical() {
			return nil, fmt.Errorf("%w: branch with fewer than two entries", ErrMalformedNode)
		}
		out = br
	case KindExtension:
		path, err := r.readPath(false)
		if err != nil {
			return nil, err
		}
		if path.IsEmpty() {
			return nil, fmt.Errorf("%w: extension with empty path", ErrMalformedNode)
		}
		child, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		if len(child) != c.DigestSize {
			return nil, fmt.Errorf("%w: extension child digest is %d bytes, expected %d", ErrMalformedNode, len(child), c.DigestSize)
		}
		out = &Extension{Path: path, Child: child}
	default:
		return nil, fmt.Errorf("%w: unknown node tag 0x%02x", ErrMalformedNode, tag)
	}

	if r.off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedNode, len(data)-r.off)
	}
	return out, nil
}
